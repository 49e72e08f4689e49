package summarizer

import (
	"context"
	"fmt"
	"strings"
	"unicode/utf8"

	"notify-hub/internal/domain"
)

// topPerCategory - сколько последних уведомлений категории попадает в текст.
const topPerCategory = 3

// SimpleSummarizer строит сводку дайджеста детерминированно, без LLM.
type SimpleSummarizer struct{}

// NewSimple создаёт Summarizer.
func NewSimple() *SimpleSummarizer {
	return &SimpleSummarizer{}
}

// SummarizeDigest перечисляет категории по убыванию размера и последние уведомления в каждой.
func (s *SimpleSummarizer) SummarizeDigest(_ context.Context, in domain.DigestInput) (string, error) {
	if in.Notifications == 0 {
		return emptySummary(in), nil
	}
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %d %s, категорий: %d.", periodTitle(in.Type), in.Notifications, plural(in.Notifications), len(in.Categories))
	for _, group := range in.Categories {
		fmt.Fprintf(&b, "\n\n%s (%d)", group.Category, group.Count)
		for i, n := range group.Notifications {
			if i == topPerCategory {
				break
			}
			line := strings.TrimSpace(n.Subject)
			if line == "" {
				line = strings.TrimSpace(n.Summary)
			}
			if line == "" {
				line = "без темы"
			}
			if n.Sender != "" {
				line = n.Sender + ": " + line
			}
			b.WriteString("\n• " + truncate(line, 140))
		}
		if rest := group.Count - min(len(group.Notifications), topPerCategory); rest > 0 {
			fmt.Fprintf(&b, "\n… и ещё %d", rest)
		}
	}
	return b.String(), nil
}

func emptySummary(in domain.DigestInput) string {
	return fmt.Sprintf("%s: новых уведомлений нет.", periodTitle(in.Type))
}

func periodTitle(t domain.DigestType) string {
	switch t {
	case domain.DigestDaily:
		return "За день"
	case domain.DigestWeekly:
		return "За неделю"
	case domain.DigestMonthly:
		return "За месяц"
	}
	return "За период"
}

func plural(n int) string {
	mod10, mod100 := n%10, n%100
	switch {
	case mod10 == 1 && mod100 != 11:
		return "уведомление"
	case mod10 >= 2 && mod10 <= 4 && (mod100 < 12 || mod100 > 14):
		return "уведомления"
	}
	return "уведомлений"
}

func truncate(s string, limit int) string {
	if utf8.RuneCountInString(s) <= limit {
		return s
	}
	runes := []rune(s)
	return string(runes[:limit]) + "…"
}
