package digest

import (
	"fmt"
	"strings"
	"time"

	"notify-hub/internal/domain"
)

// FormatDigest формирует текстовое представление дайджеста для выдачи пользователю.
func FormatDigest(d domain.NotificationDigest, loc *time.Location) string {
	var sections []string

	sections = append(sections, fmt.Sprintf("🗓 %s: %s - %s",
		typeTitle(d.Type),
		d.Window.Start.In(loc).Format("02.01.2006 15:04"),
		d.Window.End.In(loc).Format("02.01.2006 15:04"),
	))

	if summary := strings.TrimSpace(d.Summary); summary != "" {
		sections = append(sections, "🧭 Итоги\n"+summary)
	}

	if categories := buildCategorySection(d); categories != "" {
		sections = append(sections, categories)
	}

	return strings.TrimSpace(strings.Join(sections, "\n\n"))
}

func buildCategorySection(d domain.NotificationDigest) string {
	names := d.CategoryNames()
	if len(names) == 0 {
		return ""
	}
	var builder strings.Builder
	fmt.Fprintf(&builder, "🗂 Категории (всего %d)", d.NotificationCount)
	for _, name := range names {
		fmt.Fprintf(&builder, "\n• %s: %d", name, d.Categories[name])
	}
	return builder.String()
}

func typeTitle(t domain.DigestType) string {
	switch t {
	case domain.DigestDaily:
		return "Дайджест за день"
	case domain.DigestWeekly:
		return "Дайджест за неделю"
	case domain.DigestMonthly:
		return "Дайджест за месяц"
	}
	return "Дайджест"
}
