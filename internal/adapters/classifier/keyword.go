package classifier

import (
	"context"
	"sort"
	"strings"

	"notify-hub/internal/domain"
)

// KeywordClassifier применяет эвристический скоринг по словарям ключевых слов.
// Используется, когда ключ OpenAI не задан.
type KeywordClassifier struct {
	categories []keywordCategory
}

type keywordCategory struct {
	name     string
	priority int
	words    []string
}

var defaultCategories = []keywordCategory{
	{name: "security", priority: 90, words: []string{"password", "security alert", "sign-in", "2fa", "verification code", "suspicious", "пароль", "вход в аккаунт"}},
	{name: "dev", priority: 60, words: []string{"pull request", "merge", "build failed", "pipeline", "commit", "review requested", "issue", "deploy"}},
	{name: "work", priority: 70, words: []string{"meeting", "deadline", "invoice", "contract", "report", "встреча", "отчёт", "дедлайн"}},
	{name: "finance", priority: 65, words: []string{"payment", "receipt", "transaction", "bank", "statement", "оплата", "счёт"}},
	{name: "social", priority: 30, words: []string{"liked", "commented", "followed", "mentioned you", "friend request"}},
	{name: "promo", priority: 10, words: []string{"sale", "discount", "% off", "newsletter", "unsubscribe", "limited offer", "скидка", "акция"}},
}

var spamMarkers = []string{"unsubscribe", "winner", "free", "limited offer", "act now", "click here", "100%", "casino", "crypto"}

var urgentMarkers = []string{"urgent", "asap", "immediately", "срочно", "critical", "incident", "outage"}

var negativeMarkers = []string{"failed", "error", "incident", "outage", "declined", "rejected", "overdue", "ошибка"}

var positiveMarkers = []string{"thank", "congrat", "approved", "merged", "success", "спасибо", "поздравля"}

// NewKeyword создаёт эвристический классификатор.
func NewKeyword() *KeywordClassifier {
	return &KeywordClassifier{categories: defaultCategories}
}

// Classify оценивает уведомление по словарям и учитывает подсказки шаблонов.
func (k *KeywordClassifier) Classify(_ context.Context, n domain.Notification, hints []domain.PatternHint) (domain.Classification, error) {
	text := strings.ToLower(n.Subject + "\n" + n.Body)

	type scored struct {
		cat   keywordCategory
		score float64
	}
	scores := make([]scored, 0, len(k.categories))
	total := 0.0
	for _, cat := range k.categories {
		hits := 0.0
		for _, w := range cat.words {
			if strings.Contains(text, w) {
				hits++
			}
		}
		for _, h := range hints {
			if h.Category == cat.name {
				hits += h.Confidence * 2
			}
		}
		total += hits
		scores = append(scores, scored{cat: cat, score: hits})
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })

	out := domain.Classification{
		Category:  "other",
		Priority:  40,
		Sentiment: sentimentOf(text),
		Summary:   truncate(firstLine(n.Subject, n.Body), 200),
		SpamScore: spamScore(text),
	}
	if best := scores[0]; best.score > 0 {
		out.Category = best.cat.name
		out.Priority = best.cat.priority
		out.Confidence = minFloat(best.score/total, 0.75)
	}
	if containsAny(text, urgentMarkers) {
		out.Priority = domain.ClampPriority(out.Priority + 20)
	}
	if n.SourceType == domain.SourceTypeJira || n.SourceType == domain.SourceTypeGitHub {
		if out.Category == "other" {
			out.Category = "dev"
			out.Priority = 55
		}
	}
	return out, nil
}

func spamScore(text string) float64 {
	hits := 0
	for _, m := range spamMarkers {
		if strings.Contains(text, m) {
			hits++
		}
	}
	return domain.ClampUnit(float64(hits) * 0.25)
}

func sentimentOf(text string) domain.Sentiment {
	neg, pos := countAny(text, negativeMarkers), countAny(text, positiveMarkers)
	switch {
	case neg > pos:
		return domain.SentimentNegative
	case pos > neg:
		return domain.SentimentPositive
	}
	return domain.SentimentNeutral
}

func containsAny(text string, markers []string) bool {
	return countAny(text, markers) > 0
}

func countAny(text string, markers []string) int {
	n := 0
	for _, m := range markers {
		if strings.Contains(text, m) {
			n++
		}
	}
	return n
}

func firstLine(subject, body string) string {
	if s := strings.TrimSpace(subject); s != "" {
		return s
	}
	body = strings.TrimSpace(body)
	if idx := strings.IndexByte(body, '\n'); idx >= 0 {
		return strings.TrimSpace(body[:idx])
	}
	return body
}

func minFloat(a, b float64) float64 {
	if a < b {
		return a
	}
	return b
}
