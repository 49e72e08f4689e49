package digest

import (
	"strings"
	"testing"
	"time"

	"notify-hub/internal/domain"
)

func TestFormatDigestBuildsSections(t *testing.T) {
	d := domain.NotificationDigest{
		Type:              domain.DigestWeekly,
		Window:            domain.Window{Start: time.Date(2026, 3, 2, 21, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 9, 21, 0, 0, 0, time.UTC)},
		NotificationCount: 7,
		Categories:        map[string]int{"social": 2, "work": 5},
		Summary:           "Неделя прошла спокойно.",
	}

	formatted := FormatDigest(d, time.FixedZone("MSK", 3*3600))

	mustContain(t, formatted, "🗓 Дайджест за неделю: 03.03.2026 00:00 - 10.03.2026 00:00")
	mustContain(t, formatted, "🧭 Итоги\nНеделя прошла спокойно.")
	mustContain(t, formatted, "🗂 Категории (всего 7)\n• work: 5\n• social: 2")
}

func TestFormatDigestWithoutCategories(t *testing.T) {
	formatted := FormatDigest(domain.NotificationDigest{Type: domain.DigestDaily}, time.UTC)
	if strings.Contains(formatted, "Категории") {
		t.Fatalf("пустой дайджест не должен содержать категорий: %q", formatted)
	}
}

func mustContain(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("ожидали найти подстроку %q в %q", substr, s)
	}
}
