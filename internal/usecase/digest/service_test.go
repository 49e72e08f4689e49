package digest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"notify-hub/internal/adapters/repo"
	"notify-hub/internal/domain"
)

type fakeSummarizer struct {
	err      error
	captured []domain.DigestInput
}

func (f *fakeSummarizer) SummarizeDigest(_ context.Context, in domain.DigestInput) (string, error) {
	f.captured = append(f.captured, in)
	if f.err != nil {
		return "", f.err
	}
	return "главное", nil
}

func seed(t *testing.T, mem *repo.Memory, userID int64, ext, category string, at time.Time) {
	t.Helper()
	ctx := context.Background()
	ids, err := mem.UpsertNotifications(ctx, []domain.Notification{{UserID: userID, SourceID: 1, ExternalID: ext, Subject: ext, ReceivedAt: at}})
	if err != nil {
		t.Fatalf("вставка: %v", err)
	}
	if category == "" {
		return
	}
	classified := at
	if err := mem.SaveProcessed(ctx, domain.Notification{ID: ids[0], UserID: userID, Category: category, Status: domain.StatusClassified, ClassifiedAt: &classified}); err != nil {
		t.Fatalf("сохранение: %v", err)
	}
}

func TestWindowFor(t *testing.T) {
	loc := time.FixedZone("MSK", 3*3600)
	now := time.Date(2026, 3, 10, 1, 30, 0, 0, time.UTC) // 04:30 по MSK
	cases := []struct {
		typ        domain.DigestType
		start, end time.Time
	}{
		{domain.DigestDaily, time.Date(2026, 3, 9, 0, 0, 0, 0, loc), time.Date(2026, 3, 10, 0, 0, 0, 0, loc)},
		{domain.DigestWeekly, time.Date(2026, 3, 3, 0, 0, 0, 0, loc), time.Date(2026, 3, 10, 0, 0, 0, 0, loc)},
		{domain.DigestMonthly, time.Date(2026, 2, 1, 0, 0, 0, 0, loc), time.Date(2026, 3, 1, 0, 0, 0, 0, loc)},
	}
	for _, tc := range cases {
		t.Run(string(tc.typ), func(t *testing.T) {
			w, err := WindowFor(tc.typ, now, loc)
			if err != nil {
				t.Fatalf("не ожидали ошибку: %v", err)
			}
			if !w.Start.Equal(tc.start) || !w.End.Equal(tc.end) {
				t.Fatalf("окно %s..%s, ожидали %s..%s", w.Start, w.End, tc.start, tc.end)
			}
		})
	}
	if _, err := WindowFor("hourly", now, loc); !errors.Is(err, ErrUnknownType) {
		t.Fatalf("ожидали ErrUnknownType, получили %v", err)
	}
}

func TestGenerateGroupsAndPersists(t *testing.T) {
	mem := repo.NewMemory()
	base := time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC)
	seed(t, mem, 1, "w1", "work", base)
	seed(t, mem, 1, "w2", "work", base.Add(2*time.Hour))
	seed(t, mem, 1, "s1", "social", base.Add(time.Hour))
	seed(t, mem, 1, "p1", "", base.Add(3*time.Hour))
	seed(t, mem, 1, "late", "work", base.Add(20*time.Hour))
	seed(t, mem, 2, "other", "work", base)

	sum := &fakeSummarizer{}
	svc := NewService(mem, mem, mem, sum, time.UTC, 0, zerolog.Nop())
	window := domain.Window{Start: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}

	d, err := svc.Generate(context.Background(), 1, domain.DigestDaily, window)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if d.NotificationCount != 4 || d.Summary != "главное" || d.ID == 0 {
		t.Fatalf("неожиданный дайджест: %+v", d)
	}
	if d.Categories["work"] != 2 || d.Categories["social"] != 1 || d.Categories[domain.CategoryUnclassified] != 1 {
		t.Fatalf("неожиданные категории: %+v", d.Categories)
	}
	in := sum.captured[0]
	if in.Categories[0].Category != "work" || in.Categories[0].Notifications[0].ExternalID != "w2" {
		t.Fatalf("ожидали work первой и свежие сверху: %+v", in.Categories[0])
	}

	// повторный вызов создаёт новый дайджест
	again, err := svc.Generate(context.Background(), 1, domain.DigestDaily, window)
	if err != nil || again.ID == d.ID {
		t.Fatalf("ожидали новый дайджест: %+v %v", again, err)
	}
}

func TestGenerateFailurePersistsNothing(t *testing.T) {
	mem := repo.NewMemory()
	seed(t, mem, 1, "x", "work", time.Date(2026, 3, 9, 10, 0, 0, 0, time.UTC))
	svc := NewService(mem, mem, mem, &fakeSummarizer{err: errors.New("timeout")}, time.UTC, 0, zerolog.Nop())
	window := domain.Window{Start: time.Date(2026, 3, 9, 0, 0, 0, 0, time.UTC), End: time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)}

	if _, err := svc.Generate(context.Background(), 1, domain.DigestDaily, window); err == nil {
		t.Fatalf("ожидали ошибку")
	}
	if list, _ := mem.ListDigests(context.Background(), 1, 10); len(list) != 0 {
		t.Fatalf("при ошибке ничего не сохраняется, получили %d", len(list))
	}
}

func TestGenerateRejectsBadWindow(t *testing.T) {
	mem := repo.NewMemory()
	svc := NewService(mem, mem, mem, &fakeSummarizer{}, time.UTC, 0, zerolog.Nop())
	now := time.Now()
	if _, err := svc.Generate(context.Background(), 1, domain.DigestDaily, domain.Window{Start: now, End: now}); !errors.Is(err, domain.ErrInvalidWindow) {
		t.Fatalf("ожидали ErrInvalidWindow, получили %v", err)
	}
}

func TestGenerateScheduledSkipsExisting(t *testing.T) {
	mem := repo.NewMemory()
	ctx := context.Background()
	for _, userID := range []int64{1, 2} {
		if _, err := mem.CreateSource(ctx, domain.NotificationSource{UserID: userID, Type: domain.SourceTypeJira, Enabled: true}); err != nil {
			t.Fatalf("источник: %v", err)
		}
	}
	sum := &fakeSummarizer{}
	svc := NewService(mem, mem, mem, sum, time.UTC, 0, zerolog.Nop())
	svc.now = func() time.Time { return time.Date(2026, 3, 10, 6, 0, 0, 0, time.UTC) }

	created, err := svc.GenerateScheduled(ctx, domain.DigestDaily)
	if err != nil || created != 2 {
		t.Fatalf("первый запуск: %d %v", created, err)
	}
	created, err = svc.GenerateScheduled(ctx, domain.DigestDaily)
	if err != nil || created != 0 {
		t.Fatalf("повторный запуск должен пропустить окна: %d %v", created, err)
	}
	latest, err := svc.Latest(ctx, 1, domain.DigestDaily)
	if err != nil || latest.NotificationCount != 0 {
		t.Fatalf("последний дайджест: %+v %v", latest, err)
	}
}

func TestGroupByCategoryLimit(t *testing.T) {
	now := time.Now()
	items := []domain.Notification{
		{ID: 1, Category: "a", ReceivedAt: now},
		{ID: 2, Category: "a", ReceivedAt: now.Add(time.Minute)},
		{ID: 3, Category: "a", ReceivedAt: now.Add(2 * time.Minute)},
		{ID: 4, Category: "b", ReceivedAt: now},
	}
	groups := GroupByCategory(items, 2)
	if len(groups) != 2 || groups[0].Count != 3 || len(groups[0].Notifications) != 2 || groups[0].Notifications[0].ID != 3 {
		t.Fatalf("неожиданная группировка: %+v", groups)
	}
}
