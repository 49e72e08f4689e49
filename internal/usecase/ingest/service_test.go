package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"notify-hub/internal/adapters/repo"
	"notify-hub/internal/domain"
	"notify-hub/internal/infra/cache"
	"notify-hub/internal/infra/queue"
	"notify-hub/internal/infra/secrets"
)

type stubCollector struct {
	mu      sync.Mutex
	results map[int64]domain.SyncResult
	errs    map[int64]error
	calls   int
	authErr error
}

func (s *stubCollector) Sync(_ context.Context, source domain.NotificationSource, creds domain.Credentials) (domain.SyncResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if creds.Token != "secret" {
		return domain.SyncResult{}, errors.New("учётные данные не расшифрованы")
	}
	if err := s.errs[source.ID]; err != nil {
		return domain.SyncResult{}, err
	}
	return s.results[source.ID], nil
}

func (s *stubCollector) TestAuth(context.Context, domain.Credentials) error {
	return s.authErr
}

type stubRegistry struct{ c domain.Collector }

func (r stubRegistry) Get(domain.SourceType) (domain.Collector, error) { return r.c, nil }

type failingUpsert struct {
	*repo.Memory
}

func (failingUpsert) UpsertNotifications(context.Context, []domain.Notification) ([]int64, error) {
	return nil, errors.New("connection reset")
}

type fixture struct {
	svc       *Service
	mem       *repo.Memory
	queue     *queue.MemoryClassifyQueue
	lock      *cache.MemoryLock
	collector *stubCollector
	box       *secrets.Box
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	box, err := secrets.NewEphemeralBox()
	if err != nil {
		t.Fatalf("ключ: %v", err)
	}
	f := &fixture{
		mem:       repo.NewMemory(),
		queue:     queue.NewMemoryClassifyQueue(64),
		lock:      cache.NewMemoryLock(),
		collector: &stubCollector{results: map[int64]domain.SyncResult{}, errs: map[int64]error{}},
		box:       box,
	}
	f.svc = NewService(f.mem, f.mem, f.queue, stubRegistry{f.collector}, box, f.lock, Config{Concurrency: 2}, zerolog.Nop())
	return f
}

func (f *fixture) source(t *testing.T, userID int64, typ domain.SourceType) domain.NotificationSource {
	t.Helper()
	sealed, err := f.box.Seal(domain.Credentials{Token: "secret"})
	if err != nil {
		t.Fatalf("seal: %v", err)
	}
	src, err := f.mem.CreateSource(context.Background(), domain.NotificationSource{UserID: userID, Type: typ, Name: string(typ), Enabled: true, Credentials: sealed})
	if err != nil {
		t.Fatalf("источник: %v", err)
	}
	return src
}

func item(ext string, at time.Time) domain.Notification {
	return domain.Notification{ExternalID: ext, Sender: "bot@ci.dev", Subject: ext, ReceivedAt: at}
}

func TestSyncAllIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	good := f.source(t, 1, domain.SourceTypeJira)
	bad := f.source(t, 1, domain.SourceTypeGitHub)
	now := time.Now().UTC()
	f.collector.results[good.ID] = domain.SyncResult{Items: []domain.Notification{item("A-1", now), item("A-2", now)}, Cursor: "c1"}
	f.collector.errs[bad.ID] = domain.RateLimited(domain.SourceTypeGitHub, 2*time.Minute, errors.New("429"))

	report, err := f.svc.SyncAll(ctx)
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	if report.Synced != 1 || report.Failed != 1 || report.Inserted != 2 {
		t.Fatalf("неожиданный отчёт: %+v", report)
	}
	if f.queue.Len() != 2 {
		t.Fatalf("ожидали 2 задачи классификации, получили %d", f.queue.Len())
	}

	gotGood, _ := f.mem.GetSource(ctx, 1, good.ID)
	if gotGood.Cursor != "c1" || gotGood.LastError != "" {
		t.Fatalf("курсор не продвинут: %+v", gotGood)
	}
	gotBad, _ := f.mem.GetSource(ctx, 1, bad.ID)
	if gotBad.LastError == "" || gotBad.Cursor != "" {
		t.Fatalf("ошибка источника не сохранена: %+v", gotBad)
	}
	if gotBad.NextSyncAt == nil || gotBad.NextSyncAt.Sub(now) < time.Minute {
		t.Fatalf("ожидали backoff по Retry-After, получили %v", gotBad.NextSyncAt)
	}

	// источник в backoff не выбирается следующим проходом
	f.collector.calls = 0
	if _, err := f.svc.SyncAll(ctx); err != nil {
		t.Fatalf("второй проход: %v", err)
	}
	if f.collector.calls != 1 {
		t.Fatalf("ожидали вызов только здорового источника, получили %d", f.collector.calls)
	}
}

func TestSyncDeduplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.source(t, 1, domain.SourceTypeTelegram)
	now := time.Now().UTC()
	f.collector.results[src.ID] = domain.SyncResult{Items: []domain.Notification{item("-1:5", now)}, Cursor: "5"}

	first, err := f.svc.SyncNow(ctx, 1, src.ID)
	if err != nil || first.Inserted != 1 {
		t.Fatalf("первая синхронизация: %+v %v", first, err)
	}
	second, err := f.svc.SyncNow(ctx, 1, src.ID)
	if err != nil {
		t.Fatalf("вторая синхронизация: %v", err)
	}
	if second.Inserted != 0 || second.Fetched != 1 {
		t.Fatalf("повтор не должен вставлять: %+v", second)
	}
	if f.queue.Len() != 1 {
		t.Fatalf("повтор не должен ставить задачу: %d", f.queue.Len())
	}
	items, _ := f.mem.ListNotifications(ctx, 1, domain.NotificationFilter{Limit: 10})
	if len(items) != 1 || items[0].SourceID != src.ID || items[0].Status != domain.StatusPending {
		t.Fatalf("неожиданное хранилище: %+v", items)
	}
}

func TestSyncNowBusyAndOwnership(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	src := f.source(t, 1, domain.SourceTypeIMAP)

	if _, err := f.svc.SyncNow(ctx, 2, src.ID); !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("чужой источник должен быть не найден, получили %v", err)
	}

	release, ok, _ := f.lock.TryLock(ctx, fmt.Sprintf("source:%d", src.ID), time.Minute)
	if !ok {
		t.Fatalf("не удалось захватить блокировку")
	}
	defer release()
	if _, err := f.svc.SyncNow(ctx, 1, src.ID); !errors.Is(err, domain.ErrSourceBusy) {
		t.Fatalf("ожидали ErrSourceBusy, получили %v", err)
	}
	if f.collector.calls != 0 {
		t.Fatalf("коллектор не должен вызываться при занятом источнике")
	}
}

func TestStorageFailureAbortsRun(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, 1, domain.SourceTypeJira)
	f.collector.results[src.ID] = domain.SyncResult{Items: []domain.Notification{item("X-1", time.Now())}, Cursor: "c"}
	svc := NewService(f.mem, failingUpsert{f.mem}, f.queue, stubRegistry{f.collector}, f.box, f.lock, Config{}, zerolog.Nop())

	if _, err := svc.SyncAll(context.Background()); err == nil {
		t.Fatalf("ожидали ошибку хранилища")
	}
	got, _ := f.mem.GetSource(context.Background(), 1, src.ID)
	if got.Cursor != "" {
		t.Fatalf("курсор не должен продвигаться без сохранения: %q", got.Cursor)
	}
}

func TestTestAuth(t *testing.T) {
	f := newFixture(t)
	src := f.source(t, 1, domain.SourceTypeGitHub)
	f.collector.authErr = domain.NewSourceError(domain.SourceTypeGitHub, domain.SourceErrAuth, errors.New("401"))
	if err := f.svc.TestAuth(context.Background(), 1, src.ID); !domain.IsAuthError(err) {
		t.Fatalf("ожидали auth, получили %v", err)
	}
}
