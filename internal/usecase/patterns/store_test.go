package patterns

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"notify-hub/internal/adapters/repo"
	"notify-hub/internal/domain"
)

func TestLearnBounds(t *testing.T) {
	p := domain.NotificationPattern{Category: "work", Confidence: 0.2}
	categories := []string{"work", "work", "promo", "work", "promo", "promo", "promo", "news"}
	for i := 0; i < 500; i++ {
		p = Learn(p, categories[i%len(categories)], 50, 0.2)
		if p.Confidence < 0 || p.Confidence > 1 {
			t.Fatalf("уверенность вышла за границы: %f", p.Confidence)
		}
	}
	if p.Frequency != 500 {
		t.Fatalf("ожидали частоту 500, получили %d", p.Frequency)
	}
}

func TestLearnAgreementAndAdoption(t *testing.T) {
	p := domain.NotificationPattern{Category: "work", Confidence: 0.2}
	p = Learn(p, "work", 60, 0.2)
	if math.Abs(p.Confidence-0.36) > 1e-9 {
		t.Fatalf("ожидали 0.36, получили %f", p.Confidence)
	}
	p = Learn(p, "promo", 10, 0.2)
	if p.Category != "work" || math.Abs(p.Confidence-0.288) > 1e-9 {
		t.Fatalf("одно расхождение не должно менять категорию: %+v", p)
	}
	p = Learn(p, "promo", 10, 0.2)
	p = Learn(p, "promo", 10, 0.2)
	if p.Category != "promo" || p.Confidence != 0.2 || p.Priority != 10 {
		t.Fatalf("ожидали переход на promo с уверенностью α: %+v", p)
	}
}

func TestObserveConcurrentNoLostUpdates(t *testing.T) {
	store := NewStore(repo.NewMemory(), Config{LearningRate: 0.2, Threshold: 0.8}, zerolog.Nop())
	ctx := context.Background()
	n := domain.Notification{UserID: 1, Sender: "Alerts <alerts@github.com>"}

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := store.Observe(ctx, n, domain.Classification{Category: "dev", Priority: 40}); err != nil {
				t.Errorf("observe: %v", err)
			}
		}()
	}
	wg.Wait()

	top, _ := store.TopByFrequency(ctx, 1, 10)
	if len(top) != 2 {
		t.Fatalf("ожидали шаблоны отправителя и домена, получили %d", len(top))
	}
	for _, p := range top {
		if p.Frequency != 50 {
			t.Fatalf("потеряны обновления %s: частота %d", p.Key, p.Frequency)
		}
		if p.Confidence < 0.99 || p.Confidence > 1 {
			t.Fatalf("неожиданная уверенность %s: %f", p.Key, p.Confidence)
		}
		if p.Version != 50 {
			t.Fatalf("каждое обновление должно менять версию, %s: %d", p.Key, p.Version)
		}
	}
}

func TestLookupThresholdAndHints(t *testing.T) {
	store := NewStore(repo.NewMemory(), Config{LearningRate: 0.2, Threshold: 0.8}, zerolog.Nop())
	ctx := context.Background()
	n := domain.Notification{UserID: 1, Sender: "ceo@corp.com"}

	if err := store.Observe(ctx, n, domain.Classification{Category: "work", Priority: 80}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	m, err := store.Lookup(ctx, n)
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if m.Strong != nil || len(m.Hints) != 2 {
		t.Fatalf("слабые шаблоны должны стать подсказками: %+v", m)
	}

	for i := 0; i < 10; i++ {
		_ = store.Observe(ctx, n, domain.Classification{Category: "work", Priority: 80})
	}
	m, _ = store.Lookup(ctx, n)
	if m.Strong == nil || m.StrongKey.Key != "sender:ceo@corp.com" || m.Strong.Category != "work" {
		t.Fatalf("ожидали сильный шаблон отправителя: %+v", m)
	}
	if len(m.Hints) != 1 || m.Hints[0].Key != "domain:corp.com" {
		t.Fatalf("шаблон домена должен остаться подсказкой: %+v", m.Hints)
	}
}

func TestObserveSkipsUnclassified(t *testing.T) {
	store := NewStore(repo.NewMemory(), Config{}, zerolog.Nop())
	ctx := context.Background()
	_ = store.Observe(ctx, domain.Notification{UserID: 1, Sender: "a@b.c"}, domain.Unclassified())
	stats, _ := store.Stats(ctx, 1)
	if stats.Count != 0 {
		t.Fatalf("неклассифицированный результат не должен учиться")
	}
}

func TestBumpFrequencyMissingKey(t *testing.T) {
	store := NewStore(repo.NewMemory(), Config{}, zerolog.Nop())
	ctx := context.Background()
	if err := store.BumpFrequency(ctx, 1, domain.PatternKey{Key: "sender:x@y", Type: domain.PatternTypeSender}); err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	stats, _ := store.Stats(ctx, 1)
	if stats.Count != 0 {
		t.Fatalf("счётчик отсутствующего шаблона не должен создавать шаблон")
	}
}

func TestFeeder(t *testing.T) {
	store := NewStore(repo.NewMemory(), Config{}, zerolog.Nop())
	feeder := NewFeeder(store, 4, 2, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- feeder.Run(ctx) }()

	n := domain.Notification{UserID: 7, Sender: "bot@ci.dev"}
	for i := 0; i < 5; i++ {
		if err := feeder.Submit(ctx, Observation{Notification: n, Classification: domain.Classification{Category: "ci"}}); err != nil {
			t.Fatalf("submit: %v", err)
		}
	}
	deadline := time.Now().Add(2 * time.Second)
	for {
		p, err := store.repo.GetPattern(ctx, 7, "sender:bot@ci.dev")
		if err == nil && p.Frequency == 5 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("наблюдения не применены: %+v err=%v", p, err)
		}
		time.Sleep(10 * time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestObserveTracksSpamScore(t *testing.T) {
	store := NewStore(repo.NewMemory(), Config{LearningRate: 0.2, Threshold: 0.8}, zerolog.Nop())
	ctx := context.Background()
	n := domain.Notification{UserID: 1, Sender: "noreply@spam.example"}

	if err := store.Observe(ctx, n, domain.Classification{Category: "promo", SpamScore: 0.95}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	m, err := store.Lookup(ctx, n)
	if err != nil || len(m.Hints) == 0 || m.Strong != nil {
		t.Fatalf("ожидали слабый шаблон после одного наблюдения: %+v %v", m, err)
	}
	p, _ := store.repo.GetPattern(ctx, 1, "sender:noreply@spam.example")
	if math.Abs(p.SpamScore-0.95) > 1e-9 {
		t.Fatalf("первое наблюдение задаёт оценку спама, получили %f", p.SpamScore)
	}

	if err := store.Observe(ctx, n, domain.Classification{Category: "promo", SpamScore: 0.45}); err != nil {
		t.Fatalf("observe: %v", err)
	}
	p, _ = store.repo.GetPattern(ctx, 1, "sender:noreply@spam.example")
	if math.Abs(p.SpamScore-0.85) > 1e-9 {
		t.Fatalf("ожидали 0.95 + 0.2*(0.45-0.95) = 0.85, получили %f", p.SpamScore)
	}
}
