package classify

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"notify-hub/internal/domain"
)

// SweepConfig задаёт выборку бэклога.
type SweepConfig struct {
	MaxAttempts int
	// RetryDelay - пауза перед повтором failed-уведомления.
	RetryDelay time.Duration
	StaleAfter time.Duration
	BatchSize  int
}

// Sweeper периодически ставит в очередь уведомления, ожидающие классификации.
type Sweeper struct {
	repo  domain.NotificationRepo
	queue domain.ClassifyQueue
	cfg   SweepConfig
	log   zerolog.Logger
	now   func() time.Time
}

// NewSweeper создаёт проход по бэклогу.
func NewSweeper(repo domain.NotificationRepo, queue domain.ClassifyQueue, cfg SweepConfig, logger zerolog.Logger) *Sweeper {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 10 * time.Minute
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Sweeper{repo: repo, queue: queue, cfg: cfg, log: logger, now: time.Now}
}

// Run ставит в очередь не более BatchSize задач и возвращает их число.
func (s *Sweeper) Run(ctx context.Context) (int, error) {
	now := s.now()
	jobs, err := s.repo.ListClassificationBacklog(ctx, domain.BacklogQuery{
		MaxAttempts: s.cfg.MaxAttempts,
		RetryBefore: now.Add(-s.cfg.RetryDelay),
		StaleBefore: now.Add(-s.cfg.StaleAfter),
		Limit:       s.cfg.BatchSize,
	})
	if err != nil {
		return 0, fmt.Errorf("выборка бэклога: %w", err)
	}
	enqueued := 0
	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return enqueued, err
		}
		job.ID = uuid.NewString()
		job.EnqueuedAt = now.UTC()
		job.Cause = domain.ClassifyCauseSweep
		if err := s.queue.Enqueue(ctx, job); err != nil {
			return enqueued, fmt.Errorf("постановка в очередь: %w", err)
		}
		enqueued++
	}
	if enqueued > 0 {
		s.log.Info().Int("jobs", enqueued).Msg("classify: бэклог поставлен в очередь")
	}
	return enqueued, nil
}
