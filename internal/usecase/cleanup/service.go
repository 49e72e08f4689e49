package cleanup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// Config задаёт пороги очистки.
type Config struct {
	SpamThreshold float64
	Retention     time.Duration
	BatchSize     int
}

// Report - итог одного запуска очистки.
type Report struct {
	StartedAt time.Time
	Archived  int
	Purged    int
}

// Service архивирует спам и удаляет устаревшие архивные уведомления.
type Service struct {
	repo domain.NotificationRepo
	cfg  Config
	log  zerolog.Logger
	now  func() time.Time
}

// NewService создаёт сервис очистки.
func NewService(repo domain.NotificationRepo, cfg Config, logger zerolog.Logger) *Service {
	if cfg.SpamThreshold <= 0 {
		cfg.SpamThreshold = 0.8
	}
	if cfg.Retention <= 0 {
		cfg.Retention = 30 * 24 * time.Hour
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 500
	}
	return &Service{repo: repo, cfg: cfg, log: logger, now: func() time.Time { return time.Now().UTC() }}
}

// Run выполняет обе фазы с границами, зафиксированными на старте:
// заархивированное в этом запуске не удаляется им же.
func (s *Service) Run(ctx context.Context) (Report, error) {
	start := s.now()
	report := Report{StartedAt: start}

	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := s.repo.ArchiveSpam(ctx, s.cfg.SpamThreshold, start, start, s.cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("cleanup: архивация спама: %w", err)
		}
		report.Archived += n
		metrics.AddCleanup("spam", n)
		if n < s.cfg.BatchSize {
			break
		}
	}

	purgeBefore := start.Add(-s.cfg.Retention)
	for {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		n, err := s.repo.PurgeArchived(ctx, purgeBefore, s.cfg.BatchSize)
		if err != nil {
			return report, fmt.Errorf("cleanup: удаление архива: %w", err)
		}
		report.Purged += n
		metrics.AddCleanup("retention", n)
		if n < s.cfg.BatchSize {
			break
		}
	}

	s.log.Info().
		Int("archived", report.Archived).
		Int("purged", report.Purged).
		Time("purge_before", purgeBefore).
		Msg("cleanup: завершено")
	return report, nil
}
