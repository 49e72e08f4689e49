package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
)

// CollectorRegistry выдаёт коллектор по типу источника.
type CollectorRegistry interface {
	Get(t domain.SourceType) (domain.Collector, error)
}

// Config задаёт параметры синхронизации.
type Config struct {
	Concurrency  int
	Backoff      time.Duration
	LockTTL      time.Duration
	StoreTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Concurrency <= 0 {
		c.Concurrency = 8
	}
	if c.Backoff <= 0 {
		c.Backoff = 15 * time.Minute
	}
	if c.LockTTL <= 0 {
		c.LockTTL = 10 * time.Minute
	}
	if c.StoreTimeout <= 0 {
		c.StoreTimeout = 30 * time.Second
	}
	return c
}

// Outcome - результат синхронизации одного источника.
type Outcome struct {
	SourceID int64  `json:"source_id"`
	Inserted int    `json:"inserted"`
	Fetched  int    `json:"fetched"`
	Cursor   string `json:"cursor"`
	// Error - ошибка коллектора, сохранённая в last_error источника.
	Error string `json:"error,omitempty"`
	Busy  bool   `json:"busy,omitempty"`
}

// Report - сводка прохода SyncAll.
type Report struct {
	RunID    string
	Sources  int
	Synced   int
	Failed   int
	Busy     int
	Inserted int
}

// Service синхронизирует источники и ставит новые уведомления в очередь классификации.
type Service struct {
	sources       domain.SourceRepo
	notifications domain.NotificationRepo
	queue         domain.ClassifyQueue
	collectors    CollectorRegistry
	sealer        domain.CredentialSealer
	lock          domain.SourceLock
	cfg           Config
	log           zerolog.Logger
	now           func() time.Time
}

// NewService создаёт сервис синхронизации.
func NewService(sources domain.SourceRepo, notifications domain.NotificationRepo, queue domain.ClassifyQueue, collectors CollectorRegistry, sealer domain.CredentialSealer, lock domain.SourceLock, cfg Config, logger zerolog.Logger) *Service {
	return &Service{
		sources:       sources,
		notifications: notifications,
		queue:         queue,
		collectors:    collectors,
		sealer:        sealer,
		lock:          lock,
		cfg:           cfg.withDefaults(),
		log:           logger,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SyncAll синхронизирует все включённые источники, чей backoff истёк.
// Сбой одного источника не останавливает остальные; ошибка хранилища прерывает проход.
func (s *Service) SyncAll(ctx context.Context) (Report, error) {
	report := Report{RunID: uuid.NewString()}
	log := s.log.With().Str("run_id", report.RunID).Logger()

	sources, err := s.sources.ListSyncableSources(ctx, s.now())
	if err != nil {
		return report, fmt.Errorf("ingest: список источников: %w", err)
	}
	report.Sources = len(sources)

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Concurrency)
	for _, src := range sources {
		g.Go(func() error {
			out, err := s.syncSource(gctx, src)
			if err != nil {
				return err
			}
			mu.Lock()
			defer mu.Unlock()
			switch {
			case out.Busy:
				report.Busy++
			case out.Error != "":
				report.Failed++
			default:
				report.Synced++
			}
			report.Inserted += out.Inserted
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("ingest: проход прерван")
		return report, err
	}
	log.Info().
		Int("sources", report.Sources).
		Int("synced", report.Synced).
		Int("failed", report.Failed).
		Int("busy", report.Busy).
		Int("inserted", report.Inserted).
		Msg("ingest: проход завершён")
	return report, nil
}

// SyncNow синхронизирует источник пользователя вне расписания, игнорируя backoff.
func (s *Service) SyncNow(ctx context.Context, userID, sourceID int64) (Outcome, error) {
	src, err := s.sources.GetSource(ctx, userID, sourceID)
	if err != nil {
		return Outcome{}, err
	}
	out, err := s.syncSource(ctx, src)
	if err != nil {
		return out, err
	}
	if out.Busy {
		return out, domain.ErrSourceBusy
	}
	return out, nil
}

// TestAuth проверяет сохранённые учётные данные источника.
func (s *Service) TestAuth(ctx context.Context, userID, sourceID int64) error {
	src, err := s.sources.GetSource(ctx, userID, sourceID)
	if err != nil {
		return err
	}
	collector, err := s.collectors.Get(src.Type)
	if err != nil {
		return err
	}
	creds, err := s.sealer.Open(src.Credentials)
	if err != nil {
		return fmt.Errorf("ingest: учётные данные источника %d: %w", src.ID, err)
	}
	return collector.TestAuth(ctx, creds)
}

// syncSource возвращает ошибку только для сбоев хранилища и отмены.
func (s *Service) syncSource(ctx context.Context, src domain.NotificationSource) (Outcome, error) {
	out := Outcome{SourceID: src.ID, Cursor: src.Cursor}
	log := s.log.With().Int64("source_id", src.ID).Str("source_type", string(src.Type)).Logger()

	release, ok, err := s.lock.TryLock(ctx, fmt.Sprintf("source:%d", src.ID), s.cfg.LockTTL)
	if err != nil {
		return out, fmt.Errorf("ingest: блокировка источника %d: %w", src.ID, err)
	}
	if !ok {
		log.Debug().Msg("ingest: источник уже синхронизируется")
		metrics.ObserveSync(string(src.Type), "busy", 0)
		out.Busy = true
		return out, nil
	}
	defer release()

	collector, err := s.collectors.Get(src.Type)
	if err != nil {
		return s.fail(ctx, log, src, out, err)
	}
	creds, err := s.sealer.Open(src.Credentials)
	if err != nil {
		return s.fail(ctx, log, src, out, fmt.Errorf("учётные данные: %w", err))
	}

	res, err := collector.Sync(ctx, src, creds)
	if err != nil {
		if ctx.Err() != nil {
			return out, ctx.Err()
		}
		return s.fail(ctx, log, src, out, err)
	}
	out.Fetched = len(res.Items)

	// сохранение завершается даже при отмене прохода, иначе курсор разойдётся с данными
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()

	var ids []int64
	if len(res.Items) > 0 {
		items := make([]domain.Notification, 0, len(res.Items))
		for _, n := range res.Items {
			n.UserID = src.UserID
			n.SourceID = src.ID
			n.SourceType = src.Type
			items = append(items, n)
		}
		ids, err = s.notifications.UpsertNotifications(storeCtx, items)
		if err != nil {
			return out, fmt.Errorf("ingest: сохранение уведомлений источника %d: %w", src.ID, err)
		}
	}
	now := s.now()
	for _, id := range ids {
		job := domain.ClassifyJob{
			ID:             uuid.NewString(),
			UserID:         src.UserID,
			NotificationID: id,
			EnqueuedAt:     now,
			Cause:          domain.ClassifyCauseIngest,
		}
		if err := s.queue.Enqueue(storeCtx, job); err != nil {
			// уведомление осталось pending, его подберёт sweep
			log.Warn().Err(err).Int64("notification_id", id).Msg("ingest: не удалось поставить задачу классификации")
		}
	}
	if err := s.sources.RecordSyncSuccess(storeCtx, src.ID, res.Cursor, now); err != nil && !errors.Is(err, domain.ErrNotFound) {
		return out, fmt.Errorf("ingest: курсор источника %d: %w", src.ID, err)
	}
	out.Inserted = len(ids)
	out.Cursor = res.Cursor
	metrics.ObserveSync(string(src.Type), "success", out.Inserted)
	log.Debug().Int("fetched", out.Fetched).Int("inserted", out.Inserted).Str("cursor", out.Cursor).Msg("ingest: источник синхронизирован")
	return out, nil
}

// fail сохраняет ошибку коллектора и назначает следующую попытку при rate limit.
func (s *Service) fail(ctx context.Context, log zerolog.Logger, src domain.NotificationSource, out Outcome, cause error) (Outcome, error) {
	now := s.now()
	var next *time.Time
	status := "error"
	if se, ok := domain.AsSourceError(cause); ok {
		status = string(se.Kind)
		if se.Kind == domain.SourceErrRateLimit {
			wait := se.RetryAfter
			if wait <= 0 {
				wait = s.cfg.Backoff
			}
			at := now.Add(wait)
			next = &at
		}
	}
	metrics.ObserveSync(string(src.Type), status, 0)
	ev := log.Warn().Err(cause).Str("kind", status)
	if next != nil {
		ev = ev.Time("next_sync_at", *next)
	}
	ev.Msg("ingest: ошибка источника")

	out.Error = cause.Error()
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.sources.RecordSyncFailure(storeCtx, src.ID, out.Error, now, next); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			// источник удалён во время синхронизации
			return out, nil
		}
		return out, fmt.Errorf("ingest: ошибка источника %d: %w", src.ID, err)
	}
	return out, nil
}
