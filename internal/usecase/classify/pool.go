package classify

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"notify-hub/internal/domain"
	"notify-hub/internal/infra/metrics"
	"notify-hub/internal/usecase/patterns"
	"notify-hub/internal/usecase/rules"
)

// PoolConfig задаёт параметры пула классификации.
type PoolConfig struct {
	Workers int
	RPS     float64
	Burst   int
	// StaleAfter - через сколько захват processing считается брошенным.
	StaleAfter time.Duration
	// ItemTimeout ограничивает обработку одного захваченного уведомления.
	ItemTimeout time.Duration
}

// Pool - ограниченный пул воркеров, который классифицирует уведомления из очереди,
// применяет правила и сохраняет результат.
type Pool struct {
	queue      domain.ClassifyQueue
	repo       domain.NotificationRepo
	classifier *Service
	rules      *rules.Service
	feeder     *patterns.Feeder
	publisher  domain.Publisher
	limiter    *rate.Limiter
	cfg        PoolConfig
	log        zerolog.Logger
	now        func() time.Time
}

// NewPool создаёт пул классификации.
func NewPool(queue domain.ClassifyQueue, repo domain.NotificationRepo, classifier *Service, ruleSvc *rules.Service, feeder *patterns.Feeder, publisher domain.Publisher, cfg PoolConfig, logger zerolog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.RPS <= 0 {
		cfg.RPS = 5
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.StaleAfter <= 0 {
		cfg.StaleAfter = 15 * time.Minute
	}
	if cfg.ItemTimeout <= 0 {
		cfg.ItemTimeout = time.Minute
	}
	return &Pool{
		queue:      queue,
		repo:       repo,
		classifier: classifier,
		rules:      ruleSvc,
		feeder:     feeder,
		publisher:  publisher,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RPS), cfg.Burst),
		cfg:        cfg,
		log:        logger,
		now:        time.Now,
	}
}

// Run запускает воркеров и блокируется до отмены ctx.
func (p *Pool) Run(ctx context.Context) error {
	p.log.Info().Int("workers", p.cfg.Workers).Float64("rps", p.cfg.RPS).Msg("classify: пул запущен")
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		worker := i
		g.Go(func() error {
			return p.loop(gctx, worker)
		})
	}
	err := g.Wait()
	p.log.Info().Msg("classify: пул остановлен")
	return err
}

func (p *Pool) loop(ctx context.Context, worker int) error {
	log := p.log.With().Int("worker", worker).Logger()
	for {
		job, err := p.queue.Pop(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Msg("classify: ошибка чтения очереди")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(time.Second):
			}
			continue
		}
		if err := p.Process(ctx, job); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			log.Error().Err(err).Int64("notification_id", job.NotificationID).Msg("classify: задача не выполнена")
		}
	}
}

// Process классифицирует одно уведомление. После захвата обработка
// доводится до конца даже при отмене ctx.
func (p *Pool) Process(ctx context.Context, job domain.ClassifyJob) error {
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	staleBefore := p.now().Add(-p.cfg.StaleAfter)
	n, ok, err := p.repo.ClaimForClassification(ctx, job.UserID, job.NotificationID, staleBefore)
	if errors.Is(err, domain.ErrNotFound) {
		p.log.Debug().Int64("notification_id", job.NotificationID).Msg("classify: уведомление удалено до обработки")
		return nil
	}
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	firstProcessing := n.ClassifiedAt == nil

	workCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.ItemTimeout)
	defer cancel()

	decision, err := p.classifier.Classify(workCtx, n)
	if err != nil {
		return err
	}
	processedAt := p.now().UTC()
	classified := ApplyClassification(n, decision, processedAt)

	res, err := p.rules.Run(workCtx, classified)
	if err != nil {
		return err
	}
	final := res.Notification
	if final.Archived && !n.Archived {
		final.ArchivedAt = &processedAt
	}
	if err := p.repo.SaveProcessed(workCtx, final); err != nil {
		return err
	}
	for _, a := range res.Applied {
		if a.Changed {
			metrics.IncRuleAction(string(a.Action))
		}
	}
	metrics.ObserveClassification(string(decision.Outcome), job.EnqueuedAt)

	p.learn(ctx, classified, decision)

	if firstProcessing {
		p.publish(workCtx, final, processedAt)
	}
	p.log.Debug().
		Int64("notification_id", final.ID).
		Str("outcome", string(decision.Outcome)).
		Str("category", final.Category).
		Int("rules", len(res.Applied)).
		Msg("classify: уведомление обработано")
	return nil
}

func (p *Pool) learn(ctx context.Context, n domain.Notification, d Decision) {
	if p.feeder == nil {
		return
	}
	var obs patterns.Observation
	switch d.Outcome {
	case OutcomeModel:
		obs = patterns.Observation{Notification: n, Classification: d.Classification}
	case OutcomePattern:
		obs = patterns.Observation{Notification: n, HitKey: d.HitKey}
	default:
		return
	}
	if err := p.feeder.Submit(ctx, obs); err != nil {
		p.log.Debug().Err(err).Int64("notification_id", n.ID).Msg("classify: наблюдение для шаблонов отброшено")
	}
}

func (p *Pool) publish(ctx context.Context, n domain.Notification, at time.Time) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.Publish(ctx, n.UserID, domain.NewNotificationEvent(n, at)); err != nil {
		p.log.Warn().Err(err).Int64("notification_id", n.ID).Msg("classify: не удалось отправить событие notification")
	}
	unread, err := p.repo.CountUnread(ctx, n.UserID)
	if err != nil {
		p.log.Warn().Err(err).Int64("user_id", n.UserID).Msg("classify: не удалось посчитать непрочитанные")
		return
	}
	if err := p.publisher.Publish(ctx, n.UserID, domain.NewUnreadCountEvent(n.UserID, unread, at)); err != nil {
		p.log.Warn().Err(err).Int64("user_id", n.UserID).Msg("classify: не удалось отправить событие unread_count")
	}
}
