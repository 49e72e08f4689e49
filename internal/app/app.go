package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"notify-hub/internal/adapters/classifier"
	"notify-hub/internal/adapters/collector"
	"notify-hub/internal/adapters/delivery"
	"notify-hub/internal/adapters/httpapi"
	"notify-hub/internal/adapters/repo"
	"notify-hub/internal/adapters/summarizer"
	"notify-hub/internal/domain"
	"notify-hub/internal/infra/cache"
	"notify-hub/internal/infra/circuitbreaker"
	"notify-hub/internal/infra/config"
	"notify-hub/internal/infra/db"
	applog "notify-hub/internal/infra/log"
	"notify-hub/internal/infra/openai"
	"notify-hub/internal/infra/queue"
	"notify-hub/internal/infra/secrets"
	"notify-hub/internal/usecase/classify"
	"notify-hub/internal/usecase/cleanup"
	"notify-hub/internal/usecase/digest"
	"notify-hub/internal/usecase/ingest"
	"notify-hub/internal/usecase/notifications"
	"notify-hub/internal/usecase/patterns"
	"notify-hub/internal/usecase/rules"
	"notify-hub/internal/usecase/schedule"
	"notify-hub/internal/usecase/sources"
)

// devJWTSecret используется только при APP_ENV=dev без JWT_SECRET.
const devJWTSecret = "dev-secret"

// Store - все репозитории конвейера.
type Store interface {
	domain.NotificationRepo
	domain.SourceRepo
	domain.RuleRepo
	domain.PatternRepo
	domain.DigestRepo
}

// App - собранный граф зависимостей.
type App struct {
	Cfg       config.AppConfig
	Log       zerolog.Logger
	JWTSecret string

	Store         Store
	Queue         domain.ClassifyQueue
	Publisher     domain.Publisher
	Sources       *sources.Service
	Ingest        *ingest.Service
	Rules         *rules.Service
	Patterns      *patterns.Store
	Feeder        *patterns.Feeder
	Pool          *classify.Pool
	Sweeper       *classify.Sweeper
	Cleanup       *cleanup.Service
	Digests       *digest.Service
	Notifications *notifications.Service
	Scheduler     *schedule.Scheduler

	// standalone - состояние в памяти процесса: воркер должен работать рядом с API.
	standalone bool
	closers    []func()
}

// New собирает приложение по конфигурации.
func New(ctx context.Context, cfg config.AppConfig, logger zerolog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: logger}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	if err := a.initStore(ctx); err != nil {
		return nil, err
	}
	redisClient, err := a.initRedis(ctx)
	if err != nil {
		return nil, err
	}
	sealer, err := a.initSealer()
	if err != nil {
		return nil, err
	}
	if err := a.initAuth(); err != nil {
		return nil, err
	}
	if err := a.initQueue(redisClient); err != nil {
		return nil, err
	}
	if err := a.initPublisher(redisClient); err != nil {
		return nil, err
	}

	var lock domain.SourceLock = cache.NewMemoryLock()
	if redisClient != nil {
		lock = cache.NewRedisLock(redisClient, "notify-hub:lock:")
	}

	loc, err := schedule.ParseLocation(cfg.TZ)
	if err != nil {
		logger.Warn().Str("tz", cfg.TZ).Msg("app: неизвестный часовой пояс, используется UTC")
		loc = time.UTC
	}

	var model domain.ClassifierModel = classifier.NewKeyword()
	var digestSummarizer domain.DigestSummarizer = summarizer.NewSimple()
	if cfg.OpenAI.APIKey != "" {
		client := openai.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.OpenAI.Timeout)
		model = classifier.NewLLM(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
		digestSummarizer = summarizer.NewOpenAI(client, cfg.OpenAI.Model, cfg.OpenAI.Timeout)
	} else {
		logger.Warn().Msg("app: OPENAI_API_KEY не задан, используются классификатор по ключевым словам и простая сводка")
	}

	a.Sources = sources.NewService(a.Store, sealer, applog.Component(logger, "sources"))
	a.Ingest = ingest.NewService(a.Store, a.Store, a.Queue, collector.NewRegistry(&http.Client{Timeout: 30 * time.Second}), sealer, lock, ingest.Config{
		Concurrency: cfg.Sync.Concurrency,
		Backoff:     cfg.Sync.Backoff,
		LockTTL:     cfg.Sync.LockTTL,
	}, applog.Component(logger, "ingest"))
	a.Rules = rules.NewService(a.Store, applog.Component(logger, "rules"))
	a.Patterns = patterns.NewStore(a.Store, patterns.Config{
		LearningRate: cfg.Classifier.LearningRate,
		Threshold:    cfg.Classifier.PatternThreshold,
	}, applog.Component(logger, "patterns"))
	a.Feeder = patterns.NewFeeder(a.Patterns, 0, 0, applog.Component(logger, "patterns"))

	breaker := circuitbreaker.New(circuitbreaker.Config{
		FailureThreshold: cfg.Classifier.BreakerFailures,
		Cooldown:         cfg.Classifier.BreakerCooldown,
	})
	classifierSvc := classify.NewService(model, a.Patterns, breaker, cfg.OpenAI.Timeout, applog.Component(logger, "classify"))
	a.Pool = classify.NewPool(a.Queue, a.Store, classifierSvc, a.Rules, a.Feeder, a.Publisher, classify.PoolConfig{
		Workers:     cfg.Classifier.Workers,
		RPS:         cfg.Classifier.RPS,
		Burst:       cfg.Classifier.Burst,
		StaleAfter:  cfg.Classifier.StaleAfter,
		ItemTimeout: cfg.Classifier.ItemTimeout,
	}, applog.Component(logger, "classify"))
	a.Sweeper = classify.NewSweeper(a.Store, a.Queue, classify.SweepConfig{
		MaxAttempts: cfg.Classifier.MaxAttempts,
		RetryDelay:  cfg.Classifier.RetryDelay,
		StaleAfter:  cfg.Classifier.StaleAfter,
		BatchSize:   cfg.Classifier.SweepBatch,
	}, applog.Component(logger, "classify"))

	a.Cleanup = cleanup.NewService(a.Store, cleanup.Config{
		SpamThreshold: cfg.Cleanup.SpamThreshold,
		Retention:     cfg.Cleanup.Retention,
		BatchSize:     cfg.Cleanup.BatchSize,
	}, applog.Component(logger, "cleanup"))
	a.Digests = digest.NewService(a.Store, a.Store, a.Store, digestSummarizer, loc, cfg.Digest.MaxItems, applog.Component(logger, "digest"))
	a.Notifications = notifications.NewService(a.Store, a.Publisher, applog.Component(logger, "notifications"))

	a.Scheduler = schedule.New(loc, applog.Component(logger, "schedule"))
	if err := a.registerJobs(); err != nil {
		return nil, err
	}
	ok = true
	return a, nil
}

func (a *App) initStore(ctx context.Context) error {
	if a.Cfg.PGDSN == "" {
		a.Log.Warn().Msg("app: PG_DSN не задан, данные хранятся в памяти процесса")
		a.Store = repo.NewMemory()
		a.standalone = true
		return nil
	}
	pool, err := db.Connect(ctx, a.Cfg.PGDSN, a.Cfg.PGMaxConns)
	if err != nil {
		return fmt.Errorf("app: подключение к БД: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	pg := repo.NewPostgres(pool)
	if err := pg.Migrate(ctx); err != nil {
		return fmt.Errorf("app: %w", err)
	}
	a.Store = pg
	return nil
}

func (a *App) initRedis(ctx context.Context) (*redis.Client, error) {
	if a.Cfg.RedisAddr == "" {
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.Cfg.RedisAddr})
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("app: подключение к Redis: %w", err)
	}
	a.closers = append(a.closers, func() { _ = client.Close() })
	return client, nil
}

func (a *App) initSealer() (domain.CredentialSealer, error) {
	if a.Cfg.Auth.CredentialsKey != "" {
		box, err := secrets.NewBox(a.Cfg.Auth.CredentialsKey)
		if err != nil {
			return nil, fmt.Errorf("app: CREDENTIALS_KEY: %w", err)
		}
		return box, nil
	}
	if a.Cfg.AppEnv != "dev" {
		return nil, errors.New("app: CREDENTIALS_KEY обязателен вне dev")
	}
	a.Log.Warn().Msg("app: CREDENTIALS_KEY не задан, используется временный ключ")
	return secrets.NewEphemeralBox()
}

func (a *App) initAuth() error {
	a.JWTSecret = a.Cfg.Auth.JWTSecret
	if a.JWTSecret != "" {
		return nil
	}
	if a.Cfg.AppEnv != "dev" {
		return errors.New("app: JWT_SECRET обязателен вне dev")
	}
	a.Log.Warn().Msg("app: JWT_SECRET не задан, используется секрет для разработки")
	a.JWTSecret = devJWTSecret
	return nil
}

func (a *App) initQueue(redisClient *redis.Client) error {
	backend := a.Cfg.Classifier.QueueBackend
	if backend == "auto" {
		backend = "memory"
		if redisClient != nil {
			backend = "redis"
		}
	}
	switch backend {
	case "memory":
		a.Queue = queue.NewMemoryClassifyQueue(4096)
		a.standalone = true
	case "redis":
		if redisClient == nil {
			return errors.New("app: очередь redis требует REDIS_ADDR")
		}
		a.Queue = queue.NewRedisClassifyQueue(redisClient, a.Cfg.Classifier.QueueKey)
	case "rabbitmq":
		q, err := queue.NewRabbitClassifyQueue(a.Cfg.RabbitMQURL, a.Cfg.Classifier.QueueKey, a.Cfg.Classifier.Workers*2)
		if err != nil {
			return fmt.Errorf("app: очередь RabbitMQ: %w", err)
		}
		a.closers = append(a.closers, q.Close)
		a.Queue = q
	default:
		return fmt.Errorf("app: неизвестный CLASSIFY_QUEUE_BACKEND %q", backend)
	}
	return nil
}

func (a *App) initPublisher(redisClient *redis.Client) error {
	var publishers delivery.Multi
	switch a.Cfg.Delivery.Backend {
	case "nop", "":
		a.Publisher = delivery.Nop{}
		return nil
	case "redis", "rabbitmq", "all":
	default:
		return fmt.Errorf("app: неизвестный DELIVERY_BACKEND %q", a.Cfg.Delivery.Backend)
	}
	if a.Cfg.Delivery.Backend != "rabbitmq" {
		if redisClient == nil {
			a.Log.Warn().Msg("app: доставка через Redis отключена, REDIS_ADDR не задан")
		} else {
			publishers = append(publishers, delivery.NewRedisPublisher(redisClient))
		}
	}
	if a.Cfg.Delivery.Backend != "redis" {
		pub, err := delivery.NewRabbitPublisher(a.Cfg.RabbitMQURL, a.Cfg.Delivery.Exchange)
		if err != nil {
			return fmt.Errorf("app: доставка RabbitMQ: %w", err)
		}
		a.closers = append(a.closers, pub.Close)
		publishers = append(publishers, pub)
	}
	switch len(publishers) {
	case 0:
		a.Publisher = delivery.Nop{}
	case 1:
		a.Publisher = publishers[0]
	default:
		a.Publisher = publishers
	}
	return nil
}

func (a *App) registerJobs() error {
	cfg := a.Cfg
	jobs := []schedule.Job{
		{Name: "sync", Spec: cfg.Sync.Schedule, Timeout: cfg.Sync.LockTTL, Run: func(ctx context.Context) error {
			_, err := a.Ingest.SyncAll(ctx)
			return err
		}},
		{Name: "classify_sweep", Spec: cfg.Classifier.SweepSchedule, Timeout: time.Minute, Run: func(ctx context.Context) error {
			_, err := a.Sweeper.Run(ctx)
			return err
		}},
		{Name: "cleanup", Spec: cfg.Cleanup.Schedule, Timeout: time.Hour, Run: func(ctx context.Context) error {
			_, err := a.Cleanup.Run(ctx)
			return err
		}},
	}
	for t, spec := range map[domain.DigestType]string{
		domain.DigestDaily:   cfg.Digest.DailySchedule,
		domain.DigestWeekly:  cfg.Digest.WeeklySchedule,
		domain.DigestMonthly: cfg.Digest.MonthlySchedule,
	} {
		jobs = append(jobs, schedule.Job{Name: "digest_" + string(t), Spec: spec, Timeout: time.Hour, Run: func(ctx context.Context) error {
			_, err := a.Digests.GenerateScheduled(ctx, t)
			return err
		}})
	}
	for _, job := range jobs {
		if err := a.Scheduler.Add(job); err != nil {
			return err
		}
	}
	return nil
}

// Standalone сообщает, что очередь или хранилище живут в памяти процесса.
func (a *App) Standalone() bool { return a.standalone }

// Handler возвращает обработчик API.
func (a *App) Handler() *httpapi.Handler {
	return httpapi.NewHandler(httpapi.Deps{
		Sources:       a.Sources,
		Ingest:        a.Ingest,
		Rules:         a.Rules,
		Patterns:      a.Patterns,
		Digests:       a.Digests,
		Notifications: a.Notifications,
	}, applog.Component(a.Log, "api"))
}

// RunWorker запускает обучение шаблонов, пул классификации и планировщик до отмены ctx.
func (a *App) RunWorker(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.Feeder.Run(gctx) })
	g.Go(func() error { return a.Pool.Run(gctx) })
	g.Go(func() error { return a.Scheduler.Run(gctx) })
	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// Close освобождает подключения в обратном порядке.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
