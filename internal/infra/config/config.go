package config

import (
	"log"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// AppConfig описывает конфигурацию сервисов.
type AppConfig struct {
	AppEnv      string `envconfig:"APP_ENV" default:"dev"`
	TZ          string `envconfig:"TZ" default:"UTC"`
	Port        int    `envconfig:"PORT" default:"8080"`
	MetricsAddr string `envconfig:"METRICS_ADDR" default:":9090"`

	PGDSN       string `envconfig:"PG_DSN"`
	PGMaxConns  int32  `envconfig:"PG_MAX_CONNS" default:"10"`
	RedisAddr   string `envconfig:"REDIS_ADDR"`
	RabbitMQURL string `envconfig:"RABBITMQ_URL"`

	Auth struct {
		JWTSecret      string `envconfig:"JWT_SECRET"`
		CredentialsKey string `envconfig:"CREDENTIALS_KEY"`
	} `envconfig:""`

	OpenAI struct {
		APIKey  string        `envconfig:"OPENAI_API_KEY"`
		BaseURL string        `envconfig:"OPENAI_BASE_URL"`
		Model   string        `envconfig:"OPENAI_MODEL" default:"gpt-4.1-mini"`
		Timeout time.Duration `envconfig:"OPENAI_TIMEOUT" default:"30s"`
	} `envconfig:""`

	Classifier struct {
		Workers          int           `envconfig:"CLASSIFY_WORKERS" default:"4"`
		RPS              float64       `envconfig:"CLASSIFY_RPS" default:"5"`
		Burst            int           `envconfig:"CLASSIFY_BURST" default:"5"`
		MaxAttempts      int           `envconfig:"CLASSIFY_MAX_ATTEMPTS" default:"3"`
		RetryDelay       time.Duration `envconfig:"CLASSIFY_RETRY_DELAY" default:"10m"`
		StaleAfter       time.Duration `envconfig:"CLASSIFY_STALE_AFTER" default:"15m"`
		PatternThreshold float64       `envconfig:"PATTERN_THRESHOLD" default:"0.8"`
		LearningRate     float64       `envconfig:"PATTERN_LEARNING_RATE" default:"0.2"`
		SweepSchedule    string        `envconfig:"CLASSIFY_SWEEP_SCHEDULE" default:"0 */2 * * * *"`
		QueueBackend     string        `envconfig:"CLASSIFY_QUEUE_BACKEND" default:"auto"`
		QueueKey         string        `envconfig:"CLASSIFY_QUEUE_KEY" default:"classify_jobs"`
		SweepBatch       int           `envconfig:"CLASSIFY_SWEEP_BATCH" default:"500"`
		ItemTimeout      time.Duration `envconfig:"CLASSIFY_ITEM_TIMEOUT" default:"1m"`
		BreakerFailures  int           `envconfig:"CLASSIFY_BREAKER_FAILURES" default:"5"`
		BreakerCooldown  time.Duration `envconfig:"CLASSIFY_BREAKER_COOLDOWN" default:"1m"`
	} `envconfig:""`

	Sync struct {
		Schedule    string        `envconfig:"SYNC_SCHEDULE" default:"0 */5 * * * *"`
		Concurrency int           `envconfig:"SYNC_CONCURRENCY" default:"8"`
		Backoff     time.Duration `envconfig:"SYNC_RATE_LIMIT_BACKOFF" default:"15m"`
		LockTTL     time.Duration `envconfig:"SYNC_LOCK_TTL" default:"10m"`
	} `envconfig:""`

	Cleanup struct {
		Schedule      string        `envconfig:"CLEANUP_SCHEDULE" default:"0 30 3 * * *"`
		SpamThreshold float64       `envconfig:"SPAM_THRESHOLD" default:"0.8"`
		Retention     time.Duration `envconfig:"RETENTION" default:"720h"`
		BatchSize     int           `envconfig:"CLEANUP_BATCH_SIZE" default:"500"`
	} `envconfig:""`

	Digest struct {
		DailySchedule   string `envconfig:"DIGEST_DAILY_SCHEDULE" default:"0 0 6 * * *"`
		WeeklySchedule  string `envconfig:"DIGEST_WEEKLY_SCHEDULE" default:"0 0 6 * * 1"`
		MonthlySchedule string `envconfig:"DIGEST_MONTHLY_SCHEDULE" default:"0 0 6 1 * *"`
		MaxItems        int    `envconfig:"DIGEST_MAX_ITEMS" default:"50"`
	} `envconfig:""`

	Delivery struct {
		Backend  string `envconfig:"DELIVERY_BACKEND" default:"redis"`
		Exchange string `envconfig:"DELIVERY_EXCHANGE" default:"notifications"`
	} `envconfig:""`
}

// Load загружает конфиг из окружения.
func Load() AppConfig {
	var cfg AppConfig
	if err := envconfig.Process("", &cfg); err != nil {
		log.Fatalf("не удалось загрузить конфиг: %v", err)
	}
	return cfg
}
