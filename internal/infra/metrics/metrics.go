package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	SyncRunsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "source_sync_runs_total",
		Help: "Синхронизации источников по результату",
	}, []string{"source_type", "status"})

	IngestedItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "ingested_notifications_total",
		Help: "Количество впервые сохранённых уведомлений",
	}, []string{"source_type"})

	ClassificationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "classifications_total",
		Help: "Результаты классификации: model, pattern, failed",
	}, []string{"outcome"})

	ClassifyQueueWait = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "classify_queue_wait_seconds",
		Help:    "Время от постановки задачи классификации до её обработки",
		Buckets: prometheus.DefBuckets,
	})

	RuleActionsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "rule_actions_total",
		Help: "Применённые действия правил",
	}, []string{"action"})

	CleanupItemsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "cleanup_items_total",
		Help: "Уведомления, обработанные очисткой",
	}, []string{"sweep"})

	DigestBuildSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "digest_build_seconds",
		Help:    "Время построения дайджеста",
		Buckets: prometheus.DefBuckets,
	}, []string{"type"})

	DeliveryErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "delivery_errors_total",
		Help: "Ошибки публикации событий доставки",
	}, []string{"backend"})

	NetworkRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "network_request_duration_seconds",
		Help:    "Длительность сетевых запросов",
		Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10, 20, 30, 60, 120},
	}, []string{"component", "operation", "target", "status"})

	NetworkRequestTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "network_request_total",
		Help: "Количество сетевых запросов",
	}, []string{"component", "operation", "target", "status"})

	LLMGenerationDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "llm_generation_duration_seconds",
		Help:    "Длительность генерации ответа LLM",
		Buckets: prometheus.DefBuckets,
	}, []string{"model"})

	LLMTokensTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "llm_tokens_total",
		Help: "Количество токенов, использованных LLM",
	}, []string{"model", "type"})
)

// MustRegister регистрирует метрики.
func MustRegister(registerer prometheus.Registerer) {
	registerer.MustRegister(
		SyncRunsTotal,
		IngestedItemsTotal,
		ClassificationsTotal,
		ClassifyQueueWait,
		RuleActionsTotal,
		CleanupItemsTotal,
		DigestBuildSeconds,
		DeliveryErrors,
		NetworkRequestDuration,
		NetworkRequestTotal,
		LLMGenerationDuration,
		LLMTokensTotal,
	)
}

// StartServer запускает HTTP сервер с эндпоинтом /metrics.
func StartServer(ctx context.Context, logger zerolog.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}

	shutdownCtx, cancel := context.WithCancel(context.Background())
	go func() {
		select {
		case <-ctx.Done():
		case <-shutdownCtx.Done():
		}
		shutdownTimeout, timeoutCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer timeoutCancel()
		if err := srv.Shutdown(shutdownTimeout); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: graceful shutdown failed")
		}
	}()

	go func() {
		logger.Info().Str("addr", addr).Msg("metrics: server started")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error().Err(err).Msg("metrics: server stopped")
		}
		cancel()
	}()
}

// ObserveNetworkRequest записывает длительность и статус сетевого запроса.
func ObserveNetworkRequest(component, operation, target string, start time.Time, err error) {
	if component == "" {
		component = "unknown"
	}
	if operation == "" {
		operation = "unknown"
	}
	if target == "" {
		target = "unknown"
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	duration := time.Since(start).Seconds()
	NetworkRequestDuration.WithLabelValues(component, operation, target, status).Observe(duration)
	NetworkRequestTotal.WithLabelValues(component, operation, target, status).Inc()
}

// ObserveLLMGeneration записывает длительность и токены генерации LLM.
func ObserveLLMGeneration(model string, duration time.Duration, promptTokens, completionTokens, totalTokens int) {
	if model == "" {
		model = "unknown"
	}
	LLMGenerationDuration.WithLabelValues(model).Observe(duration.Seconds())
	if promptTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "prompt").Add(float64(promptTokens))
	}
	if completionTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "completion").Add(float64(completionTokens))
	}
	if totalTokens <= 0 {
		totalTokens = promptTokens + completionTokens
	}
	if totalTokens > 0 {
		LLMTokensTotal.WithLabelValues(model, "total").Add(float64(totalTokens))
	}
}

// ObserveSync учитывает результат синхронизации источника.
func ObserveSync(sourceType, status string, inserted int) {
	SyncRunsTotal.WithLabelValues(sourceType, status).Inc()
	if inserted > 0 {
		IngestedItemsTotal.WithLabelValues(sourceType).Add(float64(inserted))
	}
}

// ObserveClassification учитывает исход классификации.
func ObserveClassification(outcome string, enqueuedAt time.Time) {
	ClassificationsTotal.WithLabelValues(outcome).Inc()
	if !enqueuedAt.IsZero() {
		ClassifyQueueWait.Observe(time.Since(enqueuedAt).Seconds())
	}
}

// IncRuleAction учитывает применённое действие правила.
func IncRuleAction(action string) {
	RuleActionsTotal.WithLabelValues(action).Inc()
}

// AddCleanup учитывает обработанные очисткой уведомления.
func AddCleanup(sweep string, n int) {
	if n > 0 {
		CleanupItemsTotal.WithLabelValues(sweep).Add(float64(n))
	}
}

// IncDeliveryError учитывает ошибку публикации.
func IncDeliveryError(backend string) {
	DeliveryErrors.WithLabelValues(backend).Inc()
}
