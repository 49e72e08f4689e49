package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"

	"notify-hub/internal/app"
	"notify-hub/internal/infra/config"
	applog "notify-hub/internal/infra/log"
	"notify-hub/internal/infra/metrics"
)

func main() {
	cfg := config.Load()
	logger := applog.NewLogger(cfg.AppEnv)

	metrics.MustRegister(prometheus.DefaultRegisterer)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	metrics.StartServer(ctx, applog.Component(logger, "metrics"), cfg.MetricsAddr)

	application, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("worker: не удалось собрать приложение")
	}
	defer application.Close()

	if application.Standalone() {
		logger.Warn().Msg("worker: хранилище или очередь в памяти, API другого процесса их не увидит")
	}
	logger.Info().Int("jobs", len(application.Scheduler.Jobs())).Msg("worker: старт")
	if err := application.RunWorker(ctx); err != nil {
		logger.Error().Err(err).Msg("worker: остановлен с ошибкой")
	}
	logger.Info().Msg("worker: остановлен")
}
