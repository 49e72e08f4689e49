package main

import (
	"context"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"notify-hub/internal/app"
	"notify-hub/internal/infra/config"
	httpinfra "notify-hub/internal/infra/http"
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
		logger.Fatal().Err(err).Msg("api: не удалось собрать приложение")
	}
	defer application.Close()

	server := httpinfra.NewServer(applog.Component(logger, "http"))
	application.Handler().Mount(server.Router, application.JWTSecret)

	if cfg.AppEnv == "dev" {
		if token, err := httpinfra.IssueToken(application.JWTSecret, 1, 24*time.Hour); err == nil {
			logger.Debug().Str("token", token).Msg("api: токен пользователя 1 для разработки")
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if application.Standalone() {
		logger.Info().Msg("api: воркер запущен в процессе API")
		g.Go(func() error { return application.RunWorker(gctx) })
	}
	g.Go(func() error {
		return server.Start(":" + strconv.Itoa(cfg.Port))
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("api: остановка")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("api: завершение с ошибкой")
	}
}
