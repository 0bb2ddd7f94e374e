package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ErlanBelekov/brew-scheduler/config"
	"github.com/ErlanBelekov/brew-scheduler/internal/email"
	"github.com/ErlanBelekov/brew-scheduler/internal/health"
	"github.com/ErlanBelekov/brew-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/brew-scheduler/internal/log"
	"github.com/ErlanBelekov/brew-scheduler/internal/metrics"
	"github.com/ErlanBelekov/brew-scheduler/internal/notify"
	"github.com/ErlanBelekov/brew-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/brew-scheduler/internal/usecase"
	"github.com/prometheus/client_golang/prometheus"
)

// The scheduler process delivers calendar alerts for every active batch,
// including batches nobody currently has open.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if cfg.Store != "postgres" {
		log.Fatalf("config: the alert scheduler needs STORE=postgres, got %q", cfg.Store)
	}

	logger := ctxlog.New(os.Stdout, cfg.Env, cfg.SlogLevel())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		stop()
		log.Fatalf("db: %v", err)
	}
	defer pool.Close()

	metrics.Register()
	checker := health.NewChecker(map[string]health.Pinger{"postgres": pool}, logger, prometheus.DefaultRegisterer)

	batchUsecase := usecase.NewBatchUsecase(postgres.NewBatchRepository(pool, logger))

	sinks := notify.Multi{notify.NewLogSink(logger)}
	if cfg.NotifyEmailTo != "" {
		mailer := email.NewMailer(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
		sinks = append(sinks, notify.NewEmailSink(mailer, cfg.NotifyEmailTo, logger))
	}

	dispatcher, err := scheduler.NewAlertDispatcher(batchUsecase, sinks, logger, cfg.AlertSweepCron)
	if err != nil {
		stop()
		log.Fatalf("alerts: %v", err)
	}
	dispatcherDone := make(chan struct{})
	go func() {
		defer close(dispatcherDone)
		if err := dispatcher.Start(ctx); err != nil {
			logger.Error("alert dispatcher", "error", err)
			stop()
		}
	}()

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)
	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	<-dispatcherDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}

	logger.Info("scheduler shut down")
}
