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
	"github.com/ErlanBelekov/brew-scheduler/internal/infrastructure/memory"
	"github.com/ErlanBelekov/brew-scheduler/internal/infrastructure/postgres"
	ctxlog "github.com/ErlanBelekov/brew-scheduler/internal/log"
	"github.com/ErlanBelekov/brew-scheduler/internal/metrics"
	"github.com/ErlanBelekov/brew-scheduler/internal/notify"
	"github.com/ErlanBelekov/brew-scheduler/internal/process"
	"github.com/ErlanBelekov/brew-scheduler/internal/repository"
	"github.com/ErlanBelekov/brew-scheduler/internal/scheduler"
	"github.com/ErlanBelekov/brew-scheduler/internal/timer"
	httptransport "github.com/ErlanBelekov/brew-scheduler/internal/transport/http"
	"github.com/ErlanBelekov/brew-scheduler/internal/transport/http/handler"
	"github.com/ErlanBelekov/brew-scheduler/internal/usecase"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := ctxlog.New(os.Stdout, cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	deps := map[string]health.Pinger{}

	var repo repository.BatchRepository
	switch cfg.Store {
	case "memory":
		repo = memory.NewBatchRepository()
		logger.Warn("using in-memory store, batches are lost on restart")
	default:
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			stop()
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()
		repo = postgres.NewBatchRepository(pool, logger)
		deps["postgres"] = pool
	}
	batchUsecase := usecase.NewBatchUsecase(repo)

	// Notifications fan out to the log, live SSE subscribers and email.
	feed := notify.NewFeed()
	mailer := email.NewMailer(cfg.Env, cfg.ResendAPIKey, cfg.ResendFrom, logger)
	sinks := notify.Multi{notify.NewLogSink(logger), feed}
	if cfg.NotifyEmailTo != "" {
		sinks = append(sinks, notify.NewEmailSink(mailer, cfg.NotifyEmailTo, logger))
	}

	engine := timer.New(sinks, logger, timer.WithCircleDiameter(cfg.CircleDiameter))
	writer := scheduler.NewWriteBehind(cfg.WriteQueueSize, sinks, logger)
	manager := process.NewManager(batchUsecase, engine, writer, sinks, logger)
	clock := scheduler.NewClock(engine, logger, cfg.TickInterval())
	deps["clock"] = clock

	writerCtx, stopWriter := context.WithCancel(context.Background())
	writerDone := make(chan struct{})
	go func() {
		writer.Start(writerCtx)
		close(writerDone)
	}()
	go clock.Start(ctx)

	// A memory store is invisible to the standalone scheduler, so alerts are
	// swept in-process.
	if cfg.Store == "memory" {
		alerts, err := scheduler.NewAlertDispatcher(batchUsecase, sinks, logger, cfg.AlertSweepCron)
		if err != nil {
			stop()
			log.Fatalf("alerts: %v", err)
		}
		go func() {
			if err := alerts.Start(ctx); err != nil {
				logger.Error("alert dispatcher", "error", err)
			}
		}()
	}

	batchHandler := handler.NewBatchHandler(batchUsecase, logger)
	processHandler := handler.NewProcessHandler(manager, logger)
	timerHandler := handler.NewTimerHandler(engine, manager, logger)
	eventsHandler := handler.NewEventsHandler(manager, engine, feed, logger)

	metrics.Register()
	checker := health.NewChecker(deps, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httptransport.NewRouter(logger, batchHandler, processHandler, timerHandler, eventsHandler, []byte(cfg.JWTSecret)),
		ReadHeaderTimeout: 10 * time.Second,
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port, "store", cfg.Store)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Closing navigators ends open SSE streams so Shutdown does not wait on them.
	manager.CloseAll()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := writer.Flush(shutdownCtx); err != nil {
		logger.Error("write-behind flush", "error", err)
	}
	stopWriter()
	<-writerDone
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
}
