package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/kirillkom/tomd/internal/adapters/http"
	"github.com/kirillkom/tomd/internal/bootstrap"
	"github.com/kirillkom/tomd/internal/config"
	"github.com/kirillkom/tomd/internal/observability/logging"
	"github.com/kirillkom/tomd/internal/observability/metrics"
)

func main() {
	cfg := config.Load()
	logger := logging.NewJSONLogger("tomd-api", cfg.LogLevel, cfg.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpMetrics := metrics.NewHTTPServerMetrics("tomd-api")
	var workerMetrics *metrics.WorkerMetrics
	if cfg.QueueBackend != bootstrap.BackendNATS {
		workerMetrics = metrics.NewWorkerMetrics("tomd-api", httpMetrics.Registry())
	}

	app, err := bootstrap.New(ctx, cfg, logger, workerMetrics)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	if cfg.QueueBackend != bootstrap.BackendNATS {
		app.RunWorkers(ctx)
	}
	app.Recover(ctx)
	go app.Janitor.Run(ctx, cfg.JanitorInterval)

	router, err := httpadapter.NewRouter(cfg, httpadapter.Dependencies{
		Files:    app.Files,
		Starter:  app.Dispatcher,
		Jobs:     app.Jobs,
		Settings: app.Settings,
		Catalog:  app.Catalog,
		Metrics:  httpMetrics,
		Logger:   logger,
	})
	if err != nil {
		logger.Error("router_init_failed", "error", err)
		os.Exit(1)
	}

	server := &http.Server{
		Addr:              ":" + cfg.APIPort,
		Handler:           router.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "addr", server.Addr, "queue_backend", cfg.QueueBackend, "job_store", cfg.JobStore)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("api_server_failed", "error", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_failed", "error", err)
	}
}
