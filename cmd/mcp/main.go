package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/mark3labs/mcp-go/server"

	mcpadapter "github.com/kirillkom/tomd/internal/adapters/mcp"
	"github.com/kirillkom/tomd/internal/bootstrap"
	"github.com/kirillkom/tomd/internal/config"
	"github.com/kirillkom/tomd/internal/observability/logging"
)

var version = "dev"

func main() {
	cfg := config.Load()
	// stdout carries the protocol.
	logger := logging.NewJSONLoggerTo(os.Stderr, "tomd-mcp", cfg.LogLevel, cfg.Debug)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg, logger, nil)
	if err != nil {
		logger.Error("bootstrap_failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()
	app.RunWorkers(ctx)

	s := mcpadapter.NewServer(mcpadapter.Dependencies{
		Files:   app.Files,
		Starter: app.Dispatcher,
		Jobs:    app.Jobs,
		Catalog: app.Catalog,
	}, version)

	if err := server.ServeStdio(s); err != nil {
		logger.Error("mcp_server_failed", "error", err)
	}
}
