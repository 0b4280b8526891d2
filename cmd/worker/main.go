package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"orderpipe/internal/application/factories/infrastructure"
	"orderpipe/internal/config"
	"orderpipe/internal/infrastructure/postgres"
	"orderpipe/internal/worker"
)

func main() {
	// Initialize structured JSON logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	eventLog, err := infraFactory.EventLog(ctx)
	if err != nil {
		logger.Error("failed to init event log", "error", err)
		os.Exit(1)
	}

	outboxRepo := postgres.NewOutboxRepository(pgPool)

	w := worker.NewOutboxPoller(outboxRepo, eventLog, worker.Config{
		Interval:    cfg.Relay.Interval,
		BatchSize:   cfg.Relay.BatchSize,
		MaxAttempts: cfg.Relay.MaxAttempts,
		Backoff:     cfg.Relay.Backoff,
	})

	if err := w.Run(ctx); err != nil {
		logger.Error("relay stopped with error", "error", err)
	}

	logger.Info("relay exited")
}
