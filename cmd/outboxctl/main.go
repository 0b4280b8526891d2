package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"orderpipe/internal/application/factories/infrastructure"
	"orderpipe/internal/config"
	"orderpipe/internal/infrastructure/postgres"
)

// outboxctl is the operator's maintenance tool: inspect outbox health,
// requeue rows stuck in processing after a relay crash, and trim the log
// past the retention window.
func main() {
	fix := flag.Bool("fix", false, "reset stuck processing rows back to pending")
	olderThan := flag.Duration("older-than", 5*time.Minute, "age threshold for -fix")
	purge := flag.Bool("purge", false, "delete log records past the retention window")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	infraFactory := infrastructure.NewFactory(cfg)
	defer infraFactory.Close()

	pgPool, err := infraFactory.Postgres(ctx)
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}

	outboxRepo := postgres.NewOutboxRepository(pgPool)

	counts, err := outboxRepo.StatusCounts(ctx)
	if err != nil {
		logger.Error("failed to read outbox status counts", "error", err)
		os.Exit(1)
	}
	fmt.Println("outbox status counts:")
	for status, n := range counts {
		fmt.Printf("  %-12s %d\n", status, n)
	}

	if *fix {
		n, err := outboxRepo.ResetStuck(ctx, *olderThan)
		if err != nil {
			logger.Error("failed to reset stuck rows", "error", err)
			os.Exit(1)
		}
		fmt.Printf("reset %d stuck rows older than %s back to pending\n", n, *olderThan)
	}

	if *purge {
		eventLog, err := infraFactory.EventLog(ctx)
		if err != nil {
			logger.Error("failed to init event log", "error", err)
			os.Exit(1)
		}
		pgLog, ok := eventLog.(*postgres.EventLog)
		if !ok {
			logger.Error("purge requires the postgres-backed log")
			os.Exit(1)
		}
		n, err := pgLog.PurgeBefore(ctx, cfg.EventLog.Retention)
		if err != nil {
			logger.Error("failed to purge log records", "error", err)
			os.Exit(1)
		}
		fmt.Printf("purged %d log records older than %s\n", n, cfg.EventLog.Retention)
	}
}
