package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"orderpipe/internal/application/factories/infrastructure"
	"orderpipe/internal/config"
	"orderpipe/internal/consumer"
	"orderpipe/internal/infrastructure/kafka"
	redisInfra "orderpipe/internal/infrastructure/redis"
	"orderpipe/internal/runtime"

	"github.com/prometheus/client_golang/prometheus/promhttp"
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

	eventLog, err := infraFactory.EventLog(ctx)
	if err != nil {
		logger.Error("failed to init event log", "error", err)
		os.Exit(1)
	}

	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	group := cfg.Notifier.GroupID
	if group == "" {
		group = "notifier"
	}

	kafkaProd := kafka.NewProducer(kafka.Config{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.DLQTopic,
		MaxAttempts:  cfg.Kafka.MaxAttempts,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	})
	defer kafkaProd.Close()

	// Dedup TTL tracks log retention so every replayable record still has
	// its marker.
	dedup := redisInfra.NewDedupStore(redisClient, group, cfg.EventLog.Retention)
	handler := consumer.Idempotent(group, dedup, consumer.NewNotificationHandler(consumer.SlogNotifier{}))

	rt, err := runtime.New(eventLog, redisInfra.NewLeaseStore(redisClient), kafka.NewDeadLetterSink(kafkaProd), runtime.GroupConfig{
		Group:        group,
		Handler:      handler,
		MaxRetries:   cfg.Notifier.MaxRetries,
		RetryForever: cfg.Notifier.RetryForever,
		RetryBackoff: cfg.Notifier.RetryBackoff,
		ApplyTimeout: cfg.Notifier.ApplyTimeout,
		FetchBatch:   cfg.Notifier.FetchBatch,
		LeaseTTL:     cfg.Notifier.LeaseTTL,
		DrainGrace:   cfg.Notifier.DrainGrace,
	})
	if err != nil {
		logger.Error("failed to build consumer runtime", "error", err)
		os.Exit(1)
	}

	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			w.Write([]byte("OK"))
		})
		addr := ":" + cfg.Notifier.MetricsPort
		logger.Info("metrics listening", "addr", addr)
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Error("metrics server failed", "error", err)
		}
	}()

	if err := rt.Run(ctx); err != nil {
		logger.Error("notifier stopped with error", "error", err)
	}

	logger.Info("notifier exited")
}
