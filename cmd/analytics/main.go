package main

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"orderpipe/internal/application/factories/infrastructure"
	"orderpipe/internal/config"
	"orderpipe/internal/infrastructure/kafka"
	"orderpipe/internal/infrastructure/postgres"
	redisInfra "orderpipe/internal/infrastructure/redis"
	"orderpipe/internal/runtime"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
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

	redisClient, err := infraFactory.Redis(ctx)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}

	group := cfg.Analytics.GroupID
	if group == "" {
		group = "analytics"
	}

	kafkaProd := kafka.NewProducer(kafka.Config{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.DLQTopic,
		MaxAttempts:  cfg.Kafka.MaxAttempts,
		WriteTimeout: cfg.Kafka.WriteTimeout,
	})
	defer kafkaProd.Close()

	// The analytics handler dedups inside its own transaction, so it is not
	// wrapped with the idempotency middleware.
	analyticsRepo := postgres.NewAnalyticsRepository(pgPool)

	rt, err := runtime.New(eventLog, redisInfra.NewLeaseStore(redisClient), kafka.NewDeadLetterSink(kafkaProd), runtime.GroupConfig{
		Group:        group,
		Handler:      analyticsRepo,
		MaxRetries:   cfg.Analytics.MaxRetries,
		RetryForever: cfg.Analytics.RetryForever,
		RetryBackoff: cfg.Analytics.RetryBackoff,
		ApplyTimeout: cfg.Analytics.ApplyTimeout,
		FetchBatch:   cfg.Analytics.FetchBatch,
		LeaseTTL:     cfg.Analytics.LeaseTTL,
		DrainGrace:   cfg.Analytics.DrainGrace,
	})
	if err != nil {
		logger.Error("failed to build consumer runtime", "error", err)
		os.Exit(1)
	}

	r := chi.NewRouter()
	r.Use(ChiMiddleware.Recoverer)
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})
	r.Get("/summary", func(w http.ResponseWriter, req *http.Request) {
		s, err := analyticsRepo.Summary(req.Context())
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"orders":         s.Orders,
			"revenue":        s.Revenue,
			"status_changes": s.StatusChanges,
		})
	})
	r.Get("/summary/orders/{id}", func(w http.ResponseWriter, req *http.Request) {
		applied, err := analyticsRepo.OrderCount(req.Context(), chi.URLParam(req, "id"))
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]int64{"applied": applied})
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    ":" + cfg.Analytics.MetricsPort,
		Handler: r,
	}
	go func() {
		logger.Info("analytics query API listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("query API failed", "error", err)
		}
	}()

	if err := rt.Run(ctx); err != nil {
		logger.Error("analytics consumer stopped with error", "error", err)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	srv.Shutdown(shutdownCtx)

	logger.Info("analytics exited")
}
