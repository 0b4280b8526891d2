package api

import (
	"net/http"

	"orderpipe/internal/api/middleware"

	"github.com/go-chi/chi/v5"
	ChiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

func NewRouter(h *Handlers, redisClient *redis.Client) http.Handler {
	r := chi.NewRouter()

	r.Use(ChiMiddleware.Logger)
	r.Use(ChiMiddleware.Recoverer)
	r.Use(ChiMiddleware.RequestID)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	// Idempotent order creation
	r.With(middleware.Idempotency(redisClient)).Post("/orders", h.CreateOrder)

	// Cached order get
	r.Get("/orders/{id}", h.GetOrder)

	// Status transitions retried by clients dedupe on the bumped version,
	// no idempotency key required.
	r.Post("/orders/{id}/status", h.UpdateOrderStatus)

	r.Handle("/metrics", promhttp.Handler())

	return r
}
