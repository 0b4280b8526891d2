// Package consumer holds the handler contract every consumer group
// implements, plus the idempotency wrapper that makes at-least-once
// redelivery safe.
package consumer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"orderpipe/internal/domain/event"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var duplicatesAbsorbed = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "consumer_duplicate_events_absorbed_total",
	Help: "The total number of redelivered events short-circuited by dedup",
}, []string{"consumer"})

// Handler applies one event. It must tolerate redelivery of the same
// envelope ID; wrap with Idempotent unless the handler dedups internally.
type Handler interface {
	Apply(ctx context.Context, env event.Envelope) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, env event.Envelope) error

func (f HandlerFunc) Apply(ctx context.Context, env event.Envelope) error { return f(ctx, env) }

// DedupStore records applied event IDs. Entries live at least as long as the
// log retention window.
type DedupStore interface {
	Seen(ctx context.Context, eventID string) (bool, error)
	Mark(ctx context.Context, eventID string) error
}

type idempotentHandler struct {
	name  string
	store DedupStore
	next  Handler
}

// Idempotent wraps a handler so a redelivered event ID is a no-op: consult
// the store before applying, record the ID after a successful apply. A crash
// between apply and mark yields one extra apply on replay, which is the
// at-least-once bound, never a loss.
func Idempotent(name string, store DedupStore, next Handler) Handler {
	return &idempotentHandler{name: name, store: store, next: next}
}

func (h *idempotentHandler) Apply(ctx context.Context, env event.Envelope) error {
	seen, err := h.store.Seen(ctx, env.ID)
	if err != nil {
		return fmt.Errorf("dedup lookup: %w", err)
	}
	if seen {
		duplicatesAbsorbed.WithLabelValues(h.name).Inc()
		slog.Info("duplicate event absorbed", "consumer", h.name, "event_id", env.ID, "type", env.Type)
		return nil
	}

	if err := h.next.Apply(ctx, env); err != nil {
		return err
	}

	if err := h.store.Mark(ctx, env.ID); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

// MemoryDedupStore is a process-local DedupStore for tests and single-node
// runs.
type MemoryDedupStore struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

func NewMemoryDedupStore() *MemoryDedupStore {
	return &MemoryDedupStore{seen: make(map[string]struct{})}
}

func (s *MemoryDedupStore) Seen(ctx context.Context, eventID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.seen[eventID]
	return ok, nil
}

func (s *MemoryDedupStore) Mark(ctx context.Context, eventID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.seen[eventID] = struct{}{}
	return nil
}
