package consumer

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"orderpipe/internal/domain/event"
)

// Summary is an eventually-consistent snapshot of the analytics fold. It
// reflects all committed log records up to some offset, never the producer's
// latest write.
type Summary struct {
	Orders        int64            `json:"orders"`
	Revenue       int64            `json:"revenue"`
	StatusChanges int64            `json:"status_changes"`
	PerOrder      map[string]int64 `json:"per_order"`
}

// Aggregate is an event-sourced fold over order events. Every increment is
// gated by event ID under the same lock, so duplicate delivery never
// double-counts.
type Aggregate struct {
	mu            sync.RWMutex
	applied       map[string]struct{}
	perOrder      map[string]int64
	orders        int64
	revenue       int64
	statusChanges int64
}

func NewAggregate() *Aggregate {
	return &Aggregate{
		applied:  make(map[string]struct{}),
		perOrder: make(map[string]int64),
	}
}

func (a *Aggregate) Apply(ctx context.Context, env event.Envelope) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if _, ok := a.applied[env.ID]; ok {
		duplicatesAbsorbed.WithLabelValues("analytics").Inc()
		return nil
	}

	switch env.Type {
	case event.TypeOrderCreated:
		var p event.OrderCreated
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return &event.SchemaError{Cause: fmt.Errorf("decode %s payload: %w", env.Type, err)}
		}
		a.orders++
		a.revenue += p.Amount
		a.perOrder[p.OrderID]++
	case event.TypeOrderStatusChanged:
		a.statusChanges++
	default:
		return nil
	}

	a.applied[env.ID] = struct{}{}
	return nil
}

// Summary returns a copy; callers never observe a partially applied event.
func (a *Aggregate) Summary() Summary {
	a.mu.RLock()
	defer a.mu.RUnlock()

	perOrder := make(map[string]int64, len(a.perOrder))
	for k, v := range a.perOrder {
		perOrder[k] = v
	}
	return Summary{
		Orders:        a.orders,
		Revenue:       a.revenue,
		StatusChanges: a.statusChanges,
		PerOrder:      perOrder,
	}
}

// OrderCount reports how many times an order was folded in. Always 0 or 1
// regardless of redelivery.
func (a *Aggregate) OrderCount(orderID string) int64 {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.perOrder[orderID]
}
