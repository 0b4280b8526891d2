package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"orderpipe/internal/domain/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func orderCreatedEnvelope(t *testing.T, orderID string, amount int64, version int) event.Envelope {
	t.Helper()
	payload, err := json.Marshal(event.OrderCreated{
		OrderID:   orderID,
		UserID:    "u-1",
		Item:      "book",
		Amount:    amount,
		CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return event.Envelope{
		ID:            event.DeterministicID("order:"+orderID, version),
		Type:          event.TypeOrderCreated,
		SchemaVersion: event.SchemaVersionCurrent,
		PartitionKey:  orderID,
		Producer:      "order-service",
		OccurredAt:    time.Now().UTC(),
		Payload:       payload,
	}
}

type countingHandler struct {
	applies int
	err     error
}

func (h *countingHandler) Apply(ctx context.Context, env event.Envelope) error {
	h.applies++
	return h.err
}

func TestIdempotentAppliesOnce(t *testing.T) {
	inner := &countingHandler{}
	h := Idempotent("test", NewMemoryDedupStore(), inner)
	env := orderCreatedEnvelope(t, "42", 2, 1)

	require.NoError(t, h.Apply(context.Background(), env))
	require.NoError(t, h.Apply(context.Background(), env))

	assert.Equal(t, 1, inner.applies, "redelivery must be a no-op")
}

func TestIdempotentDoesNotMarkFailedApply(t *testing.T) {
	inner := &countingHandler{err: errors.New("boom")}
	h := Idempotent("test", NewMemoryDedupStore(), inner)
	env := orderCreatedEnvelope(t, "42", 2, 1)

	require.Error(t, h.Apply(context.Background(), env))

	// The failure must not poison the dedup store: a retry still applies.
	inner.err = nil
	require.NoError(t, h.Apply(context.Background(), env))
	assert.Equal(t, 2, inner.applies)
}

func TestIdempotentDistinctIDsBothApply(t *testing.T) {
	inner := &countingHandler{}
	h := Idempotent("test", NewMemoryDedupStore(), inner)

	require.NoError(t, h.Apply(context.Background(), orderCreatedEnvelope(t, "1", 5, 1)))
	require.NoError(t, h.Apply(context.Background(), orderCreatedEnvelope(t, "2", 5, 1)))

	assert.Equal(t, 2, inner.applies)
}
