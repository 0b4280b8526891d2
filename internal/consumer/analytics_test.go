package consumer

import (
	"context"
	"encoding/json"
	"testing"

	"orderpipe/internal/domain/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregateFoldsOrderCreated(t *testing.T) {
	agg := NewAggregate()
	ctx := context.Background()

	require.NoError(t, agg.Apply(ctx, orderCreatedEnvelope(t, "1", 100, 1)))
	require.NoError(t, agg.Apply(ctx, orderCreatedEnvelope(t, "2", 250, 1)))

	s := agg.Summary()
	assert.Equal(t, int64(2), s.Orders)
	assert.Equal(t, int64(350), s.Revenue)
}

func TestAggregateDuplicateDeliveryCountsOnce(t *testing.T) {
	agg := NewAggregate()
	ctx := context.Background()
	env := orderCreatedEnvelope(t, "7", 99, 1)

	require.NoError(t, agg.Apply(ctx, env))
	require.NoError(t, agg.Apply(ctx, env))

	assert.Equal(t, int64(1), agg.OrderCount("7"), "order 7 must increment by exactly 1, not 2")
	s := agg.Summary()
	assert.Equal(t, int64(1), s.Orders)
	assert.Equal(t, int64(99), s.Revenue)
}

func TestAggregateStatusChanges(t *testing.T) {
	agg := NewAggregate()
	payload, err := json.Marshal(event.OrderStatusChanged{
		OrderID: "1", OldStatus: "CREATED", NewStatus: "CONFIRMED", Version: 2,
	})
	require.NoError(t, err)
	env := event.Envelope{
		ID:           event.DeterministicID("order:1", 2),
		Type:         event.TypeOrderStatusChanged,
		PartitionKey: "1",
		Payload:      payload,
	}

	require.NoError(t, agg.Apply(context.Background(), env))
	require.NoError(t, agg.Apply(context.Background(), env))

	assert.Equal(t, int64(1), agg.Summary().StatusChanges)
}

func TestAggregateSummaryIsACopy(t *testing.T) {
	agg := NewAggregate()
	require.NoError(t, agg.Apply(context.Background(), orderCreatedEnvelope(t, "1", 10, 1)))

	s := agg.Summary()
	s.PerOrder["1"] = 999

	assert.Equal(t, int64(1), agg.OrderCount("1"))
}

func TestAggregateIgnoresUnrelatedTypes(t *testing.T) {
	agg := NewAggregate()
	env := orderCreatedEnvelope(t, "1", 10, 1)
	env.Type = "InventoryAdjusted"

	require.NoError(t, agg.Apply(context.Background(), env))
	assert.Equal(t, int64(0), agg.Summary().Orders)
}
