package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"orderpipe/internal/domain/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeNotifier struct {
	sent []Notification
	err  error
}

func (f *fakeNotifier) Send(ctx context.Context, n Notification) error {
	f.sent = append(f.sent, n)
	return f.err
}

func TestNotificationHandlerOrderCreated(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewNotificationHandler(notifier)

	require.NoError(t, h.Apply(context.Background(), orderCreatedEnvelope(t, "42", 2, 1)))

	require.Len(t, notifier.sent, 1)
	assert.Equal(t, "42", notifier.sent[0].OrderID)
	assert.Equal(t, "u-1", notifier.sent[0].UserID)
}

func TestNotificationHandlerSwallowsTransportFailure(t *testing.T) {
	notifier := &fakeNotifier{err: errors.New("smtp down")}
	h := NewNotificationHandler(notifier)

	// Transport failures must not block checkpoint advancement.
	assert.NoError(t, h.Apply(context.Background(), orderCreatedEnvelope(t, "42", 2, 1)))
}

func TestNotificationHandlerIgnoresUnknownType(t *testing.T) {
	notifier := &fakeNotifier{}
	h := NewNotificationHandler(notifier)

	env := orderCreatedEnvelope(t, "42", 2, 1)
	env.Type = "SomethingElse"

	require.NoError(t, h.Apply(context.Background(), env))
	assert.Empty(t, notifier.sent)
}

func TestNotificationHandlerBadPayloadIsSchemaError(t *testing.T) {
	h := NewNotificationHandler(&fakeNotifier{})

	env := orderCreatedEnvelope(t, "42", 2, 1)
	env.Payload = json.RawMessage(`"not an object"`)

	err := h.Apply(context.Background(), env)
	var serr *event.SchemaError
	assert.ErrorAs(t, err, &serr)
}

func TestNotificationRedeliveryDedupShortCircuits(t *testing.T) {
	// The consumer crashed after apply and before commit; on restart the
	// same event ID is delivered again and must not notify twice.
	notifier := &fakeNotifier{}
	h := Idempotent("notifications", NewMemoryDedupStore(), NewNotificationHandler(notifier))
	env := orderCreatedEnvelope(t, "42", 2, 1)

	require.NoError(t, h.Apply(context.Background(), env))
	require.NoError(t, h.Apply(context.Background(), env))

	assert.Len(t, notifier.sent, 1)
}
