package event

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEnvelope() Envelope {
	payload, _ := json.Marshal(OrderCreated{
		OrderID: "42", UserID: "u-1", Item: "book", Amount: 2,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
	})
	return Envelope{
		ID:            DeterministicID("order:42", 1),
		Type:          TypeOrderCreated,
		SchemaVersion: SchemaVersionCurrent,
		PartitionKey:  "42",
		Producer:      "order-service",
		OccurredAt:    time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		Payload:       payload,
	}
}

func TestEncodeDecodeRoundTrip(t *testing.T) {
	env := validEnvelope()

	data, err := Encode(env)
	require.NoError(t, err)

	got, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, env.Type, got.Type)
	assert.Equal(t, env.PartitionKey, got.PartitionKey)
	assert.JSONEq(t, string(env.Payload), string(got.Payload))
}

func TestEncodeSemanticallyStable(t *testing.T) {
	env := validEnvelope()

	a, err := Encode(env)
	require.NoError(t, err)
	b, err := Encode(env)
	require.NoError(t, err)

	assert.JSONEq(t, string(a), string(b))
}

func TestDecodeIgnoresUnknownFields(t *testing.T) {
	data, err := Encode(validEnvelope())
	require.NoError(t, err)

	// Simulate a newer producer adding an optional field.
	var m map[string]any
	require.NoError(t, json.Unmarshal(data, &m))
	m["trace_id"] = "abc-123"
	newer, err := json.Marshal(m)
	require.NoError(t, err)

	got, err := Decode(newer)
	require.NoError(t, err)
	assert.Equal(t, TypeOrderCreated, got.Type)
}

func TestDecodeMissingRequiredField(t *testing.T) {
	cases := map[string]Envelope{
		"id":            {Type: "T", PartitionKey: "k", Payload: json.RawMessage(`{}`)},
		"type":          {ID: "e1", PartitionKey: "k", Payload: json.RawMessage(`{}`)},
		"partition_key": {ID: "e1", Type: "T", Payload: json.RawMessage(`{}`)},
		"payload":       {ID: "e1", Type: "T", PartitionKey: "k"},
	}

	for field, env := range cases {
		data, err := json.Marshal(env)
		require.NoError(t, err)

		_, err = Decode(data)
		var serr *SchemaError
		require.ErrorAs(t, err, &serr, "field %s", field)
		assert.Equal(t, field, serr.Field)
	}
}

func TestDecodeCorruptBytes(t *testing.T) {
	_, err := Decode([]byte("not json"))
	var serr *SchemaError
	require.ErrorAs(t, err, &serr)
}

func TestDeterministicIDStable(t *testing.T) {
	a := DeterministicID("order:42", 1)
	b := DeterministicID("order:42", 1)
	assert.Equal(t, a, b)

	assert.NotEqual(t, a, DeterministicID("order:42", 2))
	assert.NotEqual(t, a, DeterministicID("order:43", 1))
}
