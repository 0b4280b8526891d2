package event

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// idNamespace seeds deterministic event IDs. Changing it would break
// consumer-side dedup across a rolling upgrade, so it is fixed forever.
var idNamespace = uuid.MustParse("9b1deb4d-3b7d-4bad-9bdd-2b0d7b3dcb6d")

// Envelope is the wire representation of a domain event. Payload is kept
// as raw JSON produced by the originating service; its schema is selected
// by Type and SchemaVersion.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	SchemaVersion int             `json:"schema_version"`
	PartitionKey  string          `json:"partition_key"`
	Producer      string          `json:"producer"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// SchemaError reports an envelope that cannot be decoded or validated.
// Such records are dead-lettered, never retried.
type SchemaError struct {
	Field string
	Cause error
}

func (e *SchemaError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("envelope schema: missing required field %q", e.Field)
	}
	return fmt.Sprintf("envelope schema: %v", e.Cause)
}

func (e *SchemaError) Unwrap() error { return e.Cause }

// Encode serializes a validated envelope. The output is semantically stable:
// the same logical envelope always marshals to JSON with equal fields.
func Encode(env Envelope) ([]byte, error) {
	if err := validate(env); err != nil {
		return nil, err
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return data, nil
}

// Decode parses an envelope. Unknown fields are ignored so readers stay
// compatible with newer writers; missing required fields fail loudly.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, &SchemaError{Cause: err}
	}
	if err := validate(env); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

func validate(env Envelope) error {
	switch {
	case env.ID == "":
		return &SchemaError{Field: "id"}
	case env.Type == "":
		return &SchemaError{Field: "type"}
	case env.PartitionKey == "":
		return &SchemaError{Field: "partition_key"}
	case len(env.Payload) == 0:
		return &SchemaError{Field: "payload"}
	}
	return nil
}

// DeterministicID derives the event ID from the identity of the state change
// itself, so a retried publish of the same change carries the same ID and
// consumer-side dedup can absorb the duplicate.
func DeterministicID(entity string, version int) string {
	return uuid.NewSHA1(idNamespace, []byte(fmt.Sprintf("%s:%d", entity, version))).String()
}
