package outbox

import (
	"context"
	"time"
)

const (
	StatusNew        = "new"
	StatusProcessing = "processing"
	StatusPublished  = "published"
)

// Event is a pending publish committed in the same transaction as the state
// change it describes. ID is the deterministic event ID, so a replayed
// publish after a crash carries the same idempotency key.
type Event struct {
	ID           string    `json:"id"`
	EventType    string    `json:"event_type"`
	PartitionKey string    `json:"partition_key"`
	Payload      []byte    `json:"payload"`
	Status       string    `json:"status"`
	Producer     string    `json:"producer"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type Repository interface {
	Create(ctx context.Context, event *Event) error
	// FetchBatch claims up to limit pending events in creation order.
	FetchBatch(ctx context.Context, limit int) ([]*Event, error)
	MarkPublished(ctx context.Context, ids []string) error
	// MarkFailed returns events to the pending state for a later attempt.
	MarkFailed(ctx context.Context, ids []string) error
	StatusCounts(ctx context.Context) (map[string]int64, error)
	// ResetStuck returns events stuck in processing longer than olderThan
	// back to pending. Used by the maintenance CLI after a relay crash.
	ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error)
}
