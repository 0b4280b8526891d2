// Package eventlog defines the durable, partitioned, append-only log that
// connects the outbox relay to the consumer groups. Offsets are assigned by
// the log on append and are the authoritative order within a partition.
package eventlog

import (
	"context"
	"errors"
	"hash/fnv"
	"time"
)

// ErrUnavailable marks transient backend failures. Callers retry with
// backoff; it never means data loss.
var ErrUnavailable = errors.New("eventlog: unavailable")

// Record is one appended entry. Immutable once written; purged only by
// retention, never by consumer action.
type Record struct {
	Partition  int
	Offset     int64
	Envelope   []byte
	AppendedAt time.Time
}

// Log is the shared contract between producers and consumer groups.
type Log interface {
	// Append writes the envelope to the partition selected by partitionKey
	// and returns the assigned position. It returns only after a durable
	// commit, or ErrUnavailable on transient failure.
	Append(ctx context.Context, partitionKey string, envelope []byte) (partition int, offset int64, err error)

	// Read returns up to maxBatch records of one partition starting at
	// fromOffset, in strictly increasing offset order. When no new records
	// exist it blocks up to the backend's poll timeout, then returns an
	// empty batch.
	Read(ctx context.Context, group string, partition int, fromOffset int64, maxBatch int) ([]Record, error)

	// CommitOffset durably advances the group's checkpoint. Idempotent:
	// committing the same or an earlier offset is a no-op, never a regress.
	CommitOffset(ctx context.Context, group string, partition int, offset int64) error

	// CommittedOffset reports the last committed offset for the group, and
	// whether any commit exists.
	CommittedOffset(ctx context.Context, group string, partition int) (int64, bool, error)

	// Partitions reports the fixed partition count of this log.
	Partitions() int
}

// PartitionFor maps a key onto a partition. Stable for a given key and
// partition count, so one key's records always share a partition.
func PartitionFor(key string, partitions int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(partitions))
}
