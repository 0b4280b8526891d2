package runtime

import (
	"context"
	"sync"
	"time"
)

// DeadLetter is a record that exhausted its retry budget or could not be
// decoded. The checkpoint still advances past it, so one poison record never
// stalls a partition.
type DeadLetter struct {
	Group     string    `json:"group"`
	Partition int       `json:"partition"`
	Offset    int64     `json:"offset"`
	Envelope  []byte    `json:"envelope"`
	Reason    string    `json:"reason"`
	At        time.Time `json:"at"`
}

// DLQSink is the operator-visible side channel for dead letters.
type DLQSink interface {
	Push(ctx context.Context, dl DeadLetter) error
}

// MemoryDLQSink collects dead letters in memory. Used in tests and as the
// fallback when no broker sink is configured.
type MemoryDLQSink struct {
	mu      sync.Mutex
	entries []DeadLetter
}

func NewMemoryDLQSink() *MemoryDLQSink {
	return &MemoryDLQSink{}
}

func (s *MemoryDLQSink) Push(ctx context.Context, dl DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, dl)
	return nil
}

func (s *MemoryDLQSink) Entries() []DeadLetter {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]DeadLetter, len(s.entries))
	copy(out, s.entries)
	return out
}
