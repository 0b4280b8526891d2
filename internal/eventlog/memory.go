package eventlog

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type offsetKey struct {
	group     string
	partition int
}

// MemoryLog is a single-process Log used in tests and local runs. It keeps
// the same semantics as the durable backends: per-partition offsets, bounded
// blocking reads and non-regressing checkpoints.
type MemoryLog struct {
	partitions  int
	pollTimeout time.Duration

	mu      sync.Mutex
	records [][]Record
	offsets map[offsetKey]int64
	notify  chan struct{}
}

func NewMemoryLog(partitions int, pollTimeout time.Duration) (*MemoryLog, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("eventlog: invalid partition count %d", partitions)
	}
	if pollTimeout <= 0 {
		pollTimeout = time.Second
	}
	return &MemoryLog{
		partitions:  partitions,
		pollTimeout: pollTimeout,
		records:     make([][]Record, partitions),
		offsets:     make(map[offsetKey]int64),
		notify:      make(chan struct{}),
	}, nil
}

func (l *MemoryLog) Partitions() int { return l.partitions }

func (l *MemoryLog) Append(ctx context.Context, partitionKey string, envelope []byte) (int, int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	p := PartitionFor(partitionKey, l.partitions)
	offset := int64(len(l.records[p]))
	l.records[p] = append(l.records[p], Record{
		Partition:  p,
		Offset:     offset,
		Envelope:   append([]byte(nil), envelope...),
		AppendedAt: time.Now().UTC(),
	})

	// Wake all blocked readers.
	close(l.notify)
	l.notify = make(chan struct{})

	return p, offset, nil
}

func (l *MemoryLog) Read(ctx context.Context, group string, partition int, fromOffset int64, maxBatch int) ([]Record, error) {
	if partition < 0 || partition >= l.partitions {
		return nil, fmt.Errorf("eventlog: partition %d out of range", partition)
	}
	if maxBatch <= 0 {
		maxBatch = 1
	}

	deadline := time.NewTimer(l.pollTimeout)
	defer deadline.Stop()

	for {
		l.mu.Lock()
		part := l.records[partition]
		notify := l.notify
		if fromOffset < int64(len(part)) {
			end := fromOffset + int64(maxBatch)
			if end > int64(len(part)) {
				end = int64(len(part))
			}
			batch := make([]Record, end-fromOffset)
			copy(batch, part[fromOffset:end])
			l.mu.Unlock()
			return batch, nil
		}
		l.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline.C:
			return nil, nil
		case <-notify:
		}
	}
}

func (l *MemoryLog) CommitOffset(ctx context.Context, group string, partition int, offset int64) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	k := offsetKey{group: group, partition: partition}
	if cur, ok := l.offsets[k]; ok && offset <= cur {
		return nil
	}
	l.offsets[k] = offset
	return nil
}

func (l *MemoryLog) CommittedOffset(ctx context.Context, group string, partition int) (int64, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	off, ok := l.offsets[offsetKey{group: group, partition: partition}]
	return off, ok, nil
}
