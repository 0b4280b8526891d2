package eventlog

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppendAssignsStablePartition(t *testing.T) {
	log, err := NewMemoryLog(4, 50*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	p1, _, err := log.Append(ctx, "order-42", []byte("a"))
	require.NoError(t, err)
	p2, _, err := log.Append(ctx, "order-42", []byte("b"))
	require.NoError(t, err)

	assert.Equal(t, p1, p2, "same key must land on the same partition")
	assert.Equal(t, PartitionFor("order-42", 4), p1)
}

func TestReadStrictlyIncreasingOffsets(t *testing.T) {
	log, err := NewMemoryLog(1, 50*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		_, off, err := log.Append(ctx, "k", []byte(fmt.Sprintf("e%d", i)))
		require.NoError(t, err)
		assert.Equal(t, int64(i), off)
	}

	records, err := log.Read(ctx, "g", 0, 0, 100)
	require.NoError(t, err)
	require.Len(t, records, 10)
	for i, rec := range records {
		assert.Equal(t, int64(i), rec.Offset)
		assert.Equal(t, []byte(fmt.Sprintf("e%d", i)), rec.Envelope)
	}
}

func TestReadBoundedByMaxBatch(t *testing.T) {
	log, err := NewMemoryLog(1, 50*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, _, err := log.Append(ctx, "k", []byte("x"))
		require.NoError(t, err)
	}

	records, err := log.Read(ctx, "g", 0, 1, 2)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, int64(1), records[0].Offset)
	assert.Equal(t, int64(2), records[1].Offset)
}

func TestReadBlocksUntilTimeoutWhenEmpty(t *testing.T) {
	log, err := NewMemoryLog(1, 80*time.Millisecond)
	require.NoError(t, err)

	start := time.Now()
	records, err := log.Read(context.Background(), "g", 0, 0, 10)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.GreaterOrEqual(t, time.Since(start), 80*time.Millisecond)
}

func TestReadWakesOnAppend(t *testing.T) {
	log, err := NewMemoryLog(1, 5*time.Second)
	require.NoError(t, err)
	ctx := context.Background()

	done := make(chan []Record, 1)
	go func() {
		records, err := log.Read(ctx, "g", 0, 0, 10)
		if err == nil {
			done <- records
		}
	}()

	time.Sleep(20 * time.Millisecond)
	_, _, err = log.Append(ctx, "k", []byte("wake"))
	require.NoError(t, err)

	select {
	case records := <-done:
		require.Len(t, records, 1)
		assert.Equal(t, []byte("wake"), records[0].Envelope)
	case <-time.After(time.Second):
		t.Fatal("reader was not woken by append")
	}
}

func TestCommitOffsetNeverRegresses(t *testing.T) {
	log, err := NewMemoryLog(1, 50*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, log.CommitOffset(ctx, "g", 0, 7))
	require.NoError(t, log.CommitOffset(ctx, "g", 0, 3))

	off, ok, err := log.CommittedOffset(ctx, "g", 0)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), off)
}

func TestCommittedOffsetIndependentPerGroup(t *testing.T) {
	log, err := NewMemoryLog(1, 50*time.Millisecond)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, log.CommitOffset(ctx, "notifications", 0, 4))

	_, ok, err := log.CommittedOffset(ctx, "analytics", 0)
	require.NoError(t, err)
	assert.False(t, ok, "a fresh group must start with no checkpoint")
}

func TestInvalidPartitionCount(t *testing.T) {
	_, err := NewMemoryLog(0, time.Second)
	assert.Error(t, err)
}
