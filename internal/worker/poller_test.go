package worker

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"orderpipe/internal/domain/event"
	"orderpipe/internal/domain/outbox"
	"orderpipe/internal/eventlog"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeOutboxRepo struct {
	mu              sync.Mutex
	events          []*outbox.Event
	failMarks       int
	publishedIDs    []string
	markFailedCalls int
}

func (r *fakeOutboxRepo) Create(ctx context.Context, e *outbox.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *fakeOutboxRepo) FetchBatch(ctx context.Context, limit int) ([]*outbox.Event, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var batch []*outbox.Event
	for _, e := range r.events {
		if e.Status == outbox.StatusNew {
			e.Status = outbox.StatusProcessing
			batch = append(batch, e)
			if len(batch) == limit {
				break
			}
		}
	}
	return batch, nil
}

func (r *fakeOutboxRepo) MarkPublished(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failMarks > 0 {
		r.failMarks--
		// Simulate a crash after append but before confirmation: the rows
		// fall back to pending for the next relay pass.
		for _, e := range r.events {
			if e.Status == outbox.StatusProcessing {
				e.Status = outbox.StatusNew
			}
		}
		return errors.New("connection reset")
	}
	for _, id := range ids {
		for _, e := range r.events {
			if e.ID == id {
				e.Status = outbox.StatusPublished
			}
		}
		r.publishedIDs = append(r.publishedIDs, id)
	}
	return nil
}

func (r *fakeOutboxRepo) MarkFailed(ctx context.Context, ids []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.markFailedCalls++
	for _, id := range ids {
		for _, e := range r.events {
			if e.ID == id {
				e.Status = outbox.StatusNew
			}
		}
	}
	return nil
}

func (r *fakeOutboxRepo) StatusCounts(ctx context.Context) (map[string]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[string]int64)
	for _, e := range r.events {
		counts[e.Status]++
	}
	return counts, nil
}

func (r *fakeOutboxRepo) ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	return 0, nil
}

func pendingEvent(t *testing.T, orderID string, version int) *outbox.Event {
	t.Helper()
	payload, err := json.Marshal(event.OrderCreated{
		OrderID: orderID, UserID: "u-1", Item: "book", Amount: 2, CreatedAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	return &outbox.Event{
		ID:           event.DeterministicID("order:"+orderID, version),
		EventType:    event.TypeOrderCreated,
		PartitionKey: orderID,
		Payload:      payload,
		Status:       outbox.StatusNew,
		Producer:     "order-service",
		CreatedAt:    time.Now().UTC(),
	}
}

func testPoller(repo outbox.Repository, log eventlog.Log) *OutboxPoller {
	return NewOutboxPoller(repo, log, Config{
		Interval:    10 * time.Millisecond,
		BatchSize:   8,
		MaxAttempts: 3,
		Backoff:     time.Millisecond,
	})
}

func readAll(t *testing.T, log eventlog.Log) []event.Envelope {
	t.Helper()
	var envs []event.Envelope
	for p := 0; p < log.Partitions(); p++ {
		records, err := log.Read(context.Background(), "test", p, 0, 1000)
		require.NoError(t, err)
		for _, rec := range records {
			env, err := event.Decode(rec.Envelope)
			require.NoError(t, err)
			envs = append(envs, env)
		}
	}
	return envs
}

func TestRelayPublishesPendingEvents(t *testing.T) {
	log, err := eventlog.NewMemoryLog(2, 10*time.Millisecond)
	require.NoError(t, err)
	repo := &fakeOutboxRepo{}
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingEvent(t, "1", 1)))
	require.NoError(t, repo.Create(ctx, pendingEvent(t, "2", 1)))

	p := testPoller(repo, log)
	require.NoError(t, p.ProcessBatch(ctx))

	envs := readAll(t, log)
	require.Len(t, envs, 2)

	counts, err := repo.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), counts[outbox.StatusPublished])
}

func TestRelayRepublishesAfterCrashWithSameEventID(t *testing.T) {
	// State change committed, relay appended, then the process died before
	// the row was confirmed published. The restart must republish (never
	// zero events), and the duplicate carries the same event ID.
	log, err := eventlog.NewMemoryLog(1, 10*time.Millisecond)
	require.NoError(t, err)
	repo := &fakeOutboxRepo{failMarks: 1}
	ctx := context.Background()

	e := pendingEvent(t, "42", 1)
	require.NoError(t, repo.Create(ctx, e))

	p := testPoller(repo, log)
	require.Error(t, p.ProcessBatch(ctx), "first pass dies confirming the publish")
	require.NoError(t, p.ProcessBatch(ctx), "restarted relay retries the pending row")

	envs := readAll(t, log)
	require.Len(t, envs, 2, "at-least-once allows one duplicate publish")
	assert.Equal(t, e.ID, envs[0].ID)
	assert.Equal(t, e.ID, envs[1].ID, "retried publish must reuse the deterministic event ID")

	counts, err := repo.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[outbox.StatusPublished])
}

type unavailableLog struct {
	*eventlog.MemoryLog
	mu       sync.Mutex
	failures int
}

func (l *unavailableLog) Append(ctx context.Context, key string, envelope []byte) (int, int64, error) {
	l.mu.Lock()
	if l.failures > 0 {
		l.failures--
		l.mu.Unlock()
		return 0, 0, eventlog.ErrUnavailable
	}
	l.mu.Unlock()
	return l.MemoryLog.Append(ctx, key, envelope)
}

func TestRelayRetriesUnavailableLog(t *testing.T) {
	mem, err := eventlog.NewMemoryLog(1, 10*time.Millisecond)
	require.NoError(t, err)
	log := &unavailableLog{MemoryLog: mem, failures: 2}
	repo := &fakeOutboxRepo{}
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingEvent(t, "42", 1)))

	p := testPoller(repo, log)
	require.NoError(t, p.ProcessBatch(ctx))

	require.Len(t, readAll(t, mem), 1)
}

func TestRelayMarksFailedAfterRetryBudget(t *testing.T) {
	mem, err := eventlog.NewMemoryLog(1, 10*time.Millisecond)
	require.NoError(t, err)
	log := &unavailableLog{MemoryLog: mem, failures: 100}
	repo := &fakeOutboxRepo{}
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, pendingEvent(t, "42", 1)))

	p := testPoller(repo, log)
	require.NoError(t, p.ProcessBatch(ctx))

	counts, err := repo.StatusCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), counts[outbox.StatusNew], "exhausted publish returns the row to pending")
	assert.Equal(t, 1, repo.markFailedCalls)
}

func TestRelayPreservesCreationOrderPerKey(t *testing.T) {
	log, err := eventlog.NewMemoryLog(4, 10*time.Millisecond)
	require.NoError(t, err)
	repo := &fakeOutboxRepo{}
	ctx := context.Background()

	var wantIDs []string
	for v := 1; v <= 5; v++ {
		e := pendingEvent(t, "42", v)
		wantIDs = append(wantIDs, e.ID)
		require.NoError(t, repo.Create(ctx, e))
	}

	p := testPoller(repo, log)
	require.NoError(t, p.ProcessBatch(ctx))

	partition := eventlog.PartitionFor("42", 4)
	records, err := log.Read(ctx, "test", partition, 0, 100)
	require.NoError(t, err)
	require.Len(t, records, 5, "one key maps to one partition")

	var gotIDs []string
	offsets := make([]int64, 0, len(records))
	for _, rec := range records {
		env, err := event.Decode(rec.Envelope)
		require.NoError(t, err)
		gotIDs = append(gotIDs, env.ID)
		offsets = append(offsets, rec.Offset)
	}
	assert.Equal(t, wantIDs, gotIDs)
	assert.True(t, sort.SliceIsSorted(offsets, func(i, j int) bool { return offsets[i] < offsets[j] }))
}
