package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testClient(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return mr, client
}

func TestLeaseAcquireExcludesOtherOwner(t *testing.T) {
	_, client := testClient(t)
	s := NewLeaseStore(client)
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "g", 0, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Acquire(ctx, "g", 0, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLeaseReacquireByOwner(t *testing.T) {
	_, client := testClient(t)
	s := NewLeaseStore(client)
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "g", 0, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Acquire(ctx, "g", 0, "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "the holder may re-acquire its own live lease")
}

func TestLeaseRenewOnlyByOwner(t *testing.T) {
	_, client := testClient(t)
	s := NewLeaseStore(client)
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "g", 1, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	ok, err = s.Renew(ctx, "g", 1, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = s.Renew(ctx, "g", 1, "owner-a", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLeaseExpiryFreesPartition(t *testing.T) {
	mr, client := testClient(t)
	s := NewLeaseStore(client)
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "g", 0, "owner-a", 100*time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	mr.FastForward(200 * time.Millisecond)

	ok, err = s.Acquire(ctx, "g", 0, "owner-b", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok, "expired lease must be claimable")
}

func TestLeaseReleaseIgnoresNonOwner(t *testing.T) {
	_, client := testClient(t)
	s := NewLeaseStore(client)
	ctx := context.Background()

	ok, err := s.Acquire(ctx, "g", 0, "owner-a", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, s.Release(ctx, "g", 0, "owner-b"))

	ok, err = s.Acquire(ctx, "g", 0, "owner-c", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok, "a non-owner release must not free the lease")

	require.NoError(t, s.Release(ctx, "g", 0, "owner-a"))

	ok, err = s.Acquire(ctx, "g", 0, "owner-c", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestDedupStoreMarkAndSeen(t *testing.T) {
	_, client := testClient(t)
	s := NewDedupStore(client, "notifications", time.Hour)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, seen)

	require.NoError(t, s.Mark(ctx, "e-1"))

	seen, err = s.Seen(ctx, "e-1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestDedupStoreScopedPerConsumer(t *testing.T) {
	_, client := testClient(t)
	notifications := NewDedupStore(client, "notifications", time.Hour)
	analytics := NewDedupStore(client, "analytics", time.Hour)
	ctx := context.Background()

	require.NoError(t, notifications.Mark(ctx, "e-1"))

	seen, err := analytics.Seen(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, seen, "dedup records are owned per consumer group")
}

func TestDedupStoreEntriesExpireWithRetention(t *testing.T) {
	mr, client := testClient(t)
	s := NewDedupStore(client, "notifications", time.Minute)
	ctx := context.Background()

	require.NoError(t, s.Mark(ctx, "e-1"))
	mr.FastForward(2 * time.Minute)

	seen, err := s.Seen(ctx, "e-1")
	require.NoError(t, err)
	assert.False(t, seen)
}
