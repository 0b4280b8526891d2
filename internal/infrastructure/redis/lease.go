package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua keeps check-and-act atomic on the server, so two workers racing for
// the same partition can never both hold it.
var (
	renewScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("pexpire", KEYS[1], ARGV[2])
		end
		return 0
	`)
	releaseScript = redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
)

// LeaseStore implements partition ownership leases on Redis via SETNX with
// expiry.
type LeaseStore struct {
	client *redis.Client
}

func NewLeaseStore(client *redis.Client) *LeaseStore {
	return &LeaseStore{client: client}
}

func leaseKey(group string, partition int) string {
	return fmt.Sprintf("lease:%s:%d", group, partition)
}

func (s *LeaseStore) Acquire(ctx context.Context, group string, partition int, owner string, ttl time.Duration) (bool, error) {
	ok, err := s.client.SetNX(ctx, leaseKey(group, partition), owner, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}
	// Re-acquiring our own live lease (e.g. after a worker restart within
	// the TTL) counts as an acquire.
	return s.renew(ctx, group, partition, owner, ttl)
}

func (s *LeaseStore) Renew(ctx context.Context, group string, partition int, owner string, ttl time.Duration) (bool, error) {
	return s.renew(ctx, group, partition, owner, ttl)
}

func (s *LeaseStore) renew(ctx context.Context, group string, partition int, owner string, ttl time.Duration) (bool, error) {
	res, err := renewScript.Run(ctx, s.client, []string{leaseKey(group, partition)}, owner, ttl.Milliseconds()).Int64()
	if err != nil {
		return false, fmt.Errorf("renew lease: %w", err)
	}
	return res == 1, nil
}

func (s *LeaseStore) Release(ctx context.Context, group string, partition int, owner string) error {
	if _, err := releaseScript.Run(ctx, s.client, []string{leaseKey(group, partition)}, owner).Result(); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}
