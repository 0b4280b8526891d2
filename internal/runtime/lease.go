package runtime

import (
	"context"
	"sync"
	"time"
)

// LeaseStore provides mutual exclusion over (group, partition) ownership.
// A partition is never owned by two workers of the same group at once;
// expiry bounds how long a dead worker can hold a partition hostage.
type LeaseStore interface {
	Acquire(ctx context.Context, group string, partition int, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, group string, partition int, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, group string, partition int, owner string) error
}

type leaseKey struct {
	group     string
	partition int
}

type leaseEntry struct {
	owner   string
	expires time.Time
}

// MemoryLeaseStore is a process-local LeaseStore for tests and single-node
// runs.
type MemoryLeaseStore struct {
	mu     sync.Mutex
	leases map[leaseKey]leaseEntry
}

func NewMemoryLeaseStore() *MemoryLeaseStore {
	return &MemoryLeaseStore{leases: make(map[leaseKey]leaseEntry)}
}

func (s *MemoryLeaseStore) Acquire(ctx context.Context, group string, partition int, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := leaseKey{group: group, partition: partition}
	if e, ok := s.leases[k]; ok && e.owner != owner && time.Now().Before(e.expires) {
		return false, nil
	}
	s.leases[k] = leaseEntry{owner: owner, expires: time.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryLeaseStore) Renew(ctx context.Context, group string, partition int, owner string, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := leaseKey{group: group, partition: partition}
	e, ok := s.leases[k]
	if !ok || e.owner != owner {
		return false, nil
	}
	s.leases[k] = leaseEntry{owner: owner, expires: time.Now().Add(ttl)}
	return true, nil
}

func (s *MemoryLeaseStore) Release(ctx context.Context, group string, partition int, owner string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := leaseKey{group: group, partition: partition}
	if e, ok := s.leases[k]; ok && e.owner == owner {
		delete(s.leases, k)
	}
	return nil
}
