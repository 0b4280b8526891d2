package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// DedupStore records applied event IDs in Redis. Entries expire with a TTL
// that must cover the log retention window, so any replayable record still
// has its dedup marker.
type DedupStore struct {
	client   *redis.Client
	consumer string
	ttl      time.Duration
}

func NewDedupStore(client *redis.Client, consumer string, ttl time.Duration) *DedupStore {
	if ttl <= 0 {
		ttl = 7 * 24 * time.Hour
	}
	return &DedupStore{client: client, consumer: consumer, ttl: ttl}
}

func (s *DedupStore) key(eventID string) string {
	return fmt.Sprintf("dedup:%s:%s", s.consumer, eventID)
}

func (s *DedupStore) Seen(ctx context.Context, eventID string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(eventID)).Result()
	if err != nil {
		return false, fmt.Errorf("dedup exists: %w", err)
	}
	return n > 0, nil
}

func (s *DedupStore) Mark(ctx context.Context, eventID string) error {
	if err := s.client.Set(ctx, s.key(eventID), "1", s.ttl).Err(); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}
