package postgres

// Schema:
//
//	CREATE TABLE outbox (
//	    id            uuid PRIMARY KEY,
//	    event_type    text NOT NULL,
//	    partition_key text NOT NULL,
//	    payload       jsonb NOT NULL,
//	    status        text NOT NULL DEFAULT 'new',
//	    producer      text NOT NULL,
//	    created_at    timestamptz NOT NULL,
//	    updated_at    timestamptz NOT NULL DEFAULT now()
//	);
//	CREATE INDEX outbox_pending_idx ON outbox (created_at) WHERE status = 'new';

import (
	"context"
	"fmt"
	"time"

	"orderpipe/internal/domain/outbox"

	"github.com/jackc/pgx/v5/pgxpool"
)

type OutboxRepository struct {
	pool *pgxpool.Pool
}

func NewOutboxRepository(pool *pgxpool.Pool) *OutboxRepository {
	return &OutboxRepository{pool: pool}
}

func (r *OutboxRepository) Create(ctx context.Context, e *outbox.Event) error {
	const sql = `
		INSERT INTO outbox (id, event_type, partition_key, payload, status, producer, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`

	_, err := execFor(ctx, r.pool).Exec(ctx, sql,
		e.ID, e.EventType, e.PartitionKey, e.Payload, e.Status, e.Producer, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert outbox event: %w", err)
	}

	return nil
}

// FetchBatch claims pending events in creation order so the relay publishes
// them in the order their state changes committed. SKIP LOCKED keeps two
// relays from claiming the same rows.
func (r *OutboxRepository) FetchBatch(ctx context.Context, limit int) ([]*outbox.Event, error) {
	const sql = `
		WITH claimed_events AS (
			SELECT id
			FROM outbox
			WHERE status = 'new'
			ORDER BY created_at ASC
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		UPDATE outbox
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (SELECT id FROM claimed_events)
		RETURNING id, event_type, partition_key, payload, status, producer, created_at, updated_at
	`

	rows, err := r.pool.Query(ctx, sql, limit)
	if err != nil {
		return nil, fmt.Errorf("claim outbox batch: %w", err)
	}
	defer rows.Close()

	var events []*outbox.Event
	for rows.Next() {
		e := &outbox.Event{}
		if err := rows.Scan(&e.ID, &e.EventType, &e.PartitionKey, &e.Payload, &e.Status, &e.Producer, &e.CreatedAt, &e.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("read outbox batch: %w", err)
	}

	return events, nil
}

func (r *OutboxRepository) MarkPublished(ctx context.Context, ids []string) error {
	const sql = `
		UPDATE outbox
		SET status = 'published', updated_at = NOW()
		WHERE id = ANY($1)
	`
	if _, err := r.pool.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("mark published: %w", err)
	}
	return nil
}

func (r *OutboxRepository) MarkFailed(ctx context.Context, ids []string) error {
	const sql = `
		UPDATE outbox
		SET status = 'new', updated_at = NOW()
		WHERE id = ANY($1)
	`
	if _, err := r.pool.Exec(ctx, sql, ids); err != nil {
		return fmt.Errorf("mark failed: %w", err)
	}
	return nil
}

func (r *OutboxRepository) StatusCounts(ctx context.Context) (map[string]int64, error) {
	const sql = `SELECT status, COUNT(*) FROM outbox GROUP BY status`

	rows, err := r.pool.Query(ctx, sql)
	if err != nil {
		return nil, fmt.Errorf("count outbox statuses: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan status count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

// ResetStuck returns rows claimed by a relay that died mid-publish back to
// pending, so they are retried instead of sitting in 'processing' forever.
func (r *OutboxRepository) ResetStuck(ctx context.Context, olderThan time.Duration) (int64, error) {
	const sql = `
		UPDATE outbox
		SET status = 'new', updated_at = NOW()
		WHERE status = 'processing' AND updated_at < $1
	`
	tag, err := r.pool.Exec(ctx, sql, time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("reset stuck outbox events: %w", err)
	}
	return tag.RowsAffected(), nil
}
