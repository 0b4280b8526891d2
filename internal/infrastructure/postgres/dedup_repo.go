package postgres

// Schema:
//
//	CREATE TABLE processed_events (
//	    consumer     text NOT NULL,
//	    event_id     uuid NOT NULL,
//	    processed_at timestamptz NOT NULL DEFAULT now(),
//	    PRIMARY KEY (consumer, event_id)
//	);

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// DedupRepository persists applied event IDs per consumer, making redelivery
// a no-op across process restarts.
type DedupRepository struct {
	pool     *pgxpool.Pool
	consumer string
}

func NewDedupRepository(pool *pgxpool.Pool, consumer string) *DedupRepository {
	return &DedupRepository{pool: pool, consumer: consumer}
}

func (r *DedupRepository) Seen(ctx context.Context, eventID string) (bool, error) {
	const sql = `SELECT EXISTS (SELECT 1 FROM processed_events WHERE consumer = $1 AND event_id = $2)`

	var seen bool
	if err := r.pool.QueryRow(ctx, sql, r.consumer, eventID).Scan(&seen); err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return seen, nil
}

func (r *DedupRepository) Mark(ctx context.Context, eventID string) error {
	const sql = `
		INSERT INTO processed_events (consumer, event_id, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer, event_id) DO NOTHING
	`
	if _, err := r.pool.Exec(ctx, sql, r.consumer, eventID); err != nil {
		return fmt.Errorf("dedup mark: %w", err)
	}
	return nil
}

// MarkInTx records the event ID inside the caller's transaction, returning
// true if the event is new. Handlers that mutate Postgres state use this so
// the dedup record commits atomically with the side effect.
func (r *DedupRepository) MarkInTx(ctx context.Context, tx pgx.Tx, eventID string) (bool, error) {
	const sql = `
		INSERT INTO processed_events (consumer, event_id, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (consumer, event_id) DO NOTHING
	`
	tag, err := tx.Exec(ctx, sql, r.consumer, eventID)
	if err != nil {
		return false, fmt.Errorf("dedup mark in tx: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}
