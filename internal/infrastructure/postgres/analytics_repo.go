package postgres

// Schema:
//
//	CREATE TABLE analytics_summary (
//	    id             int PRIMARY KEY CHECK (id = 1),
//	    orders         bigint NOT NULL DEFAULT 0,
//	    revenue        bigint NOT NULL DEFAULT 0,
//	    status_changes bigint NOT NULL DEFAULT 0
//	);
//	CREATE TABLE analytics_orders (
//	    order_id text PRIMARY KEY,
//	    applied  bigint NOT NULL DEFAULT 1
//	);

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"orderpipe/internal/consumer"
	"orderpipe/internal/domain/event"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// AnalyticsRepository is the durable analytics handler: the fold and its
// event-ID dedup record commit in one transaction, so duplicate delivery can
// never double-count even across a crash between apply and checkpoint.
type AnalyticsRepository struct {
	pool  *pgxpool.Pool
	dedup *DedupRepository
}

func NewAnalyticsRepository(pool *pgxpool.Pool) *AnalyticsRepository {
	return &AnalyticsRepository{
		pool:  pool,
		dedup: NewDedupRepository(pool, "analytics"),
	}
}

func (r *AnalyticsRepository) Apply(ctx context.Context, env event.Envelope) error {
	switch env.Type {
	case event.TypeOrderCreated, event.TypeOrderStatusChanged:
	default:
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin analytics tx: %w", err)
	}
	defer tx.Rollback(ctx)

	isNew, err := r.dedup.MarkInTx(ctx, tx, env.ID)
	if err != nil {
		return err
	}
	if !isNew {
		return tx.Commit(ctx)
	}

	switch env.Type {
	case event.TypeOrderCreated:
		var p event.OrderCreated
		if err := json.Unmarshal(env.Payload, &p); err != nil {
			return &event.SchemaError{Cause: fmt.Errorf("decode %s payload: %w", env.Type, err)}
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO analytics_summary (id, orders, revenue)
			VALUES (1, 1, $1)
			ON CONFLICT (id) DO UPDATE SET
				orders  = analytics_summary.orders + 1,
				revenue = analytics_summary.revenue + EXCLUDED.revenue
		`, p.Amount); err != nil {
			return fmt.Errorf("fold order created: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO analytics_orders (order_id, applied)
			VALUES ($1, 1)
			ON CONFLICT (order_id) DO NOTHING
		`, p.OrderID); err != nil {
			return fmt.Errorf("fold per-order count: %w", err)
		}
	case event.TypeOrderStatusChanged:
		if _, err := tx.Exec(ctx, `
			INSERT INTO analytics_summary (id, status_changes)
			VALUES (1, 1)
			ON CONFLICT (id) DO UPDATE SET
				status_changes = analytics_summary.status_changes + 1
		`); err != nil {
			return fmt.Errorf("fold status change: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit analytics tx: %w", err)
	}
	return nil
}

// OrderCount reports how many times a given order was counted. Anything
// other than 0 or 1 means dedup is broken.
func (r *AnalyticsRepository) OrderCount(ctx context.Context, orderID string) (int64, error) {
	var applied int64
	err := r.pool.QueryRow(ctx, `
		SELECT applied FROM analytics_orders WHERE order_id = $1
	`, orderID).Scan(&applied)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read order count: %w", err)
	}
	return applied, nil
}

// Summary reads the eventually-consistent aggregate snapshot.
func (r *AnalyticsRepository) Summary(ctx context.Context) (consumer.Summary, error) {
	var s consumer.Summary

	err := r.pool.QueryRow(ctx, `
		SELECT orders, revenue, status_changes FROM analytics_summary WHERE id = 1
	`).Scan(&s.Orders, &s.Revenue, &s.StatusChanges)
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		return consumer.Summary{}, fmt.Errorf("read summary: %w", err)
	}

	rows, err := r.pool.Query(ctx, `SELECT order_id, applied FROM analytics_orders`)
	if err != nil {
		return consumer.Summary{}, fmt.Errorf("read per-order counts: %w", err)
	}
	defer rows.Close()

	s.PerOrder = make(map[string]int64)
	for rows.Next() {
		var orderID string
		var applied int64
		if err := rows.Scan(&orderID, &applied); err != nil {
			return consumer.Summary{}, fmt.Errorf("scan per-order count: %w", err)
		}
		s.PerOrder[orderID] = applied
	}
	return s, rows.Err()
}
