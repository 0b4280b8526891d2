package postgres

// Schema:
//
//	CREATE TABLE orders (
//	    id         uuid PRIMARY KEY,
//	    user_id    text NOT NULL,
//	    item       text NOT NULL,
//	    amount     bigint NOT NULL,
//	    status     text NOT NULL,
//	    version    int NOT NULL DEFAULT 1,
//	    created_at timestamptz NOT NULL,
//	    updated_at timestamptz NOT NULL
//	);

import (
	"context"
	"errors"
	"fmt"

	"orderpipe/internal/domain/order"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrOrderNotFound = errors.New("order not found")

type OrderRepository struct {
	pool *pgxpool.Pool
}

func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	const sql = `
		INSERT INTO orders (id, user_id, item, amount, status, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := execFor(ctx, r.pool).Exec(ctx, sql,
		o.ID, o.UserID, o.Item, o.Amount, o.Status, o.Version, o.CreatedAt, o.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert order: %w", err)
	}

	return nil
}

// UpdateStatus transitions the order and bumps its version, returning the
// previous status and the new version for the status-changed event.
func (r *OrderRepository) UpdateStatus(ctx context.Context, id string, status string) (oldStatus string, version int, err error) {
	const sql = `
		UPDATE orders o
		SET status = $2, version = o.version + 1, updated_at = NOW()
		FROM (SELECT status AS old_status FROM orders WHERE id = $1 FOR UPDATE) prev
		WHERE o.id = $1
		RETURNING prev.old_status, o.version
	`

	err = execFor(ctx, r.pool).QueryRow(ctx, sql, id, status).Scan(&oldStatus, &version)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", 0, ErrOrderNotFound
		}
		return "", 0, fmt.Errorf("update order status: %w", err)
	}

	return oldStatus, version, nil
}

func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	const sql = `
		SELECT id, user_id, item, amount, status, version, created_at, updated_at
		FROM orders
		WHERE id = $1
	`

	var o order.Order
	err := r.pool.QueryRow(ctx, sql, id).Scan(
		&o.ID, &o.UserID, &o.Item, &o.Amount, &o.Status, &o.Version,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("get order by id: %w", err)
	}

	return &o, nil
}
