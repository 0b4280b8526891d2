package postgres

// Schema:
//
//	CREATE TABLE log_meta (
//	    id         int PRIMARY KEY CHECK (id = 1),
//	    partitions int NOT NULL
//	);
//	CREATE TABLE log_partition_heads (
//	    partition int PRIMARY KEY,
//	    head      bigint NOT NULL
//	);
//	CREATE TABLE log_records (
//	    partition     int NOT NULL,
//	    record_offset bigint NOT NULL,
//	    envelope      bytea NOT NULL,
//	    appended_at   timestamptz NOT NULL DEFAULT now(),
//	    PRIMARY KEY (partition, record_offset)
//	);
//	CREATE TABLE consumer_offsets (
//	    group_id  text NOT NULL,
//	    partition int NOT NULL,
//	    committed bigint NOT NULL,
//	    PRIMARY KEY (group_id, partition)
//	);

import (
	"context"
	"errors"
	"fmt"
	"time"

	"orderpipe/internal/eventlog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const readPollInterval = 200 * time.Millisecond

// EventLog is the durable Postgres backend of eventlog.Log. Offsets are
// assigned per partition inside the append transaction, so they are gapless
// and strictly increasing.
type EventLog struct {
	pool        *pgxpool.Pool
	partitions  int
	pollTimeout time.Duration
}

// NewEventLog validates the configured partition count against the one the
// log was created with. A mismatch would silently break per-key ordering, so
// it aborts startup instead.
func NewEventLog(ctx context.Context, pool *pgxpool.Pool, partitions int, pollTimeout time.Duration) (*EventLog, error) {
	if partitions <= 0 {
		return nil, fmt.Errorf("eventlog: invalid partition count %d", partitions)
	}
	if pollTimeout <= 0 {
		pollTimeout = 2 * time.Second
	}

	if _, err := pool.Exec(ctx,
		`INSERT INTO log_meta (id, partitions) VALUES (1, $1) ON CONFLICT (id) DO NOTHING`,
		partitions); err != nil {
		return nil, fmt.Errorf("init log meta: %w", err)
	}
	var stored int
	if err := pool.QueryRow(ctx, `SELECT partitions FROM log_meta WHERE id = 1`).Scan(&stored); err != nil {
		return nil, fmt.Errorf("read log meta: %w", err)
	}
	if stored != partitions {
		return nil, fmt.Errorf("eventlog: configured %d partitions but log was created with %d", partitions, stored)
	}

	return &EventLog{pool: pool, partitions: partitions, pollTimeout: pollTimeout}, nil
}

func (l *EventLog) Partitions() int { return l.partitions }

func (l *EventLog) Append(ctx context.Context, partitionKey string, envelope []byte) (int, int64, error) {
	p := eventlog.PartitionFor(partitionKey, l.partitions)

	tx, err := l.pool.Begin(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: begin append: %v", eventlog.ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	var offset int64
	err = tx.QueryRow(ctx, `
		INSERT INTO log_partition_heads (partition, head)
		VALUES ($1, 0)
		ON CONFLICT (partition) DO UPDATE SET head = log_partition_heads.head + 1
		RETURNING head
	`, p).Scan(&offset)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: assign offset: %v", eventlog.ErrUnavailable, err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO log_records (partition, record_offset, envelope, appended_at)
		VALUES ($1, $2, $3, NOW())
	`, p, offset, envelope); err != nil {
		return 0, 0, fmt.Errorf("%w: insert record: %v", eventlog.ErrUnavailable, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, 0, fmt.Errorf("%w: commit append: %v", eventlog.ErrUnavailable, err)
	}

	return p, offset, nil
}

func (l *EventLog) Read(ctx context.Context, group string, partition int, fromOffset int64, maxBatch int) ([]eventlog.Record, error) {
	if partition < 0 || partition >= l.partitions {
		return nil, fmt.Errorf("eventlog: partition %d out of range", partition)
	}
	if maxBatch <= 0 {
		maxBatch = 1
	}

	deadline := time.Now().Add(l.pollTimeout)
	for {
		records, err := l.readBatch(ctx, partition, fromOffset, maxBatch)
		if err != nil {
			return nil, err
		}
		if len(records) > 0 || time.Now().After(deadline) {
			return records, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(readPollInterval):
		}
	}
}

func (l *EventLog) readBatch(ctx context.Context, partition int, fromOffset int64, maxBatch int) ([]eventlog.Record, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT partition, record_offset, envelope, appended_at
		FROM log_records
		WHERE partition = $1 AND record_offset >= $2
		ORDER BY record_offset ASC
		LIMIT $3
	`, partition, fromOffset, maxBatch)
	if err != nil {
		return nil, fmt.Errorf("%w: read records: %v", eventlog.ErrUnavailable, err)
	}
	defer rows.Close()

	var records []eventlog.Record
	for rows.Next() {
		var rec eventlog.Record
		if err := rows.Scan(&rec.Partition, &rec.Offset, &rec.Envelope, &rec.AppendedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: read records: %v", eventlog.ErrUnavailable, err)
	}
	return records, nil
}

func (l *EventLog) CommitOffset(ctx context.Context, group string, partition int, offset int64) error {
	// GREATEST keeps the checkpoint monotonic: a stale commit is a no-op.
	_, err := l.pool.Exec(ctx, `
		INSERT INTO consumer_offsets (group_id, partition, committed)
		VALUES ($1, $2, $3)
		ON CONFLICT (group_id, partition)
		DO UPDATE SET committed = GREATEST(consumer_offsets.committed, EXCLUDED.committed)
	`, group, partition, offset)
	if err != nil {
		return fmt.Errorf("%w: commit offset: %v", eventlog.ErrUnavailable, err)
	}
	return nil
}

func (l *EventLog) CommittedOffset(ctx context.Context, group string, partition int) (int64, bool, error) {
	var committed int64
	err := l.pool.QueryRow(ctx, `
		SELECT committed FROM consumer_offsets WHERE group_id = $1 AND partition = $2
	`, group, partition).Scan(&committed)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("%w: read offset: %v", eventlog.ErrUnavailable, err)
	}
	return committed, true, nil
}

// PurgeBefore enforces time-based retention. Checkpoints and dedup records
// must outlive this window.
func (l *EventLog) PurgeBefore(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := l.pool.Exec(ctx,
		`DELETE FROM log_records WHERE appended_at < $1`,
		time.Now().Add(-olderThan))
	if err != nil {
		return 0, fmt.Errorf("purge log records: %w", err)
	}
	return tag.RowsAffected(), nil
}
