// Package worker contains the outbox relay: the producer-side half of the
// pipeline that turns committed state changes into durable log appends.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"orderpipe/internal/domain/event"
	"orderpipe/internal/domain/outbox"
	"orderpipe/internal/eventlog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	eventsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_outbox_events_published_total",
		Help: "The total number of events published to the log",
	})
	publishErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "worker_outbox_publish_errors_total",
		Help: "The total number of failed publish attempts",
	})
)

type Config struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	Backoff     time.Duration
}

func (c Config) withDefaults() Config {
	if c.Interval <= 0 {
		c.Interval = 2 * time.Second
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 32
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.Backoff <= 0 {
		c.Backoff = 500 * time.Millisecond
	}
	return c
}

// OutboxPoller relays pending outbox rows to the event log in creation
// order. It runs as a single periodic task per producing process; claimed
// rows that fail to publish return to pending, so a crash anywhere in the
// cycle loses nothing and duplicates at most once per event.
type OutboxPoller struct {
	outboxRepo outbox.Repository
	log        eventlog.Log
	cfg        Config
}

func NewOutboxPoller(outboxRepo outbox.Repository, log eventlog.Log, cfg Config) *OutboxPoller {
	return &OutboxPoller{
		outboxRepo: outboxRepo,
		log:        log,
		cfg:        cfg.withDefaults(),
	}
}

func (p *OutboxPoller) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	slog.Info("outbox relay started", "interval", p.cfg.Interval, "batch_size", p.cfg.BatchSize)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := p.ProcessBatch(ctx); err != nil {
				slog.Error("failed to process outbox batch", "error", err)
			}
		}
	}
}

// ProcessBatch claims and relays one batch. Exported so tests and the
// maintenance CLI can drive a single cycle.
func (p *OutboxPoller) ProcessBatch(ctx context.Context) error {
	events, err := p.outboxRepo.FetchBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		return fmt.Errorf("fetch outbox batch: %w", err)
	}
	if len(events) == 0 {
		return nil
	}

	var publishedIDs []string
	var failedIDs []string

	for _, e := range events {
		if err := p.publish(ctx, e); err != nil {
			slog.Error("failed to publish event", "event_id", e.ID, "type", e.EventType, "error", err)
			publishErrors.Inc()
			failedIDs = append(failedIDs, e.ID)
			continue
		}
		eventsPublished.Inc()
		publishedIDs = append(publishedIDs, e.ID)
	}

	if len(publishedIDs) > 0 {
		if err := p.outboxRepo.MarkPublished(ctx, publishedIDs); err != nil {
			// The appends are durable; rows stay claimed and a later mark or
			// stuck-reset republishes them with the same event IDs, which
			// consumer dedup absorbs.
			return fmt.Errorf("mark published: %w", err)
		}
		slog.Info("outbox batch published", "count", len(publishedIDs))
	}

	if len(failedIDs) > 0 {
		if err := p.outboxRepo.MarkFailed(ctx, failedIDs); err != nil {
			slog.Error("failed to mark events for retry", "error", err)
		}
	}

	return nil
}

func (p *OutboxPoller) publish(ctx context.Context, e *outbox.Event) error {
	env := event.Envelope{
		ID:            e.ID,
		Type:          e.EventType,
		SchemaVersion: event.SchemaVersionCurrent,
		PartitionKey:  e.PartitionKey,
		Producer:      e.Producer,
		OccurredAt:    e.CreatedAt,
		Payload:       e.Payload,
	}
	data, err := event.Encode(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	for attempt := 0; ; attempt++ {
		appendCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		_, _, err = p.log.Append(appendCtx, e.PartitionKey, data)
		cancel()
		if err == nil {
			return nil
		}
		if !errors.Is(err, eventlog.ErrUnavailable) || attempt >= p.cfg.MaxAttempts-1 {
			return err
		}

		backoff := p.cfg.Backoff << uint(attempt)
		slog.Warn("log unavailable, retrying append",
			"event_id", e.ID, "attempt", attempt+1, "backoff", backoff)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}
