// Package runtime drives consumer groups over the event log: one worker per
// partition, lease-based ownership, ordered delivery, bounded retry and a
// dead-letter side channel.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"orderpipe/internal/consumer"
	"orderpipe/internal/domain/event"
	"orderpipe/internal/eventlog"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	recordsApplied = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtime_records_applied_total",
		Help: "The total number of records successfully applied",
	}, []string{"group"})
	recordsDeadLettered = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtime_records_dead_lettered_total",
		Help: "The total number of records routed to the dead-letter sink",
	}, []string{"group"})
	applyRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "runtime_apply_retries_total",
		Help: "The total number of handler apply retries",
	}, []string{"group"})
	applyDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runtime_apply_duration_seconds",
		Help:    "Time taken to apply one record",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	}, []string{"group"})
	partitionState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "runtime_partition_state",
		Help: "Current worker state per partition (see state constants)",
	}, []string{"group", "partition"})
)

// State of one (group, partition) worker.
type State int

const (
	StateIdle State = iota
	StateFetching
	StateApplying
	StateCommitting
	StateRetrying
	StateDeadLetter
)

// GroupConfig is the per-group delivery policy. Zero values take defaults;
// the retry-then-skip vs retry-forever choice is RetryForever.
type GroupConfig struct {
	Group        string
	Handler      consumer.Handler
	MaxRetries   int
	RetryForever bool
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	ApplyTimeout time.Duration
	FetchBatch   int
	LeaseTTL     time.Duration
	DrainGrace   time.Duration
}

func (c GroupConfig) withDefaults() GroupConfig {
	if c.MaxRetries <= 0 && !c.RetryForever {
		c.MaxRetries = 5
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 30 * time.Second
	}
	if c.ApplyTimeout <= 0 {
		c.ApplyTimeout = 30 * time.Second
	}
	if c.FetchBatch <= 0 {
		c.FetchBatch = 32
	}
	if c.LeaseTTL <= 0 {
		c.LeaseTTL = 30 * time.Second
	}
	if c.DrainGrace <= 0 {
		c.DrainGrace = 10 * time.Second
	}
	return c
}

// Runtime runs one consumer group against the log.
type Runtime struct {
	log    eventlog.Log
	leases LeaseStore
	dlq    DLQSink
	cfg    GroupConfig
	owner  string
}

func New(log eventlog.Log, leases LeaseStore, dlq DLQSink, cfg GroupConfig) (*Runtime, error) {
	if log == nil {
		return nil, fmt.Errorf("runtime: nil event log")
	}
	if cfg.Group == "" {
		return nil, fmt.Errorf("runtime: group id is required")
	}
	if cfg.Handler == nil {
		return nil, fmt.Errorf("runtime: group %q has no handler", cfg.Group)
	}
	if leases == nil {
		leases = NewMemoryLeaseStore()
	}
	if dlq == nil {
		dlq = NewMemoryDLQSink()
	}
	return &Runtime{
		log:    log,
		leases: leases,
		dlq:    dlq,
		cfg:    cfg.withDefaults(),
		owner:  uuid.NewString(),
	}, nil
}

// Run blocks until ctx is cancelled, then drains in-flight work and releases
// the partition leases so another worker can take over without waiting out
// the full lease TTL.
func (r *Runtime) Run(ctx context.Context) error {
	slog.Info("consumer group runtime started",
		"group", r.cfg.Group, "owner", r.owner, "partitions", r.log.Partitions())

	var wg sync.WaitGroup
	for p := 0; p < r.log.Partitions(); p++ {
		wg.Add(1)
		go func(partition int) {
			defer wg.Done()
			r.runPartition(ctx, partition)
		}(p)
	}
	wg.Wait()

	slog.Info("consumer group runtime stopped", "group", r.cfg.Group, "owner", r.owner)
	return nil
}

func (r *Runtime) runPartition(ctx context.Context, partition int) {
	logger := slog.With("group", r.cfg.Group, "partition", partition, "owner", r.owner)

	for {
		ok, err := r.leases.Acquire(ctx, r.cfg.Group, partition, r.owner, r.cfg.LeaseTTL)
		if err != nil {
			logger.Error("lease acquire failed", "error", err)
			if !sleepCtx(ctx, r.cfg.RetryBackoff) {
				return
			}
			continue
		}
		if ok {
			break
		}
		// Another worker owns this partition; wait for its lease to lapse.
		if !sleepCtx(ctx, r.cfg.LeaseTTL/2) {
			return
		}
	}
	logger.Info("partition lease acquired")
	defer func() {
		relCtx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainGrace)
		defer cancel()
		if err := r.leases.Release(relCtx, r.cfg.Group, partition, r.owner); err != nil {
			logger.Error("lease release failed", "error", err)
		}
	}()

	// Resume from last committed, not last read: records at or below the
	// checkpoint may replay, records beyond it are never skipped.
	var next int64
	for {
		committed, ok, err := r.log.CommittedOffset(ctx, r.cfg.Group, partition)
		if err == nil {
			if ok {
				next = committed + 1
			}
			break
		}
		if ctx.Err() != nil {
			return
		}
		logger.Error("load checkpoint failed", "error", err)
		if !sleepCtx(ctx, r.cfg.RetryBackoff) {
			return
		}
	}
	logger.Info("partition worker resuming", "from_offset", next)

	renewAt := time.Now().Add(r.cfg.LeaseTTL / 2)
	held := true
	for ctx.Err() == nil {
		renewAt, held = r.renewIfDue(ctx, logger, partition, renewAt)
		if !held {
			return
		}

		r.setState(partition, StateFetching)
		records, err := r.log.Read(ctx, r.cfg.Group, partition, next, r.cfg.FetchBatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			// Transient fetch failures are contained here; the consumer
			// never observes them as data loss.
			logger.Error("fetch failed, retrying", "from_offset", next, "error", err)
			if !sleepCtx(ctx, r.cfg.RetryBackoff) {
				return
			}
			continue
		}
		if len(records) == 0 {
			r.setState(partition, StateIdle)
			continue
		}

		for _, rec := range records {
			if ctx.Err() != nil {
				return
			}
			// Ownership is re-verified between records, not only between
			// fetches: a lost lease stops the worker before the next apply,
			// never a whole batch later.
			renewAt, held = r.renewIfDue(ctx, logger, partition, renewAt)
			if !held {
				return
			}
			if !r.processRecord(ctx, logger, rec) {
				return
			}
			next = rec.Offset + 1
		}
	}
}

// renewIfDue extends the lease once half its TTL has elapsed. It reports
// whether this worker still owns the partition.
func (r *Runtime) renewIfDue(ctx context.Context, logger *slog.Logger, partition int, renewAt time.Time) (time.Time, bool) {
	if time.Now().Before(renewAt) {
		return renewAt, true
	}
	ok, err := r.leases.Renew(ctx, r.cfg.Group, partition, r.owner, r.cfg.LeaseTTL)
	if err != nil {
		logger.Error("lease renew failed", "error", err)
	} else if !ok {
		logger.Warn("lease lost, stopping partition worker")
		return renewAt, false
	}
	return time.Now().Add(r.cfg.LeaseTTL / 2), true
}

// processRecord applies one record and advances the checkpoint. It returns
// false only when the worker must stop; an uncommitted record is then
// redelivered on the next start.
func (r *Runtime) processRecord(ctx context.Context, logger *slog.Logger, rec eventlog.Record) bool {
	env, decodeErr := event.Decode(rec.Envelope)
	if decodeErr != nil {
		// Undecodable records skip the retry loop entirely.
		r.deadLetter(logger, rec, decodeErr)
		return r.commit(logger, rec)
	}

	for attempt := 0; ; attempt++ {
		r.setState(rec.Partition, StateApplying)

		// Detached from the run context: an in-flight apply is allowed to
		// finish during shutdown, bounded by the per-record timeout.
		applyCtx, cancel := context.WithTimeout(context.Background(), r.cfg.ApplyTimeout)
		start := time.Now()
		applyErr := r.cfg.Handler.Apply(applyCtx, env)
		cancel()
		applyDuration.WithLabelValues(r.cfg.Group).Observe(time.Since(start).Seconds())

		if applyErr == nil {
			recordsApplied.WithLabelValues(r.cfg.Group).Inc()
			break
		}

		var serr *event.SchemaError
		if errors.As(applyErr, &serr) {
			r.deadLetter(logger, rec, applyErr)
			break
		}
		if !r.cfg.RetryForever && attempt >= r.cfg.MaxRetries {
			r.deadLetter(logger, rec, applyErr)
			break
		}

		r.setState(rec.Partition, StateRetrying)
		applyRetries.WithLabelValues(r.cfg.Group).Inc()
		backoff := backoffFor(r.cfg.RetryBackoff, r.cfg.MaxBackoff, attempt)
		logger.Warn("apply failed, retrying",
			"offset", rec.Offset, "event_id", env.ID, "attempt", attempt+1, "backoff", backoff, "error", applyErr)
		if !sleepCtx(ctx, backoff) {
			// Shutdown mid-retry: leave the record uncommitted so it is
			// redelivered to the next owner.
			return false
		}
	}

	return r.commit(logger, rec)
}

// commit advances the checkpoint. It runs on a drain context so work that
// already applied is never lost to a shutdown race; the grace period bounds
// the whole retry loop, attempts and backoffs included.
func (r *Runtime) commit(logger *slog.Logger, rec eventlog.Record) bool {
	r.setState(rec.Partition, StateCommitting)

	cctx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainGrace)
	defer cancel()

	for attempt := 0; attempt < 5; attempt++ {
		err := r.log.CommitOffset(cctx, r.cfg.Group, rec.Partition, rec.Offset)
		if err == nil {
			r.setState(rec.Partition, StateIdle)
			return true
		}
		logger.Error("checkpoint commit failed", "offset", rec.Offset, "attempt", attempt+1, "error", err)
		if !sleepCtx(cctx, backoffFor(r.cfg.RetryBackoff, r.cfg.MaxBackoff, attempt)) {
			break
		}
	}
	// Give up and stop the worker; the applied-but-uncommitted record will
	// replay, which idempotent handlers absorb.
	return false
}

func (r *Runtime) deadLetter(logger *slog.Logger, rec eventlog.Record, cause error) {
	r.setState(rec.Partition, StateDeadLetter)
	recordsDeadLettered.WithLabelValues(r.cfg.Group).Inc()
	logger.Error("record dead-lettered",
		"offset", rec.Offset, "error", cause)

	dlCtx, cancel := context.WithTimeout(context.Background(), r.cfg.DrainGrace)
	defer cancel()
	dl := DeadLetter{
		Group:     r.cfg.Group,
		Partition: rec.Partition,
		Offset:    rec.Offset,
		Envelope:  rec.Envelope,
		Reason:    cause.Error(),
		At:        time.Now().UTC(),
	}
	if err := r.dlq.Push(dlCtx, dl); err != nil {
		logger.Error("dead-letter push failed", "offset", rec.Offset, "error", err)
	}
}

func (r *Runtime) setState(partition int, s State) {
	partitionState.WithLabelValues(r.cfg.Group, strconv.Itoa(partition)).Set(float64(s))
}

func backoffFor(base, max time.Duration, attempt int) time.Duration {
	d := base << uint(attempt)
	if d > max || d <= 0 {
		return max
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
