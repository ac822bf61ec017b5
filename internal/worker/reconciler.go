package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/civisense/ai-decision-engine/internal/adapter/observability"
	"github.com/civisense/ai-decision-engine/internal/domain"
)

// SweepSource is the slice of the complaint store the reconciler needs.
type SweepSource interface {
	PendingSweep(ctx context.Context, limit int) ([]string, error)
	FailedSweep(ctx context.Context, limit int) ([]string, error)
	RequeueFailed(ctx context.Context, cid string) (bool, error)
}

// Reconciler periodically sweeps the store for claimable work the change
// stream missed and requeues failed complaints up to a bounded number of
// attempts.
type Reconciler struct {
	complaints SweepSource
	queue      domain.Enqueuer
	stats      *domain.RuntimeStats

	interval    time.Duration
	batchSize   int
	maxAttempts int
}

// NewReconciler constructs a Reconciler.
func NewReconciler(complaints SweepSource, queue domain.Enqueuer, stats *domain.RuntimeStats, interval time.Duration, batchSize, maxAttempts int) *Reconciler {
	return &Reconciler{
		complaints:  complaints,
		queue:       queue,
		stats:       stats,
		interval:    interval,
		batchSize:   batchSize,
		maxAttempts: maxAttempts,
	}
}

// Run sweeps once immediately, then on every tick until ctx is canceled.
func (r *Reconciler) Run(ctx context.Context) {
	slog.Info("retry reconciler started",
		slog.Duration("interval", r.interval),
		slog.Int("batchSize", r.batchSize),
		slog.Int("maxAttempts", r.maxAttempts))

	r.Sweep(ctx)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			slog.Info("retry reconciler stopped")
			return
		case <-ticker.C:
			r.Sweep(ctx)
		}
	}
}

// Sweep runs the pending and failed passes once. Duplicate enqueues against
// concurrent change-stream events are rejected by the queue, so the sweep is
// idempotent.
func (r *Reconciler) Sweep(ctx context.Context) {
	r.sweepPending(ctx)
	r.sweepFailed(ctx)
}

func (r *Reconciler) sweepPending(ctx context.Context) {
	cids, err := r.complaints.PendingSweep(ctx, r.batchSize)
	if err != nil {
		slog.Warn("pending sweep failed", slog.Any("error", err))
		return
	}
	enqueued := 0
	for _, cid := range cids {
		if r.queue.Enqueue(cid) {
			enqueued++
		}
	}
	if enqueued > 0 {
		slog.Info("pending sweep enqueued complaints", slog.Int("count", enqueued))
	}
}

func (r *Reconciler) sweepFailed(ctx context.Context) {
	cids, err := r.complaints.FailedSweep(ctx, r.batchSize)
	if err != nil {
		slog.Warn("failed sweep failed", slog.Any("error", err))
		return
	}
	for _, cid := range cids {
		if r.stats.RetryAttempt(cid) >= r.maxAttempts {
			slog.Debug("retry budget exhausted", slog.String("cid", cid), slog.Int("maxAttempts", r.maxAttempts))
			continue
		}
		flipped, err := r.complaints.RequeueFailed(ctx, cid)
		if err != nil {
			slog.Warn("requeue failed", slog.String("cid", cid), slog.Any("error", err))
			continue
		}
		if !flipped {
			continue
		}
		attempt := r.stats.BumpRetryAttempt(cid)
		r.stats.IncRetried()
		observability.ComplaintsRetriedTotal.Inc()
		slog.Info("failed complaint requeued",
			slog.String("cid", cid), slog.Int("attempt", attempt), slog.Int("maxAttempts", r.maxAttempts))
		r.queue.Enqueue(cid)
	}
}
