package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/civisense/ai-decision-engine/internal/domain"
)

const listenerReconnectDelay = 5 * time.Second

// InsertWatcher is the slice of the complaint store the listener needs.
type InsertWatcher interface {
	WatchPendingInserts(ctx context.Context, handle func(cid string)) error
}

// Listener tails the complaint change stream and enqueues every inserted
// claimable complaint. Change streams need a replica set; without one the
// listener stays inactive and the reconciler alone feeds the queue.
type Listener struct {
	complaints InsertWatcher
	queue      domain.Enqueuer
	stats      *domain.RuntimeStats
	reconnect  time.Duration
}

// NewListener constructs a Listener.
func NewListener(complaints InsertWatcher, queue domain.Enqueuer, stats *domain.RuntimeStats) *Listener {
	return &Listener{
		complaints: complaints,
		queue:      queue,
		stats:      stats,
		reconnect:  listenerReconnectDelay,
	}
}

// Run watches the change stream until ctx is canceled, reopening the stream
// after a fixed delay whenever it breaks. Returns immediately when the store
// has no replica set.
func (l *Listener) Run(ctx context.Context) {
	if !l.stats.ReplicaSetEnabled() {
		slog.Warn("change stream disabled, store has no replica set; relying on reconciler sweeps")
		return
	}
	for {
		l.stats.SetChangeStreamRunning(true)
		slog.Info("change stream listener started")
		err := l.complaints.WatchPendingInserts(ctx, func(cid string) {
			if l.queue.Enqueue(cid) {
				slog.Info("complaint enqueued from change stream", slog.String("cid", cid))
			}
		})
		l.stats.SetChangeStreamRunning(false)

		if ctx.Err() != nil || errors.Is(err, context.Canceled) {
			slog.Info("change stream listener stopped")
			return
		}
		slog.Warn("change stream broke, reconnecting",
			slog.Any("error", err), slog.Duration("delay", l.reconnect))
		select {
		case <-ctx.Done():
			slog.Info("change stream listener stopped")
			return
		case <-time.After(l.reconnect):
		}
	}
}
