// Package worker hosts the processing queue, the change-stream listener, and
// the retry reconciler. A single Queue worker goroutine owns all complaint
// processing; the listener and reconciler only enqueue.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/civisense/ai-decision-engine/internal/adapter/observability"
	"github.com/civisense/ai-decision-engine/internal/domain"
)

// ItemProcessor is the slice of the processor the queue needs.
type ItemProcessor interface {
	Process(ctx context.Context, cid string)
}

// Queue is a bounded FIFO of complaint ids with at-most-once membership: a
// cid already queued or currently in flight is rejected at enqueue time.
type Queue struct {
	mu     sync.Mutex
	queued map[string]struct{}
	ch     chan string

	processor ItemProcessor
	stats     *domain.RuntimeStats
}

// NewQueue constructs a Queue with the given capacity.
func NewQueue(processor ItemProcessor, stats *domain.RuntimeStats, capacity int) *Queue {
	return &Queue{
		queued:    make(map[string]struct{}),
		ch:        make(chan string, capacity),
		processor: processor,
		stats:     stats,
	}
}

// Enqueue admits cid unless it is already queued, in flight, or the queue is
// full. Reports whether the cid was admitted.
func (q *Queue) Enqueue(cid string) bool {
	if cid == "" {
		return false
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, dup := q.queued[cid]; dup {
		observability.QueueRejectedTotal.WithLabelValues("duplicate").Inc()
		return false
	}
	if q.stats.InFlight() == cid {
		observability.QueueRejectedTotal.WithLabelValues("in_flight").Inc()
		return false
	}
	select {
	case q.ch <- cid:
		q.queued[cid] = struct{}{}
		q.stats.IncEnqueued()
		observability.QueueEnqueuedTotal.Inc()
		observability.QueueDepth.Set(float64(len(q.ch)))
		return true
	default:
		slog.Warn("queue full, dropping complaint", slog.String("cid", cid))
		observability.QueueRejectedTotal.WithLabelValues("full").Inc()
		return false
	}
}

// Size returns the number of queued cids.
func (q *Queue) Size() int {
	return len(q.ch)
}

// Run consumes the queue until ctx is canceled. Exactly one Run per Queue; a
// panic inside the processor is contained to the item that caused it.
func (q *Queue) Run(ctx context.Context) {
	slog.Info("queue worker started", slog.Int("capacity", cap(q.ch)))
	for {
		select {
		case <-ctx.Done():
			slog.Info("queue worker stopped")
			return
		case cid := <-q.ch:
			q.processOne(ctx, cid)
		}
	}
}

func (q *Queue) dequeue(cid string) {
	q.mu.Lock()
	delete(q.queued, cid)
	q.mu.Unlock()
	observability.QueueDepth.Set(float64(len(q.ch)))
}

func (q *Queue) processOne(ctx context.Context, cid string) {
	// The in-flight marker goes up before the queued slot is released so a
	// concurrent Enqueue of the same cid always fails one of the two checks.
	q.stats.SetInFlight(cid)
	defer q.stats.ClearInFlight()
	q.dequeue(cid)
	defer func() {
		if r := recover(); r != nil {
			slog.Error("processor panic", slog.String("cid", cid), slog.Any("panic", r))
		}
	}()
	q.processor.Process(ctx, cid)
}
