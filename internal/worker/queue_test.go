package worker_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civisense/ai-decision-engine/internal/domain"
	"github.com/civisense/ai-decision-engine/internal/worker"
)

type recordingProcessor struct {
	mu        sync.Mutex
	processed []string
	panicOn   string
	done      chan string
}

func newRecordingProcessor() *recordingProcessor {
	return &recordingProcessor{done: make(chan string, 16)}
}

func (p *recordingProcessor) Process(_ context.Context, cid string) {
	p.mu.Lock()
	p.processed = append(p.processed, cid)
	p.mu.Unlock()
	defer func() { p.done <- cid }()
	if cid == p.panicOn {
		panic("inference blew up")
	}
}

func (p *recordingProcessor) seen() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.processed...)
}

func waitFor(t *testing.T, ch <-chan string, want string) {
	t.Helper()
	select {
	case got := <-ch:
		require.Equal(t, want, got)
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %s", want)
	}
}

func TestQueue_EnqueueDeduplicates(t *testing.T) {
	t.Parallel()
	stats := domain.NewRuntimeStats()
	q := worker.NewQueue(newRecordingProcessor(), stats, 8)

	assert.True(t, q.Enqueue("a"))
	assert.False(t, q.Enqueue("a"))
	assert.True(t, q.Enqueue("b"))
	assert.Equal(t, 2, q.Size())
	assert.Equal(t, int64(2), stats.Snapshot(q.Size()).QueueEnqueued)
}

func TestQueue_EnqueueRejectsInFlight(t *testing.T) {
	t.Parallel()
	stats := domain.NewRuntimeStats()
	q := worker.NewQueue(newRecordingProcessor(), stats, 8)

	stats.SetInFlight("busy")
	assert.False(t, q.Enqueue("busy"))
	assert.Zero(t, q.Size())
}

func TestQueue_EnqueueRejectsWhenFull(t *testing.T) {
	t.Parallel()
	q := worker.NewQueue(newRecordingProcessor(), domain.NewRuntimeStats(), 1)

	assert.True(t, q.Enqueue("a"))
	assert.False(t, q.Enqueue("b"))
}

func TestQueue_EnqueueRejectsEmptyCID(t *testing.T) {
	t.Parallel()
	q := worker.NewQueue(newRecordingProcessor(), domain.NewRuntimeStats(), 8)
	assert.False(t, q.Enqueue(""))
}

func TestQueue_RunProcessesFIFO(t *testing.T) {
	t.Parallel()
	proc := newRecordingProcessor()
	stats := domain.NewRuntimeStats()
	q := worker.NewQueue(proc, stats, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, q.Enqueue("a"))
	require.True(t, q.Enqueue("b"))
	go q.Run(ctx)

	waitFor(t, proc.done, "a")
	waitFor(t, proc.done, "b")
	assert.Equal(t, []string{"a", "b"}, proc.seen())
	assert.Eventually(t, func() bool { return stats.InFlight() == "" },
		time.Second, 10*time.Millisecond)
}

func TestQueue_PanicContainedToItem(t *testing.T) {
	t.Parallel()
	proc := newRecordingProcessor()
	proc.panicOn = "boom"
	q := worker.NewQueue(proc, domain.NewRuntimeStats(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, q.Enqueue("boom"))
	require.True(t, q.Enqueue("after"))
	go q.Run(ctx)

	waitFor(t, proc.done, "boom")
	waitFor(t, proc.done, "after")
}

type blockingProcessor struct {
	started chan string
	release chan struct{}
}

func (p *blockingProcessor) Process(_ context.Context, cid string) {
	p.started <- cid
	<-p.release
}

func TestQueue_RejectsSameCIDWhileProcessing(t *testing.T) {
	t.Parallel()
	proc := &blockingProcessor{started: make(chan string, 1), release: make(chan struct{})}
	stats := domain.NewRuntimeStats()
	q := worker.NewQueue(proc, stats, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, q.Enqueue("a"))
	go q.Run(ctx)

	select {
	case <-proc.started:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for processing to start")
	}
	// The worker raises the in-flight marker before releasing the queued
	// slot, so the cid stays inadmissible for the whole handoff.
	assert.Equal(t, "a", stats.InFlight())
	assert.False(t, q.Enqueue("a"))
	close(proc.release)
}

func TestQueue_ReEnqueueAfterProcessing(t *testing.T) {
	t.Parallel()
	proc := newRecordingProcessor()
	q := worker.NewQueue(proc, domain.NewRuntimeStats(), 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.True(t, q.Enqueue("a"))
	go q.Run(ctx)
	waitFor(t, proc.done, "a")

	// Once drained and no longer in flight, the same cid is admissible again.
	assert.Eventually(t, func() bool { return q.Enqueue("a") },
		time.Second, 10*time.Millisecond)
	waitFor(t, proc.done, "a")
}
