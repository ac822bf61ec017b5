package domain_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/civisense/ai-decision-engine/internal/domain"
)

func TestRuntimeStats_Counters(t *testing.T) {
	t.Parallel()
	stats := domain.NewRuntimeStats()
	stats.IncSuccess()
	stats.IncSuccess()
	stats.IncFailed()
	stats.IncRetried()
	stats.IncEnqueued()

	snap := stats.Snapshot(4)
	assert.Equal(t, int64(2), snap.ProcessedSuccess)
	assert.Equal(t, int64(1), snap.ProcessedFailed)
	assert.Equal(t, int64(1), snap.Retried)
	assert.Equal(t, int64(1), snap.QueueEnqueued)
	assert.Equal(t, 4, snap.QueueSize)
}

func TestRuntimeStats_InFlight(t *testing.T) {
	t.Parallel()
	stats := domain.NewRuntimeStats()
	assert.Empty(t, stats.InFlight())

	stats.SetInFlight("abc")
	assert.Equal(t, "abc", stats.InFlight())
	assert.Equal(t, "abc", stats.Snapshot(0).InFlightComplaintID)

	stats.ClearInFlight()
	assert.Empty(t, stats.InFlight())
}

func TestRuntimeStats_RetryAttempts(t *testing.T) {
	t.Parallel()
	stats := domain.NewRuntimeStats()
	assert.Zero(t, stats.RetryAttempt("a"))

	assert.Equal(t, 1, stats.BumpRetryAttempt("a"))
	assert.Equal(t, 2, stats.BumpRetryAttempt("a"))
	assert.Equal(t, 1, stats.BumpRetryAttempt("b"))
	assert.Equal(t, 2, stats.Snapshot(0).TrackedRetryAttempts)

	stats.ClearRetryAttempt("a")
	assert.Zero(t, stats.RetryAttempt("a"))
	assert.Equal(t, 1, stats.Snapshot(0).TrackedRetryAttempts)
}

func TestRuntimeStats_Flags(t *testing.T) {
	t.Parallel()
	stats := domain.NewRuntimeStats()
	stats.SetReplicaSetEnabled(true)
	stats.SetChangeStreamRunning(true)

	snap := stats.Snapshot(0)
	assert.True(t, snap.ReplicaSetEnabled)
	assert.True(t, snap.ChangeStreamRunning)
	assert.True(t, stats.ReplicaSetEnabled())
}

func TestRuntimeStats_ConcurrentAccess(t *testing.T) {
	t.Parallel()
	stats := domain.NewRuntimeStats()
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				stats.IncSuccess()
				stats.BumpRetryAttempt("shared")
				_ = stats.Snapshot(0)
			}
		}()
	}
	wg.Wait()
	snap := stats.Snapshot(0)
	assert.Equal(t, int64(800), snap.ProcessedSuccess)
	assert.Equal(t, 800, stats.RetryAttempt("shared"))
}
