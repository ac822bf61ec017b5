package domain

import (
	"sync"
	"time"
)

// RuntimeStats is the single process-wide mutable state shared by the queue
// worker, the change-stream listener, the retry reconciler, and the
// monitoring endpoints. All fields sit behind one mutex; every method does
// O(1) work while holding it.
type RuntimeStats struct {
	mu sync.Mutex

	startedAt           time.Time
	processedSuccess    int64
	processedFailed     int64
	retried             int64
	queueEnqueued       int64
	inFlightCID         string
	changeStreamRunning bool
	replicaSetEnabled   bool
	retryAttempts       map[string]int
}

// StatsSnapshot is a point-in-time copy for the monitoring surface.
type StatsSnapshot struct {
	UptimeSeconds        int64  `json:"uptimeSeconds"`
	ProcessedSuccess     int64  `json:"processedSuccess"`
	ProcessedFailed      int64  `json:"processedFailed"`
	Retried              int64  `json:"retried"`
	QueueEnqueued        int64  `json:"queueEnqueued"`
	QueueSize            int    `json:"queueSize"`
	InFlightComplaintID  string `json:"inFlightComplaintId,omitempty"`
	ChangeStreamRunning  bool   `json:"changeStreamRunning"`
	ReplicaSetEnabled    bool   `json:"replicaSetEnabled"`
	TrackedRetryAttempts int    `json:"trackedRetryAttempts"`
}

// NewRuntimeStats constructs zeroed stats anchored at now.
func NewRuntimeStats() *RuntimeStats {
	return &RuntimeStats{
		startedAt:     time.Now().UTC(),
		retryAttempts: make(map[string]int),
	}
}

// IncSuccess bumps the processed-success counter.
func (s *RuntimeStats) IncSuccess() {
	s.mu.Lock()
	s.processedSuccess++
	s.mu.Unlock()
}

// IncFailed bumps the processed-failed counter.
func (s *RuntimeStats) IncFailed() {
	s.mu.Lock()
	s.processedFailed++
	s.mu.Unlock()
}

// IncRetried bumps the retried counter.
func (s *RuntimeStats) IncRetried() {
	s.mu.Lock()
	s.retried++
	s.mu.Unlock()
}

// IncEnqueued bumps the queue-enqueued counter.
func (s *RuntimeStats) IncEnqueued() {
	s.mu.Lock()
	s.queueEnqueued++
	s.mu.Unlock()
}

// SetInFlight marks cid as the single in-flight complaint.
func (s *RuntimeStats) SetInFlight(cid string) {
	s.mu.Lock()
	s.inFlightCID = cid
	s.mu.Unlock()
}

// ClearInFlight clears the in-flight marker.
func (s *RuntimeStats) ClearInFlight() {
	s.mu.Lock()
	s.inFlightCID = ""
	s.mu.Unlock()
}

// InFlight returns the in-flight cid, or "".
func (s *RuntimeStats) InFlight() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.inFlightCID
}

// SetChangeStreamRunning records listener liveness.
func (s *RuntimeStats) SetChangeStreamRunning(running bool) {
	s.mu.Lock()
	s.changeStreamRunning = running
	s.mu.Unlock()
}

// SetReplicaSetEnabled records the store capability probe result.
func (s *RuntimeStats) SetReplicaSetEnabled(enabled bool) {
	s.mu.Lock()
	s.replicaSetEnabled = enabled
	s.mu.Unlock()
}

// ReplicaSetEnabled reports the probed replica-set capability.
func (s *RuntimeStats) ReplicaSetEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.replicaSetEnabled
}

// RetryAttempt returns the recorded attempt count for cid.
func (s *RuntimeStats) RetryAttempt(cid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.retryAttempts[cid]
}

// BumpRetryAttempt increments and returns the attempt count for cid.
func (s *RuntimeStats) BumpRetryAttempt(cid string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retryAttempts[cid]++
	return s.retryAttempts[cid]
}

// ClearRetryAttempt drops the attempt record for cid, normally at success.
func (s *RuntimeStats) ClearRetryAttempt(cid string) {
	s.mu.Lock()
	delete(s.retryAttempts, cid)
	s.mu.Unlock()
}

// Snapshot copies the counters for the monitoring endpoints.
func (s *RuntimeStats) Snapshot(queueSize int) StatsSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return StatsSnapshot{
		UptimeSeconds:        int64(time.Since(s.startedAt).Seconds()),
		ProcessedSuccess:     s.processedSuccess,
		ProcessedFailed:      s.processedFailed,
		Retried:              s.retried,
		QueueEnqueued:        s.queueEnqueued,
		QueueSize:            queueSize,
		InFlightComplaintID:  s.inFlightCID,
		ChangeStreamRunning:  s.changeStreamRunning,
		ReplicaSetEnabled:    s.replicaSetEnabled,
		TrackedRetryAttempts: len(s.retryAttempts),
	}
}
