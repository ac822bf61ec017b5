// Package httpserver exposes the read-only monitoring surface: health,
// runtime stats, pending count, and Prometheus metrics. It never mutates
// engine state.
package httpserver

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/civisense/ai-decision-engine/internal/domain"
)

// QueueSizer reports the current queue depth.
type QueueSizer interface {
	Size() int
}

// PendingCounter is the slice of the complaint store the server needs.
type PendingCounter interface {
	CountPending(ctx context.Context) (int64, error)
}

// Server is the monitoring HTTP server.
type Server struct {
	complaints PendingCounter
	stats      *domain.RuntimeStats
	queue      QueueSizer
}

// New constructs a Server over the given projections.
func New(complaints PendingCounter, stats *domain.RuntimeStats, queue QueueSizer) *Server {
	return &Server{complaints: complaints, stats: stats, queue: queue}
}

// Router builds the chi router with the monitoring routes.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/health", s.handleHealth)
	r.Get("/stats", s.handleStats)
	r.Get("/pending-count", s.handlePendingCount)
	r.Handle("/metrics", promhttp.Handler())
	return r
}

type healthResponse struct {
	Status              string `json:"status"`
	ReplicaSetEnabled   bool   `json:"replicaSetEnabled"`
	ChangeStreamRunning bool   `json:"changeStreamRunning"`
	QueueSize           int    `json:"queueSize"`
	PendingCount        int64  `json:"pendingCount"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	snap := s.stats.Snapshot(s.queue.Size())
	resp := healthResponse{
		Status:              "ok",
		ReplicaSetEnabled:   snap.ReplicaSetEnabled,
		ChangeStreamRunning: snap.ChangeStreamRunning,
		QueueSize:           snap.QueueSize,
	}
	count, err := s.complaints.CountPending(r.Context())
	if err != nil {
		slog.Warn("pending count unavailable", slog.Any("error", err))
		resp.Status = "degraded"
		resp.PendingCount = -1
	} else {
		resp.PendingCount = count
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleStats(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.stats.Snapshot(s.queue.Size()))
}

func (s *Server) handlePendingCount(w http.ResponseWriter, r *http.Request) {
	count, err := s.complaints.CountPending(r.Context())
	if err != nil {
		slog.Error("pending count query failed", slog.Any("error", err))
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"pendingCount": count})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("response encode failed", slog.Any("error", err))
	}
}

// ListenAndServe runs the server until ctx is canceled, then shuts it down
// with a bounded grace period.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		slog.Info("monitoring server listening", slog.String("addr", addr))
		errCh <- srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
