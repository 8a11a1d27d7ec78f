package worker

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorax/gorax/internal/buildinfo"
)

// HealthServer provides health check endpoints for the worker process.
type HealthServer struct {
	worker *Worker
	server *http.Server
	ready  atomic.Bool
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status     string     `json:"status"`
	Timestamp  time.Time  `json:"timestamp"`
	Version    string     `json:"version"`
	WorkerInfo WorkerInfo `json:"worker_info"`
	Lanes      []LaneInfo `json:"lanes"`
}

// WorkerInfo contains worker statistics.
type WorkerInfo struct {
	Concurrency    int   `json:"concurrency_per_lane"`
	ActiveJobs     int32 `json:"active_jobs"`
	ProcessedTotal int64 `json:"processed_total"`
	FailedTotal    int64 `json:"failed_total"`
}

// LaneInfo reports a single lane's queue depth.
type LaneInfo struct {
	Lane     string `json:"lane"`
	Depth    int    `json:"depth"`
	InFlight int    `json:"in_flight"`
	Error    string `json:"error,omitempty"`
}

// NewHealthServer creates a new health check server for worker w.
func NewHealthServer(worker *Worker, port string) *HealthServer {
	hs := &HealthServer{worker: worker}

	mux := http.NewServeMux()
	mux.HandleFunc("/health/live", hs.handleLiveness)
	mux.HandleFunc("/health/ready", hs.handleReadiness)
	mux.HandleFunc("/health", hs.handleHealth)

	hs.server = &http.Server{
		Addr:         ":" + port,
		Handler:      mux,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	return hs
}

// Start starts the health check server.
func (hs *HealthServer) Start() error {
	hs.worker.logger.Info("starting health check server", "port", hs.server.Addr)
	hs.ready.Store(true)
	return hs.server.ListenAndServe()
}

// Shutdown gracefully shuts down the health server.
func (hs *HealthServer) Shutdown(ctx context.Context) error {
	hs.ready.Store(false)
	return hs.server.Shutdown(ctx)
}

// SetReady sets the ready state.
func (hs *HealthServer) SetReady(ready bool) {
	hs.ready.Store(ready)
}

func (hs *HealthServer) handleLiveness(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": "alive",
		"time":   time.Now().Format(time.RFC3339),
	}); err != nil {
		slog.Error("failed to encode liveness response", "error", err)
	}
}

func (hs *HealthServer) handleReadiness(w http.ResponseWriter, r *http.Request) {
	status := "ready"
	code := http.StatusOK
	if !hs.ready.Load() {
		status = "not_ready"
		code = http.StatusServiceUnavailable
	}

	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(map[string]string{
		"status": status,
		"time":   time.Now().Format(time.RFC3339),
	}); err != nil {
		slog.Error("failed to encode readiness response", "error", err)
	}
}

// handleHealth reports per-lane queue depth alongside worker counters.
func (hs *HealthServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	lanes := make([]LaneInfo, 0, len(hs.worker.lanes))
	healthy := true
	for _, lane := range hs.worker.lanes {
		info, err := hs.worker.queue.Info(ctx, lane)
		if err != nil {
			healthy = false
			lanes = append(lanes, LaneInfo{Lane: lane, Error: err.Error()})
			continue
		}
		lanes = append(lanes, LaneInfo{Lane: lane, Depth: info.Depth, InFlight: info.InFlight})
	}

	response := HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now(),
		Version:   buildinfo.GetVersion(),
		WorkerInfo: WorkerInfo{
			Concurrency:    hs.worker.concurrency,
			ActiveJobs:     hs.worker.getActiveJobs(),
			ProcessedTotal: hs.worker.getProcessedCount(),
			FailedTotal:    hs.worker.getFailedCount(),
		},
		Lanes: lanes,
	}

	if !healthy {
		response.Status = "unhealthy"
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(response); err != nil {
		slog.Error("failed to encode health response", "error", err)
	}
}
