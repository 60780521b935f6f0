package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/archon-research/stl-exchange/internal/ports/inbound"
)

// Health serves orchestrator probes for the API process.
//
// Endpoints:
//   - /health/ready  - 200 when the store answers and the process is not draining
//   - /health/live   - 200 while the process is healthy
//   - /health        - combined status for monitoring and ALB checks
//
// On SIGTERM the binary sets shuttingDown, so the load balancer stops routing
// new orders before in-flight requests are drained.
type Health struct {
	checker      inbound.HealthChecker
	shuttingDown *atomic.Bool
	logger       *slog.Logger
}

// NewHealth creates probe handlers.
func NewHealth(checker inbound.HealthChecker, shuttingDown *atomic.Bool, logger *slog.Logger) *Health {
	if logger == nil {
		logger = slog.Default()
	}
	if shuttingDown == nil {
		shuttingDown = new(atomic.Bool)
	}
	return &Health{
		checker:      checker,
		shuttingDown: shuttingDown,
		logger:       logger.With("component", "health"),
	}
}

// RegisterRoutes registers the probe routes with the given mux.
func (hs *Health) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /health/ready", hs.handleReady)
	mux.HandleFunc("GET /health/live", hs.handleLive)
	mux.HandleFunc("GET /health", hs.handleHealth)
}

func (hs *Health) handleReady(w http.ResponseWriter, r *http.Request) {
	if hs.shuttingDown.Load() {
		hs.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "shutting_down"})
		return
	}
	if hs.checker.IsReady() {
		hs.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	} else {
		hs.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "not_ready"})
	}
}

func (hs *Health) handleLive(w http.ResponseWriter, r *http.Request) {
	if hs.checker.IsHealthy() {
		hs.respondJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	} else {
		hs.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unhealthy"})
	}
}

func (hs *Health) handleHealth(w http.ResponseWriter, r *http.Request) {
	shuttingDown := hs.shuttingDown.Load()
	ready := !shuttingDown && hs.checker.IsReady()
	healthy := hs.checker.IsHealthy()

	status, code := "ok", http.StatusOK
	switch {
	case shuttingDown:
		status, code = "shutting_down", http.StatusServiceUnavailable
	case !ready || !healthy:
		status, code = "degraded", http.StatusServiceUnavailable
	}

	hs.respondJSON(w, code, map[string]any{
		"status":       status,
		"ready":        ready,
		"healthy":      healthy,
		"shuttingDown": shuttingDown,
	})
}

func (hs *Health) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		hs.logger.Error("failed to encode JSON response", "error", err)
	}
}
