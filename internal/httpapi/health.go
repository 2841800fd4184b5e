package httpapi

import (
	"net/http"

	"github.com/agentgate/gateway/internal/health"
)

type basicHealthResponse struct {
	Status string `json:"status"`
}

// handleHealth implements GET /health: a minimal liveness check, 200 while
// the aggregate status is anything but unhealthy.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := health.StatusHealthy
	if s.Health != nil {
		status = s.Health.Aggregate()
	}
	code := http.StatusOK
	if status == health.StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, basicHealthResponse{Status: string(status)})
}

type enhancedHealthResponse struct {
	Status      string                   `json:"status"`
	Checks      map[string]health.Result `json:"checks"`
	Degradation int                      `json:"degradationLevel"`
}

// handleHealthEnhanced implements GET /health/enhanced: the full check
// registry plus the current degradation level.
func (s *Server) handleHealthEnhanced(w http.ResponseWriter, r *http.Request) {
	resp := enhancedHealthResponse{Status: string(health.StatusHealthy), Checks: map[string]health.Result{}}
	if s.Health != nil {
		resp.Status = string(s.Health.Aggregate())
		resp.Checks = s.Health.Snapshot()
	}
	if s.Degradation != nil {
		resp.Degradation = int(s.Degradation.Level())
	}
	code := http.StatusOK
	if resp.Status == string(health.StatusUnhealthy) {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, code, resp)
}

// handleReady implements GET /ready: 503 when the process is mid-shutdown
// or the aggregate status is unhealthy, 200 otherwise (degraded included).
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.Pipeline != nil && s.Pipeline.ShuttingDown() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if s.Health != nil && s.Health.Aggregate() == health.StatusUnhealthy {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
}
