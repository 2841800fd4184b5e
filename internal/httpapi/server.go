package httpapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/agentgate/gateway/internal/adminauth"
	"github.com/agentgate/gateway/internal/agentreg"
	"github.com/agentgate/gateway/internal/audit"
	"github.com/agentgate/gateway/internal/chaos"
	"github.com/agentgate/gateway/internal/configmgr"
	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/degradation"
	"github.com/agentgate/gateway/internal/health"
	"github.com/agentgate/gateway/internal/obs"
	"github.com/agentgate/gateway/internal/policy"
	"github.com/agentgate/gateway/internal/proxy"
	"github.com/agentgate/gateway/internal/recovery"
	"github.com/agentgate/gateway/internal/token"
)

// Server holds every collaborator the HTTP surface needs and builds the
// routed http.Handler. One Server per process, constructed by cmd/gatewayctl.
type Server struct {
	Pipeline    *proxy.Pipeline
	Agents      agentreg.Store
	Codec       *token.Codec
	Registry    token.Registry
	PolicyStore policy.Store
	Chaos       *chaos.Injector
	Credentials *credential.Store
	Health      *health.Registry
	Recovery    *recovery.Controller
	Degradation *degradation.Controller
	Audit       audit.Store
	Config      *configmgr.Manager
	Admin       *adminauth.Authenticator
	Registerer  prometheus.Registerer
	Logger      *slog.Logger
	Tracer      *obs.Tracer

	// DefaultTokenTTL is used by generate-token when expires_at is absent.
	DefaultTokenTTL time.Duration

	// DemoMode exposes the non-production sandbox endpoints. Sandbox tokens
	// are unsigned and never accepted by the proxy pipeline.
	DemoMode bool
}

// Router builds the full routed handler. reg is the Prometheus registry
// exposed at /metrics; Server.Registerer should point at the same one so
// obs.Metrics and this registry agree.
func (s *Server) Router(reg *prometheus.Registry) http.Handler {
	if s.Logger == nil {
		s.Logger = slog.Default()
	}
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /health/enhanced", s.handleHealthEnhanced)
	mux.HandleFunc("GET /ready", s.handleReady)
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))

	mux.HandleFunc("POST /api/create-agent", s.requireAdmin(s.handleCreateAgent))
	mux.HandleFunc("GET /api/agents", s.requireAdmin(s.handleListAgents))
	mux.HandleFunc("GET /api/agents/{id}", s.requireAdmin(s.handleGetAgent))
	mux.HandleFunc("POST /api/generate-token", s.requireAdmin(s.handleGenerateToken))
	mux.HandleFunc("POST /api/proxy-request", s.handleProxyRequest)
	mux.HandleFunc("GET /api/runs/{id}/logs/stream", s.handleLogsStream)

	mux.HandleFunc("GET /api/admin/policies", s.requireAdmin(s.handleListPolicies))
	mux.HandleFunc("POST /api/admin/policies", s.requireAdmin(s.handleSavePolicy))
	mux.HandleFunc("DELETE /api/admin/policies/{id}", s.requireAdmin(s.handleDeletePolicy))
	mux.HandleFunc("POST /api/admin/policy-assignments", s.requireAdmin(s.handleSaveAssignment))
	mux.HandleFunc("DELETE /api/admin/policy-assignments/{id}", s.requireAdmin(s.handleDeleteAssignment))

	mux.HandleFunc("GET /api/admin/chaos", s.requireAdmin(s.handleListChaos))
	mux.HandleFunc("POST /api/admin/chaos", s.requireAdmin(s.handleSetChaos))
	mux.HandleFunc("DELETE /api/admin/chaos/{tool}", s.requireAdmin(s.handleClearChaos))

	mux.HandleFunc("POST /api/admin/credentials", s.requireAdmin(s.handleUploadCredential))
	mux.HandleFunc("GET /api/admin/credentials", s.requireAdmin(s.handleListCredentials))
	mux.HandleFunc("DELETE /api/admin/credentials/{id}", s.requireAdmin(s.handleRevokeCredential))

	mux.HandleFunc("POST /api/admin/recovery/trigger", s.requireAdmin(s.handleTriggerRecovery))
	mux.HandleFunc("GET /api/admin/recovery/history", s.requireAdmin(s.handleRecoveryHistory))

	mux.HandleFunc("POST /api/admin/degradation/force", s.requireAdmin(s.handleForceDegradation))
	mux.HandleFunc("POST /api/admin/degradation/recover", s.requireAdmin(s.handleRecoverDegradation))
	mux.HandleFunc("GET /api/admin/degradation", s.requireAdmin(s.handleGetDegradation))

	if s.DemoMode {
		mux.HandleFunc("POST /api/sandbox/token", s.handleSandboxToken)
		mux.HandleFunc("POST /api/sandbox/decode-token", s.handleSandboxDecode)
	}

	return chain(mux, RequestIDMiddleware(s.Logger), RealIPMiddleware)
}

// requireAdmin wraps h with bearer-token admin authentication, storing
// the resolved
// Principal in context for handlers that want to attribute an action.
func (s *Server) requireAdmin(h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		auth := r.Header.Get("Authorization")
		if !strings.HasPrefix(auth, "Bearer ") {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		raw := strings.TrimPrefix(auth, "Bearer ")
		principal, err := s.Admin.Authenticate(r.Context(), raw)
		if err != nil {
			writeError(w, r, http.StatusUnauthorized, "unauthorized", "invalid admin credential")
			return
		}
		ctx := context.WithValue(r.Context(), principalKey, principal)
		h(w, r.WithContext(ctx))
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// errorBody is the uniform non-2xx response shape for every endpoint but
// /api/proxy-request (which has its own shape via proxy.Response).
type errorBody struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func writeError(w http.ResponseWriter, r *http.Request, status int, reason, details string) {
	w.Header().Set("X-Correlation-Id", requestIDFromContext(r.Context()))
	writeJSON(w, status, errorBody{Error: reason, Details: details})
}

func decodeJSON(r *http.Request, dst any) error {
	defer r.Body.Close()
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}
