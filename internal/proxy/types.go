// Package proxy orchestrates the request-path pipeline:
// shutdown gate, correlation, schema check, token provenance/signature/
// expiry, agent lookup, policy evaluation, param validation, tool
// configuration check, degradation, rate limiting, chaos, breaker(retry(
// adapter)), response filtering, and audit logging.
package proxy

import (
	"time"

	"github.com/agentgate/gateway/internal/policy"
)

// Request is the decoded body of POST /api/proxy-request.
type Request struct {
	CorrelationID string // caller-supplied X-Correlation-Id, or empty to auto-assign
	AgentToken    string
	TokenID       string
	ProofPayload  []byte
	Tool          string
	Action        string
	Params        map[string]any
}

// Metadata accompanies a successful Response.
type Metadata struct {
	AgentID        string `json:"agentId"`
	Tool           string `json:"tool"`
	Action         string `json:"action"`
	ResponseTimeMs int64  `json:"responseTimeMs"`
}

// Response is the uniform shape Handle always returns, success or failure.
type Response struct {
	Success  bool      `json:"success"`
	Data     any       `json:"data,omitempty"`
	Metadata *Metadata `json:"metadata,omitempty"`

	Error   string `json:"error,omitempty"`
	Details string `json:"details,omitempty"`

	// CorrelationID is echoed as X-Correlation-Id regardless of outcome.
	CorrelationID string `json:"-"`
	// StatusCode is the HTTP status the adapter.HTTP layer should send.
	StatusCode int `json:"-"`
	// RotationRecommended sets X-Token-Rotation-Recommended when true.
	RotationRecommended bool `json:"-"`
	// TokenExpiresAt sets X-Token-Expires-At when non-zero.
	TokenExpiresAt time.Time `json:"-"`
	// RetryAfter sets the Retry-After header (seconds) when > 0.
	RetryAfter time.Duration `json:"-"`
	// QuotaInfo is attached to 403 quota_exceeded responses.
	QuotaInfo []policy.QuotaInfo `json:"quotaInfo,omitempty"`
}

// Observer receives pipeline side-effects for the observability layer:
// a counter increment with {tool, action, outcome} labels and a latency
// histogram observation per call. Implementations
// must not block the pipeline.
type Observer interface {
	ObserveOutcome(tool, action, outcome string)
	ObserveLatency(tool, action string, d time.Duration)
	ObserveTokenValidation(ok bool)
	ObserveRetry(tool, action string, attempt int)
}

// NoopObserver discards every event; used when no Observer is wired.
type NoopObserver struct{}

func (NoopObserver) ObserveOutcome(string, string, string)        {}
func (NoopObserver) ObserveLatency(string, string, time.Duration) {}
func (NoopObserver) ObserveTokenValidation(bool)                  {}
func (NoopObserver) ObserveRetry(string, string, int)             {}
