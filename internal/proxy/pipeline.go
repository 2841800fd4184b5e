package proxy

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/gateway/internal/agentreg"
	"github.com/agentgate/gateway/internal/audit"
	"github.com/agentgate/gateway/internal/breaker"
	"github.com/agentgate/gateway/internal/cache"
	"github.com/agentgate/gateway/internal/chaos"
	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/degradation"
	"github.com/agentgate/gateway/internal/policy"
	"github.com/agentgate/gateway/internal/ratelimit"
	"github.com/agentgate/gateway/internal/retry"
	"github.com/agentgate/gateway/internal/token"
	"github.com/agentgate/gateway/internal/tooladapter"
)

// neverCached lists tool:action pairs that must never be served from the
// response cache; a coalesced or replayed send would deliver mail twice.
var neverCached = map[string]bool{
	"send_mail:send": true,
}

// Pipeline wires every collaborator the request path needs. Construct one
// per process; it is safe for concurrent use by many in-flight requests.
type Pipeline struct {
	Codec       *token.Codec
	Registry    token.Registry
	Agents      agentreg.Store
	PolicyStore policy.Store
	Engine      *policy.Engine
	RateLimiter *ratelimit.Limiter
	Breakers    *breaker.Manager
	RetryConfig retry.Config
	Chaos       *chaos.Injector
	Adapters    *tooladapter.Registry
	Cache       *cache.Cache
	Audit       audit.Store
	Degradation *degradation.Controller
	Observer    Observer

	// LiveMode selects whether the configuration-check step requires
	// Adapters.IsConfigured(); mock-mode adapters are always configured,
	// so this is effectively "does Configured matter".
	LiveMode bool

	now func() time.Time

	shuttingDown atomic.Bool
}

// New constructs a Pipeline. Observer and now may be left zero; New fills
// in NoopObserver and time.Now.
func New(p Pipeline) *Pipeline {
	if p.Observer == nil {
		p.Observer = NoopObserver{}
	}
	if p.now == nil {
		p.now = time.Now
	}
	return &p
}

// BeginShutdown flips the shutdown gate, the first half of the two-phase
// shutdown. Subsequent Handle calls return 503
// shutting_down immediately; in-flight calls already past the gate are
// unaffected and should be drained by the caller.
func (p *Pipeline) BeginShutdown() {
	p.shuttingDown.Store(true)
}

// ShuttingDown reports whether BeginShutdown has been called.
func (p *Pipeline) ShuttingDown() bool {
	return p.shuttingDown.Load()
}

// Handle runs req through the full pipeline and always returns a
// Response — success or a populated error field — never an error value,
// so the HTTP adapter has one shape to translate to a status code and
// body.
func (p *Pipeline) Handle(ctx context.Context, req Request) Response {
	start := p.now()
	corrID := req.CorrelationID
	if corrID == "" {
		corrID = uuid.NewString()
	}

	resp := p.handle(ctx, corrID, req, start)
	resp.CorrelationID = corrID
	return resp
}

func (p *Pipeline) handle(ctx context.Context, corrID string, req Request, start time.Time) Response {
	// Step 1: shutdown gate.
	if p.shuttingDown.Load() {
		return outShuttingDown.toResponse(corrID)
	}

	// Step 3: schema check.
	if req.AgentToken == "" || req.Tool == "" || req.Action == "" {
		return outSchemaInvalid.toResponse(corrID)
	}
	if err := validateName("tool", req.Tool); err != nil {
		return outSchemaInvalid.toResponse(corrID)
	}
	if err := validateName("action", req.Action); err != nil {
		return outSchemaInvalid.toResponse(corrID)
	}
	req.Params = sanitizeParams(req.Params)

	// Step 4: provenance.
	if req.TokenID != "" {
		entry, err := p.Registry.Get(ctx, req.TokenID)
		if err != nil {
			return outProvenanceFailed.toResponse(corrID)
		}
		if entry.IsRevoked {
			return outProvenanceFailed.toResponse(corrID)
		}
		if token.HashPayload(req.ProofPayload) != entry.PayloadHash {
			return outProvenanceFailed.toResponse(corrID)
		}
	}

	// Steps 5-7: signature, decode, expiry.
	result := p.Codec.Validate(req.AgentToken)
	p.Observer.ObserveTokenValidation(result.OK || result.Reason == token.ReasonExpired)
	switch result.Reason {
	case token.ReasonMalformed:
		return outMalformed.toResponse(corrID)
	case token.ReasonBadSignature:
		return outBadSignature.toResponse(corrID)
	case token.ReasonExpired:
		return outExpired.toResponse(corrID)
	}
	payload := result.Payload

	// Step 8: agent lookup.
	agent, err := p.Agents.Get(ctx, payload.AgentID)
	if err != nil {
		return outAgentNotFound.toResponse(corrID)
	}
	if agent.Status != agentreg.StatusActive {
		return outAgentDisabled.toResponse(corrID)
	}

	if !payload.HasScope(req.Tool + ":" + req.Action) {
		return p.deny(corrID, req, policy.Decision{Allowed: false, DenyReason: policy.DenyOutOfScope})
	}

	// Step 9: policy.
	specs, err := policy.Resolve(ctx, p.PolicyStore, agent.ID, agent.Role)
	if err != nil {
		return outcome{status: 500, reason: "internal_error"}.toResponse(corrID)
	}
	merged := policy.Merge(specs)
	decision := p.Engine.Evaluate(merged, agent.ID, req.Tool, req.Action, req.Params)
	if !decision.Allowed {
		return p.deny(corrID, req, decision)
	}
	params := decision.SanitizedParams
	if params == nil {
		params = req.Params
	}

	// Step 10: adapter-specific param validation.
	adapter, ok := p.Adapters.Get(credential.Tool(req.Tool))
	if !ok {
		return outcome{status: 400, reason: "validation_error", retryAfter: 0}.toResponse(corrID)
	}
	if err := adapter.ValidateParams(req.Action, params); err != nil {
		return outcome{status: 400, reason: "validation_error"}.toResponse(corrID)
	}

	// Step 11: configuration check (live mode only).
	if p.LiveMode && !adapter.IsConfigured(ctx) {
		return outToolUnconfigured.toResponse(corrID)
	}

	// Degradation: non-essential actions rejected at level >= 2; all
	// non-health traffic shed at level >= 3.
	if p.Degradation != nil {
		if p.Degradation.HealthOnly() {
			return outDegraded.toResponse(corrID)
		}
		if !p.Degradation.AllowFeature(req.Tool + ":" + req.Action) {
			return outDegraded.toResponse(corrID)
		}
	}

	// Step 12: rate limit.
	if p.RateLimiter != nil {
		if allowed, retryAfter := p.RateLimiter.Allow(agent.ID); !allowed {
			return outcome{status: 429, reason: "rate_limited", retryAfter: retryAfter}.toResponse(corrID)
		}
	}

	data, statusCode, callErr := p.executeWithCache(ctx, corrID, req.Tool, req.Action, params, adapter, payload.Scopes)
	if callErr != nil {
		resp := p.mapAdapterError(corrID, callErr)
		p.audit(ctx, corrID, agent.ID, req, resp.StatusCode, false, callErr.Error(), start)
		p.Observer.ObserveOutcome(req.Tool, req.Action, "error")
		p.Observer.ObserveLatency(req.Tool, req.Action, p.now().Sub(start))
		return resp
	}

	// Step 15: response filter.
	filtered, err := policy.ApplyResponseFilters(decision.AppliedFilters, data)
	if err != nil {
		filtered = data
	}

	elapsed := p.now().Sub(start)
	// Step 16: audit.
	p.audit(ctx, corrID, agent.ID, req, statusCode, true, "", start)
	p.Observer.ObserveOutcome(req.Tool, req.Action, "success")
	p.Observer.ObserveLatency(req.Tool, req.Action, elapsed)

	resp := Response{
		Success: true,
		Data:    filtered,
		Metadata: &Metadata{
			AgentID:        agent.ID,
			Tool:           req.Tool,
			Action:         req.Action,
			ResponseTimeMs: elapsed.Milliseconds(),
		},
		StatusCode: 200,
		QuotaInfo:  decision.QuotaInfo,
	}
	if token.IsExpiringSoon(payload) {
		resp.RotationRecommended = true
		resp.TokenExpiresAt = payload.ExpiresAt
	}
	return resp
}

// deny builds the policy-denial Response for decision and records the
// quota/denial outcome.
func (p *Pipeline) deny(corrID string, req Request, decision policy.Decision) Response {
	p.Observer.ObserveOutcome(req.Tool, req.Action, "policy_denied")
	return Response{
		Success:       false,
		Error:         string(decision.DenyReason),
		CorrelationID: corrID,
		StatusCode:    policyDenyStatus,
		QuotaInfo:     decision.QuotaInfo,
	}
}

// executeWithCache resolves the cache (when applicable) around
// breaker(retry(adapter.Call)): at most one in-flight build per
// fingerprint, later callers share its result.
func (p *Pipeline) executeWithCache(ctx context.Context, corrID, tool, action string, params map[string]any, adapter tooladapter.Adapter, scopes []string) (any, int, error) {
	build := func(ctx context.Context) (any, error) {
		return p.executeResilient(ctx, corrID, tool, action, params, adapter)
	}

	cacheable := p.Cache != nil && !neverCached[tool+":"+action] && (p.Degradation == nil || p.Degradation.AllowCaches())
	if !cacheable {
		v, err := build(ctx)
		return v, 200, err
	}

	fp := cache.Fingerprint(tool, action, params, scopes)
	v, err := p.Cache.GetOrBuild(ctx, fp, build)
	return v, 200, err
}

// executeResilient wraps one adapter call with the per-tool breaker,
// retry-with-backoff, and chaos injection: chaos fires inside the retry
// loop, so injected faults count toward breaker failures like real ones.
func (p *Pipeline) executeResilient(ctx context.Context, corrID, tool, action string, params map[string]any, adapter tooladapter.Adapter) (any, error) {
	b := p.Breakers.For(tool)
	result, err := b.Execute(ctx, func(ctx context.Context) (any, error) {
		return retry.Do(ctx, p.RetryConfig, func(attempt int, _ error, _ time.Duration) {
			p.Observer.ObserveRetry(tool, action, attempt)
		}, func(ctx context.Context, attempt int) (any, error) {
			if p.Chaos != nil {
				if injected, chaosErr := p.Chaos.Inject(ctx, tool); injected {
					if chaosErr != nil {
						return nil, chaosErr
					}
				}
			}
			v, callErr := adapter.Call(ctx, action, params)
			if callErr != nil {
				var ae *tooladapter.Error
				if errors.As(callErr, &ae) && ae.Code == "validation_error" {
					return v, breaker.NonBreaking{Err: callErr}
				}
			}
			return v, callErr
		})
	})
	return result, err
}

func (p *Pipeline) mapAdapterError(corrID string, err error) Response {
	if errors.Is(err, breaker.ErrOpen) {
		return outBreakerOpen.toResponse(corrID)
	}
	var ae *tooladapter.Error
	if errors.As(err, &ae) {
		switch ae.Code {
		case "validation_error":
			return outcome{status: 400, reason: "validation_error"}.toResponse(corrID)
		case "unconfigured":
			return outToolUnconfigured.toResponse(corrID)
		default:
			return outUpstream.toResponse(corrID)
		}
	}
	return outUpstream.toResponse(corrID)
}

func (p *Pipeline) audit(ctx context.Context, corrID, agentID string, req Request, statusCode int, success bool, errMsg string, start time.Time) {
	if p.Audit == nil {
		return
	}
	rec := audit.RequestLog{
		CorrID:         corrID,
		AgentID:        agentID,
		Tool:           req.Tool,
		Action:         req.Action,
		ResponseTimeMs: p.now().Sub(start).Milliseconds(),
		StatusCode:     statusCode,
		Success:        success,
		ErrorMessage:   errMsg,
		CreatedAt:      p.now(),
	}
	_ = p.Audit.Append(ctx, rec)
}

