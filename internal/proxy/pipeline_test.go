package proxy

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/agentgate/gateway/internal/agentreg"
	"github.com/agentgate/gateway/internal/audit"
	"github.com/agentgate/gateway/internal/breaker"
	"github.com/agentgate/gateway/internal/cache"
	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/policy"
	"github.com/agentgate/gateway/internal/ratelimit"
	"github.com/agentgate/gateway/internal/retry"
	"github.com/agentgate/gateway/internal/token"
	"github.com/agentgate/gateway/internal/tooladapter"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// stubAdapter is a controllable search adapter: fixed result, scripted
// errors, and a call counter.
type stubAdapter struct {
	calls      atomic.Int64
	err        func(call int64) error
	result     any
	configured bool
}

func newStubAdapter() *stubAdapter {
	return &stubAdapter{result: map[string]any{"hits": []any{"ocean"}}, configured: true}
}

func (s *stubAdapter) Tool() credential.Tool                 { return credential.ToolSearch }
func (s *stubAdapter) IsConfigured(ctx context.Context) bool { return s.configured }

func (s *stubAdapter) ValidateParams(action string, params map[string]any) error {
	if action != "query" {
		return tooladapter.ValidationError("unknown action")
	}
	if q, ok := params["q"].(string); !ok || q == "" {
		return tooladapter.ValidationError("q parameter is required")
	}
	return nil
}

func (s *stubAdapter) Call(ctx context.Context, action string, params map[string]any) (any, error) {
	n := s.calls.Add(1)
	if s.err != nil {
		if err := s.err(n); err != nil {
			return nil, err
		}
	}
	return s.result, nil
}

// memAudit collects RequestLogs in memory.
type memAudit struct {
	mu      sync.Mutex
	records []audit.RequestLog
}

func (m *memAudit) Append(ctx context.Context, records ...audit.RequestLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	return nil
}

func (m *memAudit) Query(ctx context.Context, filter audit.Filter) ([]audit.RequestLog, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.RequestLog(nil), m.records...), nil
}

func (m *memAudit) Recent(n int) []audit.RequestLog { return nil }
func (m *memAudit) Flush(ctx context.Context) error { return nil }
func (m *memAudit) Close() error                    { return nil }

func (m *memAudit) all() []audit.RequestLog {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]audit.RequestLog(nil), m.records...)
}

type harness struct {
	pipeline *Pipeline
	adapter  *stubAdapter
	codec    *token.Codec
	agents   *agentreg.MemoryStore
	policies *policy.MemoryStore
	audit    *memAudit
}

type harnessOption func(*Pipeline)

func withRateLimiter(l *ratelimit.Limiter) harnessOption {
	return func(p *Pipeline) { p.RateLimiter = l }
}

func withCache(c *cache.Cache) harnessOption {
	return func(p *Pipeline) { p.Cache = c }
}

func withRegistry(r token.Registry) harnessOption {
	return func(p *Pipeline) { p.Registry = r }
}

func newHarness(t *testing.T, opts ...harnessOption) *harness {
	t.Helper()

	codec, err := token.NewCodec([]byte("test-signing-secret-0123456789"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	adapter := newStubAdapter()
	agents := agentreg.NewMemoryStore()
	policies := policy.NewMemoryStore()
	auditStore := &memAudit{}

	p := Pipeline{
		Codec:       codec,
		Registry:    token.NewMemoryRegistry(),
		Agents:      agents,
		PolicyStore: policies,
		Engine:      policy.NewEngine(),
		Breakers:    breaker.NewManager(breaker.Config{}),
		RetryConfig: retry.Config{MaxAttempts: 1, Base: time.Millisecond},
		Adapters:    tooladapter.NewRegistry(adapter),
		Audit:       auditStore,
		LiveMode:    false,
	}
	for _, opt := range opts {
		opt(&p)
	}

	return &harness{
		pipeline: New(p),
		adapter:  adapter,
		codec:    codec,
		agents:   agents,
		policies: policies,
		audit:    auditStore,
	}
}

// seedAgent registers an active agent with a policy granting scopes and
// optional quotas, bound to the agent directly.
func (h *harness) seedAgent(t *testing.T, id string, scopes []string, quotas []policy.Quota) {
	t.Helper()
	ctx := context.Background()
	err := h.agents.Create(ctx, agentreg.Agent{
		ID: id, Name: id, Role: "tester", Status: agentreg.StatusActive, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	spec := policy.PolicySpec{ID: id + "-policy", Scopes: scopes, Quotas: quotas}
	if err := h.policies.SaveSpec(ctx, spec); err != nil {
		t.Fatalf("save spec: %v", err)
	}
	err = h.policies.SaveAssignment(ctx, policy.PolicyAssignment{
		ID: id + "-assignment", PolicyID: spec.ID, Target: policy.AssignmentTarget{AgentID: id},
	})
	if err != nil {
		t.Fatalf("save assignment: %v", err)
	}
}

func (h *harness) issue(t *testing.T, agentID string, scopes []string, ttl time.Duration) string {
	t.Helper()
	raw, _, err := h.codec.Issue(token.IssueParams{AgentID: agentID, Scopes: scopes, TTL: ttl})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return raw
}

func searchRequest(tok string) Request {
	return Request{
		AgentToken: tok,
		Tool:       "search",
		Action:     "query",
		Params:     map[string]any{"q": "ocean"},
	}
}

func TestHappyPathWritesAuditAndConsumesQuota(t *testing.T) {
	h := newHarness(t)
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, []policy.Quota{
		{Action: "query", Limit: 10, Window: policy.Window1h, ResetStrategy: policy.ResetFixed},
	})
	tok := h.issue(t, "agent-1", scopes, 15*time.Minute)

	resp := h.pipeline.Handle(context.Background(), searchRequest(tok))
	if !resp.Success || resp.StatusCode != 200 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Metadata == nil || resp.Metadata.AgentID != "agent-1" || resp.Metadata.Tool != "search" {
		t.Fatalf("metadata = %+v", resp.Metadata)
	}
	if resp.CorrelationID == "" {
		t.Fatal("correlation ID not assigned")
	}
	if len(resp.QuotaInfo) != 1 || resp.QuotaInfo[0].Remaining != 9 {
		t.Fatalf("quota info = %+v", resp.QuotaInfo)
	}

	logs := h.audit.all()
	if len(logs) != 1 {
		t.Fatalf("audit rows = %d, want 1", len(logs))
	}
	rec := logs[0]
	if rec.CorrID != resp.CorrelationID || rec.AgentID != "agent-1" || rec.Tool != "search" ||
		rec.Action != "query" || !rec.Success {
		t.Fatalf("audit row = %+v", rec)
	}
}

func TestQuotaExhaustionDeniesEleventhCall(t *testing.T) {
	h := newHarness(t)
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, []policy.Quota{
		{Action: "query", Limit: 10, Window: policy.Window1h},
	})
	tok := h.issue(t, "agent-1", scopes, 15*time.Minute)

	for i := 0; i < 10; i++ {
		resp := h.pipeline.Handle(context.Background(), searchRequest(tok))
		if !resp.Success {
			t.Fatalf("call %d failed: %+v", i+1, resp)
		}
	}
	resp := h.pipeline.Handle(context.Background(), searchRequest(tok))
	if resp.Success || resp.StatusCode != 403 || resp.Error != string(policy.DenyQuotaExceeded) {
		t.Fatalf("11th call = %+v", resp)
	}
	if got := h.adapter.calls.Load(); got != 10 {
		t.Fatalf("adapter calls = %d, want 10", got)
	}
}

func TestOutOfScopeDeniedBeforeAdapter(t *testing.T) {
	h := newHarness(t)
	h.seedAgent(t, "agent-1", []string{"search:query"}, nil)
	// Token grants only search:query; the policy also only covers it.
	tok := h.issue(t, "agent-1", []string{"search:query"}, 15*time.Minute)

	req := Request{AgentToken: tok, Tool: "send_mail", Action: "send", Params: map[string]any{"to": "x@example.com"}}
	resp := h.pipeline.Handle(context.Background(), req)
	if resp.Success || resp.StatusCode != 403 || resp.Error != string(policy.DenyOutOfScope) {
		t.Fatalf("resp = %+v", resp)
	}
	if got := h.adapter.calls.Load(); got != 0 {
		t.Fatalf("adapter was called %d times", got)
	}
}

func TestExpiredTokenAndRotationHint(t *testing.T) {
	h := newHarness(t)
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, nil)

	expired := h.issue(t, "agent-1", scopes, time.Millisecond)
	time.Sleep(5 * time.Millisecond)
	resp := h.pipeline.Handle(context.Background(), searchRequest(expired))
	if resp.Success || resp.StatusCode != 403 || resp.Error != "expired" {
		t.Fatalf("expired resp = %+v", resp)
	}

	// A 4-minute token is inside the 5-minute rotation horizon.
	nearExpiry := h.issue(t, "agent-1", scopes, 4*time.Minute)
	resp = h.pipeline.Handle(context.Background(), searchRequest(nearExpiry))
	if !resp.Success {
		t.Fatalf("near-expiry resp = %+v", resp)
	}
	if !resp.RotationRecommended || resp.TokenExpiresAt.IsZero() {
		t.Fatalf("rotation hint missing: %+v", resp)
	}
}

func TestTamperedTokenRejected(t *testing.T) {
	h := newHarness(t)
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, nil)
	tok := h.issue(t, "agent-1", scopes, 15*time.Minute)

	tampered := []byte(tok)
	tampered[3] ^= 0x01
	resp := h.pipeline.Handle(context.Background(), searchRequest(string(tampered)))
	if resp.Success || resp.StatusCode != 403 {
		t.Fatalf("tampered resp = %+v", resp)
	}
	if resp.Error != "bad_signature" && resp.Error != "malformed" {
		t.Fatalf("tampered reason = %q", resp.Error)
	}
	if got := h.adapter.calls.Load(); got != 0 {
		t.Fatalf("adapter was called %d times", got)
	}
}

func TestDisabledAgentRejected(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	err := h.agents.Create(ctx, agentreg.Agent{
		ID: "agent-off", Name: "agent-off", Status: agentreg.StatusDisabled, CreatedAt: time.Now(),
	})
	if err != nil {
		t.Fatalf("create agent: %v", err)
	}
	tok := h.issue(t, "agent-off", []string{"search:query"}, 15*time.Minute)

	resp := h.pipeline.Handle(ctx, searchRequest(tok))
	if resp.Success || resp.StatusCode != 403 || resp.Error != "disabled_agent" {
		t.Fatalf("resp = %+v", resp)
	}
}

func TestProvenanceMismatchRejected(t *testing.T) {
	registry := token.NewMemoryRegistry()
	h := newHarness(t, withRegistry(registry))
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, nil)
	tok := h.issue(t, "agent-1", scopes, 15*time.Minute)

	ctx := context.Background()
	proof := []byte("the-real-proof")
	entry := token.RegistryEntry{
		TokenID:     "tok-1",
		AgentID:     "agent-1",
		PayloadHash: token.HashPayload(proof),
		IssuedAt:    time.Now(),
		ExpiresAt:   time.Now().Add(15 * time.Minute),
	}
	if err := registry.Put(ctx, entry); err != nil {
		t.Fatalf("registry put: %v", err)
	}

	req := searchRequest(tok)
	req.TokenID = "tok-1"
	req.ProofPayload = []byte("not-the-proof")
	resp := h.pipeline.Handle(ctx, req)
	if resp.Success || resp.StatusCode != 403 || resp.Error != "registry_mismatch" {
		t.Fatalf("mismatch resp = %+v", resp)
	}

	// Correct proof passes.
	req.ProofPayload = proof
	resp = h.pipeline.Handle(ctx, req)
	if !resp.Success {
		t.Fatalf("correct-proof resp = %+v", resp)
	}

	// Revocation closes the door again.
	if err := registry.Revoke(ctx, "tok-1"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	resp = h.pipeline.Handle(ctx, req)
	if resp.Success || resp.Error != "registry_mismatch" {
		t.Fatalf("revoked resp = %+v", resp)
	}
}

func TestBreakerOpensAfterRepeatedFailures(t *testing.T) {
	h := newHarness(t)
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, nil)
	tok := h.issue(t, "agent-1", scopes, 15*time.Minute)

	h.adapter.err = func(int64) error {
		return tooladapter.UpstreamError("upstream down", 0)
	}

	for i := 0; i < 5; i++ {
		resp := h.pipeline.Handle(context.Background(), searchRequest(tok))
		if resp.Success || resp.StatusCode != 502 {
			t.Fatalf("failure %d = %+v", i+1, resp)
		}
	}

	// Threshold reached: the next call fails fast without touching the
	// adapter.
	before := h.adapter.calls.Load()
	resp := h.pipeline.Handle(context.Background(), searchRequest(tok))
	if resp.Success || resp.StatusCode != 503 || resp.Error != "breaker_open" {
		t.Fatalf("breaker resp = %+v", resp)
	}
	if got := h.adapter.calls.Load(); got != before {
		t.Fatalf("adapter called while breaker open (%d -> %d)", before, got)
	}

	logs := h.audit.all()
	for _, rec := range logs {
		if rec.Success {
			t.Fatalf("unexpected success audit row: %+v", rec)
		}
	}
}

func TestValidationErrorsDoNotTripBreaker(t *testing.T) {
	h := newHarness(t)
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, nil)
	tok := h.issue(t, "agent-1", scopes, 15*time.Minute)

	// Missing q fails adapter-side param validation before execution; run
	// well past the failure threshold.
	req := Request{AgentToken: tok, Tool: "search", Action: "query", Params: map[string]any{}}
	for i := 0; i < 10; i++ {
		resp := h.pipeline.Handle(context.Background(), req)
		if resp.StatusCode != 400 || resp.Error != "validation_error" {
			t.Fatalf("validation resp = %+v", resp)
		}
	}

	// A well-formed call still executes: the breaker never opened.
	resp := h.pipeline.Handle(context.Background(), searchRequest(tok))
	if !resp.Success {
		t.Fatalf("post-validation resp = %+v", resp)
	}
}

func TestRateLimitExhaustionReturns429(t *testing.T) {
	h := newHarness(t, withRateLimiter(ratelimit.New(ratelimit.Config{Limit: 5, Window: time.Minute})))
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, nil)
	tok := h.issue(t, "agent-1", scopes, 15*time.Minute)

	for i := 0; i < 5; i++ {
		resp := h.pipeline.Handle(context.Background(), searchRequest(tok))
		if !resp.Success {
			t.Fatalf("call %d = %+v", i+1, resp)
		}
	}
	resp := h.pipeline.Handle(context.Background(), searchRequest(tok))
	if resp.Success || resp.StatusCode != 429 || resp.Error != "rate_limited" {
		t.Fatalf("6th call = %+v", resp)
	}
	if resp.RetryAfter <= 0 {
		t.Fatalf("retry_after = %v", resp.RetryAfter)
	}
}

func TestCacheCoalescesConcurrentIdenticalCalls(t *testing.T) {
	h := newHarness(t, withCache(cache.New(cache.Config{})))
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, nil)
	tok := h.issue(t, "agent-1", scopes, 15*time.Minute)

	// Make the build slow enough that all callers pile onto one in-flight
	// computation.
	release := make(chan struct{})
	h.adapter.err = func(int64) error {
		<-release
		return nil
	}

	const callers = 50
	var wg sync.WaitGroup
	responses := make([]Response, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			responses[i] = h.pipeline.Handle(context.Background(), searchRequest(tok))
		}(i)
	}

	// Give the goroutines time to reach the cache, then release the single
	// build.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	if got := h.adapter.calls.Load(); got != 1 {
		t.Fatalf("adapter calls = %d, want 1", got)
	}
	for i, resp := range responses {
		if !resp.Success {
			t.Fatalf("caller %d failed: %+v", i, resp)
		}
	}
}

func TestShutdownGate(t *testing.T) {
	h := newHarness(t)
	scopes := []string{"search:query"}
	h.seedAgent(t, "agent-1", scopes, nil)
	tok := h.issue(t, "agent-1", scopes, 15*time.Minute)

	h.pipeline.BeginShutdown()
	resp := h.pipeline.Handle(context.Background(), searchRequest(tok))
	if resp.Success || resp.StatusCode != 503 || resp.Error != "shutting_down" {
		t.Fatalf("resp = %+v", resp)
	}
	if got := h.adapter.calls.Load(); got != 0 {
		t.Fatalf("adapter called during shutdown: %d", got)
	}
}

func TestSchemaCheckRejectsMissingFields(t *testing.T) {
	h := newHarness(t)
	for _, req := range []Request{
		{Tool: "search", Action: "query"},
		{AgentToken: "x", Action: "query"},
		{AgentToken: "x", Tool: "search"},
		{AgentToken: "x", Tool: "../etc", Action: "query"},
	} {
		resp := h.pipeline.Handle(context.Background(), req)
		if resp.Success || resp.StatusCode != 400 {
			t.Fatalf("req %+v -> %+v", req, resp)
		}
	}
}
