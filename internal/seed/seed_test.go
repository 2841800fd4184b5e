package seed

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/agentgate/gateway/internal/agentreg"
	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/policy"
)

const sampleSeed = `
agents:
  - id: agent-1
    name: research-bot
    created_by: ops
    role: researcher
  - name: disabled-bot
    role: researcher
    disabled: true

policies:
  - id: research-default
    scopes: ["search:query", "http_fetch:get"]
    intent: research
    guards:
      max_request_size: 4096
      allowed_domains: ["example.com"]
    quotas:
      - action: "search:query"
        limit: 10
        window: "1h"
    schedule:
      timezone: UTC
      allowed_days: [monday, tuesday, wednesday, thursday, friday]
      allowed_hours:
        start: 8
        end: 18
    response_filters:
      redact_fields: [api_key]
      truncate_fields:
        - field: body
          max_length: 200

assignments:
  - policy_id: research-default
    role: researcher

credentials:
  - tool: search
    secret: sk-test-not-a-real-key
`

func writeSeed(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "seed.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	return path
}

func testKEK() []byte { return make([]byte, 32) }

func TestLoadAndApply(t *testing.T) {
	ctx := context.Background()
	f, err := Load(writeSeed(t, sampleSeed))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	agents := agentreg.NewMemoryStore()
	policies := policy.NewMemoryStore()
	creds := credential.NewStore(testKEK())

	if err := Apply(ctx, f, agents, policies, creds); err != nil {
		t.Fatalf("Apply: %v", err)
	}

	agent, err := agents.Get(ctx, "agent-1")
	if err != nil {
		t.Fatalf("seeded agent missing: %v", err)
	}
	if agent.Role != "researcher" || agent.Status != agentreg.StatusActive {
		t.Fatalf("agent = %+v", agent)
	}
	if len(agent.PublicKey) == 0 {
		t.Fatal("seeded agent has no public key")
	}

	all, err := agents.List(ctx)
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("agents = %d, want 2", len(all))
	}
	for _, a := range all {
		if a.Name == "disabled-bot" && a.Status != agentreg.StatusDisabled {
			t.Fatalf("disabled-bot status = %s", a.Status)
		}
	}

	spec, err := policies.GetSpec(ctx, "research-default")
	if err != nil {
		t.Fatalf("seeded policy missing: %v", err)
	}
	if len(spec.Scopes) != 2 || spec.Guards == nil || spec.Guards.MaxRequestSize != 4096 {
		t.Fatalf("spec = %+v", spec)
	}
	if len(spec.Quotas) != 1 || spec.Quotas[0].Window != policy.Window1h || spec.Quotas[0].ResetStrategy != policy.ResetSliding {
		t.Fatalf("quotas = %+v", spec.Quotas)
	}
	if spec.Schedule == nil || !spec.Schedule.Enabled || len(spec.Schedule.AllowedDays) != 5 {
		t.Fatalf("schedule = %+v", spec.Schedule)
	}
	if spec.Schedule.AllowedDays[0] != time.Monday {
		t.Fatalf("first allowed day = %v", spec.Schedule.AllowedDays[0])
	}
	if spec.ResponseFilters == nil || len(spec.ResponseFilters.TruncateFields) != 1 {
		t.Fatalf("response filters = %+v", spec.ResponseFilters)
	}

	// The resolved set for the seeded role must include the policy.
	specs, err := policy.Resolve(ctx, policies, "agent-1", "researcher")
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(specs) != 1 || specs[0].ID != "research-default" {
		t.Fatalf("resolved = %+v", specs)
	}

	// Credential sealed and revealable.
	secret, err := creds.Reveal(ctx, credential.ToolSearch)
	if err != nil {
		t.Fatalf("Reveal: %v", err)
	}
	if string(secret) != "sk-test-not-a-real-key" {
		t.Fatalf("revealed %q", secret)
	}
}

func TestApplyRejectsBadPolicy(t *testing.T) {
	ctx := context.Background()
	f := File{Policies: []Policy{{ID: "no-scopes"}}}
	err := Apply(ctx, f, agentreg.NewMemoryStore(), policy.NewMemoryStore(), credential.NewStore(testKEK()))
	if err == nil {
		t.Fatal("policy without scopes should be rejected")
	}
}

func TestApplyRejectsUnknownWeekday(t *testing.T) {
	ctx := context.Background()
	f := File{Policies: []Policy{{
		ID:       "bad-day",
		Scopes:   []string{"search:query"},
		Schedule: &Schedule{AllowedDays: []string{"humpday"}},
	}}}
	err := Apply(ctx, f, agentreg.NewMemoryStore(), policy.NewMemoryStore(), credential.NewStore(testKEK()))
	if err == nil {
		t.Fatal("unknown weekday should be rejected")
	}
}
