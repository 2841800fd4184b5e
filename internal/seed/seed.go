// Package seed loads an optional YAML file of agents, policies, policy
// assignments, and tool credentials applied once at startup, so a fresh
// gateway instance can come up with a working roster instead of an empty
// registry.
package seed

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/agentgate/gateway/internal/agentreg"
	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/policy"
)

// File is the root of the seed document.
type File struct {
	Agents      []Agent      `yaml:"agents"`
	Policies    []Policy     `yaml:"policies"`
	Assignments []Assignment `yaml:"assignments"`
	Credentials []Credential `yaml:"credentials"`
}

// Agent seeds one registry entry. A fresh keypair is generated; the private
// key is discarded (seeded agents are for mock/demo use, not proof-of-
// possession flows).
type Agent struct {
	ID        string `yaml:"id"`
	Name      string `yaml:"name"`
	CreatedBy string `yaml:"created_by"`
	Role      string `yaml:"role"`
	Disabled  bool   `yaml:"disabled"`
}

// Policy mirrors policy.PolicySpec in YAML form.
type Policy struct {
	ID              string           `yaml:"id"`
	Scopes          []string         `yaml:"scopes"`
	Intent          string           `yaml:"intent"`
	Guards          *Guards          `yaml:"guards"`
	Quotas          []Quota          `yaml:"quotas"`
	Schedule        *Schedule        `yaml:"schedule"`
	ResponseFilters *ResponseFilters `yaml:"response_filters"`
}

type Guards struct {
	MaxRequestSize  int      `yaml:"max_request_size"`
	MaxResponseSize int      `yaml:"max_response_size"`
	AllowedDomains  []string `yaml:"allowed_domains"`
	BlockedDomains  []string `yaml:"blocked_domains"`
	PIIFilters      []string `yaml:"pii_filters"`
	CustomExprs     []string `yaml:"custom_exprs"`
}

type Quota struct {
	Action        string `yaml:"action"`
	Limit         int    `yaml:"limit"`
	Window        string `yaml:"window"`
	ResetStrategy string `yaml:"reset_strategy"`
}

type Schedule struct {
	Enabled      *bool    `yaml:"enabled"`
	Timezone     string   `yaml:"timezone"`
	AllowedDays  []string `yaml:"allowed_days"`
	AllowedHours *struct {
		Start int `yaml:"start"`
		End   int `yaml:"end"`
	} `yaml:"allowed_hours"`
}

type ResponseFilters struct {
	RedactFields   []string `yaml:"redact_fields"`
	TruncateFields []struct {
		Field     string `yaml:"field"`
		MaxLength int    `yaml:"max_length"`
	} `yaml:"truncate_fields"`
	BlockPatterns []string `yaml:"block_patterns"`
}

// Assignment binds a seeded policy to an agent ID or role.
type Assignment struct {
	PolicyID string `yaml:"policy_id"`
	AgentID  string `yaml:"agent_id"`
	Role     string `yaml:"role"`
}

// Credential seeds one tool secret. The plaintext lives only in the seed
// file; it is sealed on load and never stored as-is.
type Credential struct {
	Tool   string `yaml:"tool"`
	Secret string `yaml:"secret"`
}

// Load parses the seed file at path.
func Load(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("seed: read %s: %w", path, err)
	}
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return File{}, fmt.Errorf("seed: parse %s: %w", path, err)
	}
	return f, nil
}

// Apply writes the seed contents into the given stores. Existing records
// with the same IDs cause an error for agents (Create is strict) and are
// overwritten for policies.
func Apply(ctx context.Context, f File, agents agentreg.Store, policies policy.Store, creds *credential.Store) error {
	for _, a := range f.Agents {
		if a.Name == "" {
			return fmt.Errorf("seed: agent with empty name")
		}
		keys, err := agentreg.GenerateKeyPair()
		if err != nil {
			return err
		}
		id := a.ID
		if id == "" {
			id = uuid.NewString()
		}
		status := agentreg.StatusActive
		if a.Disabled {
			status = agentreg.StatusDisabled
		}
		err = agents.Create(ctx, agentreg.Agent{
			ID:        id,
			Name:      a.Name,
			CreatedBy: a.CreatedBy,
			Role:      a.Role,
			PublicKey: keys.PublicKey,
			Status:    status,
			CreatedAt: time.Now().UTC(),
		})
		if err != nil {
			return fmt.Errorf("seed: create agent %q: %w", a.Name, err)
		}
	}

	for _, p := range f.Policies {
		spec, err := p.toSpec()
		if err != nil {
			return err
		}
		if err := policies.SaveSpec(ctx, spec); err != nil {
			return fmt.Errorf("seed: save policy %q: %w", p.ID, err)
		}
	}

	for _, a := range f.Assignments {
		if a.PolicyID == "" || (a.AgentID == "" && a.Role == "") {
			return fmt.Errorf("seed: assignment needs policy_id and one of agent_id/role")
		}
		err := policies.SaveAssignment(ctx, policy.PolicyAssignment{
			ID:       uuid.NewString(),
			PolicyID: a.PolicyID,
			Target:   policy.AssignmentTarget{AgentID: a.AgentID, Role: a.Role},
		})
		if err != nil {
			return fmt.Errorf("seed: save assignment for %q: %w", a.PolicyID, err)
		}
	}

	for _, c := range f.Credentials {
		if _, err := creds.Put(ctx, credential.Tool(c.Tool), []byte(c.Secret)); err != nil {
			return fmt.Errorf("seed: store credential for %q: %w", c.Tool, err)
		}
	}

	return nil
}

func (p Policy) toSpec() (policy.PolicySpec, error) {
	if p.ID == "" {
		return policy.PolicySpec{}, fmt.Errorf("seed: policy with empty id")
	}
	if len(p.Scopes) == 0 {
		return policy.PolicySpec{}, fmt.Errorf("seed: policy %q has no scopes", p.ID)
	}

	spec := policy.PolicySpec{
		ID:        p.ID,
		Scopes:    p.Scopes,
		Intent:    p.Intent,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}

	if p.Guards != nil {
		spec.Guards = &policy.Guards{
			MaxRequestSize:  p.Guards.MaxRequestSize,
			MaxResponseSize: p.Guards.MaxResponseSize,
			AllowedDomains:  p.Guards.AllowedDomains,
			BlockedDomains:  p.Guards.BlockedDomains,
			PIIFilters:      p.Guards.PIIFilters,
			CustomExprs:     p.Guards.CustomExprs,
		}
	}

	for _, q := range p.Quotas {
		reset := policy.ResetSliding
		if q.ResetStrategy == string(policy.ResetFixed) {
			reset = policy.ResetFixed
		}
		spec.Quotas = append(spec.Quotas, policy.Quota{
			Action:        q.Action,
			Limit:         q.Limit,
			Window:        policy.Window(q.Window),
			ResetStrategy: reset,
		})
	}

	if p.Schedule != nil {
		sched := &policy.Schedule{Enabled: true, Timezone: p.Schedule.Timezone}
		if p.Schedule.Enabled != nil {
			sched.Enabled = *p.Schedule.Enabled
		}
		for _, d := range p.Schedule.AllowedDays {
			day, err := parseWeekday(d)
			if err != nil {
				return policy.PolicySpec{}, fmt.Errorf("seed: policy %q: %w", p.ID, err)
			}
			sched.AllowedDays = append(sched.AllowedDays, day)
		}
		if p.Schedule.AllowedHours != nil {
			sched.AllowedHours = &policy.HourRange{
				Start: p.Schedule.AllowedHours.Start,
				End:   p.Schedule.AllowedHours.End,
			}
		}
		spec.Schedule = sched
	}

	if p.ResponseFilters != nil {
		rf := &policy.ResponseFilters{
			RedactFields:  p.ResponseFilters.RedactFields,
			BlockPatterns: p.ResponseFilters.BlockPatterns,
		}
		for _, tf := range p.ResponseFilters.TruncateFields {
			rf.TruncateFields = append(rf.TruncateFields, policy.TruncateField{
				Field:     tf.Field,
				MaxLength: tf.MaxLength,
			})
		}
		spec.ResponseFilters = rf
	}

	return spec, nil
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

func parseWeekday(s string) (time.Weekday, error) {
	if d, ok := weekdays[strings.ToLower(s)]; ok {
		return d, nil
	}
	return 0, fmt.Errorf("unknown weekday %q", s)
}
