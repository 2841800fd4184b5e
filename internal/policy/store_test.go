package policy

import (
	"context"
	"testing"
)

func TestMemoryStoreSaveAndGetSpec(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	spec := PolicySpec{ID: "p1", Scopes: []string{"search:query"}}
	if err := s.SaveSpec(ctx, spec); err != nil {
		t.Fatalf("SaveSpec() error = %v", err)
	}

	got, err := s.GetSpec(ctx, "p1")
	if err != nil {
		t.Fatalf("GetSpec() error = %v", err)
	}
	if got.ID != "p1" {
		t.Errorf("GetSpec().ID = %s, want p1", got.ID)
	}
}

func TestMemoryStoreGetSpecNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.GetSpec(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("GetSpec() error = %v, want ErrNotFound", err)
	}
}

func TestResolveByAgentAndRole(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.SaveSpec(ctx, PolicySpec{ID: "p-agent", Scopes: []string{"search:query"}}); err != nil {
		t.Fatalf("SaveSpec() error = %v", err)
	}
	if err := s.SaveSpec(ctx, PolicySpec{ID: "p-role", Scopes: []string{"chat:complete"}}); err != nil {
		t.Fatalf("SaveSpec() error = %v", err)
	}
	if err := s.SaveAssignment(ctx, PolicyAssignment{ID: "a1", PolicyID: "p-agent", Target: AssignmentTarget{AgentID: "agent-1"}}); err != nil {
		t.Fatalf("SaveAssignment() error = %v", err)
	}
	if err := s.SaveAssignment(ctx, PolicyAssignment{ID: "a2", PolicyID: "p-role", Target: AssignmentTarget{Role: "default"}}); err != nil {
		t.Fatalf("SaveAssignment() error = %v", err)
	}

	specs, err := Resolve(ctx, s, "agent-1", "default")
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(specs) != 2 {
		t.Fatalf("Resolve() returned %d specs, want 2", len(specs))
	}
}

func TestDeleteSpecNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.DeleteSpec(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("DeleteSpec() error = %v, want ErrNotFound", err)
	}
}
