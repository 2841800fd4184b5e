package agentreg

import (
	"context"
	"reflect"
	"testing"
	"time"
)

func newTestAgent(id string) Agent {
	return Agent{
		ID:        id,
		Name:      "agent-" + id,
		CreatedBy: "admin",
		Role:      "default",
		Status:    StatusActive,
		CreatedAt: time.Unix(0, 0).UTC(),
	}
}

func TestMemoryStoreCreateGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	a := newTestAgent("a1")
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !reflect.DeepEqual(got, a) {
		t.Errorf("Get() = %+v, want %+v", got, a)
	}
}

func TestMemoryStoreCreateDuplicate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	if err := s.Create(ctx, newTestAgent("a1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Create(ctx, newTestAgent("a1")); err != ErrDuplicateID {
		t.Fatalf("Create() duplicate error = %v, want ErrDuplicateID", err)
	}
}

func TestMemoryStoreGetNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if _, err := s.Get(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("Get() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreList(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newTestAgent("a1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Create(ctx, newTestAgent("a2")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	got, err := s.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("List() returned %d agents, want 2", len(got))
	}
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	a := newTestAgent("a1")
	if err := s.Create(ctx, a); err != nil {
		t.Fatalf("Create() error = %v", err)
	}

	a.Status = StatusDisabled
	if err := s.Update(ctx, a); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	got, err := s.Get(ctx, "a1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Status != StatusDisabled {
		t.Errorf("Get().Status = %v, want StatusDisabled", got.Status)
	}
}

func TestMemoryStoreUpdateNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Update(ctx, newTestAgent("missing")); err != ErrNotFound {
		t.Fatalf("Update() error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Create(ctx, newTestAgent("a1")); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if err := s.Delete(ctx, "a1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := s.Get(ctx, "a1"); err != ErrNotFound {
		t.Fatalf("Get() after delete error = %v, want ErrNotFound", err)
	}
}

func TestMemoryStoreDeleteNotFound(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()
	if err := s.Delete(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("Delete() error = %v, want ErrNotFound", err)
	}
}
