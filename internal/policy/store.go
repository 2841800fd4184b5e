package policy

import (
	"context"
	"errors"
	"sync"
)

// ErrNotFound is returned when a PolicySpec ID is unknown.
var ErrNotFound = errors.New("policy: spec not found")

// Store persists PolicySpecs and the assignments that bind them to agents
// or roles.
type Store interface {
	SaveSpec(ctx context.Context, spec PolicySpec) error
	GetSpec(ctx context.Context, id string) (PolicySpec, error)
	DeleteSpec(ctx context.Context, id string) error
	ListSpecs(ctx context.Context) ([]PolicySpec, error)

	SaveAssignment(ctx context.Context, assignment PolicyAssignment) error
	DeleteAssignment(ctx context.Context, id string) error
	ListAssignments(ctx context.Context) ([]PolicyAssignment, error)
}

// MemoryStore is an in-memory Store, safe for concurrent use.
type MemoryStore struct {
	mu          sync.RWMutex
	specs       map[string]PolicySpec
	assignments map[string]PolicyAssignment
}

// NewMemoryStore returns an empty, ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		specs:       make(map[string]PolicySpec),
		assignments: make(map[string]PolicyAssignment),
	}
}

func (s *MemoryStore) SaveSpec(ctx context.Context, spec PolicySpec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.specs[spec.ID] = spec
	return nil
}

func (s *MemoryStore) GetSpec(ctx context.Context, id string) (PolicySpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	spec, ok := s.specs[id]
	if !ok {
		return PolicySpec{}, ErrNotFound
	}
	return spec, nil
}

func (s *MemoryStore) DeleteSpec(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.specs[id]; !ok {
		return ErrNotFound
	}
	delete(s.specs, id)
	return nil
}

func (s *MemoryStore) ListSpecs(ctx context.Context) ([]PolicySpec, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PolicySpec, 0, len(s.specs))
	for _, spec := range s.specs {
		out = append(out, spec)
	}
	return out, nil
}

func (s *MemoryStore) SaveAssignment(ctx context.Context, assignment PolicyAssignment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.assignments[assignment.ID] = assignment
	return nil
}

func (s *MemoryStore) DeleteAssignment(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.assignments[id]; !ok {
		return ErrNotFound
	}
	delete(s.assignments, id)
	return nil
}

func (s *MemoryStore) ListAssignments(ctx context.Context) ([]PolicyAssignment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]PolicyAssignment, 0, len(s.assignments))
	for _, a := range s.assignments {
		out = append(out, a)
	}
	return out, nil
}

// Resolve gathers the PolicySpecs assigned to agentID or to role, in the
// order store.ListAssignments returns the assignments.
func Resolve(ctx context.Context, store Store, agentID, role string) ([]PolicySpec, error) {
	assignments, err := store.ListAssignments(ctx)
	if err != nil {
		return nil, err
	}

	var specs []PolicySpec
	for _, a := range assignments {
		match := (a.Target.AgentID != "" && a.Target.AgentID == agentID) ||
			(a.Target.Role != "" && a.Target.Role == role)
		if !match {
			continue
		}
		spec, err := store.GetSpec(ctx, a.PolicyID)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		specs = append(specs, spec)
	}
	return specs, nil
}
