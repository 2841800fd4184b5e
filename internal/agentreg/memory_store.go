package agentreg

import (
	"context"
	"sync"
)

// MemoryStore is an in-memory Store. The zero value is not usable; use
// NewMemoryStore.
type MemoryStore struct {
	mu     sync.RWMutex
	agents map[string]Agent
}

// NewMemoryStore returns an empty, ready-to-use MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{agents: make(map[string]Agent)}
}

func (s *MemoryStore) Create(ctx context.Context, agent Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.ID]; ok {
		return ErrDuplicateID
	}
	s.agents[agent.ID] = agent
	return nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	agent, ok := s.agents[id]
	if !ok {
		return Agent{}, ErrNotFound
	}
	return agent, nil
}

func (s *MemoryStore) List(ctx context.Context) ([]Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Agent, 0, len(s.agents))
	for _, agent := range s.agents {
		out = append(out, agent)
	}
	return out, nil
}

func (s *MemoryStore) Update(ctx context.Context, agent Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.ID]; !ok {
		return ErrNotFound
	}
	s.agents[agent.ID] = agent
	return nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[id]; !ok {
		return ErrNotFound
	}
	delete(s.agents, id)
	return nil
}
