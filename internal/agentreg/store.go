package agentreg

import (
	"context"
	"errors"
)

// ErrNotFound is returned when an agent ID has no corresponding Agent.
var ErrNotFound = errors.New("agentreg: agent not found")

// ErrDuplicateID is returned when Create is called with an ID already in use.
var ErrDuplicateID = errors.New("agentreg: duplicate agent id")

// Store persists Agent records. Audit logs retain agentId even after an
// agent is deleted from the Store, so Store implementations
// must not cascade-delete audit data.
type Store interface {
	// Create inserts a new agent. Returns ErrDuplicateID if id is in use.
	Create(ctx context.Context, agent Agent) error
	// Get returns the agent with the given ID, or ErrNotFound.
	Get(ctx context.Context, id string) (Agent, error)
	// List returns all agents.
	List(ctx context.Context) ([]Agent, error)
	// Update replaces the stored agent record, or returns ErrNotFound.
	Update(ctx context.Context, agent Agent) error
	// Delete removes an agent. Returns ErrNotFound if it does not exist.
	Delete(ctx context.Context, id string) error
}
