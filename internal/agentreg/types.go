// Package agentreg is the registry of agents: the principals that hold
// capability tokens and make tool calls through the gateway.
package agentreg

import "time"

// Status is the lifecycle state of an Agent.
type Status string

const (
	// StatusActive agents may be issued tokens and pass the proxy pipeline's
	// agent-status check.
	StatusActive Status = "active"
	// StatusDisabled agents are rejected at the proxy pipeline's agent check
	// even if they present an otherwise-valid token.
	StatusDisabled Status = "disabled"
)

// Agent is a named principal that makes tool calls via the gateway.
type Agent struct {
	ID        string
	Name      string
	CreatedBy string
	Role      string
	PublicKey []byte
	Status    Status
	CreatedAt time.Time
}

// KeyPair is generated once at agent creation. Only PrivateKey is ever
// returned to the caller (in the create-agent response); it is never
// persisted.
type KeyPair struct {
	PublicKey  []byte
	PrivateKey []byte
}
