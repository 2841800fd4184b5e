// Package tooladapter implements the fixed four-tool adapter set from
// the gateway forwards to: search, http_fetch, chat, and send_mail. Every adapter
// satisfies the same Adapter contract in both live and mock mode, so the
// proxy pipeline that calls them is unaware of which mode is active.
package tooladapter

import (
	"context"
	"errors"
	"time"

	"github.com/agentgate/gateway/internal/credential"
)

// ErrUnconfigured names the not-configured condition. The adapters in this
// package do not return it; they report that case as an *Error with Code
// "unconfigured" (see UnconfiguredError).
var ErrUnconfigured = errors.New("tooladapter: not configured")

// ErrUnknownAction names the unknown-action condition. The adapters in this
// package do not return it; they report that case as an *Error with Code
// "validation_error" (see ValidationError).
var ErrUnknownAction = errors.New("tooladapter: unknown action")

// Adapter is the contract every tool implementation satisfies, per
// every implementation must: validate its own params, refuse to run unconfigured, never
// log secrets, and classify its own errors for the breaker/retry layers.
type Adapter interface {
	Tool() credential.Tool
	// IsConfigured reports whether the adapter has everything it needs to
	// execute a live call (e.g. an active credential). Mock adapters are
	// always configured.
	IsConfigured(ctx context.Context) bool
	// ValidateParams checks action and params without performing any I/O,
	// so the proxy pipeline's param-validation step can run ahead of rate
	// limiting and chaos injection. Call re-checks the same thing before it
	// does anything else, so a caller that skips this step is still safe.
	ValidateParams(action string, params map[string]any) error
	// Call executes action with params and returns adapter-specific result
	// data. Errors should implement retry.Classifiable (and, where
	// applicable, retry.RetryAfter) so the proxy's retry/breaker wrapping
	// classifies them correctly.
	Call(ctx context.Context, action string, params map[string]any) (any, error)
}

// Error is the adapter error type. ValidationError marks a non-retryable,
// breaker-exempt failure; validation errors are excluded from breaker
// failure accounting.
type Error struct {
	Code       string // e.g. "validation_error", "unconfigured", "upstream_error"
	Message    string
	retryable  bool
	retryAfter time.Duration
}

func (e *Error) Error() string { return e.Message }

// Retryable implements retry.Classifiable.
func (e *Error) Retryable() bool { return e.retryable }

// RetryAfter implements retry.RetryAfter.
func (e *Error) RetryAfter() time.Duration { return e.retryAfter }

// ValidationError builds a non-retryable validation_error.
func ValidationError(msg string) *Error {
	return &Error{Code: "validation_error", Message: msg, retryable: false}
}

// UnconfiguredError builds a non-retryable unconfigured error.
func UnconfiguredError(tool credential.Tool) *Error {
	return &Error{Code: "unconfigured", Message: "tool " + string(tool) + " is not configured", retryable: false}
}

// UpstreamError builds a retryable upstream failure, optionally carrying a
// server-specified retry delay (e.g. from a 429 Retry-After header).
func UpstreamError(msg string, retryAfter time.Duration) *Error {
	return &Error{Code: "upstream_error", Message: msg, retryable: true, retryAfter: retryAfter}
}

// Registry dispatches calls to the adapter registered for a tool.
type Registry struct {
	adapters map[credential.Tool]Adapter
}

// NewRegistry builds a Registry from a complete set of adapters, one per
// tool in credential.Tools.
func NewRegistry(adapters ...Adapter) *Registry {
	r := &Registry{adapters: make(map[credential.Tool]Adapter, len(adapters))}
	for _, a := range adapters {
		r.adapters[a.Tool()] = a
	}
	return r
}

// Get returns the adapter registered for tool, or false if none is.
func (r *Registry) Get(tool credential.Tool) (Adapter, bool) {
	a, ok := r.adapters[tool]
	return a, ok
}
