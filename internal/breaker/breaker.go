// Package breaker implements the per-tool circuit breaker
// on top of sony/gobreaker: closed/open/half_open with a failure
// window, a cooldown, and a success threshold to re-close.
package breaker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// State mirrors gobreaker.State under the gateway's own vocabulary.
type State int

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "closed"
	}
}

// ErrOpen is returned when a call is rejected because the breaker is open.
var ErrOpen = errors.New("breaker_open")

// Config tunes one tool's breaker. Zero values fall back to the
// defaults below.
type Config struct {
	FailureThreshold int           // default 5
	Window           time.Duration // default 30s
	CooldownPeriod   time.Duration // default 30s
	SuccessThreshold int           // default 2
}

func (c Config) withDefaults() Config {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.Window <= 0 {
		c.Window = 30 * time.Second
	}
	if c.CooldownPeriod <= 0 {
		c.CooldownPeriod = 30 * time.Second
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = 2
	}
	return c
}

// NonBreaking errors are not counted as breaker failures:
// policy_denied and validation_error reflect caller mistakes, not upstream
// instability.
type NonBreaking struct {
	Err error
}

func (n NonBreaking) Error() string { return n.Err.Error() }
func (n NonBreaking) Unwrap() error { return n.Err }

// Breaker wraps one tool's gobreaker.CircuitBreaker. Half-open admits a
// single concurrent probe through the one-slot probe gate below;
// gobreaker's MaxRequests supplies only the consecutive-success count
// required to re-close, with the serialized probes landing one at a time.
type Breaker struct {
	cb    *gobreaker.CircuitBreaker
	probe chan struct{}
}

// New constructs a Breaker named name (used only in error messages/metrics
// labels).
func New(name string, cfg Config) *Breaker {
	cfg = cfg.withDefaults()

	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: uint32(cfg.SuccessThreshold),
		Interval:    cfg.Window,
		Timeout:     cfg.CooldownPeriod,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.TotalFailures >= uint32(cfg.FailureThreshold)
		},
		IsSuccessful: func(err error) bool {
			if err == nil {
				return true
			}
			var nb NonBreaking
			// Counted as a breaker "success" so it never trips ReadyToTrip;
			// Execute still returns the unwrapped original error to the caller.
			return errors.As(err, &nb)
		},
	}

	return &Breaker{
		cb:    gobreaker.NewCircuitBreaker(settings),
		probe: make(chan struct{}, 1),
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	switch b.cb.State() {
	case gobreaker.StateOpen:
		return StateOpen
	case gobreaker.StateHalfOpen:
		return StateHalfOpen
	default:
		return StateClosed
	}
}

// Execute runs fn through the breaker. If the breaker is open, fn is never
// called and ErrOpen is returned. While half-open, at most one probe is in
// flight at a time; a second concurrent caller fails fast with ErrOpen. A
// NonBreaking error from fn is unwrapped and returned as-is without
// affecting breaker counts.
func (b *Breaker) Execute(ctx context.Context, fn func(context.Context) (any, error)) (any, error) {
	if b.cb.State() == gobreaker.StateHalfOpen {
		select {
		case b.probe <- struct{}{}:
			defer func() { <-b.probe }()
		default:
			return nil, fmt.Errorf("%w: %s", ErrOpen, b.cb.Name())
		}
	}

	result, err := b.cb.Execute(func() (any, error) {
		return fn(ctx)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("%w: %s", ErrOpen, b.cb.Name())
		}
		var nb NonBreaking
		if errors.As(err, &nb) {
			return result, nb.Err
		}
		return result, err
	}
	return result, nil
}
