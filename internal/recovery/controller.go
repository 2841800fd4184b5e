package recovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// DefaultStabilizationDelay is how long Controller waits after running a
// strategy's actions before re-checking health to decide success/failure
// (default 10s).
const DefaultStabilizationDelay = 10 * time.Second

// DefaultMaxConcurrent bounds how many recoveries run at once; additional
// triggers queue; concurrent recoveries are capped.
const DefaultMaxConcurrent = 1

// Notifier is invoked for notify_operator actions. Implementations should
// not block for long; the controller does not retry a failed notify.
type Notifier func(ctx context.Context, attemptID, message string) error

// Attempt records one run of a Strategy, for the admin recovery-history
// surface. Attempts are kept in memory only (see History); they are not
// written to disk.
type Attempt struct {
	ID         string    `json:"id"`
	Strategy   string    `json:"strategy"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Success    bool      `json:"success"`
	Detail     string    `json:"detail,omitempty"`
}

// Controller selects and runs recovery Strategies against a live Metrics
// snapshot, enforcing a concurrency cap and a post-action stabilization
// recheck.
type Controller struct {
	strategies []Strategy
	runtime    ContainerRuntime
	cmd        *CommandRunner
	notify     Notifier
	metricsFn  func() Metrics
	healthFn   func() bool // returns true if healthy, invoked after the stabilization delay
	stabilize  time.Duration

	sem chan struct{}

	mu       sync.Mutex
	history  []Attempt
}

// Config constructs a Controller.
type Config struct {
	Strategies          []Strategy
	Runtime             ContainerRuntime
	CommandRunner       *CommandRunner
	Notifier            Notifier
	MetricsFn           func() Metrics
	HealthyFn           func() bool
	StabilizationDelay  time.Duration // default 10s
	MaxConcurrent       int           // default 1
}

// New constructs a Controller from cfg.
func New(cfg Config) *Controller {
	strategies := append([]Strategy(nil), cfg.Strategies...)
	sort.SliceStable(strategies, func(i, j int) bool { return strategies[i].Priority < strategies[j].Priority })

	stabilize := cfg.StabilizationDelay
	if stabilize <= 0 {
		stabilize = DefaultStabilizationDelay
	}
	maxConcurrent := cfg.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrent
	}

	return &Controller{
		strategies: strategies,
		runtime:    cfg.Runtime,
		cmd:        cfg.CommandRunner,
		notify:     cfg.Notifier,
		metricsFn:  cfg.MetricsFn,
		healthFn:   cfg.HealthyFn,
		stabilize:  stabilize,
		sem:        make(chan struct{}, maxConcurrent),
	}
}

// ErrNoMatchingStrategy is returned when no strategy's conditions match
// current metrics.
var ErrNoMatchingStrategy = errors.New("recovery: no strategy matches current metrics")

// Trigger selects the highest-priority matching strategy for the current
// metrics and runs it. Additional concurrent Trigger calls beyond
// MaxConcurrent block on the semaphore, so additional recoveries
// queue.
func (c *Controller) Trigger(ctx context.Context) (Attempt, error) {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return Attempt{}, ctx.Err()
	}
	defer func() { <-c.sem }()

	metrics := Metrics{}
	if c.metricsFn != nil {
		metrics = c.metricsFn()
	}

	var chosen *Strategy
	for i := range c.strategies {
		if c.strategies[i].Matches(metrics) {
			chosen = &c.strategies[i]
			break
		}
	}
	if chosen == nil {
		return Attempt{}, ErrNoMatchingStrategy
	}

	attempt := Attempt{ID: uuid.NewString(), Strategy: chosen.Name, StartedAt: time.Now()}

	for _, action := range chosen.Actions {
		actionCtx := ctx
		var cancel context.CancelFunc
		if action.Timeout > 0 {
			actionCtx, cancel = context.WithTimeout(ctx, action.Timeout)
		}
		err := c.runAction(actionCtx, attempt.ID, action)
		if cancel != nil {
			cancel()
		}
		if err != nil {
			attempt.FinishedAt = time.Now()
			attempt.Success = false
			attempt.Detail = err.Error()
			c.record(attempt)
			return attempt, fmt.Errorf("recovery: action %s failed: %w", action.Type, err)
		}
	}

	time.Sleep(c.stabilize)

	healthy := true
	if c.healthFn != nil {
		healthy = c.healthFn()
	}
	attempt.FinishedAt = time.Now()
	attempt.Success = healthy
	if !healthy {
		attempt.Detail = "unhealthy after stabilization delay"
	}
	c.record(attempt)
	return attempt, nil
}

func (c *Controller) runAction(ctx context.Context, attemptID string, action Action) error {
	switch action.Type {
	case ActionCollectLogs:
		if c.cmd == nil {
			return nil
		}
		_, err := c.cmd.Run(ctx, "docker", "logs", "--tail", "500", action.Target)
		return err
	case ActionRestartContainer:
		if c.runtime == nil {
			return errors.New("recovery: no container runtime configured")
		}
		return c.runtime.Restart(ctx, action.Target, action.Timeout)
	case ActionStopContainer:
		if c.runtime == nil {
			return errors.New("recovery: no container runtime configured")
		}
		return c.runtime.Stop(ctx, action.Target, action.Timeout)
	case ActionRecreateContainer:
		if c.runtime == nil {
			return errors.New("recovery: no container runtime configured")
		}
		_, err := c.runtime.Recreate(ctx, action.Target, action.Timeout)
		return err
	case ActionNotifyOperator:
		if c.notify == nil {
			return nil
		}
		return c.notify(ctx, attemptID, action.Params["message"])
	default:
		return fmt.Errorf("recovery: unknown action type %q", action.Type)
	}
}

func (c *Controller) record(a Attempt) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history = append(c.history, a)
}

// History returns every recorded Attempt, oldest first.
func (c *Controller) History() []Attempt {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Attempt, len(c.history))
	copy(out, c.history)
	return out
}
