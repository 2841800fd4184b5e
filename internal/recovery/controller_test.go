package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/agentgate/gateway/internal/health"
)

type fakeRuntime struct {
	restarted []string
}

func (f *fakeRuntime) Restart(_ context.Context, containerID string, _ time.Duration) error {
	f.restarted = append(f.restarted, containerID)
	return nil
}
func (f *fakeRuntime) Stop(context.Context, string, time.Duration) error { return nil }
func (f *fakeRuntime) Recreate(context.Context, string, time.Duration) (string, error) {
	return "new-id", nil
}

func TestControllerTriggerRunsMatchingStrategy(t *testing.T) {
	rt := &fakeRuntime{}
	ctrl := New(Config{
		Strategies: []Strategy{
			{
				Name:       "restart-on-unhealthy",
				Priority:   1,
				Conditions: []Condition{{Field: "health_status", Operator: "eq", Value: "unhealthy"}},
				Actions: []Action{
					{Type: ActionRestartContainer, Target: "web-1", Timeout: time.Second},
				},
			},
		},
		Runtime:            rt,
		MetricsFn:          func() Metrics { return Metrics{HealthStatus: health.StatusUnhealthy} },
		HealthyFn:          func() bool { return true },
		StabilizationDelay: time.Millisecond,
	})

	attempt, err := ctrl.Trigger(context.Background())
	if err != nil {
		t.Fatalf("Trigger() error = %v", err)
	}
	if !attempt.Success {
		t.Error("expected attempt.Success = true")
	}
	if len(rt.restarted) != 1 || rt.restarted[0] != "web-1" {
		t.Errorf("restarted = %v, want [web-1]", rt.restarted)
	}
	if len(ctrl.History()) != 1 {
		t.Errorf("History() len = %d, want 1", len(ctrl.History()))
	}
}

func TestControllerTriggerNoMatch(t *testing.T) {
	ctrl := New(Config{
		Strategies: []Strategy{
			{Name: "only-unhealthy", Conditions: []Condition{{Field: "health_status", Operator: "eq", Value: "unhealthy"}}},
		},
		MetricsFn: func() Metrics { return Metrics{HealthStatus: health.StatusHealthy} },
	})
	if _, err := ctrl.Trigger(context.Background()); err != ErrNoMatchingStrategy {
		t.Errorf("err = %v, want ErrNoMatchingStrategy", err)
	}
}

func TestCommandRunnerReturnsErrorOnNonTransientFailure(t *testing.T) {
	r := NewCommandRunner(CommandRunnerConfig{MaxAttempts: 2, Base: time.Millisecond, Timeout: time.Second})
	// "false" exits 1 with no output; its failure is not in the transient
	// substring list, so Run should not retry past the first attempt.
	_, err := r.Run(context.Background(), "false")
	if err == nil {
		t.Fatal("expected error from a command that exits non-zero")
	}
}
