package breaker

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBreakerOpensAfterThreshold(t *testing.T) {
	b := New("search", Config{FailureThreshold: 2, Window: time.Minute, CooldownPeriod: time.Minute})
	ctx := context.Background()

	failing := func(context.Context) (any, error) { return nil, errors.New("boom") }

	for i := 0; i < 2; i++ {
		if _, err := b.Execute(ctx, failing); err == nil {
			t.Fatalf("Execute() call %d: want error", i)
		}
	}

	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want StateOpen", b.State())
	}

	_, err := b.Execute(ctx, func(context.Context) (any, error) { return "unused", nil })
	if !errors.Is(err, ErrOpen) {
		t.Fatalf("Execute() error = %v, want ErrOpen", err)
	}
}

func TestBreakerNonBreakingErrorsDoNotTrip(t *testing.T) {
	b := New("policy", Config{FailureThreshold: 1, Window: time.Minute, CooldownPeriod: time.Minute})
	ctx := context.Background()

	denied := errors.New("policy_denied")
	_, err := b.Execute(ctx, func(context.Context) (any, error) {
		return nil, NonBreaking{Err: denied}
	})
	if !errors.Is(err, denied) {
		t.Fatalf("Execute() error = %v, want unwrapped policy_denied", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want StateClosed after non-breaking error", b.State())
	}
}

func TestBreakerHalfOpenAdmitsSingleProbe(t *testing.T) {
	b := New("search", Config{
		FailureThreshold: 1,
		Window:           time.Minute,
		CooldownPeriod:   50 * time.Millisecond,
		SuccessThreshold: 2,
	})
	ctx := context.Background()

	if _, err := b.Execute(ctx, func(context.Context) (any, error) { return nil, errors.New("boom") }); err == nil {
		t.Fatal("Execute() error = nil, want failure to trip the breaker")
	}
	if b.State() != StateOpen {
		t.Fatalf("State() = %v, want StateOpen", b.State())
	}

	// Past the cooldown, the next call is a half-open probe.
	time.Sleep(70 * time.Millisecond)

	entered := make(chan struct{})
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := b.Execute(ctx, func(context.Context) (any, error) {
			close(entered)
			<-release
			return "ok", nil
		})
		done <- err
	}()
	<-entered

	// A second caller while the probe is in flight must fail fast.
	if _, err := b.Execute(ctx, func(context.Context) (any, error) { return "ok", nil }); !errors.Is(err, ErrOpen) {
		t.Fatalf("concurrent probe error = %v, want ErrOpen", err)
	}

	close(release)
	if err := <-done; err != nil {
		t.Fatalf("first probe error = %v", err)
	}
	if b.State() != StateHalfOpen {
		t.Fatalf("State() after one success = %v, want StateHalfOpen", b.State())
	}

	// The second sequential success reaches SuccessThreshold and closes.
	if _, err := b.Execute(ctx, func(context.Context) (any, error) { return "ok", nil }); err != nil {
		t.Fatalf("second probe error = %v", err)
	}
	if b.State() != StateClosed {
		t.Fatalf("State() = %v, want StateClosed", b.State())
	}
}

func TestBreakerSucceeds(t *testing.T) {
	b := New("chat", Config{})
	ctx := context.Background()

	result, err := b.Execute(ctx, func(context.Context) (any, error) { return "ok", nil })
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if result != "ok" {
		t.Errorf("Execute() = %v, want ok", result)
	}
}
