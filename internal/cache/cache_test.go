package cache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func TestFingerprintDeterministic(t *testing.T) {
	params := map[string]any{"b": 2, "a": 1}
	scopes := []string{"search:read", "chat:read"}

	f1 := Fingerprint("search", "query", params, scopes)
	f2 := Fingerprint("search", "query", map[string]any{"a": 1, "b": 2}, []string{"chat:read", "search:read"})

	if f1 != f2 {
		t.Errorf("Fingerprint() not stable under key/scope reordering: %s != %s", f1, f2)
	}
}

func TestFingerprintDistinguishesScopes(t *testing.T) {
	params := map[string]any{"q": "x"}
	f1 := Fingerprint("search", "query", params, []string{"search:read"})
	f2 := Fingerprint("search", "query", params, []string{"search:read", "search:admin"})

	if f1 == f2 {
		t.Error("Fingerprint() must differ across distinct scope sets")
	}
}

func TestGetOrBuildCachesSuccess(t *testing.T) {
	c := New(Config{TTL: time.Minute})
	var calls int32

	build := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	}

	for i := 0; i < 3; i++ {
		v, err := c.GetOrBuild(context.Background(), "fp1", build)
		if err != nil || v != "value" {
			t.Fatalf("GetOrBuild() = (%v, %v), want (value, nil)", v, err)
		}
	}
	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("build called %d times, want 1 (cached after first)", calls)
	}
}

func TestGetOrBuildDoesNotCacheErrors(t *testing.T) {
	c := New(Config{TTL: time.Minute})
	wantErr := errors.New("boom")

	_, err := c.GetOrBuild(context.Background(), "fp1", func(ctx context.Context) (any, error) {
		return nil, wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("GetOrBuild() error = %v, want %v", err, wantErr)
	}

	var calls int32
	_, _ = c.GetOrBuild(context.Background(), "fp1", func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		return "value", nil
	})
	if atomic.LoadInt32(&calls) != 1 {
		t.Error("a failed build must not be cached; the next call should attempt again")
	}
}

func TestGetOrBuildCoalescesConcurrentCallers(t *testing.T) {
	c := New(Config{TTL: time.Minute})
	var calls int32
	start := make(chan struct{})

	build := func(ctx context.Context) (any, error) {
		atomic.AddInt32(&calls, 1)
		<-start
		return "value", nil
	}

	var wg sync.WaitGroup
	results := make([]any, 10)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			v, _ := c.GetOrBuild(context.Background(), "fp-shared", build)
			results[idx] = v
		}(i)
	}

	time.Sleep(20 * time.Millisecond) // let goroutines reach the in-flight wait
	close(start)
	wg.Wait()

	if atomic.LoadInt32(&calls) != 1 {
		t.Errorf("build called %d times, want exactly 1 for concurrent same-fingerprint callers", calls)
	}
	for _, v := range results {
		if v != "value" {
			t.Errorf("result = %v, want value", v)
		}
	}
}

func TestTTLExpiry(t *testing.T) {
	c := New(Config{TTL: 10 * time.Millisecond})
	_, _ = c.GetOrBuild(context.Background(), "fp1", func(ctx context.Context) (any, error) {
		return "value", nil
	})

	if _, ok := c.Get("fp1"); !ok {
		t.Fatal("expected entry present immediately after build")
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := c.Get("fp1"); ok {
		t.Error("expected entry to have expired")
	}
}

func TestLRUEviction(t *testing.T) {
	c := New(Config{TTL: time.Minute, MaxEntries: 2})
	ctx := context.Background()

	build := func(v string) func(context.Context) (any, error) {
		return func(context.Context) (any, error) { return v, nil }
	}

	_, _ = c.GetOrBuild(ctx, "a", build("a"))
	_, _ = c.GetOrBuild(ctx, "b", build("b"))
	_, _ = c.GetOrBuild(ctx, "a", build("a")) // touch a, making b the LRU victim
	_, _ = c.GetOrBuild(ctx, "c", build("c")) // evicts b

	if _, ok := c.Get("b"); ok {
		t.Error("expected b to have been evicted as least-recently-used")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("expected a to still be cached (recently touched)")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("expected c to be cached")
	}
	if c.Len() != 2 {
		t.Errorf("Len() = %d, want 2", c.Len())
	}
}

func TestInvalidate(t *testing.T) {
	c := New(Config{TTL: time.Minute})
	_, _ = c.GetOrBuild(context.Background(), "fp1", func(context.Context) (any, error) {
		return "value", nil
	})
	c.Invalidate("fp1")
	if _, ok := c.Get("fp1"); ok {
		t.Error("expected entry to be gone after Invalidate")
	}
}
