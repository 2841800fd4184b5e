package audit

import (
	"context"
	"database/sql"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteStoreAppendAndQuery(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t), SQLiteConfig{})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	base := time.Now().UTC().Truncate(time.Millisecond)
	records := []RequestLog{
		{CorrID: "c1", AgentID: "a1", Tool: "search", Action: "query", ResponseTimeMs: 12, StatusCode: 200, Success: true, CreatedAt: base},
		{CorrID: "c2", AgentID: "a1", Tool: "search", Action: "query", ResponseTimeMs: 30, StatusCode: 403, Success: false, ErrorMessage: "quota_exceeded", CreatedAt: base.Add(time.Second)},
		{CorrID: "c3", AgentID: "a2", Tool: "chat", Action: "complete", ResponseTimeMs: 80, StatusCode: 200, Success: true, CreatedAt: base.Add(2 * time.Second)},
	}
	if err := store.Append(ctx, records...); err != nil {
		t.Fatalf("Append: %v", err)
	}

	all, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	if all[0].CorrID != "c3" {
		t.Fatalf("newest first: got %s", all[0].CorrID)
	}

	byAgent, err := store.Query(ctx, Filter{AgentID: "a1"})
	if err != nil {
		t.Fatalf("Query by agent: %v", err)
	}
	if len(byAgent) != 2 {
		t.Fatalf("agent filter: len = %d, want 2", len(byAgent))
	}

	success := true
	ok, err := store.Query(ctx, Filter{Success: &success})
	if err != nil {
		t.Fatalf("Query by success: %v", err)
	}
	if len(ok) != 2 {
		t.Fatalf("success filter: len = %d, want 2", len(ok))
	}

	got, err := store.Query(ctx, Filter{Tool: "chat"})
	if err != nil {
		t.Fatalf("Query by tool: %v", err)
	}
	if len(got) != 1 || got[0].ErrorMessage != "" || got[0].ResponseTimeMs != 80 {
		t.Fatalf("tool filter returned %+v", got)
	}
}

func TestSQLiteStoreRecentUsesRing(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t), SQLiteConfig{CacheSize: 2})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	for i, id := range []string{"r1", "r2", "r3"} {
		rec := RequestLog{CorrID: id, AgentID: "a", Tool: "search", Action: "query",
			StatusCode: 200, Success: true, CreatedAt: time.Now().Add(time.Duration(i) * time.Second)}
		if err := store.Append(ctx, rec); err != nil {
			t.Fatalf("Append: %v", err)
		}
	}

	recent := store.Recent(5)
	if len(recent) != 2 {
		t.Fatalf("ring capacity 2: len = %d", len(recent))
	}
	if recent[0].CorrID != "r3" || recent[1].CorrID != "r2" {
		t.Fatalf("recent order wrong: %s, %s", recent[0].CorrID, recent[1].CorrID)
	}
}

func TestSQLiteStoreRetention(t *testing.T) {
	ctx := context.Background()
	store, err := NewSQLiteStore(ctx, openTestDB(t), SQLiteConfig{Retention: time.Hour})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}

	stale := RequestLog{CorrID: "stale", AgentID: "a", Tool: "search", Action: "query",
		StatusCode: 200, Success: true, CreatedAt: time.Now().Add(-2 * time.Hour)}
	if err := store.Append(ctx, stale); err != nil {
		t.Fatalf("Append stale: %v", err)
	}
	fresh := RequestLog{CorrID: "fresh", AgentID: "a", Tool: "search", Action: "query",
		StatusCode: 200, Success: true, CreatedAt: time.Now()}
	if err := store.Append(ctx, fresh); err != nil {
		t.Fatalf("Append fresh: %v", err)
	}

	all, err := store.Query(ctx, Filter{})
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(all) != 1 || all[0].CorrID != "fresh" {
		t.Fatalf("retention should drop stale row, got %+v", all)
	}
}
