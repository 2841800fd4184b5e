package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// SQLiteStore persists RequestLogs in a sqlite table, selected when
// DATABASE_URL points at a sqlite file. Like FileStore it keeps a ring
// buffer of recent records for the SSE log stream. The caller owns the
// *sql.DB; Close here only flushes, it never closes the shared handle.
type SQLiteStore struct {
	db        *sql.DB
	cache     *ring
	retention time.Duration
	now       func() time.Time
}

// SQLiteConfig tunes one SQLiteStore.
type SQLiteConfig struct {
	// Retention bounds how long rows are kept; Append opportunistically
	// deletes older rows. Zero means DefaultRetention.
	Retention time.Duration
	// CacheSize is the ring buffer capacity for Recent. Zero means 1000.
	CacheSize int
}

// DefaultRetention matches FileStore's retention window.
const DefaultRetention = 7 * 24 * time.Hour

const sqliteAuditSchema = `
CREATE TABLE IF NOT EXISTS request_logs (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	corr_id          TEXT NOT NULL,
	agent_id         TEXT NOT NULL,
	tool             TEXT NOT NULL,
	action           TEXT NOT NULL,
	response_time_ms INTEGER NOT NULL,
	status_code      INTEGER NOT NULL,
	success          INTEGER NOT NULL,
	error_message    TEXT NOT NULL DEFAULT '',
	created_at       INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_request_logs_created ON request_logs (created_at);
CREATE INDEX IF NOT EXISTS idx_request_logs_agent ON request_logs (agent_id, created_at);
`

// NewSQLiteStore creates the request_logs table if needed and returns a
// Store over db.
func NewSQLiteStore(ctx context.Context, db *sql.DB, cfg SQLiteConfig) (*SQLiteStore, error) {
	if _, err := db.ExecContext(ctx, sqliteAuditSchema); err != nil {
		return nil, fmt.Errorf("audit: create schema: %w", err)
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	return &SQLiteStore{
		db:        db,
		cache:     newRing(cfg.CacheSize),
		retention: cfg.Retention,
		now:       time.Now,
	}, nil
}

// Append inserts records and opportunistically prunes rows past retention.
func (s *SQLiteStore) Append(ctx context.Context, records ...RequestLog) error {
	for _, rec := range records {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = s.now().UTC()
		}
		_, err := s.db.ExecContext(ctx,
			`INSERT INTO request_logs (corr_id, agent_id, tool, action, response_time_ms, status_code, success, error_message, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			rec.CorrID, rec.AgentID, rec.Tool, rec.Action, rec.ResponseTimeMs,
			rec.StatusCode, boolToInt(rec.Success), rec.ErrorMessage, rec.CreatedAt.UnixMilli())
		if err != nil {
			return fmt.Errorf("audit: append: %w", err)
		}
		s.cache.Add(rec)
	}

	cutoff := s.now().Add(-s.retention).UnixMilli()
	_, _ = s.db.ExecContext(ctx, `DELETE FROM request_logs WHERE created_at < ?`, cutoff)
	return nil
}

// Query returns records matching filter, newest first.
func (s *SQLiteStore) Query(ctx context.Context, filter Filter) ([]RequestLog, error) {
	var conds []string
	var args []any
	if !filter.Start.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.Start.UnixMilli())
	}
	if !filter.End.IsZero() {
		conds = append(conds, "created_at <= ?")
		args = append(args, filter.End.UnixMilli())
	}
	if filter.AgentID != "" {
		conds = append(conds, "agent_id = ?")
		args = append(args, filter.AgentID)
	}
	if filter.Tool != "" {
		conds = append(conds, "tool = ?")
		args = append(args, filter.Tool)
	}
	if filter.Success != nil {
		conds = append(conds, "success = ?")
		args = append(args, boolToInt(*filter.Success))
	}

	q := `SELECT corr_id, agent_id, tool, action, response_time_ms, status_code, success, error_message, created_at FROM request_logs`
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY created_at DESC, id DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 500
	}
	q += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("audit: query: %w", err)
	}
	defer rows.Close()

	var out []RequestLog
	for rows.Next() {
		var rec RequestLog
		var success int
		var created int64
		if err := rows.Scan(&rec.CorrID, &rec.AgentID, &rec.Tool, &rec.Action,
			&rec.ResponseTimeMs, &rec.StatusCode, &success, &rec.ErrorMessage, &created); err != nil {
			return nil, fmt.Errorf("audit: scan: %w", err)
		}
		rec.Success = success != 0
		rec.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}

// Recent returns the last n records from the ring buffer, newest first.
func (s *SQLiteStore) Recent(n int) []RequestLog {
	return s.cache.Recent(n)
}

// Flush is a no-op; every Append is already durable.
func (s *SQLiteStore) Flush(ctx context.Context) error { return nil }

// Close releases nothing; the shared *sql.DB belongs to the caller.
func (s *SQLiteStore) Close() error { return nil }

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
