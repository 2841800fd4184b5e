package token

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SQLiteRegistry is the durable single-instance Registry backend, selected
// when DATABASE_URL points at a sqlite file. The caller owns the *sql.DB
// (open, pragmas, Close); several stores may share one handle.
type SQLiteRegistry struct {
	db *sql.DB
}

const sqliteRegistrySchema = `
CREATE TABLE IF NOT EXISTS token_registry (
	token_id     TEXT PRIMARY KEY,
	agent_id     TEXT NOT NULL,
	payload_hash TEXT NOT NULL,
	issued_at    INTEGER NOT NULL,
	expires_at   INTEGER NOT NULL,
	is_revoked   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_token_registry_expires ON token_registry (expires_at);
`

// NewSQLiteRegistry creates the token_registry table if needed and returns
// a Registry over db.
func NewSQLiteRegistry(ctx context.Context, db *sql.DB) (*SQLiteRegistry, error) {
	if _, err := db.ExecContext(ctx, sqliteRegistrySchema); err != nil {
		return nil, fmt.Errorf("token: create registry schema: %w", err)
	}
	return &SQLiteRegistry{db: db}, nil
}

// Put stores a freshly issued entry. TokenID must be unique.
func (r *SQLiteRegistry) Put(ctx context.Context, entry RegistryEntry) error {
	if entry.TokenID == "" {
		return errors.New("token: registry entry requires a tokenId")
	}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO token_registry (token_id, agent_id, payload_hash, issued_at, expires_at, is_revoked)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		entry.TokenID, entry.AgentID, entry.PayloadHash,
		entry.IssuedAt.UnixMilli(), entry.ExpiresAt.UnixMilli(), boolToInt(entry.IsRevoked))
	if err != nil {
		return fmt.Errorf("token: put registry entry: %w", err)
	}
	return nil
}

// Get returns the entry for tokenID.
func (r *SQLiteRegistry) Get(ctx context.Context, tokenID string) (RegistryEntry, error) {
	row := r.db.QueryRowContext(ctx,
		`SELECT token_id, agent_id, payload_hash, issued_at, expires_at, is_revoked
		 FROM token_registry WHERE token_id = ?`, tokenID)
	var entry RegistryEntry
	var issued, expires int64
	var revoked int
	err := row.Scan(&entry.TokenID, &entry.AgentID, &entry.PayloadHash, &issued, &expires, &revoked)
	if errors.Is(err, sql.ErrNoRows) {
		return RegistryEntry{}, ErrRegistryEntryNotFound
	}
	if err != nil {
		return RegistryEntry{}, fmt.Errorf("token: get registry entry: %w", err)
	}
	entry.IssuedAt = time.UnixMilli(issued).UTC()
	entry.ExpiresAt = time.UnixMilli(expires).UTC()
	entry.IsRevoked = revoked != 0
	return entry, nil
}

// Revoke flips is_revoked to 1; the flip is monotonic since nothing ever
// writes 0 after insert.
func (r *SQLiteRegistry) Revoke(ctx context.Context, tokenID string) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE token_registry SET is_revoked = 1 WHERE token_id = ?`, tokenID)
	if err != nil {
		return fmt.Errorf("token: revoke registry entry: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("token: revoke registry entry: %w", err)
	}
	if n == 0 {
		return ErrRegistryEntryNotFound
	}
	return nil
}

// PruneExpired deletes rows whose expiry is before cutoff and returns how
// many were removed. Intended for a periodic sweep; the registry remains
// correct without it, just larger.
func (r *SQLiteRegistry) PruneExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM token_registry WHERE expires_at < ?`, cutoff.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("token: prune registry: %w", err)
	}
	return res.RowsAffected()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
