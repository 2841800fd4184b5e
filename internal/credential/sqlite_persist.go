package credential

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SQLitePersister stores sealed Credential records in sqlite
// (SECRETS_BACKEND=sqlite). Only sealed fields are written; the table never
// holds plaintext. The caller owns the *sql.DB.
type SQLitePersister struct {
	db *sql.DB
}

const sqliteCredentialSchema = `
CREATE TABLE IF NOT EXISTS tool_credentials (
	id              TEXT PRIMARY KEY,
	tool            TEXT NOT NULL,
	nonce_outer     TEXT NOT NULL,
	nonce_inner     TEXT NOT NULL,
	ciphertext_key  TEXT NOT NULL,
	ciphertext_data TEXT NOT NULL,
	created_at      INTEGER NOT NULL,
	revoked_at      INTEGER
);
CREATE INDEX IF NOT EXISTS idx_tool_credentials_tool ON tool_credentials (tool);
`

// NewSQLitePersister creates the tool_credentials table if needed.
func NewSQLitePersister(ctx context.Context, db *sql.DB) (*SQLitePersister, error) {
	if _, err := db.ExecContext(ctx, sqliteCredentialSchema); err != nil {
		return nil, fmt.Errorf("credential: create schema: %w", err)
	}
	return &SQLitePersister{db: db}, nil
}

// Save upserts one sealed record.
func (p *SQLitePersister) Save(ctx context.Context, cred Credential) error {
	var revoked any
	if cred.RevokedAt != nil {
		revoked = cred.RevokedAt.UnixMilli()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO tool_credentials (id, tool, nonce_outer, nonce_inner, ciphertext_key, ciphertext_data, created_at, revoked_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET revoked_at = excluded.revoked_at`,
		cred.ID, string(cred.Tool), cred.Sealed.NonceOuter, cred.Sealed.NonceInner,
		cred.Sealed.CiphertextKey, cred.Sealed.CiphertextData, cred.CreatedAt.UnixMilli(), revoked)
	if err != nil {
		return fmt.Errorf("credential: save: %w", err)
	}
	return nil
}

// LoadAll returns every persisted record, revoked ones included.
func (p *SQLitePersister) LoadAll(ctx context.Context) ([]Credential, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT id, tool, nonce_outer, nonce_inner, ciphertext_key, ciphertext_data, created_at, revoked_at
		 FROM tool_credentials`)
	if err != nil {
		return nil, fmt.Errorf("credential: load: %w", err)
	}
	defer rows.Close()

	var out []Credential
	for rows.Next() {
		var c Credential
		var tool string
		var created int64
		var revoked sql.NullInt64
		if err := rows.Scan(&c.ID, &tool, &c.Sealed.NonceOuter, &c.Sealed.NonceInner,
			&c.Sealed.CiphertextKey, &c.Sealed.CiphertextData, &created, &revoked); err != nil {
			return nil, fmt.Errorf("credential: scan: %w", err)
		}
		c.Tool = Tool(tool)
		c.CreatedAt = time.UnixMilli(created).UTC()
		if revoked.Valid {
			t := time.UnixMilli(revoked.Int64).UTC()
			c.RevokedAt = &t
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
