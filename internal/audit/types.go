// Package audit implements the RequestLog store: an
// append-only record of every proxied tool call, with a bounded in-memory
// cache for the SSE log stream and file-backed persistence with daily
// rotation and retention.
package audit

import (
	"context"
	"time"
)

// RequestLog is one append-only record of a completed proxy call.
type RequestLog struct {
	CorrID         string    `json:"corrId"`
	AgentID        string    `json:"agentId"`
	Tool           string    `json:"tool"`
	Action         string    `json:"action"`
	ResponseTimeMs int64     `json:"responseTimeMs"`
	StatusCode     int       `json:"statusCode"`
	Success        bool      `json:"success"`
	ErrorMessage   string    `json:"errorMessage,omitempty"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Filter specifies query parameters for the admin request-log query
// endpoint.
type Filter struct {
	Start   time.Time
	End     time.Time
	AgentID string
	Tool    string
	Success *bool
	Limit   int
}

// Store persists RequestLogs.
type Store interface {
	// Append stores records. Must not block the proxy pipeline for long;
	// implementations may buffer internally.
	Append(ctx context.Context, records ...RequestLog) error
	// Query returns records matching filter, newest first.
	Query(ctx context.Context, filter Filter) ([]RequestLog, error)
	// Recent returns the last n records from the in-memory cache, newest
	// first — used for the admin SSE log stream.
	Recent(n int) []RequestLog
	// Flush forces any buffered records to durable storage.
	Flush(ctx context.Context) error
	// Close releases resources held by the store.
	Close() error
}
