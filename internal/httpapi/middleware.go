// Package httpapi is the HTTP transport adapter for the gateway: it wires
// the proxy pipeline and every admin surface onto net/http, following the
// usual net/http conventions: a middleware
// chain built from functional wrappers, a request-scoped logger stashed
// in context, and a plain http.ServeMux for routing.
package httpapi

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

type contextKey struct{ name string }

var (
	requestIDKey = contextKey{"request_id"}
	loggerKey    = contextKey{"logger"}
	principalKey = contextKey{"admin_principal"}
)

// RequestIDMiddleware extracts or generates a correlation ID and enriches
// the logger. The ID is always echoed back as X-Correlation-Id.
func RequestIDMiddleware(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			corrID := r.Header.Get("X-Correlation-Id")
			if corrID == "" {
				corrID = uuid.NewString()
			}
			enriched := logger.With("correlation_id", corrID)
			ctx := context.WithValue(r.Context(), requestIDKey, corrID)
			ctx = context.WithValue(ctx, loggerKey, enriched)
			w.Header().Set("X-Correlation-Id", corrID)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func requestIDFromContext(ctx context.Context) string {
	if id, ok := ctx.Value(requestIDKey).(string); ok {
		return id
	}
	return ""
}

func loggerFromContext(ctx context.Context) *slog.Logger {
	if logger, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return logger
	}
	return slog.Default()
}

// RealIPMiddleware extracts the caller's IP for rate limiting, following
// the usual proxy-header precedence (X-Forwarded-For, then
// X-Real-IP, then RemoteAddr).
func RealIPMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ip := extractRealIP(r)
		ctx := context.WithValue(r.Context(), contextKey{"real_ip"}, ip)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func extractRealIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return ip
		}
	}
	if xri := r.Header.Get("X-Real-IP"); xri != "" {
		return strings.TrimSpace(xri)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// chain applies middlewares outermost-first (the first argument wraps
// everything that follows).
func chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}
