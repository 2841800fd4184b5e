package tooladapter

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/httpclient"
)

// HTTPFetchAdapter is the generic outbound fetch tool.
// It layers a hard suffix/CIDR blocklist (blocklist.go) on top of the
// httpclient.Client's own domain allow-list and SSRF-safe dialer.
type HTTPFetchAdapter struct {
	client *httpclient.Client
}

// NewHTTPFetchAdapter builds an adapter around an already-configured
// httpclient.Client. The adapter has no credential of its own — it is
// "configured" whenever a client is supplied; http_fetch is a call the
// gateway itself performs rather than one
// gated on a sealed upstream credential.
func NewHTTPFetchAdapter(client *httpclient.Client) *HTTPFetchAdapter {
	return &HTTPFetchAdapter{client: client}
}

func (a *HTTPFetchAdapter) Tool() credential.Tool { return credential.ToolHTTPFetch }

func (a *HTTPFetchAdapter) IsConfigured(ctx context.Context) bool {
	return a.client != nil
}

func (a *HTTPFetchAdapter) ValidateParams(action string, params map[string]any) error {
	if action != "fetch" {
		return ValidationError(fmt.Sprintf("http_fetch: unknown action %q", action))
	}
	rawURL, _ := params["url"].(string)
	if rawURL == "" {
		return ValidationError("http_fetch: url parameter is required")
	}
	host := fetchHostOf(rawURL)
	if host == "" {
		return ValidationError("http_fetch: url parameter is not a valid absolute URL")
	}
	if suffixBlocked(host) {
		return ValidationError(fmt.Sprintf("http_fetch: destination %q is blocked by the default security policy", host))
	}
	if literalIPBlocked(host) {
		return ValidationError(fmt.Sprintf("http_fetch: destination %q resolves to a blocked private network", host))
	}
	return nil
}

func (a *HTTPFetchAdapter) Call(ctx context.Context, action string, params map[string]any) (any, error) {
	if !a.IsConfigured(ctx) {
		return nil, UnconfiguredError(credential.ToolHTTPFetch)
	}
	if err := a.ValidateParams(action, params); err != nil {
		return nil, err
	}

	rawURL, _ := params["url"].(string)
	method, _ := params["method"].(string)
	if method == "" {
		method = "GET"
	}
	method = strings.ToUpper(method)

	correlationID, _ := params["correlationId"].(string)

	// The generic fetch tool never attaches a gateway credential; it
	// requests arbitrary allow-listed URLs on the caller's behalf.
	resp, err := a.client.Do(ctx, correlationID, method, rawURL, nil, "")
	if err != nil {
		return nil, wrapFetchError(err)
	}

	return map[string]any{
		"statusCode":    resp.StatusCode,
		"contentType":   resp.ContentType,
		"contentLength": resp.ContentLength,
		"body":          string(resp.Body),
	}, nil
}

// wrapFetchError reclassifies an httpclient error into an adapter Error:
// retryable httpclient failures (network errors, 5xx, 429) become
// UpstreamError so the retry/breaker layers treat them as such, everything
// else becomes a non-retryable ValidationError.
func wrapFetchError(err error) error {
	retryable := false
	if c, ok := err.(interface{ Retryable() bool }); ok {
		retryable = c.Retryable()
	}
	if !retryable {
		return ValidationError(err.Error())
	}
	var retryAfter time.Duration
	if ra, ok := err.(interface{ RetryAfter() time.Duration }); ok {
		retryAfter = ra.RetryAfter()
	}
	return UpstreamError(err.Error(), retryAfter)
}

func fetchHostOf(rawURL string) string {
	withoutScheme := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		withoutScheme = rawURL[idx+3:]
	} else {
		return ""
	}
	host := withoutScheme
	if idx := strings.IndexAny(host, "/?#"); idx >= 0 {
		host = host[:idx]
	}
	if idx := strings.LastIndex(host, "@"); idx >= 0 {
		host = host[idx+1:]
	}
	if idx := strings.LastIndex(host, ":"); idx >= 0 && !strings.Contains(host, "]") {
		host = host[:idx]
	}
	return strings.ToLower(strings.Trim(host, "[]"))
}
