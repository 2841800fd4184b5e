// Package httpclient is the outbound HTTP client used by the http_fetch
// adapter: a correlation-ID-tagged, timeout-bounded, body-capped client
// with defense-in-depth domain allow-listing and SSRF-safe dialing.
// Every call is bounded in time and size here regardless of policy.
package httpclient

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

// DefaultTimeout is the hard per-call timeout when Config.Timeout is unset.
const DefaultTimeout = 6 * time.Second

// DefaultMaxBodyBytes bounds the generic fetch tool's response body.
const DefaultMaxBodyBytes = 1 << 20 // 1 MiB

const userAgent = "agentgate-gateway/1.0"

// Config tunes one Client instance.
type Config struct {
	Timeout       time.Duration
	MaxBodyBytes  int64
	AllowedSuffix []string // hard allow-list of domain suffixes, defense-in-depth

	// InsecureAllowPrivate disables the private-IP dial guard. Never set
	// this in production; it exists so tests can stand up loopback
	// upstreams.
	InsecureAllowPrivate bool
}

func (c Config) withDefaults() Config {
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return c
}

// Client performs outbound HTTP calls on behalf of tool adapters.
type Client struct {
	cfg  Config
	http *http.Client
}

// New constructs a Client. Every Client dials through safeDialContext, so
// SSRF protection applies regardless of what domain allow-list the caller
// configures.
func New(cfg Config) *Client {
	cfg = cfg.withDefaults()
	dial := safeDialContext()
	if cfg.InsecureAllowPrivate {
		dial = (&net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}).DialContext
	}
	transport := &http.Transport{
		DialContext:           dial,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: time.Second,
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Transport: transport, Timeout: cfg.Timeout},
	}
}

// Response is the bounded, header-filtered shape handed up to the policy
// and adapter layers. Only content-type and content-length are forwarded;
// everything else from the upstream response is dropped.
type Response struct {
	StatusCode    int
	ContentType   string
	ContentLength int64
	Body          []byte
}

// RetryableStatus reports whether Response's status code is a class the
// retry layer should treat as retryable (5xx, or 429).
func (r Response) RetryableStatus() bool {
	return r.StatusCode >= 500 || r.StatusCode == http.StatusTooManyRequests
}

// fetchError wraps a non-2xx response or transport failure with retry
// classification by the retry layer.
type fetchError struct {
	err        error
	retryable  bool
	retryAfter time.Duration
}

func (e *fetchError) Error() string        { return e.err.Error() }
func (e *fetchError) Unwrap() error         { return e.err }
func (e *fetchError) Retryable() bool       { return e.retryable }
func (e *fetchError) RetryAfter() time.Duration { return e.retryAfter }

// Do issues an HTTP request to rawURL. correlationID is attached as the
// X-Correlation-ID header so upstream logs can be joined with the
// gateway's own audit trail. authorization, when non-empty, is sent as the
// Authorization header value (e.g. "Bearer <key>"); it is never logged and
// never included in the returned Response.
func (c *Client) Do(ctx context.Context, correlationID, method, rawURL string, body io.Reader, authorization string) (Response, error) {
	if !c.domainAllowed(rawURL) {
		return Response{}, &fetchError{err: fmt.Errorf("httpclient: domain not in hard allow-list: %s", rawURL)}
	}

	req, err := http.NewRequestWithContext(ctx, method, rawURL, body)
	if err != nil {
		return Response{}, &fetchError{err: fmt.Errorf("httpclient: build request: %w", err)}
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("X-Correlation-ID", correlationID)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return Response{}, &fetchError{err: fmt.Errorf("httpclient: request failed: %w", err), retryable: true}
	}
	defer resp.Body.Close()

	limited := io.LimitReader(resp.Body, c.cfg.MaxBodyBytes)
	data, err := io.ReadAll(limited)
	if err != nil {
		return Response{}, &fetchError{err: fmt.Errorf("httpclient: read body: %w", err), retryable: true}
	}

	out := Response{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          data,
	}

	if resp.StatusCode >= 400 {
		retryable := out.RetryableStatus()
		var retryAfter time.Duration
		if resp.StatusCode == http.StatusTooManyRequests {
			retryAfter = parseRetryAfter(resp.Header.Get("Retry-After"))
		}
		return out, &fetchError{
			err:        fmt.Errorf("httpclient: upstream returned status %d", resp.StatusCode),
			retryable:  retryable,
			retryAfter: retryAfter,
		}
	}

	return out, nil
}

func (c *Client) domainAllowed(rawURL string) bool {
	if len(c.cfg.AllowedSuffix) == 0 {
		return true
	}
	host := hostOf(rawURL)
	for _, suffix := range c.cfg.AllowedSuffix {
		s := strings.ToLower(strings.TrimSuffix(suffix, "."))
		if host == s || strings.HasSuffix(host, "."+s) {
			return true
		}
	}
	return false
}

func hostOf(rawURL string) string {
	withoutScheme := rawURL
	if idx := strings.Index(rawURL, "://"); idx >= 0 {
		withoutScheme = rawURL[idx+3:]
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
	return strings.ToLower(host)
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := time.ParseDuration(header + "s"); err == nil {
		return secs
	}
	return 0
}
