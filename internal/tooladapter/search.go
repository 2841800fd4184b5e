package tooladapter

import (
	"context"
	"fmt"
	"net/url"

	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/httpclient"
)

// SearchAdapter exposes a single "query" action against a configured
// upstream search API, using a sealed credential for the bearer key.
type SearchAdapter struct {
	client   *httpclient.Client
	creds    *credential.Store
	endpoint string
}

// NewSearchAdapter builds a live search adapter. endpoint is the upstream
// search API base URL.
func NewSearchAdapter(client *httpclient.Client, creds *credential.Store, endpoint string) *SearchAdapter {
	return &SearchAdapter{client: client, creds: creds, endpoint: endpoint}
}

func (a *SearchAdapter) Tool() credential.Tool { return credential.ToolSearch }

func (a *SearchAdapter) IsConfigured(ctx context.Context) bool {
	_, err := a.creds.Active(ctx, credential.ToolSearch)
	return err == nil && a.endpoint != ""
}

func (a *SearchAdapter) ValidateParams(action string, params map[string]any) error {
	if action != "query" {
		return ValidationError(fmt.Sprintf("search: unknown action %q", action))
	}
	query, _ := params["query"].(string)
	if query == "" {
		return ValidationError("search: query parameter is required")
	}
	return nil
}

func (a *SearchAdapter) Call(ctx context.Context, action string, params map[string]any) (any, error) {
	if !a.IsConfigured(ctx) {
		return nil, UnconfiguredError(credential.ToolSearch)
	}
	if err := a.ValidateParams(action, params); err != nil {
		return nil, err
	}
	query, _ := params["query"].(string)

	key, err := a.creds.Reveal(ctx, credential.ToolSearch)
	if err != nil {
		return nil, UnconfiguredError(credential.ToolSearch)
	}
	defer zero(key)

	rawURL := fmt.Sprintf("%s?q=%s", a.endpoint, url.QueryEscape(query))
	correlationID, _ := params["correlationId"].(string)

	resp, err := a.client.Do(ctx, correlationID, "GET", rawURL, nil, "Bearer "+string(key))
	if err != nil {
		return nil, wrapFetchError(err)
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"results":    string(resp.Body),
	}, nil
}

// zero overwrites a credential's plaintext bytes once the call has used
// them; adapters discard decrypted credentials after use.
func zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
