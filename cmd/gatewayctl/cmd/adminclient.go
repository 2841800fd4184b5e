package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// adminClient is a thin authenticated JSON client for gatewayctl's
// remote-admin subcommands (chaos, inventory). It is deliberately plain
// net/http: unlike internal/httpclient (which SSRF-hardens outbound tool
// calls), this always targets the operator-supplied --addr of a trusted,
// locally administered gateway instance.
type adminClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAdminClient(addr, token string) *adminClient {
	return &adminClient{baseURL: addr, token: token, http: &http.Client{Timeout: 10 * time.Second}}
}

func (c *adminClient) do(ctx context.Context, method, path string, body any, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("admin API %s %s: %s: %s", method, path, resp.Status, string(data))
	}
	if out != nil && len(data) > 0 {
		return json.Unmarshal(data, out)
	}
	return nil
}
