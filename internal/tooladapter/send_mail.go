package tooladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/httpclient"
)

// SendMailAdapter exposes a single "send" action against a configured
// transactional-email HTTP API, using a sealed credential for the API key.
// send actions are never cached; a retried or coalesced send would
// deliver mail twice.
type SendMailAdapter struct {
	client   *httpclient.Client
	creds    *credential.Store
	endpoint string
}

func NewSendMailAdapter(client *httpclient.Client, creds *credential.Store, endpoint string) *SendMailAdapter {
	return &SendMailAdapter{client: client, creds: creds, endpoint: endpoint}
}

func (a *SendMailAdapter) Tool() credential.Tool { return credential.ToolSendMail }

func (a *SendMailAdapter) IsConfigured(ctx context.Context) bool {
	_, err := a.creds.Active(ctx, credential.ToolSendMail)
	return err == nil && a.endpoint != ""
}

func (a *SendMailAdapter) ValidateParams(action string, params map[string]any) error {
	if action != "send" {
		return ValidationError(fmt.Sprintf("send_mail: unknown action %q", action))
	}
	to, _ := params["to"].(string)
	subject, _ := params["subject"].(string)
	if to == "" {
		return ValidationError("send_mail: to parameter is required")
	}
	if subject == "" {
		return ValidationError("send_mail: subject parameter is required")
	}
	return nil
}

func (a *SendMailAdapter) Call(ctx context.Context, action string, params map[string]any) (any, error) {
	if !a.IsConfigured(ctx) {
		return nil, UnconfiguredError(credential.ToolSendMail)
	}
	if err := a.ValidateParams(action, params); err != nil {
		return nil, err
	}
	to, _ := params["to"].(string)
	subject, _ := params["subject"].(string)
	body, _ := params["body"].(string)

	key, err := a.creds.Reveal(ctx, credential.ToolSendMail)
	if err != nil {
		return nil, UnconfiguredError(credential.ToolSendMail)
	}
	defer zero(key)

	payload, err := json.Marshal(map[string]string{"to": to, "subject": subject, "body": body})
	if err != nil {
		return nil, ValidationError("send_mail: failed to encode request body")
	}

	correlationID, _ := params["correlationId"].(string)
	resp, err := a.client.Do(ctx, correlationID, "POST", a.endpoint, bytes.NewReader(payload), "Bearer "+string(key))
	if err != nil {
		return nil, wrapFetchError(err)
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"accepted":   resp.StatusCode < 300,
	}, nil
}
