package tooladapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/httpclient"
)

// ChatAdapter exposes a single "complete" action against a configured
// upstream chat-completion API, using a sealed credential for the bearer
// key.
type ChatAdapter struct {
	client   *httpclient.Client
	creds    *credential.Store
	endpoint string
}

func NewChatAdapter(client *httpclient.Client, creds *credential.Store, endpoint string) *ChatAdapter {
	return &ChatAdapter{client: client, creds: creds, endpoint: endpoint}
}

func (a *ChatAdapter) Tool() credential.Tool { return credential.ToolChat }

func (a *ChatAdapter) IsConfigured(ctx context.Context) bool {
	_, err := a.creds.Active(ctx, credential.ToolChat)
	return err == nil && a.endpoint != ""
}

func (a *ChatAdapter) ValidateParams(action string, params map[string]any) error {
	if action != "complete" {
		return ValidationError(fmt.Sprintf("chat: unknown action %q", action))
	}
	message, _ := params["message"].(string)
	if message == "" {
		return ValidationError("chat: message parameter is required")
	}
	return nil
}

func (a *ChatAdapter) Call(ctx context.Context, action string, params map[string]any) (any, error) {
	if !a.IsConfigured(ctx) {
		return nil, UnconfiguredError(credential.ToolChat)
	}
	if err := a.ValidateParams(action, params); err != nil {
		return nil, err
	}
	message, _ := params["message"].(string)

	key, err := a.creds.Reveal(ctx, credential.ToolChat)
	if err != nil {
		return nil, UnconfiguredError(credential.ToolChat)
	}
	defer zero(key)

	body, err := json.Marshal(map[string]string{"message": message})
	if err != nil {
		return nil, ValidationError("chat: failed to encode request body")
	}

	correlationID, _ := params["correlationId"].(string)
	resp, err := a.client.Do(ctx, correlationID, "POST", a.endpoint, bytes.NewReader(body), "Bearer "+string(key))
	if err != nil {
		return nil, wrapFetchError(err)
	}

	return map[string]any{
		"statusCode": resp.StatusCode,
		"reply":      string(resp.Body),
	}, nil
}
