package tooladapter

import (
	"context"
	"fmt"

	"github.com/agentgate/gateway/internal/credential"
)

// mockAdapter is a uniform stand-in for any of the four tools: always
// configured, returns deterministic synthetic data, and validates the same
// required params its live counterpart does so policy/pipeline tests
// exercise the same failure paths in mock mode. Chaos injection is applied
// by the proxy pipeline inside its retry loop, not by the adapter itself.
type mockAdapter struct {
	tool     credential.Tool
	action   string
	required []string
	respond  func(params map[string]any) any
}

func (m *mockAdapter) Tool() credential.Tool                { return m.tool }
func (m *mockAdapter) IsConfigured(ctx context.Context) bool { return true }

func (m *mockAdapter) ValidateParams(action string, params map[string]any) error {
	if action != m.action {
		return ValidationError(fmt.Sprintf("%s: unknown action %q", m.tool, action))
	}
	for _, key := range m.required {
		if v, ok := params[key].(string); !ok || v == "" {
			return ValidationError(fmt.Sprintf("%s: %s parameter is required", m.tool, key))
		}
	}
	return nil
}

func (m *mockAdapter) Call(ctx context.Context, action string, params map[string]any) (any, error) {
	if err := m.ValidateParams(action, params); err != nil {
		return nil, err
	}
	return m.respond(params), nil
}

// NewMockSearchAdapter returns a mock "query" search adapter.
func NewMockSearchAdapter() Adapter {
	return &mockAdapter{
		tool: credential.ToolSearch, action: "query", required: []string{"query"},
		respond: func(params map[string]any) any {
			return map[string]any{
				"statusCode": 200,
				"results":    fmt.Sprintf("mock results for %q", params["query"]),
			}
		},
	}
}

// NewMockHTTPFetchAdapter returns a mock "fetch" http_fetch adapter.
func NewMockHTTPFetchAdapter() Adapter {
	return &mockAdapter{
		tool: credential.ToolHTTPFetch, action: "fetch", required: []string{"url"},
		respond: func(params map[string]any) any {
			return map[string]any{
				"statusCode":  200,
				"contentType": "text/plain",
				"body":        fmt.Sprintf("mock body for %v", params["url"]),
			}
		},
	}
}

// NewMockChatAdapter returns a mock "complete" chat adapter.
func NewMockChatAdapter() Adapter {
	return &mockAdapter{
		tool: credential.ToolChat, action: "complete", required: []string{"message"},
		respond: func(params map[string]any) any {
			return map[string]any{
				"statusCode": 200,
				"reply":      fmt.Sprintf("mock reply to %q", params["message"]),
			}
		},
	}
}

// NewMockSendMailAdapter returns a mock "send" send_mail adapter.
func NewMockSendMailAdapter() Adapter {
	return &mockAdapter{
		tool: credential.ToolSendMail, action: "send", required: []string{"to", "subject"},
		respond: func(params map[string]any) any {
			return map[string]any{"statusCode": 202, "accepted": true}
		},
	}
}
