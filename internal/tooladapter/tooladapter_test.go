package tooladapter

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/httpclient"
)

func TestRegistryGet(t *testing.T) {
	reg := NewRegistry(NewMockSearchAdapter(), NewMockChatAdapter())

	if _, ok := reg.Get(credential.ToolSearch); !ok {
		t.Fatal("Get(search) ok = false, want true")
	}
	if _, ok := reg.Get(credential.ToolSendMail); ok {
		t.Fatal("Get(send_mail) ok = true, want false (not registered)")
	}
}

func TestMockAdaptersValidateRequiredParams(t *testing.T) {
	ctx := context.Background()
	tests := []struct {
		name    string
		adapter Adapter
		action  string
		params  map[string]any
	}{
		{"search missing query", NewMockSearchAdapter(), "query", map[string]any{}},
		{"http_fetch missing url", NewMockHTTPFetchAdapter(), "fetch", map[string]any{}},
		{"chat missing message", NewMockChatAdapter(), "complete", map[string]any{}},
		{"send_mail missing to", NewMockSendMailAdapter(), "send", map[string]any{"subject": "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.adapter.Call(ctx, tt.action, tt.params)
			if err == nil {
				t.Fatal("Call() error = nil, want validation error")
			}
			ae, ok := err.(*Error)
			if !ok || ae.Code != "validation_error" {
				t.Fatalf("Call() error = %v, want validation_error", err)
			}
			if ae.Retryable() {
				t.Error("validation errors must not be retryable")
			}
		})
	}
}

func TestMockAdaptersUnknownAction(t *testing.T) {
	_, err := NewMockSearchAdapter().Call(context.Background(), "delete", map[string]any{"query": "x"})
	if err == nil {
		t.Fatal("Call() error = nil, want unknown action error")
	}
}

func TestMockAdaptersSucceed(t *testing.T) {
	ctx := context.Background()

	out, err := NewMockSearchAdapter().Call(ctx, "query", map[string]any{"query": "golang"})
	if err != nil {
		t.Fatalf("search Call() error = %v", err)
	}
	if m, ok := out.(map[string]any); !ok || m["statusCode"] != 200 {
		t.Errorf("search Call() = %+v, want statusCode 200", out)
	}

	out, err = NewMockSendMailAdapter().Call(ctx, "send", map[string]any{"to": "a@b.com", "subject": "hi"})
	if err != nil {
		t.Fatalf("send_mail Call() error = %v", err)
	}
	if m, ok := out.(map[string]any); !ok || m["accepted"] != true {
		t.Errorf("send_mail Call() = %+v, want accepted=true", out)
	}
}

func TestHTTPFetchAdapterBlocksDefaultBlocklist(t *testing.T) {
	client := httpclient.New(httpclient.Config{})
	a := NewHTTPFetchAdapter(client)

	_, err := a.Call(context.Background(), "fetch", map[string]any{"url": "https://pastebin.com/raw/abc"})
	if err == nil {
		t.Fatal("Call() error = nil, want blocklist validation error")
	}
	ae, ok := err.(*Error)
	if !ok || ae.Code != "validation_error" {
		t.Fatalf("Call() error = %v, want validation_error", err)
	}
}

func TestHTTPFetchAdapterBlocksPrivateNetwork(t *testing.T) {
	client := httpclient.New(httpclient.Config{})
	a := NewHTTPFetchAdapter(client)

	_, err := a.Call(context.Background(), "fetch", map[string]any{"url": "http://127.0.0.1:8080/admin"})
	if err == nil {
		t.Fatal("Call() error = nil, want private-network validation error")
	}
}

func TestHTTPFetchAdapterSucceeds(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	// The adapter blocklist and SSRF dialer both reject literal loopback
	// IPs, so the test upstream is reached as localhost with the dial
	// guard relaxed.
	endpoint := strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)
	client := httpclient.New(httpclient.Config{
		AllowedSuffix:        []string{"localhost"},
		InsecureAllowPrivate: true,
	})
	a := NewHTTPFetchAdapter(client)

	out, err := a.Call(context.Background(), "fetch", map[string]any{"url": endpoint})
	if err != nil {
		t.Fatalf("Call() error = %v", err)
	}
	m, ok := out.(map[string]any)
	if !ok || m["statusCode"] != http.StatusOK {
		t.Fatalf("Call() = %+v, want statusCode 200", out)
	}
}

func TestHTTPFetchAdapterMissingURL(t *testing.T) {
	client := httpclient.New(httpclient.Config{})
	a := NewHTTPFetchAdapter(client)

	_, err := a.Call(context.Background(), "fetch", map[string]any{})
	if err == nil {
		t.Fatal("Call() error = nil, want validation error")
	}
}

func TestLiveAdaptersSendSealedCredential(t *testing.T) {
	ctx := context.Background()

	var mu sync.Mutex
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		gotAuth = r.Header.Get("Authorization")
		mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()
	endpoint := strings.Replace(srv.URL, "127.0.0.1", "localhost", 1)

	creds := credential.NewStore(make([]byte, 32))
	for tool, secret := range map[credential.Tool]string{
		credential.ToolSearch:   "sk-search-key",
		credential.ToolChat:     "sk-chat-key",
		credential.ToolSendMail: "sk-mail-key",
	} {
		if _, err := creds.Put(ctx, tool, []byte(secret)); err != nil {
			t.Fatalf("Put(%s): %v", tool, err)
		}
	}

	client := httpclient.New(httpclient.Config{InsecureAllowPrivate: true})

	tests := []struct {
		name    string
		adapter Adapter
		action  string
		params  map[string]any
		want    string
	}{
		{"search", NewSearchAdapter(client, creds, endpoint), "query",
			map[string]any{"query": "golang"}, "Bearer sk-search-key"},
		{"chat", NewChatAdapter(client, creds, endpoint), "complete",
			map[string]any{"message": "hi"}, "Bearer sk-chat-key"},
		{"send_mail", NewSendMailAdapter(client, creds, endpoint), "send",
			map[string]any{"to": "a@b.com", "subject": "hi", "body": "b"}, "Bearer sk-mail-key"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mu.Lock()
			gotAuth = ""
			mu.Unlock()
			if _, err := tt.adapter.Call(ctx, tt.action, tt.params); err != nil {
				t.Fatalf("Call() error = %v", err)
			}
			mu.Lock()
			defer mu.Unlock()
			if gotAuth != tt.want {
				t.Fatalf("Authorization = %q, want %q", gotAuth, tt.want)
			}
		})
	}
}

func TestSearchAdapterUnconfiguredWithoutCredential(t *testing.T) {
	creds := credential.NewStore(make([]byte, 32))
	client := httpclient.New(httpclient.Config{})
	a := NewSearchAdapter(client, creds, "https://search.example.com")

	if a.IsConfigured(context.Background()) {
		t.Fatal("IsConfigured() = true, want false without an active credential")
	}
	_, err := a.Call(context.Background(), "query", map[string]any{"query": "x"})
	ae, ok := err.(*Error)
	if !ok || ae.Code != "unconfigured" {
		t.Fatalf("Call() error = %v, want unconfigured", err)
	}
}
