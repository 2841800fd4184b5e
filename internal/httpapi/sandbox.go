package httpapi

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"time"

	"github.com/agentgate/gateway/internal/token"
)

// Sandbox endpoints are registered only when the server runs in demo mode.
// The tokens they mint are raw base64 JSON with no HMAC — they are NOT
// accepted by /api/proxy-request and exist so a dashboard demo can show the
// payload structure without holding the signing secret.

type sandboxTokenRequest struct {
	AgentID    string   `json:"agent_id"`
	Scopes     []string `json:"scopes"`
	TTLSeconds int      `json:"ttl_seconds"`
}

type sandboxTokenResponse struct {
	SandboxToken string `json:"sandbox_token"`
	ExpiresAt    string `json:"expires_at"`
	Warning      string `json:"warning"`
}

// handleSandboxToken implements POST /api/sandbox/token.
func (s *Server) handleSandboxToken(w http.ResponseWriter, r *http.Request) {
	var req sandboxTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.AgentID == "" || len(req.Scopes) == 0 {
		writeError(w, r, http.StatusBadRequest, "validation_error", "agent_id and scopes are required")
		return
	}
	ttl := time.Duration(req.TTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}

	now := time.Now().UTC()
	payload := token.Payload{
		AgentID:   req.AgentID,
		Scopes:    req.Scopes,
		IssuedAt:  now,
		ExpiresAt: now.Add(ttl),
	}
	body, err := json.Marshal(payload)
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, sandboxTokenResponse{
		SandboxToken: base64.RawURLEncoding.EncodeToString(body),
		ExpiresAt:    payload.ExpiresAt.Format(time.RFC3339),
		Warning:      "sandbox token: unsigned, not accepted by /api/proxy-request",
	})
}

type sandboxDecodeRequest struct {
	AgentToken string `json:"agent_token"`
}

type sandboxDecodeResponse struct {
	Payload      token.Payload `json:"payload"`
	Signed       bool          `json:"signed"`
	SignatureOK  bool          `json:"signature_ok,omitempty"`
	Expired      bool          `json:"expired"`
	ExpiringSoon bool          `json:"expiring_soon"`
}

// handleSandboxDecode implements POST /api/sandbox/decode-token: a
// demo-mode introspection endpoint that decodes either a signed proxy
// token or an unsigned sandbox token and reports its validity.
func (s *Server) handleSandboxDecode(w http.ResponseWriter, r *http.Request) {
	var req sandboxDecodeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.AgentToken == "" {
		writeError(w, r, http.StatusBadRequest, "validation_error", "agent_token is required")
		return
	}

	result := s.Codec.Validate(req.AgentToken)
	if result.OK || result.Reason == token.ReasonExpired {
		writeJSON(w, http.StatusOK, sandboxDecodeResponse{
			Payload:      result.Payload,
			Signed:       true,
			SignatureOK:  true,
			Expired:      result.Reason == token.ReasonExpired,
			ExpiringSoon: result.OK && token.IsExpiringSoon(result.Payload),
		})
		return
	}

	// Fall back to the unsigned sandbox form.
	body, err := base64.RawURLEncoding.DecodeString(req.AgentToken)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed", "not a signed token or sandbox token")
		return
	}
	var payload token.Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, r, http.StatusBadRequest, "malformed", "not a signed token or sandbox token")
		return
	}
	writeJSON(w, http.StatusOK, sandboxDecodeResponse{
		Payload:      payload,
		Signed:       false,
		Expired:      !time.Now().UTC().Before(payload.ExpiresAt),
		ExpiringSoon: token.IsExpiringSoon(payload),
	})
}
