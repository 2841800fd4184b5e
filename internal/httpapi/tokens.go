package httpapi

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/agentgate/gateway/internal/agentreg"
	"github.com/agentgate/gateway/internal/token"
)

// DefaultGenerateTokenTTL is used when expires_at is absent from the
// request.
const DefaultGenerateTokenTTL = time.Hour

type generateTokenRequest struct {
	AgentID     string    `json:"agent_id"`
	Tools       []string  `json:"tools"`
	Permissions []string  `json:"permissions"`
	ExpiresAt   time.Time `json:"expires_at"`
	// WithTokenID opts into provenance tracking: the server mints a
	// random proof payload,
	// registers its hash, and returns the payload once so the caller can
	// supply it back as proof_payload on proxy-request calls.
	WithTokenID bool `json:"with_token_id"`
}

type generateTokenResponse struct {
	AgentToken   string `json:"agent_token"`
	ExpiresAt    string `json:"expires_at"`
	AgentName    string `json:"agent_name"`
	TokenID      string `json:"token_id,omitempty"`
	ProofPayload string `json:"proof_payload,omitempty"`
}

// handleGenerateToken implements POST /api/generate-token. tools x
// permissions form the cross product of "tool:action" scopes requested
// for this token.
func (s *Server) handleGenerateToken(w http.ResponseWriter, r *http.Request) {
	var req generateTokenRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.AgentID == "" || len(req.Tools) == 0 || len(req.Permissions) == 0 {
		writeError(w, r, http.StatusBadRequest, "validation_error", "agent_id, tools, and permissions are required")
		return
	}

	agent, err := s.Agents.Get(r.Context(), req.AgentID)
	if err != nil {
		if errors.Is(err, agentreg.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "unknown_agent", "no such agent")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	if agent.Status != agentreg.StatusActive {
		writeError(w, r, http.StatusForbidden, "disabled_agent", "agent is not active")
		return
	}

	scopes := make([]string, 0, len(req.Tools)*len(req.Permissions))
	for _, tool := range req.Tools {
		for _, action := range req.Permissions {
			scopes = append(scopes, tool+":"+action)
		}
	}

	ttl := DefaultGenerateTokenTTL
	if !req.ExpiresAt.IsZero() {
		if d := time.Until(req.ExpiresAt); d > 0 {
			ttl = d
		} else {
			writeError(w, r, http.StatusBadRequest, "validation_error", "expires_at must be in the future")
			return
		}
	}

	raw, payload, err := s.Codec.Issue(token.IssueParams{
		AgentID:     agent.ID,
		Scopes:      scopes,
		TTL:         ttl,
		WithTokenID: req.WithTokenID,
	})
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	resp := generateTokenResponse{
		AgentToken: raw,
		ExpiresAt:  payload.ExpiresAt.Format(time.RFC3339),
		AgentName:  agent.Name,
	}

	if req.WithTokenID {
		proof := make([]byte, 32)
		if _, err := rand.Read(proof); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal_error", "generate proof payload: "+err.Error())
			return
		}
		entry := token.RegistryEntry{
			TokenID:     payload.TokenID,
			AgentID:     agent.ID,
			PayloadHash: token.HashPayload(proof),
			IssuedAt:    payload.IssuedAt,
			ExpiresAt:   payload.ExpiresAt,
		}
		if err := s.Registry.Put(r.Context(), entry); err != nil {
			writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
			return
		}
		resp.TokenID = payload.TokenID
		resp.ProofPayload = hex.EncodeToString(proof)
	}

	writeJSON(w, http.StatusCreated, resp)
}
