package httpapi

import (
	"encoding/hex"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/agentgate/gateway/internal/proxy"
)

type proxyRequestBody struct {
	AgentToken   string         `json:"agent_token"`
	TokenID      string         `json:"token_id,omitempty"`
	ProofPayload string         `json:"proof_payload,omitempty"`
	Tool         string         `json:"tool"`
	Action       string         `json:"action"`
	Params       map[string]any `json:"params"`
}

// handleProxyRequest implements POST /api/proxy-request:
// decodes the body, runs it through the pipeline, and translates the
// uniform proxy.Response into HTTP status, headers, and JSON body.
func (s *Server) handleProxyRequest(w http.ResponseWriter, r *http.Request) {
	var body proxyRequestBody
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}

	var proof []byte
	if body.ProofPayload != "" {
		decoded, err := hex.DecodeString(body.ProofPayload)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "validation_error", "proof_payload must be hex-encoded")
			return
		}
		proof = decoded
	}

	req := proxy.Request{
		CorrelationID: r.Header.Get("X-Correlation-Id"),
		AgentToken:    body.AgentToken,
		TokenID:       body.TokenID,
		ProofPayload:  proof,
		Tool:          body.Tool,
		Action:        body.Action,
		Params:        body.Params,
	}

	ctx, endSpan := s.Tracer.StartRequestSpan(r.Context(), req.CorrelationID, req.Tool, req.Action)
	resp := s.Pipeline.Handle(ctx, req)
	if resp.Success {
		endSpan(nil)
	} else {
		endSpan(errors.New(resp.Error))
	}

	w.Header().Set("X-Correlation-Id", resp.CorrelationID)
	if resp.RotationRecommended {
		w.Header().Set("X-Token-Rotation-Recommended", "true")
	}
	if !resp.TokenExpiresAt.IsZero() {
		w.Header().Set("X-Token-Expires-At", resp.TokenExpiresAt.Format(time.RFC3339))
	}
	if resp.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(resp.RetryAfter.Seconds())))
	}

	status := resp.StatusCode
	if status == 0 {
		if resp.Success {
			status = http.StatusOK
		} else {
			status = http.StatusInternalServerError
		}
	}
	writeJSON(w, status, resp)
}
