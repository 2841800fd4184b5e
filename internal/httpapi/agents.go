package httpapi

import (
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/gateway/internal/agentreg"
)

type createAgentRequest struct {
	Name      string `json:"name"`
	CreatedBy string `json:"created_by"`
	Role      string `json:"role"`
}

type createAgentResponse struct {
	AgentID    string `json:"agent_id"`
	PrivateKey string `json:"private_key"`
}

// handleCreateAgent implements POST /api/create-agent: mints
// an Ed25519 key pair, persists the Agent with only its public key, and
// returns the private key exactly once.
func (s *Server) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req createAgentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.Name == "" {
		writeError(w, r, http.StatusBadRequest, "validation_error", "name is required")
		return
	}

	keys, err := agentreg.GenerateKeyPair()
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	agent := agentreg.Agent{
		ID:        uuid.NewString(),
		Name:      req.Name,
		CreatedBy: req.CreatedBy,
		Role:      req.Role,
		PublicKey: keys.PublicKey,
		Status:    agentreg.StatusActive,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.Agents.Create(r.Context(), agent); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, createAgentResponse{
		AgentID:    agent.ID,
		PrivateKey: hex.EncodeToString(keys.PrivateKey),
	})
}

type agentView struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CreatedBy string `json:"createdBy"`
	Role      string `json:"role"`
	Status    string `json:"status"`
	CreatedAt string `json:"createdAt"`
}

func toAgentView(a agentreg.Agent) agentView {
	return agentView{
		ID:        a.ID,
		Name:      a.Name,
		CreatedBy: a.CreatedBy,
		Role:      a.Role,
		Status:    string(a.Status),
		CreatedAt: a.CreatedAt.Format(time.RFC3339),
	}
}

// handleListAgents implements GET /api/agents.
func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.Agents.List(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	views := make([]agentView, 0, len(agents))
	for _, a := range agents {
		views = append(views, toAgentView(a))
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGetAgent implements GET /api/agents/:id.
func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	agent, err := s.Agents.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, agentreg.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no such agent")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, toAgentView(agent))
}
