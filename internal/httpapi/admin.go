package httpapi

import (
	"encoding/hex"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/agentgate/gateway/internal/chaos"
	"github.com/agentgate/gateway/internal/credential"
	"github.com/agentgate/gateway/internal/degradation"
	"github.com/agentgate/gateway/internal/policy"
	"github.com/agentgate/gateway/internal/recovery"
)

// --- Policy CRUD -----------------------------------------------------

func (s *Server) handleListPolicies(w http.ResponseWriter, r *http.Request) {
	specs, err := s.PolicyStore.ListSpecs(r.Context())
	if err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, specs)
}

func (s *Server) handleSavePolicy(w http.ResponseWriter, r *http.Request) {
	var spec policy.PolicySpec
	if err := decodeJSON(r, &spec); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if len(spec.Scopes) == 0 {
		writeError(w, r, http.StatusBadRequest, "validation_error", "scopes must be non-empty")
		return
	}
	if spec.ID == "" {
		spec.ID = uuid.NewString()
		spec.CreatedAt = time.Now().UTC()
	}
	spec.UpdatedAt = time.Now().UTC()
	if err := s.PolicyStore.SaveSpec(r.Context(), spec); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, spec)
}

func (s *Server) handleDeletePolicy(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.PolicyStore.DeleteSpec(r.Context(), id); err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no such policy")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type saveAssignmentRequest struct {
	ID       string `json:"id"`
	PolicyID string `json:"policy_id"`
	AgentID  string `json:"agent_id,omitempty"`
	Role     string `json:"role,omitempty"`
}

func (s *Server) handleSaveAssignment(w http.ResponseWriter, r *http.Request) {
	var req saveAssignmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.PolicyID == "" || (req.AgentID == "" && req.Role == "") {
		writeError(w, r, http.StatusBadRequest, "validation_error", "policy_id and one of agent_id/role are required")
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	assignment := policy.PolicyAssignment{
		ID:       req.ID,
		PolicyID: req.PolicyID,
		Target:   policy.AssignmentTarget{AgentID: req.AgentID, Role: req.Role},
	}
	if err := s.PolicyStore.SaveAssignment(r.Context(), assignment); err != nil {
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, assignment)
}

func (s *Server) handleDeleteAssignment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.PolicyStore.DeleteAssignment(r.Context(), id); err != nil {
		if errors.Is(err, policy.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no such assignment")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Chaos configuration ----------------------------------------------

type chaosSetting struct {
	Tool string `json:"tool"`
	Mode string `json:"mode"`
	Pct  int    `json:"pct"`
}

func (s *Server) handleListChaos(w http.ResponseWriter, r *http.Request) {
	all := s.Chaos.All()
	out := make([]chaosSetting, 0, len(all))
	for tool, setting := range all {
		out = append(out, chaosSetting{Tool: tool, Mode: string(setting.Mode), Pct: setting.ProbabilityPercent})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetChaos(w http.ResponseWriter, r *http.Request) {
	var req chaosSetting
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	mode := chaos.Mode(req.Mode)
	if !mode.Valid() {
		writeError(w, r, http.StatusBadRequest, "validation_error", "mode must be one of timeout, error_500, jitter")
		return
	}
	if req.Pct < 0 || req.Pct > 100 {
		writeError(w, r, http.StatusBadRequest, "validation_error", "pct must be between 0 and 100")
		return
	}
	s.Chaos.Set(req.Tool, chaos.Setting{Mode: mode, ProbabilityPercent: req.Pct})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleClearChaos(w http.ResponseWriter, r *http.Request) {
	s.Chaos.Clear(r.PathValue("tool"))
	w.WriteHeader(http.StatusNoContent)
}

// --- Credential upload --------------------------------------------------

type uploadCredentialRequest struct {
	Tool      string `json:"tool"`
	Plaintext string `json:"plaintext_hex"`
}

type credentialView struct {
	ID        string  `json:"id"`
	Tool      string  `json:"tool"`
	CreatedAt string  `json:"createdAt"`
	RevokedAt *string `json:"revokedAt,omitempty"`
}

func toCredentialView(c credential.Credential) credentialView {
	v := credentialView{ID: c.ID, Tool: string(c.Tool), CreatedAt: c.CreatedAt.Format(time.RFC3339)}
	if c.RevokedAt != nil {
		formatted := c.RevokedAt.Format(time.RFC3339)
		v.RevokedAt = &formatted
	}
	return v
}

// handleUploadCredential implements the credential-upload admin endpoint:
// the secret is sealed (envelope-encrypted) on write and never logged.
func (s *Server) handleUploadCredential(w http.ResponseWriter, r *http.Request) {
	var req uploadCredentialRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	plaintext, err := hex.DecodeString(req.Plaintext)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", "plaintext_hex must be hex-encoded")
		return
	}
	cred, err := s.Credentials.Put(r.Context(), credential.Tool(req.Tool), plaintext)
	if err != nil {
		if errors.Is(err, credential.ErrInvalidTool) {
			writeError(w, r, http.StatusBadRequest, "validation_error", "unknown tool")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	writeJSON(w, http.StatusCreated, toCredentialView(cred))
}

func (s *Server) handleListCredentials(w http.ResponseWriter, r *http.Request) {
	creds := s.Credentials.List(r.Context())
	out := make([]credentialView, 0, len(creds))
	for _, c := range creds {
		out = append(out, toCredentialView(c))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleRevokeCredential(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.Credentials.Revoke(r.Context(), id); err != nil {
		if errors.Is(err, credential.ErrNotFound) {
			writeError(w, r, http.StatusNotFound, "not_found", "no such credential")
			return
		}
		writeError(w, r, http.StatusInternalServerError, "internal_error", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// --- Recovery -----------------------------------------------------------

func (s *Server) handleTriggerRecovery(w http.ResponseWriter, r *http.Request) {
	attempt, err := s.Recovery.Trigger(r.Context())
	if err != nil {
		if errors.Is(err, recovery.ErrNoMatchingStrategy) {
			writeError(w, r, http.StatusNotFound, "no_matching_strategy", err.Error())
			return
		}
		writeError(w, r, http.StatusInternalServerError, "recovery_failed", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, attempt)
}

func (s *Server) handleRecoveryHistory(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.Recovery.History())
}

// --- Degradation ----------------------------------------------------------

type degradationRequest struct {
	Level int `json:"level"`
}

type degradationResponse struct {
	Level int `json:"level"`
}

func (s *Server) handleForceDegradation(w http.ResponseWriter, r *http.Request) {
	var req degradationRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, http.StatusBadRequest, "validation_error", err.Error())
		return
	}
	if req.Level < 0 || req.Level > 3 {
		writeError(w, r, http.StatusBadRequest, "validation_error", "level must be between 0 and 3")
		return
	}
	s.Degradation.SetLevel(degradation.Level(req.Level))
	writeJSON(w, http.StatusOK, degradationResponse{Level: int(s.Degradation.Level())})
}

func (s *Server) handleRecoverDegradation(w http.ResponseWriter, r *http.Request) {
	s.Degradation.SetLevel(degradation.LevelNormal)
	writeJSON(w, http.StatusOK, degradationResponse{Level: int(s.Degradation.Level())})
}

func (s *Server) handleGetDegradation(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, degradationResponse{Level: int(s.Degradation.Level())})
}
