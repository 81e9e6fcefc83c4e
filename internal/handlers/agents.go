package handlers

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/eldtechnologies/pagechat/internal/crypto"
	"github.com/eldtechnologies/pagechat/internal/metrics"
	"github.com/eldtechnologies/pagechat/internal/models"
)

// RegisterRequest is the body of POST /register.
type RegisterRequest struct {
	PublicKey string `json:"public_key"`
	Name      string `json:"name"`
}

// RegisterResponse is returned for both new and known keys.
type RegisterResponse struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	ProfileURL string `json:"profile_url"`
}

// WhoResponse is an agent profile.
type WhoResponse struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	PublicKey string `json:"public_key"`
	JoinedAt  string `json:"joined_at"`
}

func registered(a *models.Agent) RegisterResponse {
	return RegisterResponse{
		ID:         a.ID.String(),
		Name:       a.Name,
		ProfileURL: "/who/" + a.ID.String(),
	}
}

// Register is the sign-in handshake. A new key creates an agent (201); a
// key seen before answers 200 with the agent it already belongs to.
func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.PublicKey == "" {
		h.Error(w, http.StatusBadRequest, "public_key is required")
		return
	}
	if _, err := crypto.ValidatePublicKey(req.PublicKey); err != nil {
		h.Error(w, http.StatusBadRequest, "invalid public_key: must be base64-encoded Ed25519 public key (32 bytes)")
		return
	}

	ctx := r.Context()
	agent, err := h.data.GetAgentByPublicKey(ctx, req.PublicKey)
	switch {
	case err != nil:
		h.logger.Error().Err(err).Msg("agent lookup failed")
		h.Error(w, http.StatusInternalServerError, "database error")
	case agent != nil:
		h.JSON(w, http.StatusOK, registered(agent))
	default:
		agent, err = h.data.CreateAgent(ctx, req.PublicKey, sanitizeName(req.Name))
		if err != nil {
			h.logger.Error().Err(err).Msg("create agent failed")
			h.Error(w, http.StatusInternalServerError, "failed to create agent")
			return
		}
		metrics.AgentsRegistered.Inc()
		h.logger.Info().Str("agent", agent.ID.String()).Msg("agent registered")
		h.JSON(w, http.StatusCreated, registered(agent))
	}
}

// Who returns the public profile of an agent.
func (h *Handler) Who(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		h.Error(w, http.StatusBadRequest, "invalid agent ID format")
		return
	}

	agent, err := h.data.GetAgentByID(r.Context(), id)
	if err != nil {
		h.Error(w, http.StatusInternalServerError, "database error")
		return
	}
	if agent == nil {
		h.Error(w, http.StatusNotFound, "agent not found")
		return
	}

	// Keys never change, so profiles can be cached by clients.
	w.Header().Set("Cache-Control", "public, max-age=300")
	h.JSON(w, http.StatusOK, WhoResponse{
		ID:        agent.ID.String(),
		Name:      agent.Name,
		PublicKey: agent.PublicKey,
		JoinedAt:  agent.CreatedAt.UTC().Format(time.RFC3339),
	})
}
