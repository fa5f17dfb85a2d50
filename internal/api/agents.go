package api

import (
	"log/slog"
	"net/http"

	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/shared"
	"github.com/go-chi/chi/v5"
)

// AgentHandler handles assistant provisioning endpoints.
type AgentHandler struct {
	*Handler
}

// NewAgentHandler creates a new agent handler.
func NewAgentHandler(base *Handler) *AgentHandler {
	return &AgentHandler{Handler: base}
}

// RegisterRoutes registers agent routes.
func (h *AgentHandler) RegisterRoutes(r chi.Router) {
	r.Route("/agents", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/{agentID}", h.Get)
	})
}

type createAgentResponse struct {
	AgentID string `json:"agentId"`
	Message string `json:"message"`
}

// Create provisions an assistant from a restaurant profile.
func (h *AgentHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.provisioner == nil {
		writeError(w, r, shared.ErrProviderNotConfigured)
		return
	}

	var profile domain.AgentProfile
	if err := h.decodeJSON(w, r, &profile); err != nil {
		writeError(w, r, err)
		return
	}

	agent, err := h.provisioner.ProvisionAndRecord(r.Context(), profile, h.repo)
	if err != nil {
		writeError(w, r, err)
		return
	}

	slog.Info("Assistant provisioned", "agent_id", agent.ID, "restaurant", profile.DisplayName)
	JSON(w, http.StatusCreated, createAgentResponse{
		AgentID: agent.ID,
		Message: "Assistant created successfully",
	})
}

// Get returns a previously provisioned assistant.
func (h *AgentHandler) Get(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	agent, err := h.repo.GetAgent(r.Context(), agentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	if agent == nil {
		Error(w, http.StatusNotFound, "agent not found")
		return
	}
	JSON(w, http.StatusOK, agent)
}
