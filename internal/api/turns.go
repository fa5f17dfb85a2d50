package api

import (
	"net/http"

	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/shared"
	"github.com/go-chi/chi/v5"
)

// ConversationHandler runs stateless conversation turns.
// The client carries the conversation id between turns.
type ConversationHandler struct {
	*Handler
	limit func(http.Handler) http.Handler
}

// NewConversationHandler creates a new conversation handler. limit may be nil.
func NewConversationHandler(base *Handler, limit func(http.Handler) http.Handler) *ConversationHandler {
	return &ConversationHandler{Handler: base, limit: limit}
}

// RegisterRoutes registers conversation routes.
func (h *ConversationHandler) RegisterRoutes(r chi.Router) {
	r.Route("/conversations", func(r chi.Router) {
		if h.limit != nil {
			r.Use(h.limit)
		}
		r.Post("/turns", h.Turn)
	})
}

// Turn sends one utterance and waits for the assistant's reply.
// The wait is bound to the request context, so a disconnecting client stops polling.
func (h *ConversationHandler) Turn(w http.ResponseWriter, r *http.Request) {
	if h.turns == nil {
		writeError(w, r, shared.ErrProviderNotConfigured)
		return
	}

	var req conversation.TurnRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.turns.Send(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, res)
}
