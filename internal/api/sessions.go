package api

import (
	"log/slog"
	"net/http"

	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/identity"
	"github.com/go-chi/chi/v5"
)

// SessionHandler exposes server-held chat sessions scoped to the visitor.
type SessionHandler struct {
	*Handler
	limit func(http.Handler) http.Handler
}

// NewSessionHandler creates a new session handler. limit may be nil; it applies to turns only.
func NewSessionHandler(base *Handler, limit func(http.Handler) http.Handler) *SessionHandler {
	return &SessionHandler{Handler: base, limit: limit}
}

// RegisterRoutes registers session routes.
func (h *SessionHandler) RegisterRoutes(r chi.Router) {
	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.Create)
		r.Get("/", h.List)
		r.Route("/{sessionID}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Delete)
			r.Group(func(r chi.Router) {
				if h.limit != nil {
					r.Use(h.limit)
				}
				r.Post("/turns", h.Turn)
			})
		})
	})
}

type createSessionRequest struct {
	AgentID string `json:"agentId"`
}

type turnRequest struct {
	Utterance string `json:"utterance"`
}

type sessionTurnResponse struct {
	Reply          string          `json:"reply,omitempty"`
	ConversationID string          `json:"conversationId,omitempty"`
	Error          string          `json:"error,omitempty"`
	Session        *domain.Session `json:"session,omitempty"`
}

// Create starts a session with an agent.
func (h *SessionHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	s, err := h.sessions.Create(r.Context(), identity.VisitorIDFromContext(r.Context()), req.AgentID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusCreated, s)
}

// List returns the visitor's sessions.
func (h *SessionHandler) List(w http.ResponseWriter, r *http.Request) {
	sessions, err := h.sessions.List(r.Context(), identity.VisitorIDFromContext(r.Context()))
	if err != nil {
		writeError(w, r, err)
		return
	}
	if sessions == nil {
		sessions = []*domain.Session{}
	}
	JSON(w, http.StatusOK, map[string]any{"sessions": sessions})
}

// Get returns one session with its transcript.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request) {
	s, err := h.sessions.Get(r.Context(), identity.VisitorIDFromContext(r.Context()), chi.URLParam(r, "sessionID"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, s)
}

// Delete removes a session.
func (h *SessionHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.sessions.Delete(r.Context(), identity.VisitorIDFromContext(r.Context()), chi.URLParam(r, "sessionID")); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Turn runs one utterance on the session. On failure the body still carries
// the session so the client can render the annotated transcript.
func (h *SessionHandler) Turn(w http.ResponseWriter, r *http.Request) {
	var req turnRequest
	if err := h.decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	reply, s, err := h.sessions.Turn(r.Context(), identity.VisitorIDFromContext(r.Context()), chi.URLParam(r, "sessionID"), req.Utterance)
	if err != nil {
		if s == nil {
			writeError(w, r, err)
			return
		}
		status := StatusFor(err)
		if status >= http.StatusInternalServerError {
			slog.Error("Session turn failed", "session_id", s.ID, "status", status, "error", err)
		}
		JSON(w, status, sessionTurnResponse{Error: ErrorMessage(err), Session: s})
		return
	}

	JSON(w, http.StatusOK, sessionTurnResponse{
		Reply:          reply.Text,
		ConversationID: s.ConversationID,
		Session:        s,
	})
}
