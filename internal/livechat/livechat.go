// Package livechat serves chat sessions over a websocket so the client sees
// turn state changes as they happen.
package livechat

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/eatly-ai/eatly/internal/api"
	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/identity"
	"github.com/eatly-ai/eatly/internal/middleware"
	"github.com/eatly-ai/eatly/internal/session"
	"github.com/go-chi/chi/v5"
)

// Frame types.
const (
	FrameUtterance  = "utterance"
	FrameState      = "state"
	FrameReply      = "reply"
	FrameError      = "error"
	FrameTranscript = "transcript"
)

const (
	readLimit    = 64 * 1024
	writeTimeout = 10 * time.Second
)

// errRateLimited matches the body of the HTTP rate limiter.
const errRateLimited = "rate limit exceeded"

// Frame is a single websocket message in either direction.
type Frame struct {
	Type           string            `json:"type"`
	Text           string            `json:"text,omitempty"`
	State          string            `json:"state,omitempty"`
	Reply          *domain.Utterance `json:"reply,omitempty"`
	ConversationID string            `json:"conversationId,omitempty"`
	Error          string            `json:"error,omitempty"`
	Session        *domain.Session   `json:"session,omitempty"`
}

// Handler upgrades /ws/sessions/{sessionID} to a websocket chat.
type Handler struct {
	sessions       *session.Manager
	limiter        *middleware.RateLimiter
	limitKey       func(*http.Request) string
	allowedOrigins []string
	isDev          bool
}

// NewHandler creates a new websocket chat handler. Every utterance frame is
// charged to limiter under limitKey(upgrade request), sharing the budget of
// the HTTP turn endpoints. limiter may be nil.
func NewHandler(sessions *session.Manager, limiter *middleware.RateLimiter, limitKey func(*http.Request) string, allowedOrigins []string, isDev bool) *Handler {
	return &Handler{
		sessions:       sessions,
		limiter:        limiter,
		limitKey:       limitKey,
		allowedOrigins: allowedOrigins,
		isDev:          isDev,
	}
}

// ServeHTTP implements http.Handler for the websocket upgrade.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := identity.VisitorIDFromContext(r.Context())
	sessionID := chi.URLParam(r, "sessionID")

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	s, err := h.sessions.Get(r.Context(), owner, sessionID)
	if err != nil {
		api.Error(w, api.StatusFor(err), api.ErrorMessage(err))
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "session_id", sessionID)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "session_id", sessionID)
		}
	}()
	ws.SetReadLimit(readLimit)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	limitKey := owner
	if h.limitKey != nil {
		limitKey = h.limitKey(r)
	}

	slog.Info("Live chat connected", "session_id", sessionID)

	state := session.Idle
	if h.sessions.Busy(sessionID) {
		state = session.Sending
	}
	send(ctx, ws, Frame{Type: FrameTranscript, Session: s})
	send(ctx, ws, Frame{Type: FrameState, State: state.String()})

	var turns sync.WaitGroup
	defer turns.Wait()

	for {
		var in Frame
		if err := wsjson.Read(ctx, ws, &in); err != nil {
			if websocket.CloseStatus(err) != -1 || errors.Is(err, context.Canceled) {
				slog.Debug("Live chat closed by client", "session_id", sessionID)
			} else {
				slog.Warn("Live chat read error", "error", err, "session_id", sessionID)
			}
			// Stops any turn still polling for this connection.
			cancel()
			return
		}

		switch in.Type {
		case FrameUtterance:
			if h.limiter != nil && !h.limiter.Allow(limitKey) {
				send(ctx, ws, Frame{Type: FrameError, Error: errRateLimited})
				continue
			}
			turns.Add(1)
			go func(text string) {
				defer turns.Done()
				h.runTurn(ctx, ws, owner, sessionID, text)
			}(in.Text)
		default:
			send(ctx, ws, Frame{Type: FrameError, Error: "unknown message type: " + in.Type})
		}
	}
}

// runTurn runs one turn and reports state transitions and the outcome.
// A turn rejected as busy reports only the error.
func (h *Handler) runTurn(ctx context.Context, ws *websocket.Conn, owner, sessionID, text string) {
	observer := session.WithStateObserver(func(st session.State) {
		send(ctx, ws, Frame{Type: FrameState, State: st.String()})
	})

	reply, s, err := h.sessions.Turn(ctx, owner, sessionID, text, observer)
	if err != nil {
		send(ctx, ws, Frame{Type: FrameError, Error: api.ErrorMessage(err), Session: s})
		return
	}
	send(ctx, ws, Frame{
		Type:           FrameReply,
		Reply:          &reply,
		ConversationID: s.ConversationID,
		Session:        s,
	})
}

// send writes a frame. Concurrent writes are safe on websocket.Conn.
func send(ctx context.Context, ws *websocket.Conn, f Frame) {
	writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	if err := wsjson.Write(writeCtx, ws, f); err != nil && ctx.Err() == nil {
		slog.Debug("Live chat write error", "error", err, "type", f.Type)
	}
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	slog.Warn("WebSocket origin rejected", "origin", origin)
	return false
}
