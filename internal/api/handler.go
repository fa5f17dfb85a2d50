// Package api provides HTTP handlers for the eatly API.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/eatly-ai/eatly/internal/assistant"
	"github.com/eatly-ai/eatly/internal/config"
	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/session"
	"github.com/eatly-ai/eatly/internal/shared"
	"github.com/eatly-ai/eatly/internal/store"
)

// Handler provides common handler utilities.
type Handler struct {
	repo        store.Repository
	provisioner *assistant.Provisioner
	turns       *conversation.Orchestrator
	sessions    *session.Manager
	cfg         *config.Config
}

// NewHandler creates a new Handler with common dependencies.
// provisioner and turns are nil when no provider credential is configured.
func NewHandler(repo store.Repository, provisioner *assistant.Provisioner, turns *conversation.Orchestrator, sessions *session.Manager, cfg *config.Config) *Handler {
	return &Handler{
		repo:        repo,
		provisioner: provisioner,
		turns:       turns,
		sessions:    sessions,
		cfg:         cfg,
	}
}

// JSON writes a JSON response with the given status code.
func JSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("Failed to encode response", "error", err)
	}
}

// Error writes a JSON error response.
func Error(w http.ResponseWriter, status int, message string) {
	JSON(w, status, map[string]string{"error": message})
}

// requestError is a malformed request body.
type requestError struct {
	status int
	msg    string
}

func (e *requestError) Error() string { return e.msg }

// decodeJSON reads a size-limited JSON body into v.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, h.cfg.MaxRequestBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		switch {
		case errors.As(err, &maxErr):
			return &requestError{status: http.StatusRequestEntityTooLarge, msg: fmt.Sprintf("request body exceeds %d bytes", maxErr.Limit)}
		case errors.Is(err, io.EOF):
			return &requestError{status: http.StatusBadRequest, msg: "request body is empty"}
		default:
			return &requestError{status: http.StatusBadRequest, msg: "invalid JSON body"}
		}
	}
	return nil
}

// StatusFor maps an error from the service layer onto an HTTP status.
func StatusFor(err error) int {
	var (
		reqErr *requestError
		valErr *shared.ValidationError
	)
	switch {
	case errors.As(err, &reqErr):
		return reqErr.status
	case errors.As(err, &valErr), errors.Is(err, session.ErrEmptyUtterance):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrBusy):
		return http.StatusConflict
	default:
		// Provider, job, timeout and invariant failures all surface as 500.
		return http.StatusInternalServerError
	}
}

// ErrorMessage returns the text shown to the client. Errors outside the
// taxonomy are not echoed.
func ErrorMessage(err error) string {
	var (
		reqErr  *requestError
		valErr  *shared.ValidationError
		provErr *shared.ProviderError
		jobErr  *shared.JobFailedError
		toErr   *shared.TimeoutError
		invErr  *shared.InvariantViolation
	)
	switch {
	case errors.As(err, &reqErr):
		return reqErr.msg
	case errors.As(err, &valErr):
		return valErr.Error()
	case errors.As(err, &provErr):
		return provErr.Error()
	case errors.As(err, &jobErr):
		return jobErr.Error()
	case errors.As(err, &toErr):
		return toErr.Error()
	case errors.As(err, &invErr):
		return invErr.Error()
	case errors.Is(err, shared.ErrProviderNotConfigured),
		errors.Is(err, session.ErrEmptyUtterance),
		errors.Is(err, session.ErrNotFound),
		errors.Is(err, session.ErrBusy):
		return err.Error()
	default:
		return "internal server error"
	}
}

// writeError logs server-side failures and writes the JSON error body.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "path", r.URL.Path, "status", status, "error", err)
	}
	Error(w, status, ErrorMessage(err))
}
