package api

import (
	"context"
	"net/http"
	"time"

	"github.com/eatly-ai/eatly/internal/config"
	"github.com/eatly-ai/eatly/internal/store"
	"github.com/go-chi/chi/v5"
)

// HealthHandler reports service readiness and client configuration.
type HealthHandler struct {
	repo store.Repository
	cfg  *config.Config
}

// NewHealthHandler creates a new health handler.
func NewHealthHandler(repo store.Repository, cfg *config.Config) *HealthHandler {
	return &HealthHandler{repo: repo, cfg: cfg}
}

// RegisterRoutes registers health and config routes.
func (h *HealthHandler) RegisterRoutes(r chi.Router) {
	r.Get("/health", h.Health)
	r.Get("/api/config", h.Config)
}

// Health pings the store. A missing provider credential is reported but does not fail the check.
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	status, code := "ok", http.StatusOK
	storeStatus := "ok"
	if err := h.repo.Ping(ctx); err != nil {
		status, code = "degraded", http.StatusServiceUnavailable
		storeStatus = err.Error()
	}

	JSON(w, code, map[string]any{
		"status":             status,
		"store":              storeStatus,
		"storeBackend":       h.cfg.Store.Backend,
		"providerConfigured": h.cfg.ProviderConfigured(),
	})
}

// Config returns the settings the web client needs.
func (h *HealthHandler) Config(w http.ResponseWriter, _ *http.Request) {
	JSON(w, http.StatusOK, map[string]any{
		"providerConfigured": h.cfg.ProviderConfigured(),
		"model":              h.cfg.Provider.Model,
		"sessionTtlSeconds":  int64(h.cfg.Store.SessionTTL.Seconds()),
	})
}
