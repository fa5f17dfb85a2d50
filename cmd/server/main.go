// Eatly - restaurant assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eatly-ai/eatly/internal/api"
	"github.com/eatly-ai/eatly/internal/assistant"
	"github.com/eatly-ai/eatly/internal/config"
	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/identity"
	"github.com/eatly-ai/eatly/internal/livechat"
	"github.com/eatly-ai/eatly/internal/middleware"
	"github.com/eatly-ai/eatly/internal/provider"
	"github.com/eatly-ai/eatly/internal/session"
	"github.com/eatly-ai/eatly/internal/store"
	"github.com/eatly-ai/eatly/internal/telemetry"
	"github.com/eatly-ai/eatly/web"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
)

// version is set at build time with -ldflags.
var version = "dev"

func main() {
	if err := godotenv.Load(); err != nil {
		slog.Info("No .env file found, using environment variables")
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.IsDevelopment())
	slog.SetDefault(logger)

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Telemetry, version)
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(shutdownCtx); err != nil {
			slog.Warn("Failed to flush traces", "error", err)
		}
	}()

	repo, err := openStore(ctx, cfg)
	if err != nil {
		slog.Error("Failed to initialize store", "error", err, "backend", cfg.Store.Backend)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()
	slog.Info("Store connected", "backend", cfg.Store.Backend)

	// Provider-backed services stay nil without a credential; the endpoints
	// then answer with a configuration error instead of the server refusing to start.
	var (
		provisioner *assistant.Provisioner
		turns       *conversation.Orchestrator
		sender      session.Sender
	)
	if cfg.ProviderConfigured() {
		openAI, err := provider.NewOpenAI(provider.OpenAIConfig{
			APIKey:     cfg.Provider.APIKey,
			BaseURL:    cfg.Provider.BaseURL,
			MaxRetries: cfg.Provider.MaxRetries,
		})
		if err != nil {
			slog.Error("Failed to initialize provider", "error", err)
			os.Exit(1)
		}
		p := provider.NewTraced(openAI, telemetry.Tracer())
		provisioner = assistant.NewProvisioner(p, cfg.Provider.Model, logger)
		turns = conversation.New(p, conversation.PollConfig{
			InitialInterval: cfg.Poll.InitialInterval,
			MaxInterval:     cfg.Poll.MaxInterval,
			Multiplier:      cfg.Poll.Multiplier,
			MaxElapsed:      cfg.Poll.MaxElapsed,
			MaxAttempts:     cfg.Poll.MaxAttempts,
			CancelTimeout:   cfg.Poll.CancelTimeout,
		}, logger)
		sender = turns
		slog.Info("Provider configured", "model", cfg.Provider.Model)
	} else {
		slog.Warn("OPENAI_API_KEY not set; assistant and turn endpoints will report a configuration error")
	}

	sessions := session.NewManager(repo, sender, logger)

	limiter := middleware.NewRateLimiter(ctx, cfg.RateLimit.Requests, cfg.RateLimit.Window)
	limitTurns := limiter.Limit(turnKey)

	baseHandler := api.NewHandler(repo, provisioner, turns, sessions, cfg)
	healthHandler := api.NewHealthHandler(repo, cfg)
	agentHandler := api.NewAgentHandler(baseHandler)
	conversationHandler := api.NewConversationHandler(baseHandler, limitTurns)
	sessionHandler := api.NewSessionHandler(baseHandler, limitTurns)
	wsHandler := livechat.NewHandler(sessions, limiter, turnKey, cfg.AllowedOrigins(), cfg.IsDevelopment())

	r := chi.NewRouter()

	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/ping"))
	r.Use(middleware.Telemetry(telemetry.Tracer()))
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	healthHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)
	conversationHandler.RegisterRoutes(r)
	sessionHandler.RegisterRoutes(r)

	r.Get("/ws/sessions/{sessionID}", wsHandler.ServeHTTP)

	// Serve embedded frontend (SPA catch-all).
	r.Handle("/*", web.SPAHandler())

	// Turns can wait minutes on the provider and the websocket is long-lived,
	// so there is no WriteTimeout.
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	session.StartTTLWorker(ctx, sessions, cfg.Store.SessionTTL, 0)

	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
		os.Exit(1)
	}

	slog.Info("Server stopped successfully")
}

// turnKey buckets turns by visitor, falling back to the client IP.
func turnKey(r *http.Request) string {
	if id := identity.VisitorIDFromContext(r.Context()); id != "" {
		return id
	}
	return identity.IPFromRequest(r)
}

func openStore(ctx context.Context, cfg *config.Config) (store.Repository, error) {
	var (
		repo store.Repository
		err  error
	)
	switch cfg.Store.Backend {
	case config.StoreRedis:
		repo, err = store.NewRedis(ctx, store.RedisConfig{
			Addr:     cfg.Store.RedisAddr,
			Password: cfg.Store.RedisPassword,
			DB:       cfg.Store.RedisDB,
			TTL:      cfg.Store.SessionTTL,
		})
	default:
		repo, err = store.NewSQLite(cfg.Store.DBPath)
	}
	if err != nil {
		return nil, err
	}

	if err := repo.Ping(ctx); err != nil {
		_ = repo.Close()
		return nil, err
	}
	return repo, nil
}
