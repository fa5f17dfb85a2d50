// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Store backends selectable through SESSION_STORE.
const (
	StoreSQLite = "sqlite"
	StoreRedis  = "redis"
)

// Config holds all application configuration.
type Config struct {
	Port                string
	FrontendURL         string
	MaxRequestBodyBytes int64
	CORSAllowedOrigins  []string

	Provider  ProviderConfig
	Poll      PollConfig
	Store     StoreConfig
	RateLimit RateLimitConfig
	Telemetry TelemetryConfig
}

// ProviderConfig configures the conversational-AI provider.
// An empty APIKey is allowed at startup; the endpoints then report the missing credential.
type ProviderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	MaxRetries int
}

// PollConfig bounds the wait for a provider run.
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	MaxElapsed      time.Duration
	MaxAttempts     int
	// CancelTimeout bounds the remote cancel sent when a wait is abandoned.
	CancelTimeout time.Duration
}

// StoreConfig selects and configures session persistence.
type StoreConfig struct {
	Backend       string
	DBPath        string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	SessionTTL    time.Duration
}

// RateLimitConfig bounds turn requests per visitor.
type RateLimitConfig struct {
	Requests int
	Window   time.Duration
}

// TelemetryConfig controls OpenTelemetry tracing.
type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		Port:                getEnv("PORT", "8080"),
		FrontendURL:         getEnv("FRONTEND_URL", ""),
		MaxRequestBodyBytes: int64(getEnvInt("MAX_REQUEST_BODY_BYTES", 64*1024)),
		CORSAllowedOrigins:  getEnvList("CORS_ALLOWED_ORIGINS"),
		Provider: ProviderConfig{
			APIKey:     strings.TrimSpace(getEnv("OPENAI_API_KEY", "")),
			BaseURL:    getEnv("OPENAI_BASE_URL", ""),
			Model:      getEnv("OPENAI_MODEL", "gpt-4o"),
			MaxRetries: getEnvInt("OPENAI_MAX_RETRIES", 2),
		},
		Poll: PollConfig{
			InitialInterval: getEnvDuration("POLL_INITIAL_INTERVAL", 500*time.Millisecond),
			MaxInterval:     getEnvDuration("POLL_MAX_INTERVAL", 5*time.Second),
			Multiplier:      getEnvFloat("POLL_MULTIPLIER", 1.5),
			MaxElapsed:      getEnvDuration("POLL_MAX_ELAPSED", 2*time.Minute),
			MaxAttempts:     getEnvInt("POLL_MAX_ATTEMPTS", 240),
			CancelTimeout:   getEnvDuration("POLL_CANCEL_TIMEOUT", 5*time.Second),
		},
		Store: StoreConfig{
			Backend:       strings.ToLower(getEnv("SESSION_STORE", StoreSQLite)),
			DBPath:        getEnv("DB_PATH", "./data/eatly.db"),
			RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
			RedisPassword: getEnv("REDIS_PASSWORD", ""),
			RedisDB:       getEnvInt("REDIS_DB", 0),
			SessionTTL:    getEnvDuration("SESSION_TTL", 24*time.Hour),
		},
		RateLimit: RateLimitConfig{
			Requests: getEnvInt("RATE_LIMIT_REQUESTS", 30),
			Window:   getEnvDuration("RATE_LIMIT_WINDOW", time.Minute),
		},
		Telemetry: TelemetryConfig{
			Enabled:      getEnvBool("OTEL_ENABLED", false),
			OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  getEnv("OTEL_SERVICE_NAME", "eatly"),
		},
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("MAX_REQUEST_BODY_BYTES must be > 0")
	}
	if c.Provider.Model == "" {
		return fmt.Errorf("OPENAI_MODEL cannot be empty")
	}
	if c.Poll.InitialInterval <= 0 {
		return fmt.Errorf("POLL_INITIAL_INTERVAL must be > 0")
	}
	if c.Poll.MaxInterval < c.Poll.InitialInterval {
		return fmt.Errorf("POLL_MAX_INTERVAL must be >= POLL_INITIAL_INTERVAL")
	}
	if c.Poll.Multiplier < 1 {
		return fmt.Errorf("POLL_MULTIPLIER must be >= 1")
	}
	if c.Poll.MaxElapsed <= 0 && c.Poll.MaxAttempts <= 0 {
		return fmt.Errorf("at least one of POLL_MAX_ELAPSED or POLL_MAX_ATTEMPTS must be > 0")
	}
	if c.Poll.CancelTimeout <= 0 {
		return fmt.Errorf("POLL_CANCEL_TIMEOUT must be > 0")
	}
	switch c.Store.Backend {
	case StoreSQLite:
		if c.Store.DBPath == "" {
			return fmt.Errorf("DB_PATH cannot be empty")
		}
	case StoreRedis:
		if c.Store.RedisAddr == "" {
			return fmt.Errorf("REDIS_ADDR cannot be empty")
		}
	default:
		return fmt.Errorf("SESSION_STORE must be %q or %q, got %q", StoreSQLite, StoreRedis, c.Store.Backend)
	}
	if c.Store.SessionTTL <= 0 {
		return fmt.Errorf("SESSION_TTL must be > 0")
	}
	if c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0 {
		return fmt.Errorf("RATE_LIMIT_REQUESTS and RATE_LIMIT_WINDOW must be > 0")
	}
	return nil
}

// IsDevelopment returns true if running in development mode.
func (c *Config) IsDevelopment() bool {
	return c.FrontendURL == "" ||
		strings.Contains(c.FrontendURL, "localhost") ||
		strings.Contains(c.FrontendURL, "127.0.0.1")
}

// ProviderConfigured reports whether a provider credential is present.
func (c *Config) ProviderConfigured() bool {
	return c.Provider.APIKey != ""
}

// AllowedOrigins returns the CORS origins: the explicit list, else the frontend URL,
// else local development origins.
func (c *Config) AllowedOrigins() []string {
	if len(c.CORSAllowedOrigins) > 0 {
		return c.CORSAllowedOrigins
	}
	if c.FrontendURL != "" {
		return []string{c.FrontendURL}
	}
	return []string{"http://localhost:5173", "http://localhost:" + c.Port}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return d
}

func getEnvList(key string) []string {
	var out []string
	for _, item := range strings.Split(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
