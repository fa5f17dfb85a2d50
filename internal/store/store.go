// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"time"

	"github.com/eatly-ai/eatly/internal/domain"
)

// Repository persists provisioned agents and chat sessions.
// Lookups of missing records return (nil, nil).
type Repository interface {
	// SaveAgent records a provisioned agent.
	SaveAgent(ctx context.Context, agent *domain.Agent) error

	// GetAgent retrieves an agent by its provider ID.
	GetAgent(ctx context.Context, agentID string) (*domain.Agent, error)

	// UpsertSession creates or replaces a session, transcript included.
	UpsertSession(ctx context.Context, session *domain.Session) error

	// GetSession retrieves a session by ID.
	GetSession(ctx context.Context, sessionID string) (*domain.Session, error)

	// ListSessions returns the sessions owned by ownerID, most recently updated first.
	ListSessions(ctx context.Context, ownerID string) ([]*domain.Session, error)

	// DeleteSession removes a session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// ExpiredSessions returns the IDs of sessions idle for longer than ttl.
	ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error)

	// Ping verifies connectivity and returns an error if the backend is unreachable.
	Ping(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}
