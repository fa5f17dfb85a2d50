package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/shared"
	"github.com/eatly-ai/eatly/internal/store"
	"github.com/google/uuid"
)

const persistTimeout = 5 * time.Second

// Manager is the server-side registry of visitor sessions.
// Sessions are persisted through the repository after every turn.
type Manager struct {
	repo   store.Repository
	sender Sender
	logger *slog.Logger
	opts   []Option
	now    func() time.Time

	// turnLocks serializes turns per session id.
	turnLocks sync.Map
}

// NewManager creates a Manager. sender may be nil when no provider is
// configured, in which case Turn returns shared.ErrProviderNotConfigured.
// opts are applied to the Client that runs each turn.
func NewManager(repo store.Repository, sender Sender, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{repo: repo, sender: sender, logger: logger, opts: opts, now: time.Now}
}

// Create starts a new session between owner and agentID.
func (m *Manager) Create(ctx context.Context, owner, agentID string) (*domain.Session, error) {
	agentID = strings.TrimSpace(agentID)
	if agentID == "" {
		return nil, &shared.ValidationError{Field: "agentId"}
	}
	now := m.now()
	s := &domain.Session{
		ID:         uuid.NewString(),
		OwnerID:    owner,
		AgentID:    agentID,
		Transcript: []domain.Utterance{},
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := m.repo.UpsertSession(ctx, s); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	m.logger.Info("Session created", "session_id", s.ID, "agent_id", agentID)
	return s, nil
}

// Get returns the session if it exists and belongs to owner.
func (m *Manager) Get(ctx context.Context, owner, id string) (*domain.Session, error) {
	s, err := m.repo.GetSession(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	if s == nil || s.OwnerID != owner {
		return nil, ErrNotFound
	}
	return s, nil
}

// List returns owner's sessions, most recent first.
func (m *Manager) List(ctx context.Context, owner string) ([]*domain.Session, error) {
	sessions, err := m.repo.ListSessions(ctx, owner)
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, nil
}

// Delete removes one of owner's sessions. A session with a turn in flight
// is not deleted and ErrBusy is returned.
func (m *Manager) Delete(ctx context.Context, owner, id string) error {
	if _, err := m.Get(ctx, owner, id); err != nil {
		return err
	}
	lock := m.lockFor(id)
	if !lock.TryLock() {
		return ErrBusy
	}
	defer lock.Unlock()

	if err := m.repo.DeleteSession(ctx, id); err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	m.turnLocks.Delete(id)
	m.logger.Info("Session deleted", "session_id", id)
	return nil
}

// Turn runs one user turn on a stored session and persists the outcome.
// The returned session reflects the transcript after the turn, also on failure.
func (m *Manager) Turn(ctx context.Context, owner, id, text string, opts ...Option) (domain.Utterance, *domain.Session, error) {
	if m.sender == nil {
		return domain.Utterance{}, nil, shared.ErrProviderNotConfigured
	}
	if strings.TrimSpace(text) == "" {
		return domain.Utterance{}, nil, ErrEmptyUtterance
	}

	lock := m.lockFor(id)
	if !lock.TryLock() {
		return domain.Utterance{}, nil, ErrBusy
	}
	defer lock.Unlock()

	s, err := m.Get(ctx, owner, id)
	if err != nil {
		return domain.Utterance{}, nil, err
	}

	client := Resume(m.sender, s, append(append([]Option{WithClock(m.now)}, m.opts...), opts...)...)
	reply, turnErr := client.Submit(ctx, text)
	after := client.Snapshot()

	// Persist even when the request context is gone so the transcript survives a disconnect.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
	defer cancel()
	if err := m.repo.UpsertSession(persistCtx, after); err != nil {
		m.logger.Error("Failed to persist session", "session_id", id, "error", err)
		if turnErr == nil {
			return reply, after, fmt.Errorf("persist session: %w", err)
		}
	}

	if turnErr != nil {
		m.logger.Warn("Turn failed", "session_id", id, "error", turnErr)
		return domain.Utterance{}, after, turnErr
	}
	return reply, after, nil
}

// Busy reports whether a turn is currently running on the session.
func (m *Manager) Busy(id string) bool {
	v, ok := m.turnLocks.Load(id)
	if !ok {
		return false
	}
	lock := v.(*sync.Mutex)
	if lock.TryLock() {
		lock.Unlock()
		return false
	}
	return true
}

// Expire deletes sessions idle longer than ttl and returns how many were removed.
// Sessions with a turn in flight are skipped.
func (m *Manager) Expire(ctx context.Context, ttl time.Duration) (int, error) {
	ids, err := m.repo.ExpiredSessions(ctx, ttl)
	if err != nil {
		return 0, fmt.Errorf("find expired sessions: %w", err)
	}

	removed := 0
	for _, id := range ids {
		lock := m.lockFor(id)
		if !lock.TryLock() {
			continue
		}
		err := m.repo.DeleteSession(ctx, id)
		lock.Unlock()
		if err != nil {
			m.logger.Warn("Failed to delete expired session", "session_id", id, "error", err)
			continue
		}
		m.turnLocks.Delete(id)
		removed++
	}
	return removed, nil
}

func (m *Manager) lockFor(id string) *sync.Mutex {
	v, _ := m.turnLocks.LoadOrStore(id, &sync.Mutex{})
	return v.(*sync.Mutex)
}
