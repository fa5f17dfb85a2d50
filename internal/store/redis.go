package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/redis/go-redis/v9"
)

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Prefix   string
	// TTL is the key expiry applied to sessions on every write. Zero keeps sessions until deleted.
	TTL time.Duration
}

// RedisStore implements Repository using Redis.
// Sessions live under <prefix>session:<id> and are indexed per owner in a sorted set scored by update time.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

type redisSession struct {
	OwnerID string          `json:"ownerId"`
	Session *domain.Session `json:"session"`
}

// NewRedis connects to Redis and verifies the connection.
func NewRedis(ctx context.Context, cfg RedisConfig) (*RedisStore, error) {
	if cfg.Addr == "" {
		cfg.Addr = "localhost:6379"
	}
	if cfg.Prefix == "" {
		cfg.Prefix = "eatly:"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", cfg.Addr, err)
	}

	return &RedisStore{client: client, prefix: cfg.Prefix, ttl: cfg.TTL}, nil
}

func (s *RedisStore) agentKey(id string) string   { return s.prefix + "agent:" + id }
func (s *RedisStore) sessionKey(id string) string { return s.prefix + "session:" + id }
func (s *RedisStore) ownerKey(owner string) string {
	return s.prefix + "owner:" + owner + ":sessions"
}
func (s *RedisStore) activityKey() string { return s.prefix + "sessions:activity" }

// SaveAgent records a provisioned agent.
func (s *RedisStore) SaveAgent(ctx context.Context, agent *domain.Agent) error {
	raw, err := json.Marshal(agent)
	if err != nil {
		return fmt.Errorf("encode agent: %w", err)
	}
	if err := s.client.Set(ctx, s.agentKey(agent.ID), raw, 0).Err(); err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

// GetAgent retrieves an agent by ID.
func (s *RedisStore) GetAgent(ctx context.Context, agentID string) (*domain.Agent, error) {
	raw, err := s.client.Get(ctx, s.agentKey(agentID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load agent: %w", err)
	}
	var agent domain.Agent
	if err := json.Unmarshal(raw, &agent); err != nil {
		return nil, fmt.Errorf("decode agent %s: %w", agentID, err)
	}
	return &agent, nil
}

// UpsertSession creates or replaces a session.
func (s *RedisStore) UpsertSession(ctx context.Context, session *domain.Session) error {
	raw, err := json.Marshal(redisSession{OwnerID: session.OwnerID, Session: session})
	if err != nil {
		return fmt.Errorf("encode session: %w", err)
	}

	score := float64(session.UpdatedAt.UnixMilli())
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.sessionKey(session.ID), raw, s.ttl)
		pipe.ZAdd(ctx, s.ownerKey(session.OwnerID), redis.Z{Score: score, Member: session.ID})
		pipe.ZAdd(ctx, s.activityKey(), redis.Z{Score: score, Member: session.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	return nil
}

// GetSession retrieves a session by ID.
func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*domain.Session, error) {
	raw, err := s.client.Get(ctx, s.sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return decodeRedisSession(raw)
}

// ListSessions returns the sessions owned by ownerID, most recently updated first.
func (s *RedisStore) ListSessions(ctx context.Context, ownerID string) ([]*domain.Session, error) {
	ids, err := s.client.ZRevRange(ctx, s.ownerKey(ownerID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.sessionKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("load sessions: %w", err)
	}

	var sessions []*domain.Session
	var stale []any
	for i, v := range values {
		str, ok := v.(string)
		if !ok {
			// Key expired while the index entry survived.
			stale = append(stale, ids[i])
			continue
		}
		session, err := decodeRedisSession([]byte(str))
		if err != nil {
			return nil, err
		}
		sessions = append(sessions, session)
	}
	if len(stale) > 0 {
		if err := s.client.ZRem(ctx, s.ownerKey(ownerID), stale...).Err(); err != nil {
			slog.Debug("Failed to prune stale session index entries", "owner_id", ownerID, "error", err)
		}
	}
	sort.SliceStable(sessions, func(i, j int) bool {
		return sessions[i].UpdatedAt.After(sessions[j].UpdatedAt)
	})
	return sessions, nil
}

// DeleteSession removes a session and its index entries.
func (s *RedisStore) DeleteSession(ctx context.Context, sessionID string) error {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, s.sessionKey(sessionID))
		pipe.ZRem(ctx, s.activityKey(), sessionID)
		if session != nil {
			pipe.ZRem(ctx, s.ownerKey(session.OwnerID), sessionID)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("delete session %s: %w", sessionID, err)
	}
	return nil
}

// ExpiredSessions returns the IDs of sessions idle for longer than ttl.
func (s *RedisStore) ExpiredSessions(ctx context.Context, ttl time.Duration) ([]string, error) {
	threshold := time.Now().Add(-ttl).UnixMilli()
	ids, err := s.client.ZRangeByScore(ctx, s.activityKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", threshold),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("query expired sessions: %w", err)
	}
	return ids, nil
}

// Ping checks if the Redis connection is alive.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close closes the underlying Redis client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

func decodeRedisSession(raw []byte) (*domain.Session, error) {
	var rec redisSession
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode session: %w", err)
	}
	if rec.Session == nil {
		return nil, fmt.Errorf("decode session: empty record")
	}
	rec.Session.OwnerID = rec.OwnerID
	return rec.Session, nil
}
