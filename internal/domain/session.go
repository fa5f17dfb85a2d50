package domain

import (
	"time"
)

// Role identifies who authored an utterance.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// Utterance is a single transcript entry.
type Utterance struct {
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"createdAt"`
	// Failed is set on a user utterance whose turn did not produce a reply.
	Failed bool   `json:"failed,omitempty"`
	Error  string `json:"error,omitempty"`
}

// Session carries conversational context across turns for one visitor.
type Session struct {
	ID             string      `json:"id"`
	OwnerID        string      `json:"-"`
	AgentID        string      `json:"agentId"`
	ConversationID string      `json:"conversationId,omitempty"`
	Transcript     []Utterance `json:"transcript"`
	CreatedAt      time.Time   `json:"createdAt"`
	UpdatedAt      time.Time   `json:"updatedAt"`
}

// Clone returns a deep copy of the session.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	clone := *s
	clone.Transcript = append([]Utterance(nil), s.Transcript...)
	return &clone
}

// Append adds an utterance to the transcript and bumps UpdatedAt.
func (s *Session) Append(u Utterance) {
	s.Transcript = append(s.Transcript, u)
	s.UpdatedAt = u.CreatedAt
}

// LastFailed returns the index of the trailing failed user utterance, or -1.
func (s *Session) LastFailed() int {
	if n := len(s.Transcript); n > 0 {
		last := s.Transcript[n-1]
		if last.Role == RoleUser && last.Failed {
			return n - 1
		}
	}
	return -1
}

// Expired reports whether the session has been idle longer than ttl.
func (s *Session) Expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.UpdatedAt) > ttl
}
