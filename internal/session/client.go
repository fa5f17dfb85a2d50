// Package session holds per-visitor conversational state: the client-side
// turn state machine and the server-side registry of persisted sessions.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/domain"
)

var (
	// ErrBusy is returned when a turn is submitted while another is in flight.
	ErrBusy = errors.New("a turn is already in progress")
	// ErrEmptyUtterance is returned for blank input.
	ErrEmptyUtterance = errors.New("utterance is empty")
	// ErrNotFound is returned for unknown sessions or sessions owned by someone else.
	ErrNotFound = errors.New("session not found")
	// ErrNothingToRetry is returned by Retry when the last utterance did not fail.
	ErrNothingToRetry = errors.New("no failed utterance to retry")
)

// State is the turn state of a Client.
type State int

const (
	Idle State = iota
	Sending
)

func (s State) String() string {
	if s == Sending {
		return "sending"
	}
	return "idle"
}

// FailurePolicy decides what happens to the user's utterance when a turn fails.
type FailurePolicy int

const (
	// AnnotateOnFailure keeps the utterance and marks it failed.
	AnnotateOnFailure FailurePolicy = iota
	// RetractOnFailure removes the utterance from the transcript.
	RetractOnFailure
)

// Sender runs one turn. *conversation.Orchestrator and *clientapi.Client implement it.
type Sender interface {
	Send(ctx context.Context, req conversation.TurnRequest) (conversation.TurnResult, error)
}

// Option configures a Client.
type Option func(*Client)

// WithFailurePolicy selects how failed turns are reflected in the transcript.
func WithFailurePolicy(p FailurePolicy) Option {
	return func(c *Client) { c.policy = p }
}

// WithStateObserver registers fn to be called after every state transition.
// fn runs on the submitting goroutine without the client lock held.
func WithStateObserver(fn func(State)) Option {
	return func(c *Client) { c.observe = fn }
}

// WithClock overrides the time source used for utterance timestamps.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// Client is the conversation state for one visitor and one agent.
// At most one turn is in flight at a time.
type Client struct {
	sender  Sender
	policy  FailurePolicy
	observe func(State)
	now     func() time.Time

	mu      sync.Mutex
	state   State
	session *domain.Session
}

// NewClient starts an empty conversation with agentID.
func NewClient(sender Sender, agentID string, opts ...Option) *Client {
	c := newClient(sender, opts)
	now := c.now()
	c.session = &domain.Session{AgentID: agentID, CreatedAt: now, UpdatedAt: now}
	return c
}

// Resume continues an existing session. The session is copied.
func Resume(sender Sender, s *domain.Session, opts ...Option) *Client {
	c := newClient(sender, opts)
	c.session = s.Clone()
	return c
}

func newClient(sender Sender, opts []Option) *Client {
	c := &Client{sender: sender, now: time.Now}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Submit sends text as the next user turn and returns the agent's reply.
// The user utterance is appended before the remote call. On failure the
// transcript is kept and the FailurePolicy is applied to that utterance.
func (c *Client) Submit(ctx context.Context, text string) (domain.Utterance, error) {
	if strings.TrimSpace(text) == "" {
		return domain.Utterance{}, ErrEmptyUtterance
	}
	req, err := c.begin(text, false)
	if err != nil {
		return domain.Utterance{}, err
	}
	return c.run(ctx, req)
}

// Retry re-submits the trailing failed utterance.
func (c *Client) Retry(ctx context.Context) (domain.Utterance, error) {
	req, err := c.begin("", true)
	if err != nil {
		return domain.Utterance{}, err
	}
	return c.run(ctx, req)
}

func (c *Client) begin(text string, retry bool) (conversation.TurnRequest, error) {
	c.mu.Lock()
	if c.state == Sending {
		c.mu.Unlock()
		return conversation.TurnRequest{}, ErrBusy
	}
	if retry {
		idx := c.session.LastFailed()
		if idx < 0 {
			c.mu.Unlock()
			return conversation.TurnRequest{}, ErrNothingToRetry
		}
		text = c.session.Transcript[idx].Text
		c.session.Transcript = c.session.Transcript[:idx]
	}

	c.session.Append(domain.Utterance{Role: domain.RoleUser, Text: text, CreatedAt: c.now()})
	c.state = Sending
	req := conversation.TurnRequest{
		AgentID:        c.session.AgentID,
		ConversationID: c.session.ConversationID,
		Utterance:      text,
	}
	c.mu.Unlock()

	c.notify(Sending)
	return req, nil
}

func (c *Client) run(ctx context.Context, req conversation.TurnRequest) (domain.Utterance, error) {
	res, err := c.sender.Send(ctx, req)

	c.mu.Lock()
	var reply domain.Utterance
	if err != nil {
		c.fail(err)
	} else {
		c.session.ConversationID = res.ConversationID
		reply = domain.Utterance{Role: domain.RoleAgent, Text: res.Reply, CreatedAt: c.now()}
		c.session.Append(reply)
	}
	c.state = Idle
	c.mu.Unlock()

	c.notify(Idle)
	return reply, err
}

// fail applies the failure policy to the in-flight utterance, which is always last.
func (c *Client) fail(err error) {
	last := len(c.session.Transcript) - 1
	if last < 0 || c.session.Transcript[last].Role != domain.RoleUser {
		return
	}
	switch c.policy {
	case RetractOnFailure:
		c.session.Transcript = c.session.Transcript[:last]
	default:
		c.session.Transcript[last].Failed = true
		c.session.Transcript[last].Error = err.Error()
	}
	c.session.UpdatedAt = c.now()
}

func (c *Client) notify(s State) {
	if c.observe != nil {
		c.observe(s)
	}
}

// State returns the current turn state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// ConversationID returns the provider conversation id, empty before the first successful turn.
func (c *Client) ConversationID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.ConversationID
}

// Transcript returns a copy of the transcript.
func (c *Client) Transcript() []domain.Utterance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]domain.Utterance(nil), c.session.Transcript...)
}

// Snapshot returns a copy of the underlying session.
func (c *Client) Snapshot() *domain.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session.Clone()
}
