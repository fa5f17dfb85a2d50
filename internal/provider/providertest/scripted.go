// Package providertest provides a deterministic in-memory provider for tests.
package providertest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/provider"
	"github.com/eatly-ai/eatly/internal/shared"
)

// Scripted is a provider whose run lifecycle follows a fixed script.
// The zero value completes every run on its first poll and echoes the utterance.
type Scripted struct {
	// States is the sequence each run reports on successive polls; the last entry repeats.
	States []domain.JobState
	// RawState is reported for JobUnknown entries.
	RawState string
	// LastError is attached to runs that end failed or expired.
	LastError domain.JobError
	// Replies builds the agent messages produced by a completed run, one slice per message.
	Replies func(utterance string) [][]provider.ContentPart
	// Errors makes the keyed operation fail with the given error.
	Errors map[string]error
	// BeforePoll is invoked before each GetJob with the 1-based poll number.
	BeforePoll func(jobID string, poll int)

	mu        sync.Mutex
	seq       int
	calls     map[string]int
	agents    []provider.AgentSpec
	pending   map[string]string
	jobs      map[string]*scriptedJob
	messages  map[string][]provider.Message
	cancelled []string
}

type scriptedJob struct {
	id             string
	conversationID string
	utterance      string
	polls          int
	delivered      bool
}

var _ provider.Provider = (*Scripted)(nil)

// New returns a Scripted provider that walks states in order.
func New(states ...domain.JobState) *Scripted {
	return &Scripted{States: states}
}

// Echo is the default reply script.
func Echo(utterance string) [][]provider.ContentPart {
	return [][]provider.ContentPart{{{Kind: provider.PartText, Text: "echo: " + utterance}}}
}

func (s *Scripted) record(op string) error {
	if s.calls == nil {
		s.calls = make(map[string]int)
		s.pending = make(map[string]string)
		s.jobs = make(map[string]*scriptedJob)
		s.messages = make(map[string][]provider.Message)
	}
	s.calls[op]++
	if err := s.Errors[op]; err != nil {
		return err
	}
	return nil
}

func (s *Scripted) nextID(prefix string) string {
	s.seq++
	return fmt.Sprintf("%s_%d", prefix, s.seq)
}

func (s *Scripted) stateAt(poll int) domain.JobState {
	if len(s.States) == 0 {
		return domain.JobCompleted
	}
	if poll > len(s.States) {
		return s.States[len(s.States)-1]
	}
	return s.States[poll-1]
}

// Calls returns how many times op was invoked.
func (s *Scripted) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// TotalCalls returns the number of remote calls of any kind.
func (s *Scripted) TotalCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	total := 0
	for _, n := range s.calls {
		total += n
	}
	return total
}

// Agents returns the specs passed to CreateAgent.
func (s *Scripted) Agents() []provider.AgentSpec {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]provider.AgentSpec(nil), s.agents...)
}

// Cancelled returns the ids of runs that received a cancel request.
func (s *Scripted) Cancelled() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.cancelled...)
}

func (s *Scripted) CreateAgent(_ context.Context, spec provider.AgentSpec) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(provider.OpCreateAgent); err != nil {
		return "", err
	}
	s.agents = append(s.agents, spec)
	return s.nextID("asst"), nil
}

func (s *Scripted) CreateConversation(_ context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(provider.OpCreateConversation); err != nil {
		return "", err
	}
	id := s.nextID("thread")
	s.messages[id] = nil
	return id, nil
}

func (s *Scripted) AppendUtterance(_ context.Context, conversationID, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(provider.OpAppendUtterance); err != nil {
		return err
	}
	if _, ok := s.messages[conversationID]; !ok {
		return &shared.ProviderError{Op: provider.OpAppendUtterance, Status: 404, Message: "No thread found with id '" + conversationID + "'."}
	}
	s.messages[conversationID] = append(s.messages[conversationID], provider.Message{
		ID:        s.nextID("msg"),
		Role:      domain.RoleUser,
		Parts:     []provider.ContentPart{{Kind: provider.PartText, Text: text}},
		CreatedAt: time.Unix(int64(s.seq), 0),
	})
	s.pending[conversationID] = text
	return nil
}

func (s *Scripted) StartJob(_ context.Context, _ string, conversationID string) (domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(provider.OpStartJob); err != nil {
		return domain.Job{}, err
	}
	j := &scriptedJob{
		id:             s.nextID("run"),
		conversationID: conversationID,
		utterance:      s.pending[conversationID],
	}
	s.jobs[j.id] = j
	return domain.Job{ID: j.id, ConversationID: conversationID, State: domain.JobQueued, RawState: string(domain.JobQueued)}, nil
}

func (s *Scripted) GetJob(_ context.Context, conversationID, jobID string) (domain.Job, error) {
	s.mu.Lock()
	hook := s.BeforePoll
	poll := 0
	if j := s.jobs[jobID]; j != nil {
		poll = j.polls + 1
	}
	s.mu.Unlock()
	if hook != nil {
		hook(jobID, poll)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(provider.OpGetJob); err != nil {
		return domain.Job{}, err
	}
	j, ok := s.jobs[jobID]
	if !ok {
		return domain.Job{}, &shared.ProviderError{Op: provider.OpGetJob, Status: 404, Message: "No run found with id '" + jobID + "'."}
	}
	j.polls++
	state := s.stateAt(j.polls)
	raw := string(state)
	if state == domain.JobUnknown {
		raw = s.RawState
	}
	job := domain.Job{ID: j.id, ConversationID: conversationID, State: state, RawState: raw}
	switch state {
	case domain.JobCompleted:
		s.deliver(j)
	case domain.JobFailed, domain.JobExpired:
		job.LastError = s.LastError
	}
	return job, nil
}

func (s *Scripted) deliver(j *scriptedJob) {
	if j.delivered {
		return
	}
	j.delivered = true
	replies := s.Replies
	if replies == nil {
		replies = Echo
	}
	for _, parts := range replies(j.utterance) {
		s.messages[j.conversationID] = append(s.messages[j.conversationID], provider.Message{
			ID:        s.nextID("msg"),
			Role:      domain.RoleAgent,
			JobID:     j.id,
			Parts:     append([]provider.ContentPart(nil), parts...),
			CreatedAt: time.Unix(int64(s.seq), 0),
		})
	}
}

func (s *Scripted) CancelJob(_ context.Context, _ string, jobID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancelled = append(s.cancelled, jobID)
	return s.record(provider.OpCancelJob)
}

func (s *Scripted) ListJobMessages(_ context.Context, conversationID, jobID string) ([]provider.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.record(provider.OpListJobMessages); err != nil {
		return nil, err
	}
	var out []provider.Message
	for _, m := range s.messages[conversationID] {
		if m.JobID == jobID {
			m.Parts = append([]provider.ContentPart(nil), m.Parts...)
			out = append(out, m)
		}
	}
	return out, nil
}
