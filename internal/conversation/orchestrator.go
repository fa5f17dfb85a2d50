// Package conversation runs a single user turn against a provider-hosted assistant:
// it appends the utterance, starts a run, polls it to a terminal state and
// collects the assistant's reply.
package conversation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/provider"
	"github.com/eatly-ai/eatly/internal/shared"
)

// PollConfig bounds the wait for a run to finish.
type PollConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
	// MaxElapsed stops polling once the next wait would exceed it. Zero disables the limit.
	MaxElapsed time.Duration
	// MaxAttempts caps the number of status polls. Zero disables the limit.
	MaxAttempts int
	// CancelTimeout bounds the best-effort remote cancel issued when polling is abandoned.
	CancelTimeout time.Duration
}

// DefaultPollConfig starts at 500ms between polls and backs off to 5s, giving up after two minutes.
func DefaultPollConfig() PollConfig {
	return PollConfig{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     5 * time.Second,
		Multiplier:      1.5,
		MaxElapsed:      2 * time.Minute,
		MaxAttempts:     240,
		CancelTimeout:   5 * time.Second,
	}
}

// TurnRequest is one user turn.
type TurnRequest struct {
	AgentID        string `json:"agentId"`
	ConversationID string `json:"conversationId,omitempty"`
	Utterance      string `json:"utterance"`
}

// TurnResult is the outcome of a successful turn.
type TurnResult struct {
	Reply          string `json:"reply"`
	ConversationID string `json:"conversationId"`
	JobID          string `json:"-"`
	Polls          int    `json:"-"`
}

// Orchestrator drives turns against a provider.
type Orchestrator struct {
	provider provider.Provider
	poll     PollConfig
	logger   *slog.Logger
}

// New creates an Orchestrator.
func New(p provider.Provider, poll PollConfig, logger *slog.Logger) *Orchestrator {
	if poll.InitialInterval <= 0 {
		poll.InitialInterval = DefaultPollConfig().InitialInterval
	}
	if poll.MaxInterval < poll.InitialInterval {
		poll.MaxInterval = poll.InitialInterval
	}
	if poll.Multiplier < 1 {
		poll.Multiplier = 1
	}
	if poll.CancelTimeout <= 0 {
		poll.CancelTimeout = DefaultPollConfig().CancelTimeout
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{provider: p, poll: poll, logger: logger}
}

// Send appends the utterance to the conversation (creating it when
// req.ConversationID is empty), runs the assistant and returns its reply.
func (o *Orchestrator) Send(ctx context.Context, req TurnRequest) (TurnResult, error) {
	if strings.TrimSpace(req.AgentID) == "" {
		return TurnResult{}, &shared.ValidationError{Field: "agentId"}
	}
	if strings.TrimSpace(req.Utterance) == "" {
		return TurnResult{}, &shared.ValidationError{Field: "utterance"}
	}

	conversationID := req.ConversationID
	if conversationID == "" {
		id, err := o.provider.CreateConversation(ctx)
		if err != nil {
			return TurnResult{}, providerError(provider.OpCreateConversation, err)
		}
		conversationID = id
		o.logger.Info("Created conversation", "conversation_id", conversationID)
	}

	if err := o.provider.AppendUtterance(ctx, conversationID, req.Utterance); err != nil {
		return TurnResult{}, providerError(provider.OpAppendUtterance, err)
	}

	job, err := o.provider.StartJob(ctx, req.AgentID, conversationID)
	if err != nil {
		return TurnResult{}, providerError(provider.OpStartJob, err)
	}
	o.logger.Info("Started run", "conversation_id", conversationID, "job_id", job.ID, "agent_id", req.AgentID)

	job, polls, err := o.waitForJob(ctx, conversationID, job)
	if err != nil {
		return TurnResult{}, err
	}
	if job.State != domain.JobCompleted {
		o.logger.Warn("Run did not complete", "job_id", job.ID, "state", job.State, "code", job.LastError.Code)
		return TurnResult{}, &shared.JobFailedError{
			JobID:   job.ID,
			State:   job.State,
			Code:    job.LastError.Code,
			Message: job.LastError.Message,
		}
	}

	messages, err := o.provider.ListJobMessages(ctx, conversationID, job.ID)
	if err != nil {
		return TurnResult{}, providerError(provider.OpListJobMessages, err)
	}
	reply := CollectReply(messages, job.ID)
	o.logger.Info("Run completed", "job_id", job.ID, "polls", polls, "reply_length", len(reply))

	return TurnResult{
		Reply:          reply,
		ConversationID: conversationID,
		JobID:          job.ID,
		Polls:          polls,
	}, nil
}

// waitForJob polls until the run reaches a terminal state. It returns the last
// observed job and the number of polls performed.
func (o *Orchestrator) waitForJob(ctx context.Context, conversationID string, job domain.Job) (domain.Job, int, error) {
	b := o.newBackOff()
	start := time.Now()
	polls := 0

	for {
		wait := b.NextBackOff()
		if wait == backoff.Stop || (o.poll.MaxAttempts > 0 && polls >= o.poll.MaxAttempts) {
			o.logger.Warn("Run polling budget exhausted", "job_id", job.ID, "polls", polls, "state", job.State)
			o.cancelJob(ctx, conversationID, job.ID)
			return job, polls, &shared.TimeoutError{
				JobID:     job.ID,
				Polls:     polls,
				Elapsed:   time.Since(start),
				LastState: job.State,
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			o.logger.Info("Run polling abandoned", "job_id", job.ID, "polls", polls, "reason", ctx.Err())
			o.cancelJob(ctx, conversationID, job.ID)
			return job, polls, fmt.Errorf("wait for run %s: %w", job.ID, ctx.Err())
		case <-timer.C:
		}

		current, err := o.provider.GetJob(ctx, conversationID, job.ID)
		polls++
		if err != nil {
			return job, polls, providerError(provider.OpGetJob, err)
		}
		job = current
		o.logger.Debug("Run status", "job_id", job.ID, "state", job.RawState, "poll", polls)

		switch {
		case job.State.IsTerminal():
			return job, polls, nil
		case job.State.IsActive():
			continue
		default:
			o.logger.Error("Run reported unrecognized status",
				"invariant_violation", true,
				"job_id", job.ID,
				"raw_state", job.RawState,
			)
			return job, polls, &shared.InvariantViolation{JobID: job.ID, RawState: job.RawState}
		}
	}
}

func (o *Orchestrator) newBackOff() *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     o.poll.InitialInterval,
		RandomizationFactor: 0,
		Multiplier:          o.poll.Multiplier,
		MaxInterval:         o.poll.MaxInterval,
		MaxElapsedTime:      o.poll.MaxElapsed,
		Stop:                backoff.Stop,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// cancelJob asks the provider to stop a run we no longer wait for.
// It runs detached from ctx, which is usually already done.
func (o *Orchestrator) cancelJob(ctx context.Context, conversationID, jobID string) {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.poll.CancelTimeout)
	defer cancel()
	if err := o.provider.CancelJob(cancelCtx, conversationID, jobID); err != nil {
		o.logger.Warn("Failed to cancel run", "job_id", jobID, "error", err)
		return
	}
	o.logger.Info("Requested run cancellation", "job_id", jobID)
}

// CollectReply joins the text parts of the agent messages produced by jobID,
// in order, with newlines. Parts of any other kind are dropped.
func CollectReply(messages []provider.Message, jobID string) string {
	var texts []string
	for _, m := range messages {
		if m.Role != domain.RoleAgent || m.JobID != jobID {
			continue
		}
		for _, part := range m.Parts {
			if part.Kind == provider.PartText {
				texts = append(texts, part.Text)
			}
		}
	}
	return strings.Join(texts, "\n")
}

func providerError(op string, err error) error {
	var pe *shared.ProviderError
	if errors.As(err, &pe) {
		return err
	}
	return &shared.ProviderError{Op: op, Message: err.Error(), Err: err}
}
