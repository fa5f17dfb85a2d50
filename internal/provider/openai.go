package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/shared"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
)

// messagePageSize is the page size used when listing run messages.
const messagePageSize = 100

// OpenAIConfig configures the OpenAI Assistants adapter.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	MaxRetries int
	HTTPClient *http.Client
}

// OpenAI implements Provider on top of the OpenAI Assistants API
// (assistants, threads, messages and runs).
type OpenAI struct {
	client openai.Client
}

// Ensure OpenAI implements Provider.
var _ Provider = (*OpenAI)(nil)

// NewOpenAI creates the adapter. A missing API key is reported as
// shared.ErrProviderNotConfigured so callers can fail fast.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, shared.ErrProviderNotConfigured
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(cfg.MaxRetries),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	return &OpenAI{client: openai.NewClient(opts...)}, nil
}

// CreateAgent registers a new assistant.
func (p *OpenAI) CreateAgent(ctx context.Context, spec AgentSpec) (string, error) {
	assistant, err := p.client.Beta.Assistants.New(ctx, openai.BetaAssistantNewParams{
		Model:        openai.ChatModel(spec.Model),
		Name:         openai.String(spec.Name),
		Instructions: openai.String(spec.Instructions),
	})
	if err != nil {
		return "", wrapError(OpCreateAgent, err)
	}
	return assistant.ID, nil
}

// CreateConversation creates an empty thread.
func (p *OpenAI) CreateConversation(ctx context.Context) (string, error) {
	thread, err := p.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", wrapError(OpCreateConversation, err)
	}
	return thread.ID, nil
}

// AppendUtterance posts a user message to the thread.
func (p *OpenAI) AppendUtterance(ctx context.Context, conversationID, text string) error {
	_, err := p.client.Beta.Threads.Messages.New(ctx, conversationID, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRoleUser,
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		return wrapError(OpAppendUtterance, err)
	}
	return nil
}

// StartJob creates a run of the assistant over the thread.
func (p *OpenAI) StartJob(ctx context.Context, agentID, conversationID string) (domain.Job, error) {
	run, err := p.client.Beta.Threads.Runs.New(ctx, conversationID, openai.BetaThreadRunNewParams{
		AssistantID: agentID,
	})
	if err != nil {
		return domain.Job{}, wrapError(OpStartJob, err)
	}
	return jobFromRun(run, conversationID), nil
}

// GetJob fetches the current state of a run.
func (p *OpenAI) GetJob(ctx context.Context, conversationID, jobID string) (domain.Job, error) {
	run, err := p.client.Beta.Threads.Runs.Get(ctx, conversationID, jobID)
	if err != nil {
		return domain.Job{}, wrapError(OpGetJob, err)
	}
	return jobFromRun(run, conversationID), nil
}

// CancelJob asks the provider to stop a run.
func (p *OpenAI) CancelJob(ctx context.Context, conversationID, jobID string) error {
	if _, err := p.client.Beta.Threads.Runs.Cancel(ctx, conversationID, jobID); err != nil {
		return wrapError(OpCancelJob, err)
	}
	return nil
}

// ListJobMessages lists the messages a run attached to the thread, oldest first.
func (p *OpenAI) ListJobMessages(ctx context.Context, conversationID, jobID string) ([]Message, error) {
	pager := p.client.Beta.Threads.Messages.ListAutoPaging(ctx, conversationID, openai.BetaThreadMessageListParams{
		RunID: openai.String(jobID),
		Order: openai.BetaThreadMessageListParamsOrderAsc,
		Limit: openai.Int(messagePageSize),
	})

	var messages []Message
	for pager.Next() {
		messages = append(messages, messageFromOpenAI(pager.Current()))
	}
	if err := pager.Err(); err != nil {
		return nil, wrapError(OpListJobMessages, err)
	}
	return messages, nil
}

func jobFromRun(run *openai.Run, conversationID string) domain.Job {
	raw := string(run.Status)
	if run.ThreadID != "" {
		conversationID = run.ThreadID
	}
	return domain.Job{
		ID:             run.ID,
		ConversationID: conversationID,
		State:          domain.ParseJobState(raw),
		RawState:       raw,
		LastError: domain.JobError{
			Code:    string(run.LastError.Code),
			Message: run.LastError.Message,
		},
	}
}

func messageFromOpenAI(m openai.Message) Message {
	role := domain.RoleUser
	if string(m.Role) == "assistant" {
		role = domain.RoleAgent
	}

	parts := make([]ContentPart, 0, len(m.Content))
	for _, c := range m.Content {
		switch kind := PartKind(c.Type); kind {
		case PartText:
			parts = append(parts, ContentPart{Kind: PartText, Text: c.Text.Value})
		case PartRefusal:
			parts = append(parts, ContentPart{Kind: PartRefusal, Text: c.Refusal})
		default:
			parts = append(parts, ContentPart{Kind: kind})
		}
	}

	return Message{
		ID:        m.ID,
		Role:      role,
		JobID:     m.RunID,
		Parts:     parts,
		CreatedAt: time.Unix(m.CreatedAt, 0),
	}
}

func wrapError(op string, err error) error {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		msg := apiErr.Message
		if msg == "" {
			msg = http.StatusText(apiErr.StatusCode)
		}
		return &shared.ProviderError{Op: op, Status: apiErr.StatusCode, Name: errorName(apiErr.StatusCode), Message: msg, Err: err}
	}
	return &shared.ProviderError{Op: op, Message: err.Error(), Err: err}
}

// errorName names an API failure by status, using the names the OpenAI SDKs give their error classes.
func errorName(status int) string {
	switch {
	case status == http.StatusBadRequest:
		return "BadRequestError"
	case status == http.StatusUnauthorized:
		return "AuthenticationError"
	case status == http.StatusForbidden:
		return "PermissionDeniedError"
	case status == http.StatusNotFound:
		return "NotFoundError"
	case status == http.StatusConflict:
		return "ConflictError"
	case status == http.StatusUnprocessableEntity:
		return "UnprocessableEntityError"
	case status == http.StatusTooManyRequests:
		return "RateLimitError"
	case status >= http.StatusInternalServerError:
		return "InternalServerError"
	default:
		return "APIError"
	}
}
