// Package provider defines the boundary to the hosted conversational-AI service
// and its OpenAI Assistants implementation.
package provider

import (
	"context"
	"time"

	"github.com/eatly-ai/eatly/internal/domain"
)

// Operation names reported in ProviderError.Op and trace spans.
const (
	OpCreateAgent        = "create_agent"
	OpCreateConversation = "create_conversation"
	OpAppendUtterance    = "append_utterance"
	OpStartJob           = "start_job"
	OpGetJob             = "get_job"
	OpCancelJob          = "cancel_job"
	OpListJobMessages    = "list_job_messages"
)

// AgentSpec describes an assistant to register.
type AgentSpec struct {
	Name         string
	Instructions string
	Model        string
}

// PartKind discriminates message content parts.
type PartKind string

const (
	PartText      PartKind = "text"
	PartImageFile PartKind = "image_file"
	PartImageURL  PartKind = "image_url"
	PartRefusal   PartKind = "refusal"
)

// IgnoredPartKinds are the known kinds that never contribute to a reply.
// Kinds outside both this list and PartText are dropped as well.
var IgnoredPartKinds = []PartKind{PartImageFile, PartImageURL, PartRefusal}

// ContentPart is one piece of message content.
type ContentPart struct {
	Kind PartKind
	Text string
}

// Message is a conversation entry as reported by the provider.
type Message struct {
	ID        string
	Role      domain.Role
	JobID     string
	Parts     []ContentPart
	CreatedAt time.Time
}

// Provider is the set of remote operations the orchestration relies on.
type Provider interface {
	CreateAgent(ctx context.Context, spec AgentSpec) (string, error)
	CreateConversation(ctx context.Context) (string, error)
	AppendUtterance(ctx context.Context, conversationID, text string) error
	StartJob(ctx context.Context, agentID, conversationID string) (domain.Job, error)
	GetJob(ctx context.Context, conversationID, jobID string) (domain.Job, error)
	CancelJob(ctx context.Context, conversationID, jobID string) error
	// ListJobMessages returns the messages attached to a run in chronological order.
	ListJobMessages(ctx context.Context, conversationID, jobID string) ([]Message, error)
}
