package provider

import (
	"context"

	"github.com/eatly-ai/eatly/internal/domain"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Traced wraps a Provider and records one client span per remote call.
type Traced struct {
	next   Provider
	tracer trace.Tracer
}

var _ Provider = (*Traced)(nil)

// NewTraced decorates next with spans from tracer.
func NewTraced(next Provider, tracer trace.Tracer) *Traced {
	return &Traced{next: next, tracer: tracer}
}

func (t *Traced) start(ctx context.Context, op string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "provider."+op,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
}

func finish(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}

func (t *Traced) CreateAgent(ctx context.Context, spec AgentSpec) (string, error) {
	ctx, span := t.start(ctx, OpCreateAgent, attribute.String("eatly.agent.model", spec.Model))
	id, err := t.next.CreateAgent(ctx, spec)
	span.SetAttributes(attribute.String("eatly.agent.id", id))
	finish(span, err)
	return id, err
}

func (t *Traced) CreateConversation(ctx context.Context) (string, error) {
	ctx, span := t.start(ctx, OpCreateConversation)
	id, err := t.next.CreateConversation(ctx)
	span.SetAttributes(attribute.String("eatly.conversation.id", id))
	finish(span, err)
	return id, err
}

func (t *Traced) AppendUtterance(ctx context.Context, conversationID, text string) error {
	ctx, span := t.start(ctx, OpAppendUtterance,
		attribute.String("eatly.conversation.id", conversationID),
		attribute.Int("eatly.utterance.length", len(text)),
	)
	err := t.next.AppendUtterance(ctx, conversationID, text)
	finish(span, err)
	return err
}

func (t *Traced) StartJob(ctx context.Context, agentID, conversationID string) (domain.Job, error) {
	ctx, span := t.start(ctx, OpStartJob,
		attribute.String("eatly.agent.id", agentID),
		attribute.String("eatly.conversation.id", conversationID),
	)
	job, err := t.next.StartJob(ctx, agentID, conversationID)
	span.SetAttributes(attribute.String("eatly.job.id", job.ID))
	finish(span, err)
	return job, err
}

func (t *Traced) GetJob(ctx context.Context, conversationID, jobID string) (domain.Job, error) {
	ctx, span := t.start(ctx, OpGetJob, attribute.String("eatly.job.id", jobID))
	job, err := t.next.GetJob(ctx, conversationID, jobID)
	span.SetAttributes(attribute.String("eatly.job.state", job.RawState))
	finish(span, err)
	return job, err
}

func (t *Traced) CancelJob(ctx context.Context, conversationID, jobID string) error {
	ctx, span := t.start(ctx, OpCancelJob, attribute.String("eatly.job.id", jobID))
	err := t.next.CancelJob(ctx, conversationID, jobID)
	finish(span, err)
	return err
}

func (t *Traced) ListJobMessages(ctx context.Context, conversationID, jobID string) ([]Message, error) {
	ctx, span := t.start(ctx, OpListJobMessages, attribute.String("eatly.job.id", jobID))
	msgs, err := t.next.ListJobMessages(ctx, conversationID, jobID)
	span.SetAttributes(attribute.Int("eatly.job.messages", len(msgs)))
	finish(span, err)
	return msgs, err
}
