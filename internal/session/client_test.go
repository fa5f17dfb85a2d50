package session

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/domain"
)

// fakeSender replies "re: <utterance>" and hands out a fixed conversation id.
// When gate is set, Send blocks until it is closed.
type fakeSender struct {
	mu       sync.Mutex
	requests []conversation.TurnRequest
	err      error
	gate     chan struct{}
	entered  chan struct{}
}

func (f *fakeSender) Send(ctx context.Context, req conversation.TurnRequest) (conversation.TurnResult, error) {
	f.mu.Lock()
	f.requests = append(f.requests, req)
	err := f.err
	f.mu.Unlock()

	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return conversation.TurnResult{}, ctx.Err()
		}
	}
	if err != nil {
		return conversation.TurnResult{}, err
	}
	convID := req.ConversationID
	if convID == "" {
		convID = "thread_1"
	}
	return conversation.TurnResult{Reply: "re: " + req.Utterance, ConversationID: convID}, nil
}

func (f *fakeSender) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeSender) sent() []conversation.TurnRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]conversation.TurnRequest(nil), f.requests...)
}

func TestClientSubmitAppendsBothSides(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	var states []State
	c := NewClient(sender, "asst_1", WithStateObserver(func(s State) { states = append(states, s) }))

	reply, err := c.Submit(context.Background(), "Do you deliver?")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if reply.Role != domain.RoleAgent || reply.Text != "re: Do you deliver?" {
		t.Fatalf("unexpected reply: %+v", reply)
	}
	if c.ConversationID() != "thread_1" {
		t.Fatalf("conversation id = %q", c.ConversationID())
	}
	tr := c.Transcript()
	if len(tr) != 2 || tr[0].Role != domain.RoleUser || tr[1].Role != domain.RoleAgent {
		t.Fatalf("unexpected transcript: %+v", tr)
	}
	if len(states) != 2 || states[0] != Sending || states[1] != Idle {
		t.Fatalf("state transitions = %v", states)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v", c.State())
	}
}

func TestClientSecondTurnReusesConversation(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	c := NewClient(sender, "asst_1")
	ctx := context.Background()

	if _, err := c.Submit(ctx, "one"); err != nil {
		t.Fatal(err)
	}
	if _, err := c.Submit(ctx, "two"); err != nil {
		t.Fatal(err)
	}
	reqs := sender.sent()
	if reqs[0].ConversationID != "" || reqs[1].ConversationID != "thread_1" {
		t.Fatalf("conversation ids sent = %q, %q", reqs[0].ConversationID, reqs[1].ConversationID)
	}
}

func TestClientRejectsEmptyInput(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	c := NewClient(sender, "asst_1")
	for _, text := range []string{"", "   ", "\n\t"} {
		if _, err := c.Submit(context.Background(), text); !errors.Is(err, ErrEmptyUtterance) {
			t.Fatalf("Submit(%q) = %v, want ErrEmptyUtterance", text, err)
		}
	}
	if len(sender.sent()) != 0 || len(c.Transcript()) != 0 {
		t.Fatal("empty input must not reach the sender or the transcript")
	}
}

func TestClientRejectsWhileSending(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	c := NewClient(sender, "asst_1")

	done := make(chan error, 1)
	go func() {
		_, err := c.Submit(context.Background(), "first")
		done <- err
	}()
	<-sender.entered

	if c.State() != Sending {
		t.Fatalf("state = %v, want sending", c.State())
	}
	if _, err := c.Submit(context.Background(), "second"); !errors.Is(err, ErrBusy) {
		t.Fatalf("concurrent Submit = %v, want ErrBusy", err)
	}

	close(sender.gate)
	if err := <-done; err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if got := len(sender.sent()); got != 1 {
		t.Fatalf("sender calls = %d, want 1", got)
	}
	if got := len(c.Transcript()); got != 2 {
		t.Fatalf("transcript length = %d, want 2", got)
	}
}

func TestClientAnnotatesFailureByDefault(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{}
	c := NewClient(sender, "asst_1")
	ctx := context.Background()

	if _, err := c.Submit(ctx, "hello"); err != nil {
		t.Fatal(err)
	}
	sender.setErr(errors.New("OpenAI API Error: 500 server error"))
	if _, err := c.Submit(ctx, "still there?"); err == nil {
		t.Fatal("expected error")
	}

	tr := c.Transcript()
	if len(tr) != 3 {
		t.Fatalf("transcript must be kept on failure, got %d entries", len(tr))
	}
	last := tr[2]
	if last.Text != "still there?" || !last.Failed || last.Error == "" {
		t.Fatalf("failed utterance not annotated: %+v", last)
	}
	if c.State() != Idle {
		t.Fatalf("state = %v, want idle", c.State())
	}
}

func TestClientRetractsFailureWhenConfigured(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: errors.New("boom")}
	c := NewClient(sender, "asst_1", WithFailurePolicy(RetractOnFailure))

	if _, err := c.Submit(context.Background(), "hello"); err == nil {
		t.Fatal("expected error")
	}
	if len(c.Transcript()) != 0 {
		t.Fatalf("expected retracted utterance, got %+v", c.Transcript())
	}
}

func TestClientRetryResubmitsFailedUtterance(t *testing.T) {
	t.Parallel()

	sender := &fakeSender{err: errors.New("boom")}
	c := NewClient(sender, "asst_1")
	ctx := context.Background()

	if _, err := c.Retry(ctx); !errors.Is(err, ErrNothingToRetry) {
		t.Fatalf("Retry on empty transcript = %v", err)
	}
	if _, err := c.Submit(ctx, "menu?"); err == nil {
		t.Fatal("expected error")
	}

	sender.setErr(nil)
	reply, err := c.Retry(ctx)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if reply.Text != "re: menu?" {
		t.Fatalf("reply = %q", reply.Text)
	}
	tr := c.Transcript()
	if len(tr) != 2 || tr[0].Failed || tr[0].Text != "menu?" {
		t.Fatalf("unexpected transcript after retry: %+v", tr)
	}
}

func TestResumeCopiesSession(t *testing.T) {
	t.Parallel()

	s := &domain.Session{ID: "s1", AgentID: "asst_1", ConversationID: "thread_7"}
	c := Resume(&fakeSender{}, s)
	if _, err := c.Submit(context.Background(), "hi"); err != nil {
		t.Fatal(err)
	}
	if len(s.Transcript) != 0 {
		t.Fatal("Resume must not mutate the caller's session")
	}
	if snap := c.Snapshot(); snap.ID != "s1" || snap.ConversationID != "thread_7" || len(snap.Transcript) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}
