package tui

import (
	"context"
	"errors"
	"strings"
	"testing"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/session"
)

type stubSender struct {
	err error
}

func (s *stubSender) Send(_ context.Context, req conversation.TurnRequest) (conversation.TurnResult, error) {
	if s.err != nil {
		return conversation.TurnResult{}, s.err
	}
	return conversation.TurnResult{Reply: "re: " + req.Utterance, ConversationID: "thread_tui"}, nil
}

// runCmd executes cmd and returns the turnDoneMsg it produces, unwrapping batches.
func runCmd(t *testing.T, cmd tea.Cmd) (turnDoneMsg, bool) {
	t.Helper()
	if cmd == nil {
		return turnDoneMsg{}, false
	}
	switch msg := cmd().(type) {
	case turnDoneMsg:
		return msg, true
	case tea.BatchMsg:
		for _, c := range msg {
			if done, ok := runCmd(t, c); ok {
				return done, true
			}
		}
	}
	return turnDoneMsg{}, false
}

func typeAndSend(t *testing.T, c *Chat, text string) tea.Cmd {
	t.Helper()
	c.input.SetValue(text)
	_, cmd := c.Update(tea.KeyMsg{Type: tea.KeyEnter})
	return cmd
}

func TestChatSubmitRendersReply(t *testing.T) {
	t.Parallel()

	client := session.NewClient(&stubSender{}, "asst_1")
	c := NewChat(context.Background(), client, "Luigi's")

	cmd := typeAndSend(t, c, "Any vegan pasta?")
	if !c.sending {
		t.Fatal("expected sending after enter")
	}
	if c.input.Value() != "" {
		t.Fatalf("input not cleared: %q", c.input.Value())
	}
	if !strings.Contains(c.View(), "waiting for reply") {
		t.Fatal("expected spinner status while sending")
	}

	done, ok := runCmd(t, cmd)
	if !ok {
		t.Fatal("enter did not start a turn")
	}
	c.Update(done)

	if c.sending || c.err != nil {
		t.Fatalf("after turn sending=%v err=%v", c.sending, c.err)
	}
	view := c.View()
	for _, want := range []string{"Any vegan pasta?", "re: Any vegan pasta?", "thread_tui"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestChatIgnoresBlankInput(t *testing.T) {
	t.Parallel()

	c := NewChat(context.Background(), session.NewClient(&stubSender{}, "asst_1"), "t")
	if cmd := typeAndSend(t, c, "   "); cmd != nil || c.sending {
		t.Fatal("blank input must not start a turn")
	}
}

func TestChatBusyWhileSending(t *testing.T) {
	t.Parallel()

	c := NewChat(context.Background(), session.NewClient(&stubSender{}, "asst_1"), "t")
	_ = typeAndSend(t, c, "first")
	if cmd := typeAndSend(t, c, "second"); cmd != nil {
		t.Fatal("second enter while sending must not start a turn")
	}
	if !errors.Is(c.err, session.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", c.err)
	}
}

func TestChatFailureAndRetry(t *testing.T) {
	t.Parallel()

	sender := &stubSender{err: errors.New("OpenAI API Error: 429 Rate limit reached")}
	client := session.NewClient(sender, "asst_1")
	c := NewChat(context.Background(), client, "t")

	done, _ := runCmd(t, typeAndSend(t, c, "table for two"))
	c.Update(done)
	view := c.View()
	if !strings.Contains(view, "not delivered") || !strings.Contains(view, "429") {
		t.Fatalf("failed utterance not rendered:\n%s", view)
	}

	sender.err = nil
	_, cmd := c.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	done, ok := runCmd(t, cmd)
	if !ok {
		t.Fatal("ctrl+r did not start a retry")
	}
	c.Update(done)
	if c.err != nil {
		t.Fatalf("retry err = %v", c.err)
	}
	transcript := client.Transcript()
	if len(transcript) != 2 || transcript[0].Failed || transcript[1].Text != "re: table for two" {
		t.Fatalf("transcript after retry = %+v", transcript)
	}
}

func TestChatRetryWithNothingFailed(t *testing.T) {
	t.Parallel()

	c := NewChat(context.Background(), session.NewClient(&stubSender{}, "asst_1"), "t")
	_, cmd := c.Update(tea.KeyMsg{Type: tea.KeyCtrlR})
	done, _ := runCmd(t, cmd)
	c.Update(done)
	if !errors.Is(c.err, session.ErrNothingToRetry) {
		t.Fatalf("err = %v, want ErrNothingToRetry", c.err)
	}
	if !strings.Contains(c.View(), "Nothing to retry") {
		t.Fatal("expected retry status text")
	}
}
