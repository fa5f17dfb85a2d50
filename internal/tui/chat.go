// Package tui is the terminal chat client.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/bubbles/spinner"
	"github.com/charmbracelet/bubbles/textinput"
	"github.com/charmbracelet/bubbles/viewport"
	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"
	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/session"
)

var (
	titleStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("205"))

	userStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("39")).Bold(true)
	agentStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("46")).Bold(true)
	failStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("196"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))

	helpStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("241"))
)

// chrome is the number of rows used by everything except the transcript.
const chrome = 6

type Chat struct {
	ctx    context.Context
	client *session.Client
	title  string

	input    textinput.Model
	spinner  spinner.Model
	viewport viewport.Model

	sending bool
	err     error
	width   int
	height  int
}

// NewChat creates the chat model. ctx bounds every turn the model starts.
func NewChat(ctx context.Context, client *session.Client, title string) *Chat {
	ti := textinput.New()
	ti.Placeholder = "Ask about the menu, hours, reservations..."
	ti.CharLimit = 2000
	ti.Focus()

	sp := spinner.New()
	sp.Spinner = spinner.Dot
	sp.Style = dimStyle

	c := &Chat{
		ctx:      ctx,
		client:   client,
		title:    title,
		input:    ti,
		spinner:  sp,
		viewport: viewport.New(80, 20),
		width:    80,
	}
	c.refresh()
	return c
}

func (c *Chat) Init() tea.Cmd {
	return textinput.Blink
}

type turnDoneMsg struct {
	reply domain.Utterance
	err   error
}

func (c *Chat) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return c.handleKey(msg)

	case tea.WindowSizeMsg:
		c.width = msg.Width
		c.height = msg.Height
		c.viewport.Width = msg.Width
		c.viewport.Height = max(msg.Height-chrome, 3)
		c.input.Width = max(msg.Width-4, 10)
		c.refresh()
		return c, nil

	case turnDoneMsg:
		c.sending = false
		c.err = msg.err
		c.refresh()
		return c, nil

	case spinner.TickMsg:
		if !c.sending {
			return c, nil
		}
		var cmd tea.Cmd
		c.spinner, cmd = c.spinner.Update(msg)
		return c, cmd
	}

	var cmd tea.Cmd
	c.viewport, cmd = c.viewport.Update(msg)
	return c, cmd
}

func (c *Chat) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "ctrl+c", "esc":
		return c, tea.Quit

	case "enter":
		text := strings.TrimSpace(c.input.Value())
		if text == "" {
			return c, nil
		}
		if c.sending {
			c.err = session.ErrBusy
			return c, nil
		}
		c.input.Reset()
		return c, c.start(func(ctx context.Context) (domain.Utterance, error) {
			return c.client.Submit(ctx, text)
		})

	case "ctrl+r":
		if c.sending {
			return c, nil
		}
		return c, c.start(c.client.Retry)

	case "pgup", "pgdown":
		var cmd tea.Cmd
		c.viewport, cmd = c.viewport.Update(msg)
		return c, cmd
	}

	var cmd tea.Cmd
	c.input, cmd = c.input.Update(msg)
	return c, cmd
}

// start runs a turn in the background and re-renders when it finishes.
func (c *Chat) start(turn func(context.Context) (domain.Utterance, error)) tea.Cmd {
	c.sending = true
	c.err = nil
	run := func() tea.Msg {
		reply, err := turn(c.ctx)
		return turnDoneMsg{reply: reply, err: err}
	}
	return tea.Batch(run, c.spinner.Tick)
}

// refresh re-renders the transcript into the viewport.
func (c *Chat) refresh() {
	c.viewport.SetContent(renderTranscript(c.client.Transcript(), c.width))
	c.viewport.GotoBottom()
}

func renderTranscript(transcript []domain.Utterance, width int) string {
	if len(transcript) == 0 {
		return dimStyle.Render("No messages yet. Say hello.")
	}
	wrap := lipgloss.NewStyle().Width(max(width-2, 10))

	var b strings.Builder
	for _, u := range transcript {
		switch u.Role {
		case domain.RoleUser:
			b.WriteString(userStyle.Render("You"))
		default:
			b.WriteString(agentStyle.Render("Assistant"))
		}
		b.WriteString("\n")
		b.WriteString(wrap.Render(u.Text))
		b.WriteString("\n")
		if u.Failed {
			b.WriteString(failStyle.Render("✗ not delivered: " + u.Error))
			b.WriteString("\n")
		}
		b.WriteString("\n")
	}
	return b.String()
}

func (c *Chat) View() string {
	var b strings.Builder
	b.WriteString(titleStyle.Render(c.title))
	if id := c.client.ConversationID(); id != "" {
		b.WriteString(dimStyle.Render("  " + id))
	}
	b.WriteString("\n\n")
	b.WriteString(c.viewport.View())
	b.WriteString("\n")

	switch {
	case c.sending:
		b.WriteString(c.spinner.View() + dimStyle.Render(" waiting for reply"))
	case c.err != nil:
		b.WriteString(failStyle.Render(statusText(c.err)))
	}
	b.WriteString("\n")
	b.WriteString(c.input.View())
	b.WriteString("\n")
	b.WriteString(helpStyle.Render("[enter] send  [ctrl+r] retry  [pgup/pgdown] scroll  [esc] quit"))
	return b.String()
}

func statusText(err error) string {
	switch {
	case errors.Is(err, session.ErrBusy):
		return "Still waiting on the last reply."
	case errors.Is(err, session.ErrNothingToRetry):
		return "Nothing to retry."
	default:
		return fmt.Sprintf("Error: %v", err)
	}
}
