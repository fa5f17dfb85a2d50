package livechat

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/identity"
	"github.com/eatly-ai/eatly/internal/middleware"
	"github.com/eatly-ai/eatly/internal/session"
	"github.com/eatly-ai/eatly/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// gatedSender answers "re: <utterance>". When gate is set, Send waits on it.
type gatedSender struct {
	mu      sync.Mutex
	calls   int
	gate    chan struct{}
	entered chan struct{}
}

func (g *gatedSender) Send(ctx context.Context, req conversation.TurnRequest) (conversation.TurnResult, error) {
	g.mu.Lock()
	g.calls++
	g.mu.Unlock()

	if g.entered != nil {
		g.entered <- struct{}{}
	}
	if g.gate != nil {
		select {
		case <-g.gate:
		case <-ctx.Done():
			return conversation.TurnResult{}, ctx.Err()
		}
	}
	return conversation.TurnResult{Reply: "re: " + req.Utterance, ConversationID: "thread_ws"}, nil
}

type fixture struct {
	server  *httptest.Server
	manager *session.Manager
	visitor string
}

func newFixture(t *testing.T, sender session.Sender, limiter *middleware.RateLimiter) *fixture {
	t.Helper()

	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "livechat.db"))
	if err != nil {
		t.Fatalf("NewSQLite: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close() })

	m := session.NewManager(repo, sender, nil)

	r := chi.NewRouter()
	r.Use(identity.Middleware(true))
	r.Get("/ws/sessions/{sessionID}", NewHandler(m, limiter, nil, nil, true).ServeHTTP)

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	return &fixture{
		server:  srv,
		manager: m,
		visitor: "v_" + strings.ReplaceAll(uuid.NewString(), "-", ""),
	}
}

func (f *fixture) dial(t *testing.T, ctx context.Context, sessionID string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/sessions/" + sessionID
	header := http.Header{}
	header.Set("Cookie", identity.VisitorCookieName+"="+f.visitor)
	return websocket.Dial(ctx, url, &websocket.DialOptions{HTTPHeader: header})
}

func readFrame(t *testing.T, ctx context.Context, ws *websocket.Conn) Frame {
	t.Helper()
	var f Frame
	if err := wsjson.Read(ctx, ws, &f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func TestLiveChatTurn(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &gatedSender{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, err := fx.manager.Create(ctx, fx.visitor, "asst_1")
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	ws, _, err := fx.dial(t, ctx, s.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()

	if f := readFrame(t, ctx, ws); f.Type != FrameTranscript || f.Session == nil || f.Session.ID != s.ID {
		t.Fatalf("first frame = %+v, want transcript", f)
	}
	if f := readFrame(t, ctx, ws); f.Type != FrameState || f.State != "idle" {
		t.Fatalf("second frame = %+v, want idle state", f)
	}

	if err := wsjson.Write(ctx, ws, Frame{Type: FrameUtterance, Text: "Do you deliver?"}); err != nil {
		t.Fatalf("write: %v", err)
	}

	want := []string{"sending", "idle"}
	for _, st := range want {
		if f := readFrame(t, ctx, ws); f.Type != FrameState || f.State != st {
			t.Fatalf("frame = %+v, want state %s", f, st)
		}
	}

	f := readFrame(t, ctx, ws)
	if f.Type != FrameReply || f.Reply == nil || f.Reply.Text != "re: Do you deliver?" {
		t.Fatalf("reply frame = %+v", f)
	}
	if f.ConversationID != "thread_ws" || f.Session == nil || len(f.Session.Transcript) != 2 {
		t.Fatalf("reply frame session = %+v", f.Session)
	}
}

func TestLiveChatUnknownFrame(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &gatedSender{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, _ := fx.manager.Create(ctx, fx.visitor, "asst_1")
	ws, _, err := fx.dial(t, ctx, s.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()
	readFrame(t, ctx, ws)
	readFrame(t, ctx, ws)

	if err := wsjson.Write(ctx, ws, Frame{Type: "resize"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if f := readFrame(t, ctx, ws); f.Type != FrameError || !strings.Contains(f.Error, "resize") {
		t.Fatalf("frame = %+v, want error", f)
	}
}

func TestLiveChatBusySession(t *testing.T) {
	t.Parallel()

	sender := &gatedSender{gate: make(chan struct{}), entered: make(chan struct{}, 1)}
	fx := newFixture(t, sender, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, _ := fx.manager.Create(ctx, fx.visitor, "asst_1")
	ws, _, err := fx.dial(t, ctx, s.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()
	readFrame(t, ctx, ws)
	readFrame(t, ctx, ws)

	_ = wsjson.Write(ctx, ws, Frame{Type: FrameUtterance, Text: "first"})
	<-sender.entered
	if f := readFrame(t, ctx, ws); f.State != "sending" {
		t.Fatalf("frame = %+v, want sending", f)
	}

	_ = wsjson.Write(ctx, ws, Frame{Type: FrameUtterance, Text: "second"})
	if f := readFrame(t, ctx, ws); f.Type != FrameError || f.Error != session.ErrBusy.Error() {
		t.Fatalf("frame = %+v, want busy error", f)
	}

	close(sender.gate)
	if f := readFrame(t, ctx, ws); f.State != "idle" {
		t.Fatalf("frame = %+v, want idle", f)
	}
	if f := readFrame(t, ctx, ws); f.Type != FrameReply || f.Reply.Text != "re: first" {
		t.Fatalf("frame = %+v, want reply to first", f)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.calls != 1 {
		t.Fatalf("sender calls = %d, want 1", sender.calls)
	}
}

func TestLiveChatRateLimitsUtterances(t *testing.T) {
	t.Parallel()

	limitCtx, stop := context.WithCancel(context.Background())
	t.Cleanup(stop)
	limiter := middleware.NewRateLimiter(limitCtx, 1, time.Hour)

	sender := &gatedSender{}
	fx := newFixture(t, sender, limiter)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	s, _ := fx.manager.Create(ctx, fx.visitor, "asst_1")
	ws, _, err := fx.dial(t, ctx, s.ID)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer ws.CloseNow()
	readFrame(t, ctx, ws)
	readFrame(t, ctx, ws)

	_ = wsjson.Write(ctx, ws, Frame{Type: FrameUtterance, Text: "first"})
	for _, st := range []string{"sending", "idle"} {
		if f := readFrame(t, ctx, ws); f.State != st {
			t.Fatalf("frame = %+v, want state %s", f, st)
		}
	}
	if f := readFrame(t, ctx, ws); f.Type != FrameReply {
		t.Fatalf("frame = %+v, want reply", f)
	}

	_ = wsjson.Write(ctx, ws, Frame{Type: FrameUtterance, Text: "second"})
	if f := readFrame(t, ctx, ws); f.Type != FrameError || f.Error != "rate limit exceeded" {
		t.Fatalf("frame = %+v, want rate limit error", f)
	}

	sender.mu.Lock()
	defer sender.mu.Unlock()
	if sender.calls != 1 {
		t.Fatalf("sender calls = %d, want 1", sender.calls)
	}
}

func TestLiveChatUnknownSession(t *testing.T) {
	t.Parallel()

	fx := newFixture(t, &gatedSender{}, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, resp, err := fx.dial(t, ctx, "sess_missing")
	if err == nil {
		t.Fatal("expected dial to fail for an unknown session")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Fatalf("response = %+v, want 404", resp)
	}
}

func TestCheckOrigin(t *testing.T) {
	t.Parallel()

	h := NewHandler(nil, nil, nil, []string{"https://eatly.example"}, false)
	tests := []struct {
		origin string
		want   bool
	}{
		{"", true},
		{"https://eatly.example", true},
		{"https://evil.example", false},
	}
	for _, tt := range tests {
		r := httptest.NewRequest(http.MethodGet, "/ws/sessions/x", nil)
		if tt.origin != "" {
			r.Header.Set("Origin", tt.origin)
		}
		if got := h.checkOrigin(r); got != tt.want {
			t.Errorf("checkOrigin(%q) = %v, want %v", tt.origin, got, tt.want)
		}
	}
}
