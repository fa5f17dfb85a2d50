package clientapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/domain"
)

func TestNewValidatesBaseURL(t *testing.T) {
	t.Parallel()

	for _, raw := range []string{"", "  ", "localhost:8080", "://bad"} {
		if _, err := New(raw, nil); err == nil {
			t.Errorf("New(%q) expected error", raw)
		}
	}
	c, err := New("http://localhost:8080/", nil)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.baseURL != "http://localhost:8080" {
		t.Fatalf("baseURL = %q", c.baseURL)
	}
}

func TestClientCreateAgentAndSend(t *testing.T) {
	t.Parallel()

	var gotProfile domain.AgentProfile
	var gotTurn conversation.TurnRequest

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/agents":
			if err := json.NewDecoder(r.Body).Decode(&gotProfile); err != nil {
				t.Errorf("decode profile: %v", err)
			}
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"agentId":"asst_9","message":"Assistant created successfully"}`)
		case r.Method == http.MethodPost && r.URL.Path == "/conversations/turns":
			if err := json.NewDecoder(r.Body).Decode(&gotTurn); err != nil {
				t.Errorf("decode turn: %v", err)
			}
			_, _ = io.WriteString(w, `{"reply":"We open at noon.","conversationId":"thread_4"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	c, err := New(server.URL, server.Client())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx := context.Background()

	id, err := c.CreateAgent(ctx, domain.AgentProfile{DisplayName: "Luigi's", Category: "Italian"})
	if err != nil {
		t.Fatalf("CreateAgent: %v", err)
	}
	if id != "asst_9" || gotProfile.DisplayName != "Luigi's" {
		t.Fatalf("CreateAgent id=%q profile=%+v", id, gotProfile)
	}

	res, err := c.Send(ctx, conversation.TurnRequest{AgentID: id, Utterance: "When do you open?"})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Reply != "We open at noon." || res.ConversationID != "thread_4" {
		t.Fatalf("Send result = %+v", res)
	}
	if gotTurn.AgentID != "asst_9" || gotTurn.ConversationID != "" {
		t.Fatalf("turn request = %+v", gotTurn)
	}
}

func TestClientMapsErrorBody(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"OpenAI API Error: 429 Rate limit reached"}`)
	}))
	defer server.Close()

	c, _ := New(server.URL, server.Client())
	_, err := c.Send(context.Background(), conversation.TurnRequest{AgentID: "a", Utterance: "hi"})

	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("expected APIError, got %v", err)
	}
	if apiErr.StatusCode != http.StatusInternalServerError || apiErr.Error() != "OpenAI API Error: 429 Rate limit reached" {
		t.Fatalf("APIError = %+v", apiErr)
	}
}

func TestClientDecodeFailure(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, "not json")
	}))
	defer server.Close()

	c, _ := New(server.URL, server.Client())
	if _, err := c.Health(context.Background()); !errors.Is(err, ErrDecodeResponse) {
		t.Fatalf("Health err = %v, want ErrDecodeResponse", err)
	}
}
