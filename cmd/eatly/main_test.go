package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestInstructionsCommand(t *testing.T) {
	t.Parallel()

	out, err := execute(t, "instructions", "--name", " Luigi's ", "--category", "Italian", "--highlights", "Wood-fired pizza")
	if err != nil {
		t.Fatalf("instructions: %v", err)
	}
	for _, want := range []string{"Luigi's, a restaurant known for its Italian", "Wood-fired pizza"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}

func TestProvisionValidatesBeforeCallingServer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer server.Close()

	_, err := execute(t, "provision", "--server", server.URL, "--name", "Luigi's")
	if err == nil || !strings.Contains(err.Error(), "category") {
		t.Fatalf("provision err = %v, want category validation error", err)
	}
	if calls.Load() != 0 {
		t.Fatalf("server called %d times", calls.Load())
	}
}

func TestProvisionAndSendCommands(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/agents":
			w.WriteHeader(http.StatusCreated)
			_, _ = io.WriteString(w, `{"agentId":"asst_cli","message":"Assistant created successfully"}`)
		case "/conversations/turns":
			_, _ = io.WriteString(w, `{"reply":"Yes, until 11pm.","conversationId":"thread_cli"}`)
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	out, err := execute(t, "provision", "--server", server.URL, "-n", "Luigi's", "-c", "Italian")
	if err != nil {
		t.Fatalf("provision: %v", err)
	}
	if !strings.Contains(out, "asst_cli") {
		t.Fatalf("provision output = %q", out)
	}

	out, err = execute(t, "send", "--server", server.URL, "asst_cli", "Open late?")
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if !strings.Contains(out, "Yes, until 11pm.") || !strings.Contains(out, "thread_cli") {
		t.Fatalf("send output = %q", out)
	}
}

func TestSendReportsServerError(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = io.WriteString(w, `{"error":"provider API key not configured"}`)
	}))
	defer server.Close()

	_, err := execute(t, "send", "--server", server.URL, "asst_cli", "hi")
	if err == nil || err.Error() != "provider API key not configured" {
		t.Fatalf("send err = %v", err)
	}
}
