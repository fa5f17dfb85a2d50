// Package clientapi is an HTTP client for the eatly server. It implements
// session.Sender so terminal clients can hold their own session state.
package clientapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/eatly-ai/eatly/internal/conversation"
	"github.com/eatly-ai/eatly/internal/domain"
	"github.com/eatly-ai/eatly/internal/session"
)

var (
	ErrEncodeRequest  = errors.New("encode request")
	ErrReadResponse   = errors.New("read response")
	ErrDecodeResponse = errors.New("decode response")
)

var _ session.Sender = (*Client)(nil)

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d", e.StatusCode)
	}
	return e.Message
}

// Health is the server readiness report.
type Health struct {
	Status             string `json:"status"`
	Store              string `json:"store"`
	StoreBackend       string `json:"storeBackend"`
	ProviderConfigured bool   `json:"providerConfigured"`
}

type createAgentResponse struct {
	AgentID string `json:"agentId"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

type Client struct {
	baseURL    string
	httpClient *http.Client
}

func New(baseURL string, httpClient *http.Client) (*Client, error) {
	trimmed := strings.TrimSpace(baseURL)
	if trimmed == "" {
		return nil, fmt.Errorf("new client: base URL is required")
	}

	parsed, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("new client: parse base URL: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("new client: base URL must include scheme and host")
	}

	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	return &Client{
		baseURL:    strings.TrimRight(trimmed, "/"),
		httpClient: httpClient,
	}, nil
}

func (c *Client) Health(ctx context.Context) (Health, error) {
	var out Health
	err := c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out, err
}

// CreateAgent provisions an assistant and returns its id.
func (c *Client) CreateAgent(ctx context.Context, profile domain.AgentProfile) (string, error) {
	var out createAgentResponse
	if err := c.doJSON(ctx, http.MethodPost, "/agents", profile, &out); err != nil {
		return "", err
	}
	return out.AgentID, nil
}

// Send runs one stateless turn on the server.
func (c *Client) Send(ctx context.Context, req conversation.TurnRequest) (conversation.TurnResult, error) {
	var out conversation.TurnResult
	if err := c.doJSON(ctx, http.MethodPost, "/conversations/turns", req, &out); err != nil {
		return conversation.TurnResult{}, err
	}
	return out, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		var encoded bytes.Buffer
		if err := json.NewEncoder(&encoded).Encode(payload); err != nil {
			return fmt.Errorf("%w: %v", ErrEncodeRequest, err)
		}
		body = &encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReadResponse, err)
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		apiErr := &APIError{StatusCode: resp.StatusCode}
		var er errorResponse
		if json.Unmarshal(raw, &er) == nil {
			apiErr.Message = er.Error
		}
		return apiErr
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: %v", ErrDecodeResponse, err)
	}
	return nil
}
