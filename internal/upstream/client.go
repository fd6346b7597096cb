package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"

	"github.com/studykit-ai/studykit/internal/fallback"
)

// defaultTimeout bounds non-streaming calls. Streaming turns have no
// client-side ceiling; the request context is the only bound.
const defaultTimeout = 120 * time.Second

// maxErrorBody caps how much of an error response body is read.
const maxErrorBody = 64 * 1024

// Config configures the HTTP client.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// Option configures optional Client behavior.
type Option func(*Client)

// WithLogger injects a structured logger. Nil or omitted discards output.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient overrides the underlying HTTP client, primarily for
// tests against httptest servers.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
		c.streamHTTP = hc
	}
}

// Client is the HTTP implementation of the generation collaborator.
type Client struct {
	config     Config
	http       *http.Client
	streamHTTP *http.Client
	logger     *slog.Logger
}

// NewClient creates a Client for the given upstream endpoint.
func NewClient(cfg Config, opts ...Option) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	c := &Client{
		config: cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		// No Timeout on the streaming client: it would kill long streams.
		streamHTTP: &http.Client{},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return c
}

// invokeResponse mirrors the upstream one-shot completion payload.
type invokeResponse struct {
	Text string `json:"text"`
}

// Invoke sends a one-shot generation request. Implements
// fallback.Invoker.
func (c *Client) Invoke(ctx context.Context, req fallback.InvokeRequest) (fallback.InvokeResponse, error) {
	body := map[string]any{
		"model":           req.Model,
		"systemPrompt":    req.SystemPrompt,
		"userPrompt":      req.UserPrompt,
		"temperature":     req.Temperature,
		"topK":            req.TopK,
		"maxOutputTokens": req.MaxOutputTokens,
	}

	var out invokeResponse
	if err := c.postJSON(ctx, "/v1/generate", body, &out); err != nil {
		return fallback.InvokeResponse{}, err
	}
	return fallback.InvokeResponse{Text: out.Text}, nil
}

// createSessionResponse mirrors the upstream session creation payload.
type createSessionResponse struct {
	SessionID string `json:"sessionId"`
}

// CreateSession implements SessionService.
func (c *Client) CreateSession(ctx context.Context, req CreateSessionRequest) (string, error) {
	var out createSessionResponse
	if err := c.postJSON(ctx, "/v1/sessions", req, &out); err != nil {
		return "", err
	}
	if out.SessionID == "" {
		return "", fmt.Errorf("upstream: session creation returned empty id")
	}
	return out.SessionID, nil
}

// StreamTurn implements SessionService. The reply is relayed as parsed
// chunks on the returned channel, which is closed when the stream ends.
func (c *Client) StreamTurn(ctx context.Context, sessionID, content string) (<-chan TurnChunk, error) {
	payload, err := json.Marshal(map[string]string{"content": content})
	if err != nil {
		return nil, fmt.Errorf("upstream: marshal turn: %w", err)
	}

	endpoint, err := url.JoinPath(c.config.BaseURL, "/v1/sessions", url.PathEscape(sessionID), "messages")
	if err != nil {
		return nil, fmt.Errorf("upstream: build turn url: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("upstream: build turn request: %w", err)
	}
	c.setHeaders(httpReq)
	httpReq.Header.Set("Accept", "text/event-stream")

	resp, err := c.streamHTTP.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upstream: turn connection failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		return nil, c.statusError(resp)
	}

	ch := make(chan TurnChunk, 16)
	go readTurnStream(ctx, resp.Body, ch)
	return ch, nil
}

func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("upstream: marshal request: %w", err)
	}

	endpoint, err := url.JoinPath(c.config.BaseURL, path)
	if err != nil {
		return fmt.Errorf("upstream: build url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("upstream: build request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("upstream: connection failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return c.statusError(resp)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("upstream: decode response: %w", err)
	}
	return nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
}

// statusError converts a non-200 response into an error carrying the
// upstream's own message text, which the failure classifier matches on.
// Session lookups that miss are mapped to ErrSessionNotFound.
func (c *Client) statusError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	msg := string(bytes.TrimSpace(body))
	var apiErr struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
		msg = apiErr.Error
	}

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, msg)
	}
	return fmt.Errorf("upstream returned status %d: %s", resp.StatusCode, msg)
}
