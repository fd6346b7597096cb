// Package upstream talks to the external generation service: one-shot
// completions for artifact generation, and server-side stateful sessions
// for turn-based chat.
package upstream

import (
	"context"
	"errors"
)

// ErrSessionNotFound indicates the upstream no longer recognizes a session
// id. Callers must recreate the session and retry.
var ErrSessionNotFound = errors.New("upstream session not found")

// Usage reports token consumption for a completed turn.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// HistoryTurn is one prior conversation turn in the upstream's history
// format.
type HistoryTurn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// CreateSessionRequest creates a stateful upstream session seeded with a
// system prompt and prior turns, so subsequent turns need only the new
// message.
type CreateSessionRequest struct {
	Model        string        `json:"model"`
	SystemPrompt string        `json:"systemPrompt,omitempty"`
	History      []HistoryTurn `json:"history,omitempty"`
}

// TurnChunk is one piece of a streamed turn response. A non-nil Err
// terminates the stream.
type TurnChunk struct {
	Text  string
	Usage *Usage
	Err   error
}

// SessionService is the contract for upstream stateful sessions.
type SessionService interface {
	// CreateSession creates a session and returns its opaque id.
	CreateSession(ctx context.Context, req CreateSessionRequest) (string, error)

	// StreamTurn sends one message to an existing session and streams the
	// reply. The channel is closed when the stream ends. A stream or call
	// error of ErrSessionNotFound means the session must be recreated.
	StreamTurn(ctx context.Context, sessionID, content string) (<-chan TurnChunk, error)
}
