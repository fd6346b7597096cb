package upstream

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"strings"
)

// scannerBufferSize is the max token size for the SSE line scanner.
// Turn fragments can be large; the default ~64 KiB limit is too small.
const scannerBufferSize = 1 * 1024 * 1024 // 1 MB

// turnEvent mirrors one upstream SSE data payload.
type turnEvent struct {
	Text  string `json:"text,omitempty"`
	Usage *Usage `json:"usage,omitempty"`
	Done  bool   `json:"done,omitempty"`
	Error string `json:"error,omitempty"`
}

// sendTurnChunk sends a chunk on ch, respecting context cancellation.
// Returns false if the context was cancelled.
func sendTurnChunk(ctx context.Context, ch chan<- TurnChunk, chunk TurnChunk) bool {
	select {
	case ch <- chunk:
		return true
	case <-ctx.Done():
		return false
	}
}

// readTurnStream reads SSE data lines from body and relays parsed chunks
// on ch. The channel is closed when the stream ends; body is always
// closed.
func readTurnStream(ctx context.Context, body io.ReadCloser, ch chan<- TurnChunk) {
	defer close(ch)
	defer func() { _ = body.Close() }()

	// Close body on context cancellation to unblock the scanner.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = body.Close()
		case <-done:
		}
	}()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, scannerBufferSize), scannerBufferSize)

	for scanner.Scan() {
		if ctx.Err() != nil {
			sendTurnChunk(ctx, ch, TurnChunk{Err: ctx.Err()})
			return
		}

		line := scanner.Text()

		// SSE spec: lines starting with ":" are comments.
		if strings.HasPrefix(line, ":") {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}

		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			return
		}

		var event turnEvent
		if err := json.Unmarshal([]byte(data), &event); err != nil {
			sendTurnChunk(ctx, ch, TurnChunk{Err: err})
			return
		}

		if event.Error != "" {
			sendTurnChunk(ctx, ch, TurnChunk{Err: newStreamError(event.Error)})
			return
		}

		if event.Text != "" || event.Usage != nil {
			if !sendTurnChunk(ctx, ch, TurnChunk{Text: event.Text, Usage: event.Usage}) {
				return
			}
		}

		if event.Done {
			return
		}
	}

	if ctx.Err() != nil {
		sendTurnChunk(ctx, ch, TurnChunk{Err: ctx.Err()})
		return
	}
	if err := scanner.Err(); err != nil {
		sendTurnChunk(ctx, ch, TurnChunk{Err: err})
	}
}

// streamError preserves the upstream's message text verbatim so the
// failure classifier can match on it.
type streamError struct {
	msg string
}

func newStreamError(msg string) error {
	return &streamError{msg: msg}
}

func (e *streamError) Error() string {
	return e.msg
}
