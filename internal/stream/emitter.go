// Package stream serializes incremental generation output into the
// line-oriented wire protocol consumed by the client.
//
// Each frame is one line of the form <tag>:<json-payload>. Tag "0" carries
// an incremental text fragment, tag "8" carries terminal metadata, and tag
// "error" carries a terminal failure. Exactly one terminal frame closes
// the stream.
package stream

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Frame tags.
const (
	TagText     = "0"
	TagMetadata = "8"
	TagError    = "error"
)

// Usage reports token consumption for the completed turn.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// Metadata is the terminal payload of a successful stream.
type Metadata struct {
	Usage        Usage  `json:"usage"`
	Model        string `json:"model"`
	SessionID    string `json:"sessionId"`
	IsNewSession bool   `json:"isNewSession"`
}

// errorPayload is the terminal payload of a failed stream.
type errorPayload struct {
	Error string `json:"error"`
}

// Emitter writes protocol frames to w, flushing after each frame when w
// supports it. Not safe for concurrent use; a stream has one writer.
type Emitter struct {
	w        io.Writer
	flusher  http.Flusher
	terminal bool
}

// NewEmitter creates an Emitter over w.
func NewEmitter(w io.Writer) *Emitter {
	e := &Emitter{w: w}
	if f, ok := w.(http.Flusher); ok {
		e.flusher = f
	}
	return e
}

// Text emits one incremental text fragment frame.
func (e *Emitter) Text(fragment string) error {
	return e.frame(TagText, fragment)
}

// Metadata emits the terminal metadata frame.
func (e *Emitter) Metadata(meta Metadata) error {
	if e.terminal {
		return nil
	}
	e.terminal = true
	return e.frame(TagMetadata, meta)
}

// Error emits the terminal error frame. Emitting after a terminal frame
// has already been written is a no-op, preserving the one-terminal-frame
// invariant.
func (e *Emitter) Error(err error) error {
	if e.terminal {
		return nil
	}
	e.terminal = true
	msg := "generation failed"
	if err != nil {
		msg = err.Error()
	}
	return e.frame(TagError, errorPayload{Error: msg})
}

// Closed reports whether a terminal frame has been written.
func (e *Emitter) Closed() bool {
	return e.terminal
}

func (e *Emitter) frame(tag string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("stream: marshal %s frame: %w", tag, err)
	}
	if _, err := fmt.Fprintf(e.w, "%s:%s\n", tag, data); err != nil {
		return fmt.Errorf("stream: write %s frame: %w", tag, err)
	}
	if e.flusher != nil {
		e.flusher.Flush()
	}
	return nil
}
