package store

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Recorder persists turns as detached background tasks. Failures are
// logged and swallowed, never surfaced to the request path; each write
// gets a bounded retry before it is dropped.
type Recorder struct {
	store    *Store
	logger   *slog.Logger
	attempts int
	backoff  time.Duration
	timeout  time.Duration
	wg       sync.WaitGroup
}

// RecorderOption configures optional Recorder behavior.
type RecorderOption func(*Recorder)

// WithRecorderLogger injects a structured logger.
func WithRecorderLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) { r.logger = l }
}

// WithRecorderBackoff overrides the fixed retry backoff, primarily for
// tests.
func WithRecorderBackoff(d time.Duration) RecorderOption {
	return func(r *Recorder) { r.backoff = d }
}

// NewRecorder creates a Recorder over the store.
func NewRecorder(store *Store, opts ...RecorderOption) *Recorder {
	r := &Recorder{
		store:    store,
		attempts: 3,
		backoff:  2 * time.Second,
		timeout:  15 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return r
}

// Record schedules one turn write and returns immediately.
func (r *Recorder) Record(conversationID, role, content string, metadata map[string]any) {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		defer cancel()

		var lastErr error
		for attempt := 1; attempt <= r.attempts; attempt++ {
			lastErr = r.store.AppendMessage(ctx, conversationID, role, content, metadata)
			if lastErr == nil {
				return
			}
			if attempt < r.attempts {
				timer := time.NewTimer(r.backoff)
				select {
				case <-ctx.Done():
					timer.Stop()
					lastErr = ctx.Err()
					attempt = r.attempts
				case <-timer.C:
				}
			}
		}

		r.logger.Error("turn persistence failed, dropping write",
			"conversation_id", conversationID,
			"role", role,
			"error", lastErr,
		)
	}()
}

// Close waits for in-flight writes to finish.
func (r *Recorder) Close() {
	r.wg.Wait()
}
