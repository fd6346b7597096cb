package fallback

import (
	"fmt"
	"time"

	"github.com/studykit-ai/studykit/internal/failure"
)

// Result is produced once per successful generation. It is never retried
// further after return.
type Result struct {
	// Tier is the name of the tier that produced the output.
	Tier string

	// Attempt is the 1-based attempt number within that tier.
	Attempt int

	// Text is the generated output.
	Text string

	// Duration is the wall-clock time of the successful attempt.
	Duration time.Duration

	// FallbackReason records why earlier tiers were abandoned, empty when
	// the first tier succeeded.
	FallbackReason string

	// SuspectedTruncation is set when the completeness heuristic flagged
	// the output. Non-fatal: the result is still returned as success.
	SuspectedTruncation bool
}

// ExhaustedError is returned when every tier in the chain has been
// exhausted. It carries the last observed failure so callers can message
// rate limiting, capacity, and generic failure differently.
type ExhaustedError struct {
	// LastErr is the final underlying error observed.
	LastErr error

	// Category is the classification of LastErr.
	Category failure.Category

	// Retryable reports whether the caller may usefully retry later.
	Retryable bool

	// RetryAfter is the suggested wait before retrying, derived from the
	// last tier's final configured delay. Zero when not retryable.
	RetryAfter time.Duration
}

// Error implements error.
func (e *ExhaustedError) Error() string {
	if e.LastErr == nil {
		return "all model tiers exhausted"
	}
	return fmt.Sprintf("all model tiers exhausted (%s): %v", e.Category, e.LastErr)
}

// Unwrap exposes the last underlying error for errors.Is/As.
func (e *ExhaustedError) Unwrap() error {
	return e.LastErr
}
