package failure_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/studykit-ai/studykit/internal/failure"
)

// ---------------------------------------------------------------------------
// Category.Retryable
// ---------------------------------------------------------------------------

func TestCategory_Retryable(t *testing.T) {
	t.Parallel()

	tests := []struct {
		category failure.Category
		want     bool
	}{
		{failure.CategoryOverloaded, true},
		{failure.CategoryRateLimited, true},
		{failure.CategoryInternal, true},
		{failure.CategoryTimeout, true},
		{failure.CategoryNetwork, true},
		{failure.CategoryUnknown, false},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(string(tt.category), func(t *testing.T) {
			t.Parallel()

			if got := tt.category.Retryable(); got != tt.want {
				t.Errorf("Category(%q).Retryable() = %v, want %v", tt.category, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// Classifier.Classify
// ---------------------------------------------------------------------------

func TestClassifier_Classify(t *testing.T) {
	t.Parallel()

	c := failure.NewClassifier()

	tests := []struct {
		name string
		err  error
		want failure.Category
	}{
		{name: "nil_error", err: nil, want: failure.CategoryUnknown},
		// Representative upstream messages.
		{name: "model_overloaded", err: errors.New("The model is overloaded. Please try again later."), want: failure.CategoryOverloaded},
		{name: "server_busy", err: errors.New("server busy, retry shortly"), want: failure.CategoryOverloaded},
		{name: "no_capacity", err: errors.New("no capacity available for this model"), want: failure.CategoryOverloaded},
		{name: "rate_limit", err: errors.New("Rate limit exceeded for requests per minute"), want: failure.CategoryRateLimited},
		{name: "quota", err: errors.New("Quota exceeded for quota metric"), want: failure.CategoryRateLimited},
		{name: "resource_exhausted", err: errors.New("RESOURCE EXHAUSTED: too many requests"), want: failure.CategoryRateLimited},
		{name: "internal_error", err: errors.New("An internal error has occurred"), want: failure.CategoryInternal},
		{name: "grpc_status_13", err: errors.New("rpc failed with status 13"), want: failure.CategoryInternal},
		{name: "http_500", err: errors.New("upstream returned status 500: server error"), want: failure.CategoryInternal},
		{name: "timeout", err: errors.New("request timeout after 120s"), want: failure.CategoryTimeout},
		{name: "deadline", err: errors.New("context deadline exceeded"), want: failure.CategoryTimeout},
		{name: "network", err: errors.New("network is unreachable"), want: failure.CategoryNetwork},
		{name: "connection_refused", err: errors.New("dial tcp: connection refused"), want: failure.CategoryNetwork},
		{name: "fetch_failed", err: errors.New("fetch failed: ECONNRESET"), want: failure.CategoryNetwork},
		{name: "unrecognized", err: errors.New("something completely different"), want: failure.CategoryUnknown},
		// Case folding.
		{name: "uppercase_overloaded", err: errors.New("MODEL OVERLOADED"), want: failure.CategoryOverloaded},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := c.Classify(tt.err); got != tt.want {
				t.Errorf("Classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}

// Rule order matters: a message matching both "overloaded" and "internal"
// must land in the earlier bucket.
func TestClassifier_RuleOrder(t *testing.T) {
	t.Parallel()

	c := failure.NewClassifier()

	tests := []struct {
		name string
		msg  string
		want failure.Category
	}{
		{
			name: "overloaded_beats_internal",
			msg:  "internal error: model overloaded",
			want: failure.CategoryOverloaded,
		},
		{
			name: "rate_limit_beats_internal",
			msg:  "internal quota exceeded",
			want: failure.CategoryRateLimited,
		},
		{
			name: "internal_beats_timeout",
			msg:  "internal deadline bookkeeping failed",
			want: failure.CategoryInternal,
		},
		{
			name: "timeout_beats_network",
			msg:  "connection timeout",
			want: failure.CategoryTimeout,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			if got := c.ClassifyMessage(tt.msg); got != tt.want {
				t.Errorf("ClassifyMessage(%q) = %q, want %q", tt.msg, got, tt.want)
			}
		})
	}
}

// ---------------------------------------------------------------------------
// NewClassifier with custom rules
// ---------------------------------------------------------------------------

func TestNewClassifier_CustomRules(t *testing.T) {
	t.Parallel()

	c := failure.NewClassifier(
		failure.Rule{Category: failure.CategoryTimeout, Substrings: []string{"slow"}},
	)

	if got := c.ClassifyMessage("the upstream was slow"); got != failure.CategoryTimeout {
		t.Errorf("ClassifyMessage(custom rule) = %q, want %q", got, failure.CategoryTimeout)
	}
	// Default rules must not leak into a custom classifier.
	if got := c.ClassifyMessage("model overloaded"); got != failure.CategoryUnknown {
		t.Errorf("ClassifyMessage(outside custom rules) = %q, want %q", got, failure.CategoryUnknown)
	}
}

func TestClassifier_WrappedErrors(t *testing.T) {
	t.Parallel()

	c := failure.NewClassifier()

	// Wrapping preserves the message text the classifier matches on.
	err := fmt.Errorf("generate artifact: %w", errors.New("rate limit exceeded"))
	if got := c.Classify(err); got != failure.CategoryRateLimited {
		t.Errorf("Classify(wrapped) = %q, want %q", got, failure.CategoryRateLimited)
	}
}
