package fallback_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/studykit-ai/studykit/internal/artifact"
	"github.com/studykit-ai/studykit/internal/failure"
	"github.com/studykit-ai/studykit/internal/fallback"
	"github.com/studykit-ai/studykit/internal/tokens"
)

// completeText is long enough to pass both the output floor and the
// summary completeness heuristic.
var completeText = strings.Repeat("A thorough explanation of the material. ", 10)

// fakeInvoker scripts responses per call. Safe for concurrent use.
type fakeInvoker struct {
	mu     sync.Mutex
	calls  []fallback.InvokeRequest
	script func(call int, req fallback.InvokeRequest) (fallback.InvokeResponse, error)
}

func (f *fakeInvoker) Invoke(_ context.Context, req fallback.InvokeRequest) (fallback.InvokeResponse, error) {
	f.mu.Lock()
	call := len(f.calls)
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	return f.script(call, req)
}

func (f *fakeInvoker) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// Compile-time interface guard.
var _ fallback.Invoker = (*fakeInvoker)(nil)

// noSleep records requested delays without waiting.
func noSleep(delays *[]time.Duration) fallback.SleepFunc {
	var mu sync.Mutex
	return func(_ context.Context, d time.Duration) error {
		mu.Lock()
		defer mu.Unlock()
		*delays = append(*delays, d)
		return nil
	}
}

func testChain() []fallback.Tier {
	return []fallback.Tier{
		{Name: "tier-a", MaxInputTokens: 10_000, MaxOutputTokens: 8192, Temperature: 0.7, TopK: 40, MaxRetries: 3},
		{Name: "tier-b", MaxInputTokens: 10_000, MaxOutputTokens: 8192, Temperature: 0.7, TopK: 40, MaxRetries: 3},
		{Name: "tier-c", MaxInputTokens: 10_000, MaxOutputTokens: 4096, Temperature: 0.9, TopK: 40, MaxRetries: 2},
	}
}

// ---------------------------------------------------------------------------
// New
// ---------------------------------------------------------------------------

func TestNew_EmptyChain(t *testing.T) {
	t.Parallel()

	_, err := fallback.New(nil, &fakeInvoker{}, tokens.NewCharEstimator(0))
	if !errors.Is(err, fallback.ErrEmptyChain) {
		t.Errorf("New(empty chain) error = %v, want ErrEmptyChain", err)
	}
}

// ---------------------------------------------------------------------------
// Generate: success paths
// ---------------------------------------------------------------------------

func TestGenerate_FirstTierFirstAttempt(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		script: func(_ int, _ fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			return fallback.InvokeResponse{Text: completeText}, nil
		},
	}

	o, err := fallback.New(testChain(), inv, tokens.NewCharEstimator(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := o.Generate(context.Background(), "system", "user prompt", artifact.TypeSummary)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Tier != "tier-a" {
		t.Errorf("Result.Tier = %q, want %q", res.Tier, "tier-a")
	}
	if res.Attempt != 1 {
		t.Errorf("Result.Attempt = %d, want 1", res.Attempt)
	}
	if res.Text != completeText {
		t.Errorf("Result.Text = %q, want the generated text", res.Text)
	}
	if res.FallbackReason != "" {
		t.Errorf("Result.FallbackReason = %q, want empty on first-tier success", res.FallbackReason)
	}
	if res.SuspectedTruncation {
		t.Error("Result.SuspectedTruncation = true, want false for complete output")
	}
	if inv.callCount() != 1 {
		t.Errorf("invoker called %d times, want 1", inv.callCount())
	}
}

func TestGenerate_OutputCapIsMinOfArtifactAndTier(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		script: func(_ int, _ fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			return fallback.InvokeResponse{Text: completeText}, nil
		},
	}

	// tier-c caps output at 4096; guide allocation is 8192.
	chain := []fallback.Tier{
		{Name: "tier-c", MaxInputTokens: 10_000, MaxOutputTokens: 4096, MaxRetries: 1},
	}
	o, err := fallback.New(chain, inv, tokens.NewCharEstimator(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := o.Generate(context.Background(), "system", "user", artifact.TypeGuide); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	got := inv.calls[0].MaxOutputTokens
	if got != 4096 {
		t.Errorf("InvokeRequest.MaxOutputTokens = %d, want 4096 (tier cap below artifact allocation)", got)
	}
}

// ---------------------------------------------------------------------------
// Generate: retry within tier
// ---------------------------------------------------------------------------

func TestGenerate_RetriesOverloadedWithinTier(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		script: func(call int, _ fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			if call < 2 {
				return fallback.InvokeResponse{}, errors.New("model overloaded")
			}
			return fallback.InvokeResponse{Text: completeText}, nil
		},
	}

	var delays []time.Duration
	o, err := fallback.New(testChain(), inv, tokens.NewCharEstimator(0),
		fallback.WithSleep(noSleep(&delays)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := o.Generate(context.Background(), "system", "user", artifact.TypeSummary)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Tier != "tier-a" || res.Attempt != 3 {
		t.Errorf("Result = tier %q attempt %d, want tier-a attempt 3", res.Tier, res.Attempt)
	}

	// Overloaded schedule: 15s then 30s before attempts 2 and 3.
	want := []time.Duration{15 * time.Second, 30 * time.Second}
	if len(delays) != len(want) {
		t.Fatalf("slept %d times (%v), want %d", len(delays), delays, len(want))
	}
	for i, d := range want {
		if delays[i] != d {
			t.Errorf("delays[%d] = %v, want %v", i, delays[i], d)
		}
	}
}

func TestGenerate_UnknownErrorEscalatesImmediately(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		script: func(call int, req fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			if req.Model == "tier-a" {
				return fallback.InvokeResponse{}, errors.New("something inexplicable")
			}
			return fallback.InvokeResponse{Text: completeText}, nil
		},
	}

	var delays []time.Duration
	o, err := fallback.New(testChain(), inv, tokens.NewCharEstimator(0),
		fallback.WithSleep(noSleep(&delays)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := o.Generate(context.Background(), "system", "user", artifact.TypeSummary)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Tier != "tier-b" {
		t.Errorf("Result.Tier = %q, want tier-b", res.Tier)
	}
	// One attempt on tier-a, no backoff, then straight to tier-b.
	if inv.callCount() != 2 {
		t.Errorf("invoker called %d times, want 2", inv.callCount())
	}
	if len(delays) != 0 {
		t.Errorf("slept %v, want no backoff for an unclassified error", delays)
	}
	if res.FallbackReason == "" {
		t.Error("Result.FallbackReason is empty, want the abandoning tier's error")
	}
}

func TestGenerate_ShortOutputTreatedAsFailure(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		script: func(_ int, req fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			if req.Model == "tier-a" {
				return fallback.InvokeResponse{Text: "way too short"}, nil
			}
			return fallback.InvokeResponse{Text: completeText}, nil
		},
	}

	var delays []time.Duration
	o, err := fallback.New(testChain(), inv, tokens.NewCharEstimator(0),
		fallback.WithSleep(noSleep(&delays)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := o.Generate(context.Background(), "system", "user", artifact.TypeSummary)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Tier != "tier-b" {
		t.Errorf("Result.Tier = %q, want tier-b (short output abandons tier-a)", res.Tier)
	}
}

// ---------------------------------------------------------------------------
// Generate: tier skipping
// ---------------------------------------------------------------------------

func TestGenerate_OversizedPromptSkipsTier(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		script: func(_ int, _ fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			return fallback.InvokeResponse{Text: completeText}, nil
		},
	}

	chain := []fallback.Tier{
		{Name: "small-window", MaxInputTokens: 5, MaxOutputTokens: 8192, MaxRetries: 3},
		{Name: "big-window", MaxInputTokens: 1_000_000, MaxOutputTokens: 8192, MaxRetries: 3},
	}
	o, err := fallback.New(chain, inv, tokens.NewCharEstimator(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	prompt := strings.Repeat("long prompt content ", 50)
	res, err := o.Generate(context.Background(), "system", prompt, artifact.TypeSummary)
	if err != nil {
		t.Fatalf("Generate() error = %v", err)
	}
	if res.Tier != "big-window" {
		t.Errorf("Result.Tier = %q, want big-window", res.Tier)
	}
	// Skipping consumes no attempts on the small tier.
	if inv.callCount() != 1 {
		t.Errorf("invoker called %d times, want 1 (skipped tier must not attempt)", inv.callCount())
	}
	for _, call := range inv.calls {
		if call.Model == "small-window" {
			t.Error("skipped tier was invoked")
		}
	}
}

// ---------------------------------------------------------------------------
// Generate: exhaustion
// ---------------------------------------------------------------------------

func TestGenerate_ExhaustionRateLimited(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		script: func(_ int, _ fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			return fallback.InvokeResponse{}, errors.New("rate limit exceeded")
		},
	}

	var delays []time.Duration
	o, err := fallback.New(testChain(), inv, tokens.NewCharEstimator(0),
		fallback.WithSleep(noSleep(&delays)))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = o.Generate(context.Background(), "system", "user", artifact.TypeSummary)
	if err == nil {
		t.Fatal("Generate() error = nil, want exhaustion")
	}

	var exhausted *fallback.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Generate() error = %v, want *ExhaustedError", err)
	}
	if exhausted.Category != failure.CategoryRateLimited {
		t.Errorf("ExhaustedError.Category = %q, want rate_limited", exhausted.Category)
	}
	if !exhausted.Retryable {
		t.Error("ExhaustedError.Retryable = false, want true")
	}
	if exhausted.RetryAfter != 120*time.Second {
		t.Errorf("ExhaustedError.RetryAfter = %v, want 120s", exhausted.RetryAfter)
	}
	if exhausted.LastErr == nil {
		t.Error("ExhaustedError.LastErr = nil, want the final failure")
	}
}

func TestGenerate_ExhaustionUnknownNotRetryable(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		script: func(_ int, _ fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			return fallback.InvokeResponse{}, errors.New("inexplicable failure")
		},
	}

	o, err := fallback.New(testChain(), inv, tokens.NewCharEstimator(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = o.Generate(context.Background(), "system", "user", artifact.TypeSummary)

	var exhausted *fallback.ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("Generate() error = %v, want *ExhaustedError", err)
	}
	if exhausted.Retryable {
		t.Error("ExhaustedError.Retryable = true, want false for unknown category")
	}
	if exhausted.RetryAfter != 0 {
		t.Errorf("ExhaustedError.RetryAfter = %v, want 0 when not retryable", exhausted.RetryAfter)
	}
	// One immediate escalation per tier.
	if inv.callCount() != 3 {
		t.Errorf("invoker called %d times, want 3", inv.callCount())
	}
}

// ---------------------------------------------------------------------------
// Generate: truncation warning
// ---------------------------------------------------------------------------

func TestGenerate_SuspectedTruncationIsNonFatal(t *testing.T) {
	t.Parallel()

	// Long enough to pass the hard floor, but ends mid-thought.
	truncated := strings.Repeat("Nearly done explaining the topic. ", 10) + "and then..."

	inv := &fakeInvoker{
		script: func(_ int, _ fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			return fallback.InvokeResponse{Text: truncated}, nil
		},
	}

	o, err := fallback.New(testChain(), inv, tokens.NewCharEstimator(0))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	res, err := o.Generate(context.Background(), "system", "user", artifact.TypeSummary)
	if err != nil {
		t.Fatalf("Generate() error = %v, want success with truncation flag", err)
	}
	if !res.SuspectedTruncation {
		t.Error("Result.SuspectedTruncation = false, want true")
	}
	if res.Text != truncated {
		t.Error("Result.Text was altered, want it returned verbatim")
	}
}

// ---------------------------------------------------------------------------
// Generate: cancellation
// ---------------------------------------------------------------------------

func TestGenerate_CancelledDuringBackoff(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())

	inv := &fakeInvoker{
		script: func(_ int, _ fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			return fallback.InvokeResponse{}, errors.New("model overloaded")
		},
	}

	o, err := fallback.New(testChain(), inv, tokens.NewCharEstimator(0),
		fallback.WithSleep(func(ctx context.Context, _ time.Duration) error {
			cancel()
			return ctx.Err()
		}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	_, err = o.Generate(ctx, "system", "user", artifact.TypeSummary)
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Generate() error = %v, want context.Canceled", err)
	}
	// The backoff aborted the run; no further tiers were tried.
	if inv.callCount() != 1 {
		t.Errorf("invoker called %d times, want 1", inv.callCount())
	}
}

// ---------------------------------------------------------------------------
// Attempt observer
// ---------------------------------------------------------------------------

func TestGenerate_AttemptObserver(t *testing.T) {
	t.Parallel()

	inv := &fakeInvoker{
		script: func(call int, _ fallback.InvokeRequest) (fallback.InvokeResponse, error) {
			if call == 0 {
				return fallback.InvokeResponse{}, errors.New("model overloaded")
			}
			return fallback.InvokeResponse{Text: completeText}, nil
		},
	}

	type observed struct {
		tier    string
		attempt int
		failed  bool
	}
	var (
		mu  sync.Mutex
		got []observed
	)

	var delays []time.Duration
	o, err := fallback.New(testChain(), inv, tokens.NewCharEstimator(0),
		fallback.WithSleep(noSleep(&delays)),
		fallback.WithAttemptObserver(func(tier string, attempt int, err error) {
			mu.Lock()
			defer mu.Unlock()
			got = append(got, observed{tier: tier, attempt: attempt, failed: err != nil})
		}))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	if _, err := o.Generate(context.Background(), "system", "user", artifact.TypeSummary); err != nil {
		t.Fatalf("Generate() error = %v", err)
	}

	want := []observed{
		{tier: "tier-a", attempt: 1, failed: true},
		{tier: "tier-a", attempt: 2, failed: false},
	}
	if len(got) != len(want) {
		t.Fatalf("observed %d attempts, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("observed[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}
