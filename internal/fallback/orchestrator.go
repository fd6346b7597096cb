package fallback

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/studykit-ai/studykit/internal/artifact"
	"github.com/studykit-ai/studykit/internal/failure"
	"github.com/studykit-ai/studykit/internal/tokens"
)

// minOutputLength is the hard floor below which a completion is rejected
// outright. Anything shorter is an upstream failure dressed as success.
const minOutputLength = 50

// Sentinel errors for orchestrator operations.
var (
	// ErrEmptyChain indicates the orchestrator was built without tiers.
	ErrEmptyChain = errors.New("fallback chain is empty")

	// ErrOutputTooShort indicates the upstream returned a completion below
	// the minimum acceptable length.
	ErrOutputTooShort = errors.New("generated output too short")
)

// Invoker is the narrow contract with the external generation service.
// Latency and failure modes are assumed adversarial.
type Invoker interface {
	Invoke(ctx context.Context, req InvokeRequest) (InvokeResponse, error)
}

// InvokeRequest is the input to a single generation call.
type InvokeRequest struct {
	Model           string
	SystemPrompt    string
	UserPrompt      string
	Temperature     float64
	TopK            int
	MaxOutputTokens int
}

// InvokeResponse is the output of a single generation call.
type InvokeResponse struct {
	Text string
}

// SleepFunc blocks for the given duration or until the context is
// cancelled, returning the context error on cancellation.
type SleepFunc func(ctx context.Context, d time.Duration) error

// Option configures optional Orchestrator behavior.
type Option func(*Orchestrator)

// WithLogger injects a structured logger. When nil or omitted, all log
// output is silently discarded.
func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

// WithClassifier overrides the default error classifier.
func WithClassifier(c *failure.Classifier) Option {
	return func(o *Orchestrator) { o.classifier = c }
}

// WithPolicyTable overrides the default retry policy table.
func WithPolicyTable(t failure.PolicyTable) Option {
	return func(o *Orchestrator) { o.policies = t }
}

// WithSleep overrides the backoff sleep implementation.
func WithSleep(s SleepFunc) Option {
	return func(o *Orchestrator) { o.sleep = s }
}

// WithAttemptObserver registers a callback invoked after every attempt,
// successful or not. Used for metrics.
func WithAttemptObserver(fn func(tier string, attempt int, err error)) Option {
	return func(o *Orchestrator) { o.observe = fn }
}

// Orchestrator drives an ordered chain of model tiers. For each tier it
// runs a bounded retry loop with per-error-category backoff, then falls
// through to the next tier on exhaustion.
type Orchestrator struct {
	chain      []Tier
	invoker    Invoker
	estimator  tokens.Estimator
	classifier *failure.Classifier
	policies   failure.PolicyTable
	logger     *slog.Logger
	sleep      SleepFunc
	observe    func(tier string, attempt int, err error)
}

// New creates an orchestrator over the given chain.
func New(chain []Tier, invoker Invoker, estimator tokens.Estimator, opts ...Option) (*Orchestrator, error) {
	if len(chain) == 0 {
		return nil, ErrEmptyChain
	}
	o := &Orchestrator{
		chain:      chain,
		invoker:    invoker,
		estimator:  estimator,
		classifier: failure.NewClassifier(),
		policies:   failure.DefaultPolicyTable(),
		sleep:      sleepContext,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return o, nil
}

// Generate runs the fallback chain for one prompt. It fails with
// *ExhaustedError only once every tier is exhausted. Tier attempts are
// strictly sequential; a backoff sleep blocks only this request.
func (o *Orchestrator) Generate(ctx context.Context, systemPrompt, userPrompt string, at artifact.Type) (Result, error) {
	estTokens := tokens.EstimatePrompt(o.estimator, systemPrompt, userPrompt)

	var (
		lastErr        error
		fallbackReason string
	)

	for _, tier := range o.chain {
		if estTokens > tier.MaxInputTokens {
			// Oversized prompts skip the tier entirely: no attempt, no delay.
			o.logger.Info("tier skipped, prompt exceeds input window",
				"tier", tier.Name,
				"estimated_tokens", estTokens,
				"max_input_tokens", tier.MaxInputTokens,
			)
			continue
		}

		res, err := o.runTier(ctx, tier, systemPrompt, userPrompt, at, estTokens)
		if err == nil {
			res.FallbackReason = fallbackReason
			return res, nil
		}
		if ctx.Err() != nil {
			return Result{}, ctx.Err()
		}

		lastErr = err
		fallbackReason = err.Error()
		o.logger.Warn("tier exhausted, falling through",
			"tier", tier.Name,
			"error", err,
		)
	}

	cat := o.classifier.Classify(lastErr)
	exhausted := &ExhaustedError{
		LastErr:   lastErr,
		Category:  cat,
		Retryable: cat.Retryable(),
	}
	if exhausted.Retryable {
		exhausted.RetryAfter = o.policies.Lookup(cat).FinalDelay()
	}
	o.logger.Error("all tiers exhausted",
		"category", cat,
		"last_error", lastErr,
	)
	return Result{}, exhausted
}

// runTier runs the bounded retry loop for one tier. Returns the last
// attempt's error once the tier is exhausted.
func (o *Orchestrator) runTier(ctx context.Context, tier Tier, systemPrompt, userPrompt string, at artifact.Type, estTokens int) (Result, error) {
	outputCap := min(at.OutputTokens(), tier.MaxOutputTokens)

	var lastErr error
	for attempt := 1; attempt <= tier.MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		start := time.Now()
		resp, err := o.invoker.Invoke(ctx, InvokeRequest{
			Model:           tier.Name,
			SystemPrompt:    systemPrompt,
			UserPrompt:      userPrompt,
			Temperature:     tier.Temperature,
			TopK:            tier.TopK,
			MaxOutputTokens: outputCap,
		})
		elapsed := time.Since(start)

		if err == nil && len(resp.Text) < minOutputLength {
			err = fmt.Errorf("%w: got %d characters", ErrOutputTooShort, len(resp.Text))
		}

		if o.observe != nil {
			o.observe(tier.Name, attempt, err)
		}

		if err == nil {
			res := Result{
				Tier:     tier.Name,
				Attempt:  attempt,
				Text:     resp.Text,
				Duration: elapsed,
			}
			if !artifact.LooksComplete(at, resp.Text) {
				// Non-fatal signal: logged, surfaced on the result, but the
				// output is still returned as success.
				res.SuspectedTruncation = true
				o.logger.Warn("suspected truncation in generated output",
					"tier", tier.Name,
					"artifact_type", at,
					"length", len(resp.Text),
				)
			}
			o.logger.Info("generation succeeded",
				"tier", tier.Name,
				"attempt", attempt,
				"duration", elapsed,
				"estimated_prompt_tokens", estTokens,
			)
			return res, nil
		}

		lastErr = err
		cat := o.classifier.Classify(err)
		o.logger.Warn("generation attempt failed",
			"tier", tier.Name,
			"attempt", attempt,
			"category", cat,
			"error", err,
		)

		// Unrecognized errors escalate to the next tier immediately
		// without consuming further retries.
		if !cat.Retryable() {
			break
		}

		pol := o.policies.Lookup(cat)
		if attempt >= tier.MaxRetries || attempt > pol.MaxRetries {
			break
		}

		if err := o.sleep(ctx, pol.DelayFor(attempt)); err != nil {
			return Result{}, err
		}
	}

	return Result{}, lastErr
}

// sleepContext is the default SleepFunc: a cancellable timer wait.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
