// Package tokens provides token-count estimation for prompt budgeting.
package tokens

// Estimator estimates the token count of a string.
type Estimator interface {
	Estimate(text string) int
}

// CharEstimator estimates tokens using a characters-per-token ratio.
// A ratio of ~4 works well for English prose; documents uploaded by users
// are close enough to prose that the heuristic holds.
type CharEstimator struct {
	CharsPerToken float64
}

// NewCharEstimator creates a CharEstimator with the given ratio.
// If charsPerToken is <= 0, defaults to 4.0.
func NewCharEstimator(charsPerToken float64) *CharEstimator {
	if charsPerToken <= 0 {
		charsPerToken = 4.0
	}
	return &CharEstimator{CharsPerToken: charsPerToken}
}

// Estimate returns the estimated token count for the given text.
func (e *CharEstimator) Estimate(text string) int {
	if len(text) == 0 {
		return 0
	}
	tokens := float64(len(text)) / e.CharsPerToken
	// Always round up to avoid underestimation.
	return int(tokens) + 1
}

// EstimatePrompt returns the combined estimate for a system prompt and a
// user prompt, with a small per-part overhead for role framing.
func EstimatePrompt(e Estimator, system, user string) int {
	const perPartOverhead = 4
	total := 0
	if system != "" {
		total += perPartOverhead + e.Estimate(system)
	}
	if user != "" {
		total += perPartOverhead + e.Estimate(user)
	}
	return total
}
