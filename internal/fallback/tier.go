// Package fallback drives generation across an ordered chain of model
// tiers, retrying transient failures within a tier before falling through
// to the next one.
package fallback

// Tier configures a single model in the fallback chain. Tiers are immutable
// once the chain is built.
type Tier struct {
	// Name is the upstream model identifier.
	Name string

	// MaxInputTokens is the tier's context window. A prompt estimated
	// above this skips the tier without consuming an attempt.
	MaxInputTokens int

	// MaxOutputTokens is the tier's base output cap. The effective cap per
	// request is min(artifact allocation, MaxOutputTokens).
	MaxOutputTokens int

	// Temperature and TopK are passed through to the upstream call.
	Temperature float64
	TopK        int

	// MaxRetries bounds the attempt loop for this tier.
	MaxRetries int
}

// DefaultChain returns the reference fallback chain, ordered from most to
// least capable. Quality is preferred when capacity exists; fallback only
// sacrifices quality under sustained failure.
func DefaultChain() []Tier {
	return []Tier{
		{
			Name:            "gemini-2.5-pro",
			MaxInputTokens:  1_048_576,
			MaxOutputTokens: 8192,
			Temperature:     0.7,
			TopK:            40,
			MaxRetries:      3,
		},
		{
			Name:            "gemini-2.5-flash",
			MaxInputTokens:  1_048_576,
			MaxOutputTokens: 8192,
			Temperature:     0.7,
			TopK:            40,
			MaxRetries:      3,
		},
		{
			Name:            "gemini-2.5-flash-lite",
			MaxInputTokens:  1_048_576,
			MaxOutputTokens: 4096,
			Temperature:     0.9,
			TopK:            40,
			MaxRetries:      2,
		},
	}
}
