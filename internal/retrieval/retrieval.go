// Package retrieval defines the contract with the semantic-assembly
// collaborator used by the RAG context path.
package retrieval

import "context"

// Options configures one retrieval-augmented assembly call.
type Options struct {
	// MaxTokens is the result budget for the assembled context.
	MaxTokens int

	// ChunkSize and Overlap control how the combined text is split,
	// in characters.
	ChunkSize int
	Overlap   int

	// UseSemanticSearch enables embedding-based ranking when the backing
	// implementation supports it; HybridWeight balances lexical and
	// semantic scores.
	UseSemanticSearch bool
	HybridWeight      float64

	// MinRelevanceScore drops chunks scoring below the floor.
	MinRelevanceScore float64

	// MaxChunks caps how many chunks may be assembled.
	MaxChunks int
}

// Builder assembles a bounded context from a large combined text. It may
// fail; callers must have a deterministic fallback.
type Builder interface {
	BuildContext(ctx context.Context, query, label, combined string, opts Options) (string, error)
}
