// Package assembly turns a conversation's attached documents into a
// token-budgeted context, choosing between cheap concatenation and
// retrieval-augmented assembly, and memoizing the result per conversation.
package assembly

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/studykit-ai/studykit/internal/retrieval"
	"github.com/studykit-ai/studykit/internal/tokens"
)

// Strategy identifies a context assembly mode.
type Strategy string

// Strategy constants.
const (
	StrategySimple Strategy = "SIMPLE"
	StrategyRAG    Strategy = "RAG"
)

// Budget records how a context was assembled and under what limits.
type Budget struct {
	Strategy     Strategy
	SourceTokens int
	RAGThreshold int
	MaxChars     int
}

// Document is one candidate source document for context assembly.
type Document struct {
	ID      string
	Title   string
	Content string
}

// Result is the output of Assemble.
type Result struct {
	Context  string
	Budget   Budget
	CacheHit bool
}

// Config holds the assembly thresholds. Zero values pick the reference
// constants.
type Config struct {
	// RAGThresholdTokens switches to retrieval-augmented assembly when the
	// total estimated source tokens reach it.
	RAGThresholdTokens int

	// RAGMaxTokens is the retrieval collaborator's result budget.
	RAGMaxTokens int

	// FallbackMaxChars caps the truncated concatenation used when the
	// retrieval collaborator fails.
	FallbackMaxChars int

	// ChunkSize, ChunkOverlap, MinRelevanceScore, MaxChunks and
	// HybridWeight are passed through to the retrieval collaborator.
	ChunkSize         int
	ChunkOverlap      int
	MinRelevanceScore float64
	MaxChunks         int
	HybridWeight      float64
}

func (c Config) withDefaults() Config {
	if c.RAGThresholdTokens <= 0 {
		c.RAGThresholdTokens = 100_000
	}
	if c.RAGMaxTokens <= 0 {
		c.RAGMaxTokens = 200_000
	}
	if c.FallbackMaxChars <= 0 {
		c.FallbackMaxChars = 400_000
	}
	if c.ChunkSize <= 0 {
		c.ChunkSize = 2000
	}
	if c.ChunkOverlap <= 0 {
		c.ChunkOverlap = 200
	}
	if c.MinRelevanceScore <= 0 {
		c.MinRelevanceScore = 0.3
	}
	if c.MaxChunks <= 0 {
		c.MaxChunks = 120
	}
	if c.HybridWeight <= 0 {
		c.HybridWeight = 0.5
	}
	return c
}

// Option configures optional Assembler behavior.
type Option func(*Assembler)

// WithLogger injects a structured logger. Nil or omitted discards output.
func WithLogger(l *slog.Logger) Option {
	return func(a *Assembler) { a.logger = l }
}

// Assembler selects the context strategy, runs it, and caches the result.
type Assembler struct {
	estimator tokens.Estimator
	retriever retrieval.Builder
	cache     *Cache
	config    Config
	logger    *slog.Logger
}

// New creates an Assembler. retriever may be nil, in which case the RAG
// path always falls back to truncated concatenation.
func New(estimator tokens.Estimator, retriever retrieval.Builder, cache *Cache, cfg Config, opts ...Option) *Assembler {
	a := &Assembler{
		estimator: estimator,
		retriever: retriever,
		cache:     cache,
		config:    cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return a
}

// Assemble produces a bounded context for the conversation's documents.
// An empty document set skips assembly entirely and returns an empty
// context, leaving the base prompt untouched.
func (a *Assembler) Assemble(ctx context.Context, conversationID string, docs []Document, query string) (Result, error) {
	if len(docs) == 0 {
		return Result{Budget: Budget{Strategy: StrategySimple, RAGThreshold: a.config.RAGThresholdTokens}}, nil
	}

	docKey := docSetKey(docs)
	if entry, ok := a.cache.Get(conversationID, docKey); ok {
		a.logger.Debug("context cache hit",
			"conversation_id", conversationID,
			"tokens", entry.Tokens,
		)
		return Result{
			Context: entry.Context,
			Budget: Budget{
				Strategy:     entry.Strategy,
				SourceTokens: entry.Tokens,
				RAGThreshold: a.config.RAGThresholdTokens,
			},
			CacheHit: true,
		}, nil
	}

	sourceTokens := 0
	for _, d := range docs {
		sourceTokens += a.estimator.Estimate(d.Content)
	}

	budget := Budget{
		SourceTokens: sourceTokens,
		RAGThreshold: a.config.RAGThresholdTokens,
	}

	var assembled string
	if sourceTokens >= a.config.RAGThresholdTokens {
		budget.Strategy = StrategyRAG
		budget.MaxChars = a.config.FallbackMaxChars
		assembled = a.assembleRAG(ctx, docs, query)
	} else {
		budget.Strategy = StrategySimple
		assembled = concatenate(docs)
	}

	a.cache.Put(CachedContext{
		ConversationID: conversationID,
		DocSetKey:      docKey,
		Context:        assembled,
		Strategy:       budget.Strategy,
		Tokens:         a.estimator.Estimate(assembled),
	})

	a.logger.Info("context assembled",
		"conversation_id", conversationID,
		"strategy", budget.Strategy,
		"source_tokens", sourceTokens,
		"documents", len(docs),
	)

	return Result{Context: assembled, Budget: budget}, nil
}

// assembleRAG delegates to the retrieval collaborator and falls back
// deterministically to a truncated concatenation on any failure.
func (a *Assembler) assembleRAG(ctx context.Context, docs []Document, query string) string {
	combined := concatenate(docs)

	if a.retriever != nil {
		out, err := a.retriever.BuildContext(ctx, query, retrievalLabel(docs), combined, retrieval.Options{
			MaxTokens:         a.config.RAGMaxTokens,
			ChunkSize:         a.config.ChunkSize,
			Overlap:           a.config.ChunkOverlap,
			UseSemanticSearch: true,
			HybridWeight:      a.config.HybridWeight,
			MinRelevanceScore: a.config.MinRelevanceScore,
			MaxChunks:         a.config.MaxChunks,
		})
		if err == nil {
			return out
		}
		a.logger.Warn("retrieval assembly failed, falling back to truncated concatenation",
			"error", err,
		)
	}

	return truncateUTF8(combined, a.config.FallbackMaxChars)
}

// truncateUTF8 truncates s to at most maxBytes, walking back to a valid
// UTF-8 rune boundary to avoid producing invalid UTF-8.
func truncateUTF8(s string, maxBytes int) string {
	if len(s) <= maxBytes {
		return s
	}
	for maxBytes > 0 && !utf8.RuneStart(s[maxBytes]) {
		maxBytes--
	}
	return s[:maxBytes]
}

// concatenate joins documents under titled sections.
func concatenate(docs []Document) string {
	var b strings.Builder
	for i, d := range docs {
		if i > 0 {
			b.WriteString("\n\n")
		}
		fmt.Fprintf(&b, "## %s\n\n%s", d.Title, d.Content)
	}
	return b.String()
}

// docSetKey builds the cache invalidation key: the sorted document ids
// joined with commas. Any change to the attached set changes the key.
func docSetKey(docs []Document) string {
	ids := make([]string, len(docs))
	for i, d := range docs {
		ids[i] = d.ID
	}
	sort.Strings(ids)
	return strings.Join(ids, ",")
}

func retrievalLabel(docs []Document) string {
	if len(docs) == 1 {
		return docs[0].Title
	}
	return fmt.Sprintf("%d documents", len(docs))
}
