// Package sqlitefts implements the retrieval collaborator on top of a
// SQLite FTS5 index. Chunks are indexed per call, ranked with BM25, and
// assembled back in document order under a token budget.
package sqlitefts

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/studykit-ai/studykit/internal/retrieval"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// charsPerToken converts the token budget to a character budget, matching
// the estimator heuristic used elsewhere.
const charsPerToken = 4

// Index is an FTS5-backed retrieval.Builder. Safe for concurrent use;
// SQLite serialises writes through a single connection.
type Index struct {
	db     *sql.DB
	logger *slog.Logger
}

// Option configures optional Index behavior.
type Option func(*Index)

// WithLogger injects a structured logger. Nil or omitted discards output.
func WithLogger(l *slog.Logger) Option {
	return func(i *Index) { i.logger = l }
}

// Open creates an Index backed by the database at path. Pass ":memory:"
// for an ephemeral index. The caller must Close it when done.
func Open(path string, opts ...Option) (*Index, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlitefts: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(context.Background(), `
		CREATE VIRTUAL TABLE IF NOT EXISTS chunks USING fts5(
			content,
			call_id UNINDEXED,
			seq UNINDEXED
		)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlitefts: create chunks table: %w", err)
	}

	idx := &Index{db: db}
	for _, opt := range opts {
		opt(idx)
	}
	if idx.logger == nil {
		idx.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return idx, nil
}

// Close releases the underlying database.
func (i *Index) Close() error {
	return i.db.Close()
}

// scoredChunk pairs a chunk with its normalized relevance score.
type scoredChunk struct {
	seq     int
	content string
	score   float64
}

// BuildContext implements retrieval.Builder. The combined text is chunked,
// indexed under a per-call id, ranked against the query, filtered by the
// relevance floor, and reassembled in original order up to the budget.
func (i *Index) BuildContext(ctx context.Context, query, label, combined string, opts retrieval.Options) (string, error) {
	callID := uuid.NewString()
	pieces := chunk(combined, opts.ChunkSize, opts.Overlap)
	if len(pieces) == 0 {
		return "", nil
	}

	if err := i.indexChunks(ctx, callID, pieces); err != nil {
		return "", err
	}
	defer i.dropCall(callID)

	selected, err := i.rank(ctx, callID, query, opts)
	if err != nil {
		return "", err
	}

	return assemble(label, selected, opts.MaxTokens*charsPerToken), nil
}

func (i *Index) indexChunks(ctx context.Context, callID string, pieces []string) error {
	tx, err := i.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlitefts: begin index tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, "INSERT INTO chunks (content, call_id, seq) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("sqlitefts: prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for seq, piece := range pieces {
		if _, err := stmt.ExecContext(ctx, piece, callID, seq); err != nil {
			return fmt.Errorf("sqlitefts: index chunk %d: %w", seq, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("sqlitefts: commit index tx: %w", err)
	}
	return nil
}

// rank returns chunks matching the query, best first, normalized so the
// top chunk scores 1.0. An empty or unmatchable query returns the leading
// chunks unranked so the caller still gets a usable prefix.
func (i *Index) rank(ctx context.Context, callID, query string, opts retrieval.Options) ([]scoredChunk, error) {
	match := ftsQuery(query)
	if match == "" {
		return i.leadingChunks(ctx, callID, opts.MaxChunks)
	}

	rows, err := i.db.QueryContext(ctx, `
		SELECT seq, content, bm25(chunks)
		FROM chunks
		WHERE chunks MATCH ? AND call_id = ?
		ORDER BY rank
		LIMIT ?`,
		match, callID, opts.MaxChunks,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitefts: rank chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var selected []scoredChunk
	for rows.Next() {
		var sc scoredChunk
		var rank float64
		if err := rows.Scan(&sc.seq, &sc.content, &rank); err != nil {
			return nil, fmt.Errorf("sqlitefts: scan chunk: %w", err)
		}
		// BM25 ranks are negative, lower is better.
		sc.score = -rank
		selected = append(selected, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitefts: rank rows: %w", err)
	}

	if len(selected) == 0 {
		return i.leadingChunks(ctx, callID, opts.MaxChunks)
	}

	// Normalize against the best score and apply the relevance floor.
	best := selected[0].score
	if best <= 0 {
		best = 1
	}
	kept := selected[:0]
	for _, sc := range selected {
		sc.score /= best
		if sc.score >= opts.MinRelevanceScore {
			kept = append(kept, sc)
		}
	}
	return kept, nil
}

func (i *Index) leadingChunks(ctx context.Context, callID string, limit int) ([]scoredChunk, error) {
	rows, err := i.db.QueryContext(ctx, `
		SELECT seq, content FROM chunks
		WHERE call_id = ?
		ORDER BY seq
		LIMIT ?`,
		callID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("sqlitefts: leading chunks: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []scoredChunk
	for rows.Next() {
		sc := scoredChunk{score: 1}
		if err := rows.Scan(&sc.seq, &sc.content); err != nil {
			return nil, fmt.Errorf("sqlitefts: scan leading chunk: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sqlitefts: leading rows: %w", err)
	}
	return out, nil
}

// dropCall removes the call's chunks. Failures only leak index rows, so
// they are logged rather than surfaced.
func (i *Index) dropCall(callID string) {
	if _, err := i.db.ExecContext(context.Background(),
		"DELETE FROM chunks WHERE call_id = ?", callID); err != nil {
		i.logger.Warn("failed to drop retrieval call chunks",
			"call_id", callID,
			"error", err,
		)
	}
}

// assemble joins selected chunks in original document order under a
// character budget, with a short section header naming the source.
func assemble(label string, selected []scoredChunk, maxChars int) string {
	sort.Slice(selected, func(a, b int) bool { return selected[a].seq < selected[b].seq })

	var b strings.Builder
	if label != "" {
		fmt.Fprintf(&b, "## Relevant excerpts from %s\n", label)
	}
	for _, sc := range selected {
		if maxChars > 0 && b.Len()+len(sc.content)+2 > maxChars {
			break
		}
		b.WriteString("\n")
		b.WriteString(sc.content)
		b.WriteString("\n")
	}
	return b.String()
}

// chunk splits text into overlapping windows of at most size characters.
func chunk(text string, size, overlap int) []string {
	if size <= 0 {
		size = 2000
	}
	if overlap < 0 || overlap >= size {
		overlap = 0
	}
	var out []string
	step := size - overlap
	for start := 0; start < len(text); start += step {
		end := start + size
		if end > len(text) {
			end = len(text)
		}
		out = append(out, text[start:end])
		if end == len(text) {
			break
		}
	}
	return out
}

// ftsQuery converts free text into a disjunctive FTS5 MATCH expression,
// quoting each term to neutralize FTS5 operator syntax.
func ftsQuery(query string) string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Map(func(r rune) rune {
			if r == '"' || r == '\'' {
				return -1
			}
			return r
		}, f)
		if f == "" {
			continue
		}
		terms = append(terms, `"`+f+`"`)
	}
	return strings.Join(terms, " OR ")
}
