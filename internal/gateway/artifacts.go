package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/studykit-ai/studykit/internal/artifact"
	"github.com/studykit-ai/studykit/internal/assembly"
	"github.com/studykit-ai/studykit/internal/fallback"
	"github.com/studykit-ai/studykit/internal/store"
)

// artifactRequest is the body of POST /api/artifacts.
type artifactRequest struct {
	ConversationID string   `json:"conversationId,omitempty"`
	DocumentIDs    []string `json:"documentIds"`
	Type           string   `json:"type"`
	Query          string   `json:"query,omitempty"`
}

// artifactResponse is the success payload of POST /api/artifacts.
type artifactResponse struct {
	ConversationID      string `json:"conversationId"`
	Content             string `json:"content"`
	Tier                string `json:"tier"`
	Attempt             int    `json:"attempt"`
	DurationMillis      int64  `json:"durationMillis"`
	FallbackReason      string `json:"fallbackReason,omitempty"`
	SuspectedTruncation bool   `json:"suspectedTruncation,omitempty"`
	ContextStrategy     string `json:"contextStrategy"`
}

// artifactInstructions maps artifact types to the generation instruction.
// Wording is deliberately minimal; prompt tuning lives upstream.
var artifactInstructions = map[artifact.Type]string{
	artifact.TypeSummary:    "Write a concise summary of the provided documents.",
	artifact.TypeNotes:      "Write structured study notes covering the provided documents.",
	artifact.TypeGuide:      "Write a comprehensive study guide for the provided documents.",
	artifact.TypeFlashcards: "Produce a JSON array of flashcards with question and answer fields covering the provided documents.",
}

// handleGenerateArtifact runs the one-shot generation path: assemble a
// bounded context, drive the fallback chain, persist the result off the
// request path, and report the outcome.
func (g *Gateway) handleGenerateArtifact() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req artifactRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}

		// Malformed requests are rejected immediately, before any tier
		// attempt is consumed.
		at := artifact.Type(req.Type)
		if !at.Valid() {
			writeError(w, http.StatusBadRequest, "unknown artifact type: "+req.Type)
			return
		}
		if len(req.DocumentIDs) == 0 {
			writeError(w, http.StatusBadRequest, "documentIds is required")
			return
		}

		conversationID := req.ConversationID
		if conversationID == "" {
			conversationID = uuid.NewString()
		}

		ctx := r.Context()

		docs, err := g.loadDocuments(ctx, req.DocumentIDs)
		if err != nil {
			g.logger.Error("document load failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load documents")
			return
		}
		if len(docs) == 0 {
			writeError(w, http.StatusBadRequest, "no matching documents")
			return
		}

		res, err := g.deps.Assembler.Assemble(ctx, conversationID, docs, req.Query)
		if err != nil {
			g.logger.Error("context assembly failed", "error", err)
			writeError(w, http.StatusInternalServerError, "context assembly failed")
			return
		}
		g.observeAssembly(res)

		gen, err := g.deps.Orchestrator.Generate(ctx, res.Context, artifactInstructions[at], at)
		if err != nil {
			g.writeGenerationError(w, err)
			return
		}

		g.deps.Recorder.Record(conversationID, "assistant", gen.Text, map[string]any{
			"artifact_type":   string(at),
			"tier":            gen.Tier,
			"attempt":         gen.Attempt,
			"fallback_reason": gen.FallbackReason,
		})

		writeJSON(w, http.StatusOK, artifactResponse{
			ConversationID:      conversationID,
			Content:             gen.Text,
			Tier:                gen.Tier,
			Attempt:             gen.Attempt,
			DurationMillis:      gen.Duration.Milliseconds(),
			FallbackReason:      gen.FallbackReason,
			SuspectedTruncation: gen.SuspectedTruncation,
			ContextStrategy:     string(res.Budget.Strategy),
		})
	}
}

// writeGenerationError maps orchestrator failures onto the error envelope,
// distinguishing retryable exhaustion with a suggested wait.
func (g *Gateway) writeGenerationError(w http.ResponseWriter, err error) {
	var exhausted *fallback.ExhaustedError
	if errors.As(err, &exhausted) {
		g.metrics.Exhaustions.Inc()
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{
			Error:             exhausted.Error(),
			Retryable:         exhausted.Retryable,
			RetryAfterSeconds: exhausted.RetryAfter.Seconds(),
		})
		return
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		// Client went away; nothing useful to write.
		return
	}
	writeError(w, http.StatusInternalServerError, "generation failed")
}

func (g *Gateway) loadDocuments(ctx context.Context, ids []string) ([]assembly.Document, error) {
	stored, err := g.deps.Store.Documents(ctx, ids)
	if err != nil {
		return nil, err
	}
	return toAssemblyDocs(stored), nil
}

func toAssemblyDocs(stored []store.Document) []assembly.Document {
	docs := make([]assembly.Document, len(stored))
	for i, d := range stored {
		docs[i] = assembly.Document{ID: d.ID, Title: d.Title, Content: d.Content}
	}
	return docs
}

func (g *Gateway) observeAssembly(res assembly.Result) {
	if res.CacheHit {
		g.metrics.ContextCacheHits.WithLabelValues("hit").Inc()
		return
	}
	g.metrics.ContextCacheHits.WithLabelValues("miss").Inc()
	g.metrics.ContextAssemblies.WithLabelValues(string(res.Budget.Strategy)).Inc()
}
