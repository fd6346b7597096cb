package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/studykit-ai/studykit/internal/stream"
	"github.com/studykit-ai/studykit/internal/upstream"
)

// chatRequest is the body of POST /api/conversations/{id}/messages.
type chatRequest struct {
	Content     string   `json:"content"`
	DocumentIDs []string `json:"documentIds,omitempty"`
}

// handleChatTurn runs the turn-based streaming path: reuse or create the
// upstream session, relay the streamed reply as wire frames, and persist
// both turns off the request path.
func (g *Gateway) handleChatTurn() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conversationID := chi.URLParam(r, "id")
		if conversationID == "" {
			writeError(w, http.StatusBadRequest, "conversation id is required")
			return
		}

		var req chatRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Content) == "" {
			writeError(w, http.StatusBadRequest, "content is required")
			return
		}

		ctx := r.Context()
		started := time.Now()

		docs, err := g.loadDocuments(ctx, req.DocumentIDs)
		if err != nil {
			g.logger.Error("document load failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load documents")
			return
		}

		history, err := g.priorTurns(ctx, conversationID)
		if err != nil {
			g.logger.Error("history load failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to load history")
			return
		}

		sessionID, isNew, err := g.deps.Sessions.Obtain(ctx, conversationID, docs, history, req.Content)
		if err != nil {
			g.logger.Error("session setup failed", "conversation_id", conversationID, "error", err)
			writeError(w, http.StatusBadGateway, "session setup failed")
			return
		}

		chunks, err := g.deps.Upstream.StreamTurn(ctx, sessionID, req.Content)
		if errors.Is(err, upstream.ErrSessionNotFound) {
			// The upstream forgot the session; recreate once and retry.
			g.deps.Sessions.Invalidate(conversationID)
			sessionID, isNew, err = g.deps.Sessions.Obtain(ctx, conversationID, docs, history, req.Content)
			if err == nil {
				chunks, err = g.deps.Upstream.StreamTurn(ctx, sessionID, req.Content)
			}
		}
		if err != nil {
			g.logger.Error("turn stream failed to start", "conversation_id", conversationID, "error", err)
			writeError(w, http.StatusBadGateway, "upstream turn failed")
			return
		}

		if isNew {
			g.metrics.SessionsCreated.Inc()
		}

		g.deps.Recorder.Record(conversationID, "user", req.Content, nil)

		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("X-Accel-Buffering", "no")

		g.relayTurn(ctx, w, chunks, turnMeta{
			conversationID: conversationID,
			sessionID:      sessionID,
			isNew:          isNew,
		})

		g.metrics.TurnDuration.Observe(time.Since(started).Seconds())
	}
}

// turnMeta carries per-turn identity into the relay.
type turnMeta struct {
	conversationID string
	sessionID      string
	isNew          bool
}

// relayTurn drains the upstream stream into wire frames and records the
// assistant turn once the stream completes cleanly.
func (g *Gateway) relayTurn(ctx context.Context, w http.ResponseWriter, chunks <-chan upstream.TurnChunk, meta turnMeta) {
	emitter := stream.NewEmitter(w)

	var (
		full  strings.Builder
		usage stream.Usage
	)

	for {
		select {
		case <-ctx.Done():
			_ = emitter.Error(ctx.Err())
			return

		case chunk, ok := <-chunks:
			if !ok {
				_ = emitter.Metadata(stream.Metadata{
					Usage:        usage,
					Model:        g.deps.Sessions.Model(),
					SessionID:    meta.sessionID,
					IsNewSession: meta.isNew,
				})
				if full.Len() > 0 {
					g.deps.Recorder.Record(meta.conversationID, "assistant", full.String(), map[string]any{
						"session_id":    meta.sessionID,
						"total_tokens":  usage.TotalTokens,
						"prompt_tokens": usage.PromptTokens,
					})
				}
				return
			}

			if chunk.Err != nil {
				g.logger.Warn("turn stream failed mid-flight",
					"conversation_id", meta.conversationID,
					"error", chunk.Err,
				)
				_ = emitter.Error(chunk.Err)
				return
			}

			if chunk.Usage != nil {
				usage = stream.Usage{
					PromptTokens:     chunk.Usage.PromptTokens,
					CompletionTokens: chunk.Usage.CompletionTokens,
					TotalTokens:      chunk.Usage.TotalTokens,
				}
			}

			if chunk.Text != "" {
				full.WriteString(chunk.Text)
				if err := emitter.Text(chunk.Text); err != nil {
					// Client write failed; drain is pointless.
					return
				}
			}
		}
	}
}

// priorTurns converts stored history into the upstream's turn format.
// The current turn has not been persisted yet, so the result holds prior
// turns only.
func (g *Gateway) priorTurns(ctx context.Context, conversationID string) ([]upstream.HistoryTurn, error) {
	msgs, err := g.deps.Store.History(ctx, conversationID)
	if err != nil {
		return nil, err
	}
	turns := make([]upstream.HistoryTurn, 0, len(msgs))
	for _, m := range msgs {
		turns = append(turns, upstream.HistoryTurn{Role: m.Role, Content: m.Content})
	}
	return turns, nil
}
