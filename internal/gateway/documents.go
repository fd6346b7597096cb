package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/studykit-ai/studykit/internal/store"
)

// documentRequest is the body of POST /api/documents.
type documentRequest struct {
	ID      string `json:"id,omitempty"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// documentResponse is the success payload of POST /api/documents.
type documentResponse struct {
	ID string `json:"id"`
}

// handleUploadDocument stores one source document for later assembly.
func (g *Gateway) handleUploadDocument() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req documentRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(req.Title) == "" {
			writeError(w, http.StatusBadRequest, "title is required")
			return
		}
		if req.Content == "" {
			writeError(w, http.StatusBadRequest, "content is required")
			return
		}

		id := req.ID
		if id == "" {
			id = uuid.NewString()
		}

		if err := g.deps.Store.PutDocument(r.Context(), store.Document{
			ID:      id,
			Title:   req.Title,
			Content: req.Content,
		}); err != nil {
			g.logger.Error("document store failed", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store document")
			return
		}

		writeJSON(w, http.StatusCreated, documentResponse{ID: id})
	}
}
