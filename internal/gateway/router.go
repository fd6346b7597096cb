package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter constructs the chi mux with all routes wired.
func (g *Gateway) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Get("/health", g.handleHealth())
	r.Get("/status", g.handleStatus())
	r.Handle("/metrics", g.metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Post("/documents", g.handleUploadDocument())
		r.Post("/artifacts", g.handleGenerateArtifact())
		r.Post("/conversations/{id}/messages", g.handleChatTurn())
	})

	return r
}
