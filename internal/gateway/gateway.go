// Package gateway exposes the HTTP surface: streaming chat turns,
// one-shot artifact generation, document upload, health, status, and
// Prometheus metrics.
package gateway

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/studykit-ai/studykit/internal/assembly"
	"github.com/studykit-ai/studykit/internal/fallback"
	"github.com/studykit-ai/studykit/internal/session"
	"github.com/studykit-ai/studykit/internal/store"
	"github.com/studykit-ai/studykit/internal/upstream"
)

// Config configures the gateway server.
type Config struct {
	Listen          string
	ReadTimeout     time.Duration
	ShutdownTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Listen == "" {
		c.Listen = ":8080"
	}
	if c.ReadTimeout <= 0 {
		c.ReadTimeout = 30 * time.Second
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 10 * time.Second
	}
	return c
}

// Deps are the collaborators the gateway drives.
type Deps struct {
	Orchestrator *fallback.Orchestrator
	Assembler    *assembly.Assembler
	Sessions     *session.Manager
	SessionCache *session.Cache
	Upstream     upstream.SessionService
	Store        *store.Store
	Recorder     *store.Recorder
}

// Gateway is the HTTP server over the generation layer.
type Gateway struct {
	config    Config
	deps      Deps
	logger    *slog.Logger
	metrics   *Metrics
	server    *http.Server
	startedAt time.Time
}

// Option configures optional Gateway behavior.
type Option func(*Gateway)

// WithLogger injects a structured logger. Nil or omitted discards output.
func WithLogger(l *slog.Logger) Option {
	return func(g *Gateway) { g.logger = l }
}

// WithMetrics injects a pre-built metric set, so collaborators created
// before the gateway can share it.
func WithMetrics(m *Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// New creates a Gateway.
func New(cfg Config, deps Deps, opts ...Option) *Gateway {
	g := &Gateway{
		config:  cfg.withDefaults(),
		deps:    deps,
		metrics: NewMetrics(),
	}
	for _, opt := range opts {
		opt(g)
	}
	if g.logger == nil {
		g.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return g
}

// Metrics exposes the gateway's metric set so the orchestrator's attempt
// observer can be wired to it.
func (g *Gateway) MetricSet() *Metrics {
	return g.metrics
}

// Start binds the listen address and serves in the background.
func (g *Gateway) Start() error {
	g.startedAt = time.Now()

	g.server = &http.Server{
		Addr:        g.config.Listen,
		Handler:     g.buildRouter(),
		ReadTimeout: g.config.ReadTimeout,
		// No WriteTimeout: it would cut long-running generation streams.
	}

	var lc net.ListenConfig
	ln, err := lc.Listen(context.Background(), "tcp", g.config.Listen)
	if err != nil {
		return errors.New("gateway: listen failed: " + err.Error())
	}

	go func() {
		g.logger.Info("gateway listening", "addr", g.config.Listen)
		if err := g.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			g.logger.Error("gateway serve error", "error", err)
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (g *Gateway) Stop(ctx context.Context) error {
	if g.server == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, g.config.ShutdownTimeout)
	defer cancel()

	g.logger.Info("gateway shutting down")
	return g.server.Shutdown(shutdownCtx)
}
