package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"

	"github.com/studykit-ai/studykit/internal/assembly"
	"github.com/studykit-ai/studykit/internal/upstream"
)

// Config configures the session manager.
type Config struct {
	// Model is the upstream model backing chat sessions.
	Model string

	// SystemPrompt is the base instruction prepended to the assembled
	// document context.
	SystemPrompt string
}

// Option configures optional Manager behavior.
type Option func(*Manager)

// WithLogger injects a structured logger. Nil or omitted discards output.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// Manager creates and reuses upstream sessions per conversation. Session
// creation is serialized per conversation id, so two concurrent first
// turns for the same conversation produce exactly one upstream session.
type Manager struct {
	cache     *Cache
	sessions  upstream.SessionService
	assembler *assembly.Assembler
	config    Config
	logger    *slog.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewManager creates a session manager.
func NewManager(cache *Cache, sessions upstream.SessionService, assembler *assembly.Assembler, cfg Config, opts ...Option) *Manager {
	m := &Manager{
		cache:     cache,
		sessions:  sessions,
		assembler: assembler,
		config:    cfg,
		locks:     make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return m
}

// Obtain returns the upstream session id for a conversation, creating one
// when no valid session is cached. history must hold the prior turns only,
// excluding the current one.
func (m *Manager) Obtain(ctx context.Context, conversationID string, docs []assembly.Document, history []upstream.HistoryTurn, query string) (sessionID string, isNew bool, err error) {
	lock := m.acquire(conversationID)
	defer lock.Unlock()

	if id, ok := m.cache.Get(conversationID); ok {
		return id, false, nil
	}

	res, err := m.assembler.Assemble(ctx, conversationID, docs, query)
	if err != nil {
		return "", false, fmt.Errorf("session: assemble context: %w", err)
	}

	systemPrompt := m.config.SystemPrompt
	if res.Context != "" {
		systemPrompt = systemPrompt + "\n\n" + res.Context
	}

	id, err := m.sessions.CreateSession(ctx, upstream.CreateSessionRequest{
		Model:        m.config.Model,
		SystemPrompt: systemPrompt,
		History:      history,
	})
	if err != nil {
		return "", false, fmt.Errorf("session: create upstream session: %w", err)
	}

	m.cache.Put(conversationID, id)
	m.logger.Info("upstream session created",
		"conversation_id", conversationID,
		"session_id", id,
		"history_turns", len(history),
		"context_strategy", res.Budget.Strategy,
	)
	return id, true, nil
}

// Model returns the upstream model backing chat sessions.
func (m *Manager) Model() string {
	return m.config.Model
}

// Invalidate drops the cached session for a conversation. Called when the
// upstream reports the session unknown; the next Obtain recreates it.
func (m *Manager) Invalidate(conversationID string) {
	m.cache.Delete(conversationID)
}

// Sweep drops session mappings idle past the cache TTL, then releases
// the creation locks of conversations that no longer have a mapping.
// Registered with the background janitor.
func (m *Manager) Sweep() int {
	pruned := m.cache.Sweep()

	m.mu.Lock()
	defer m.mu.Unlock()
	for id, lock := range m.locks {
		if _, ok := m.cache.Get(id); ok {
			continue
		}
		// A held lock means a creation is in flight; leave it alone.
		if lock.TryLock() {
			delete(m.locks, id)
			lock.Unlock()
		}
	}
	return pruned
}

// acquire returns the conversation's creation lock, locked. The sweeper
// may drop an uncontended lock between lookup and Lock, so re-check that
// the held lock is still the registered one and retry if not.
func (m *Manager) acquire(conversationID string) *sync.Mutex {
	for {
		lock := m.lockFor(conversationID)
		lock.Lock()

		m.mu.Lock()
		registered := m.locks[conversationID]
		m.mu.Unlock()
		if registered == lock {
			return lock
		}
		lock.Unlock()
	}
}

// lockFor returns the per-conversation creation lock, creating it on
// first use. The sweeper prunes locks once their conversation's session
// mapping expires.
func (m *Manager) lockFor(conversationID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()
	lock, ok := m.locks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		m.locks[conversationID] = lock
	}
	return lock
}
