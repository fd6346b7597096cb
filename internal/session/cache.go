// Package session maps conversations to upstream stateful sessions so a
// multi-turn chat can reuse server-side generation state instead of
// resending full history every turn.
package session

import (
	"sync"
	"time"
)

// DefaultIdleTTL is how long an unused session mapping is kept. The
// upstream expires idle sessions on its own; a mapping this old is almost
// certainly dead and would only cost a failed turn to discover.
const DefaultIdleTTL = 24 * time.Hour

type entry struct {
	sessionID string
	lastUsed  time.Time
}

// Cache maps conversation ids to upstream session ids, dropping mappings
// that sit unused past the idle TTL. Safe for concurrent use.
type Cache struct {
	mu      sync.Mutex
	idleTTL time.Duration
	entries map[string]entry
	now     func() time.Time
}

// NewCache creates a session cache. A non-positive idleTTL uses
// DefaultIdleTTL.
func NewCache(idleTTL time.Duration) *Cache {
	if idleTTL <= 0 {
		idleTTL = DefaultIdleTTL
	}
	return &Cache{
		idleTTL: idleTTL,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Get returns the cached upstream session id for a conversation and
// refreshes its idle timer. An entry past the TTL misses and is dropped.
func (c *Cache) Get(conversationID string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[conversationID]
	if !ok {
		return "", false
	}
	if c.now().Sub(e.lastUsed) > c.idleTTL {
		delete(c.entries, conversationID)
		return "", false
	}
	e.lastUsed = c.now()
	c.entries[conversationID] = e
	return e.sessionID, true
}

// Put stores a session id, unconditionally overwriting any previous value.
func (c *Cache) Put(conversationID, sessionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[conversationID] = entry{sessionID: sessionID, lastUsed: c.now()}
}

// Delete removes the entry for a conversation, if any.
func (c *Cache) Delete(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
}

// Len returns the number of cached sessions, idle or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Sweep removes mappings idle past the TTL and returns how many were
// dropped.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cutoff := c.now().Add(-c.idleTTL)
	pruned := 0
	for id, e := range c.entries {
		if e.lastUsed.Before(cutoff) {
			delete(c.entries, id)
			pruned++
		}
	}
	return pruned
}
