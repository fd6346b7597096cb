package assembly

import (
	"sync"
	"time"
)

// DefaultTTL is how long a cached context stays valid without a rebuild.
const DefaultTTL = 30 * time.Minute

// CachedContext memoizes the assembled system context for one conversation
// and one document set. Replacement is whole-entry; entries are never
// partially updated.
type CachedContext struct {
	ConversationID string
	DocSetKey      string
	Context        string
	Strategy       Strategy
	Tokens         int
	UpdatedAt      time.Time
}

// Cache is a TTL cache keyed by conversation id. Expired entries are swept
// opportunistically on write and by the background janitor; a read of an
// expired or mismatched entry simply misses.
type Cache struct {
	mu      sync.Mutex
	ttl     time.Duration
	entries map[string]CachedContext
	now     func() time.Time
}

// NewCache creates a context cache. A non-positive ttl uses DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{
		ttl:     ttl,
		entries: make(map[string]CachedContext),
		now:     time.Now,
	}
}

// Get returns the cached context for a conversation if it is still valid
// for the given document set key.
func (c *Cache) Get(conversationID, docSetKey string) (CachedContext, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[conversationID]
	if !ok {
		return CachedContext{}, false
	}
	if entry.DocSetKey != docSetKey {
		return CachedContext{}, false
	}
	if c.now().Sub(entry.UpdatedAt) > c.ttl {
		return CachedContext{}, false
	}
	return entry, true
}

// Put stores a context, replacing any previous entry for the conversation,
// and sweeps expired entries while it holds the lock.
func (c *Cache) Put(entry CachedContext) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry.UpdatedAt = c.now()
	c.entries[entry.ConversationID] = entry
	c.sweepLocked()
}

// Invalidate removes the entry for a conversation, if any.
func (c *Cache) Invalidate(conversationID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, conversationID)
}

// Sweep removes all expired entries and returns how many were pruned.
func (c *Cache) Sweep() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepLocked()
}

// Len returns the number of cached entries, expired or not.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

func (c *Cache) sweepLocked() int {
	cutoff := c.now().Add(-c.ttl)
	pruned := 0
	for id, entry := range c.entries {
		if entry.UpdatedAt.Before(cutoff) {
			delete(c.entries, id)
			pruned++
		}
	}
	return pruned
}
