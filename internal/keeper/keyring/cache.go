package keyring

import (
	"context"
	"sync"
	"time"
)

// DefaultKeyTTL bounds how long resolved key material stays cached.
const DefaultKeyTTL = 5 * time.Minute

type cacheEntry struct {
	key       []byte
	expiresAt time.Time
}

// CachingResolver wraps another Resolver with a short-TTL in-memory cache
// keyed by KeyRef.CacheKey. A miss triggers one upstream round trip; the
// returned slice is always a copy so callers may wipe it.
type CachingResolver struct {
	next Resolver
	ttl  time.Duration
	now  func() time.Time

	mu      sync.Mutex
	entries map[string]cacheEntry
}

func NewCachingResolver(next Resolver, ttl time.Duration) *CachingResolver {
	if ttl <= 0 {
		ttl = DefaultKeyTTL
	}
	return &CachingResolver{
		next:    next,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]cacheEntry),
	}
}

func (c *CachingResolver) ResolveKey(ctx context.Context, ref KeyRef) ([]byte, error) {
	id := ref.CacheKey()

	c.mu.Lock()
	if e, ok := c.entries[id]; ok && c.now().Before(e.expiresAt) {
		out := make([]byte, len(e.key))
		copy(out, e.key)
		c.mu.Unlock()
		return out, nil
	}
	c.mu.Unlock()

	key, err := c.next.ResolveKey(ctx, ref)
	if err != nil {
		return nil, err
	}

	stored := make([]byte, len(key))
	copy(stored, key)
	c.mu.Lock()
	c.entries[id] = cacheEntry{key: stored, expiresAt: c.now().Add(c.ttl)}
	c.mu.Unlock()

	return key, nil
}

// Purge drops every cached key, wiping the stored material.
func (c *CachingResolver) Purge() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, e := range c.entries {
		for i := range e.key {
			e.key[i] = 0
		}
		delete(c.entries, id)
	}
}
