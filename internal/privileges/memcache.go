package privileges

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/formworks-app/formworks/internal/authz"
)

// MemoryCache is a single-process cache driver bounded by capacity and TTL.
// Suitable for single-instance deployments and tests; multi-instance
// deployments need RedisCache so flushes reach every process.
type MemoryCache struct {
	entries *expirable.LRU[string, []authz.Permission]

	mu       sync.Mutex
	flushGen uint64
	userGens map[string]uint64
}

// NewMemoryCache constructs a MemoryCache holding at most size entries, each
// expiring after ttl. A zero ttl disables expiry.
func NewMemoryCache(size int, ttl time.Duration) *MemoryCache {
	if size <= 0 {
		size = 1024
	}
	return &MemoryCache{
		entries:  expirable.NewLRU[string, []authz.Permission](size, nil, ttl),
		userGens: make(map[string]uint64),
	}
}

// Get returns the cached rule set for userID.
func (c *MemoryCache) Get(ctx context.Context, userID string) ([]authz.Permission, bool, error) {
	rules, ok := c.entries.Get(userID)
	return rules, ok, nil
}

// Put stores the entry for userID. The slice is copied so later mutation by
// the caller cannot alter the cached snapshot.
func (c *MemoryCache) Put(ctx context.Context, userID string, rules []authz.Permission) error {
	snapshot := make([]authz.Permission, len(rules))
	copy(snapshot, rules)
	c.entries.Add(userID, snapshot)
	return nil
}

// Invalidate removes the entry for userID. The generation bump happens
// before the removal so a resolution that read the store earlier cannot
// write its snapshot back unnoticed.
func (c *MemoryCache) Invalidate(ctx context.Context, userID string) error {
	c.mu.Lock()
	c.userGens[userID]++
	c.mu.Unlock()
	c.entries.Remove(userID)
	return nil
}

// FlushAll removes every entry.
func (c *MemoryCache) FlushAll(ctx context.Context) error {
	c.mu.Lock()
	c.flushGen++
	c.mu.Unlock()
	c.entries.Purge()
	return nil
}

// Generation returns the flush and per-user counters as one token.
func (c *MemoryCache) Generation(ctx context.Context, userID string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return fmt.Sprintf("%d:%d", c.flushGen, c.userGens[userID]), nil
}

var _ Cache = (*MemoryCache)(nil)
