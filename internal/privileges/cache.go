package privileges

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/formworks-app/formworks/internal/authz"
)

// Cache stores compiled effective rule sets per user. It is strictly an
// optimization layer: a miss or a cache failure always falls through to the
// rule store, and cache errors never mask store results.
type Cache interface {
	// Get returns the cached rule set and whether the entry was present.
	Get(ctx context.Context, userID string) ([]authz.Permission, bool, error)
	// Put stores or overwrites the entry for userID.
	Put(ctx context.Context, userID string, rules []authz.Permission) error
	// Invalidate removes the entry for userID; no-op when absent.
	Invalidate(ctx context.Context, userID string) error
	// FlushAll removes every entry. Used after privilege-definition changes,
	// whose set of affected users is not locally known.
	FlushAll(ctx context.Context) error
	// Generation returns an opaque token for userID that changes on every
	// Invalidate of that user and on every FlushAll. A resolution compares
	// the token from before its store read with the token after its
	// write-back; a mismatch means an invalidation raced the resolution and
	// the written entry is a stale snapshot.
	Generation(ctx context.Context, userID string) (string, error)
}

const (
	ruleKeyPrefix = "privileges:rules:"
	genKeyPrefix  = "privileges:gen:"
	flushGenKey   = "privileges:gen"
)

// RedisCache is the shared, cross-process cache driver.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache constructs a RedisCache. A zero ttl stores entries without
// expiry; eviction then relies on explicit invalidation only.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// Get fetches and decodes the entry for userID.
func (c *RedisCache) Get(ctx context.Context, userID string) ([]authz.Permission, bool, error) {
	payload, err := c.client.Get(ctx, ruleKeyPrefix+userID).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("privileges: cache get: %w", err)
	}
	var rules []authz.Permission
	if err := json.Unmarshal(payload, &rules); err != nil {
		// Undecodable entries are dropped so the next resolution repopulates.
		_ = c.client.Del(ctx, ruleKeyPrefix+userID).Err()
		return nil, false, fmt.Errorf("privileges: cache decode: %w", err)
	}
	return rules, true, nil
}

// Put stores the entry for userID. The value is written with a single SET,
// so concurrent readers observe either the old entry or the new one, never a
// partial write.
func (c *RedisCache) Put(ctx context.Context, userID string, rules []authz.Permission) error {
	payload, err := json.Marshal(rules)
	if err != nil {
		return fmt.Errorf("privileges: cache encode: %w", err)
	}
	if err := c.client.Set(ctx, ruleKeyPrefix+userID, payload, c.ttl).Err(); err != nil {
		return fmt.Errorf("privileges: cache put: %w", err)
	}
	return nil
}

// Invalidate removes the entry for userID. The generation bump lands before
// the delete so a resolution whose store read predates this call cannot
// write its snapshot back unnoticed.
func (c *RedisCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.client.Incr(ctx, genKeyPrefix+userID).Err(); err != nil {
		return fmt.Errorf("privileges: cache invalidate: %w", err)
	}
	if err := c.client.Del(ctx, ruleKeyPrefix+userID).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("privileges: cache invalidate: %w", err)
	}
	return nil
}

// FlushAll removes every rule entry by scanning the key prefix. The global
// generation is bumped first, for the same reason Invalidate bumps the
// per-user one.
func (c *RedisCache) FlushAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, flushGenKey).Err(); err != nil {
		return fmt.Errorf("privileges: cache flush: %w", err)
	}
	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, ruleKeyPrefix+"*", 200).Result()
		if err != nil {
			return fmt.Errorf("privileges: cache flush scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("privileges: cache flush del: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Generation returns the flush and per-user counters as one token. The
// counters live in Redis alongside the entries, so the token is coherent
// across processes.
func (c *RedisCache) Generation(ctx context.Context, userID string) (string, error) {
	vals, err := c.client.MGet(ctx, flushGenKey, genKeyPrefix+userID).Result()
	if err != nil {
		return "", fmt.Errorf("privileges: cache generation: %w", err)
	}
	parts := make([]string, len(vals))
	for i, v := range vals {
		if v == nil {
			parts[i] = "0"
			continue
		}
		parts[i] = fmt.Sprint(v)
	}
	return strings.Join(parts, ":"), nil
}

var _ Cache = (*RedisCache)(nil)
