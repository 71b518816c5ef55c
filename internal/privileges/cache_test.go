package privileges

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/formworks-app/formworks/internal/authz"
)

func cacheDrivers(t *testing.T) map[string]Cache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return map[string]Cache{
		"redis":  NewRedisCache(client, time.Minute),
		"memory": NewMemoryCache(16, time.Minute),
	}
}

func sampleRules() []authz.Permission {
	return []authz.Permission{
		{Action: authz.Actions{authz.ActionView}, Subject: authz.Subjects{authz.SubjectFormRecord}},
		{Action: authz.Actions{authz.ActionManage}, Subject: authz.Subjects{authz.SubjectUser, authz.SubjectPrivilege}},
	}
}

func TestCachePutGetInvalidate(t *testing.T) {
	for name, cache := range cacheDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			_, ok, err := cache.Get(ctx, "u1")
			require.NoError(t, err)
			require.False(t, ok, "expected miss before put")

			require.NoError(t, cache.Put(ctx, "u1", sampleRules()))

			rules, ok, err := cache.Get(ctx, "u1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, sampleRules(), rules)

			require.NoError(t, cache.Invalidate(ctx, "u1"))
			_, ok, err = cache.Get(ctx, "u1")
			require.NoError(t, err)
			require.False(t, ok, "expected miss after invalidation")

			// Invalidating an absent entry is a no-op.
			require.NoError(t, cache.Invalidate(ctx, "u1"))
		})
	}
}

func TestCachePutOverwrites(t *testing.T) {
	for name, cache := range cacheDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, cache.Put(ctx, "u1", sampleRules()))

			replacement := []authz.Permission{
				{Action: authz.Actions{authz.ActionDelete}, Subject: authz.Subjects{authz.SubjectFormRecord}},
			}
			require.NoError(t, cache.Put(ctx, "u1", replacement))

			rules, ok, err := cache.Get(ctx, "u1")
			require.NoError(t, err)
			require.True(t, ok)
			require.Equal(t, replacement, rules)
		})
	}
}

func TestCacheFlushAllRemovesEveryEntry(t *testing.T) {
	for name, cache := range cacheDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			require.NoError(t, cache.Put(ctx, "u1", sampleRules()))
			require.NoError(t, cache.Put(ctx, "u2", sampleRules()))

			require.NoError(t, cache.FlushAll(ctx))

			for _, userID := range []string{"u1", "u2"} {
				_, ok, err := cache.Get(ctx, userID)
				require.NoError(t, err)
				require.False(t, ok, "expected %s to be flushed", userID)
			}
		})
	}
}

func TestCacheGenerationTracksInvalidations(t *testing.T) {
	for name, cache := range cacheDrivers(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()

			before, err := cache.Generation(ctx, "u1")
			require.NoError(t, err)

			// Puts leave the generation alone; only invalidations move it.
			require.NoError(t, cache.Put(ctx, "u1", sampleRules()))
			unchanged, err := cache.Generation(ctx, "u1")
			require.NoError(t, err)
			require.Equal(t, before, unchanged)

			require.NoError(t, cache.Invalidate(ctx, "u1"))
			afterInvalidate, err := cache.Generation(ctx, "u1")
			require.NoError(t, err)
			require.NotEqual(t, before, afterInvalidate, "invalidation must be observable")

			other, err := cache.Generation(ctx, "u2")
			require.NoError(t, err)
			require.Equal(t, before, other, "per-user invalidation must not disturb other users")

			require.NoError(t, cache.FlushAll(ctx))
			afterFlush, err := cache.Generation(ctx, "u2")
			require.NoError(t, err)
			require.NotEqual(t, other, afterFlush, "a flush must be observable for every user")
		})
	}
}

func TestRedisCacheFlushLeavesForeignKeys(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", sampleRules()))
	require.NoError(t, client.Set(ctx, "session:abc", "payload", 0).Err())

	require.NoError(t, cache.FlushAll(ctx))

	require.True(t, mr.Exists("session:abc"), "flush must only touch rule keys")
	require.False(t, mr.Exists(ruleKeyPrefix+"u1"))
}

func TestRedisCacheDropsCorruptEntries(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, mr.Set(ruleKeyPrefix+"u1", "{not json"))

	_, ok, err := cache.Get(ctx, "u1")
	require.Error(t, err)
	require.False(t, ok)
	require.False(t, mr.Exists(ruleKeyPrefix+"u1"), "corrupt entry should be evicted")
}

func TestRedisCacheEntriesExpire(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	cache := NewRedisCache(client, time.Minute)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", sampleRules()))
	mr.FastForward(2 * time.Minute)

	_, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok, "expected entry to expire after ttl")
}

func TestMemoryCachePutCopiesRules(t *testing.T) {
	cache := NewMemoryCache(16, 0)
	ctx := context.Background()

	rules := sampleRules()
	require.NoError(t, cache.Put(ctx, "u1", rules))
	rules[0].Condition = "mutated"

	cached, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, cached[0].Condition, "cached snapshot must not alias caller slice")
}

func TestMemoryCacheEvictsBeyondCapacity(t *testing.T) {
	cache := NewMemoryCache(2, 0)
	ctx := context.Background()

	require.NoError(t, cache.Put(ctx, "u1", sampleRules()))
	require.NoError(t, cache.Put(ctx, "u2", sampleRules()))
	require.NoError(t, cache.Put(ctx, "u3", sampleRules()))

	_, ok, err := cache.Get(ctx, "u1")
	require.NoError(t, err)
	require.False(t, ok, "oldest entry should be evicted at capacity")
}
