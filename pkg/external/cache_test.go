package external

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	tcredis "github.com/testcontainers/testcontainers-go/modules/redis"

	"github.com/phenovariant-server/internal/domain"
)

func TestMemoryResultCache(t *testing.T) {
	ctx := context.Background()
	cache, err := NewMemoryResultCache(2, time.Minute)
	require.NoError(t, err)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return now }

	require.NoError(t, cache.Set(ctx, "a", []byte(`{"valid":true}`), 0))
	got, ok, err := cache.Get(ctx, "a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"valid":true}`, string(got))

	t.Run("expiry", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "short", []byte(`1`), time.Second))
		now = now.Add(2 * time.Second)
		_, ok, err := cache.Get(ctx, "short")
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("eviction", func(t *testing.T) {
		require.NoError(t, cache.Set(ctx, "b", []byte(`2`), 0))
		require.NoError(t, cache.Set(ctx, "c", []byte(`3`), 0))
		assert.Equal(t, 2, cache.Len())
	})
}

func TestCacheKeyIsStable(t *testing.T) {
	a := cacheKey("validate", "GRCh38", "mane_select", "NM_007294.4:c.68_69del")
	b := cacheKey("validate", "GRCh38", "mane_select", "NM_007294.4:c.68_69del")
	c := cacheKey("validate", "GRCh37", "mane_select", "NM_007294.4:c.68_69del")

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Contains(t, a, "phenovariant:validate:")
}

func TestRedisResultCache(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping Redis container test in short mode")
	}
	ctx := context.Background()

	container, err := tcredis.Run(ctx, "redis:7-alpine")
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}
	defer func() {
		if err := container.Terminate(ctx); err != nil {
			t.Logf("Failed to terminate Redis container: %v", err)
		}
	}()

	uri, err := container.ConnectionString(ctx)
	require.NoError(t, err)

	cache, err := NewRedisResultCache(ctx, domain.CacheConfig{RedisURL: uri, DefaultTTL: time.Minute})
	require.NoError(t, err)
	defer cache.Close()

	require.NoError(t, cache.Ping(ctx))

	_, ok, err := cache.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, "k", []byte(`{"valid":true,"normalized":"NM_007294.4:c.68_69del"}`), 0))
	got, ok, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.JSONEq(t, `{"valid":true,"normalized":"NM_007294.4:c.68_69del"}`, string(got))

	t.Run("shared between clients", func(t *testing.T) {
		other, err := NewRedisResultCache(ctx, domain.CacheConfig{RedisURL: uri})
		require.NoError(t, err)
		defer other.Close()

		_, ok, err := other.Get(ctx, "k")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestNewRedisResultCacheBadURL(t *testing.T) {
	_, err := NewRedisResultCache(context.Background(), domain.CacheConfig{RedisURL: "not a url"})
	assert.Error(t, err)
}
