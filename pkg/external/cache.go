package external

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/redis/go-redis/v9"

	"github.com/phenovariant-server/internal/domain"
)

// ResultCache stores validator answers keyed by request. Values are JSON
// documents. Entries carry their own expiry; an expired entry is a miss.
type ResultCache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Close() error
}

// cachedResult is the stored envelope for a cache entry
type cachedResult struct {
	Data      json.RawMessage `json:"data"`
	CachedAt  time.Time       `json:"cached_at"`
	ExpiresAt time.Time       `json:"expires_at"`
}

const defaultCacheTTL = 24 * time.Hour

// cacheKey creates a standardized cache key for a validator request
func cacheKey(kind string, parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	return fmt.Sprintf("phenovariant:%s:%x", kind, h.Sum(nil)[:8])
}

// MemoryResultCache is an in-process LRU used by the lite server
type MemoryResultCache struct {
	mu         sync.Mutex
	entries    *lru.Cache[string, cachedResult]
	defaultTTL time.Duration
	now        func() time.Time
}

// NewMemoryResultCache creates an LRU cache holding at most size entries
func NewMemoryResultCache(size int, defaultTTL time.Duration) (*MemoryResultCache, error) {
	if size <= 0 {
		size = 1000
	}
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	entries, err := lru.New[string, cachedResult](size)
	if err != nil {
		return nil, fmt.Errorf("failed to create LRU cache: %w", err)
	}
	return &MemoryResultCache{entries: entries, defaultTTL: defaultTTL, now: time.Now}, nil
}

// Get returns a cached value
func (c *MemoryResultCache) Get(_ context.Context, key string) ([]byte, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries.Get(key)
	if !ok {
		return nil, false, nil
	}
	if c.now().After(entry.ExpiresAt) {
		c.entries.Remove(key)
		return nil, false, nil
	}
	return entry.Data, true, nil
}

// Set stores a value; a zero ttl uses the cache default
func (c *MemoryResultCache) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	now := c.now()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries.Add(key, cachedResult{Data: append([]byte(nil), value...), CachedAt: now, ExpiresAt: now.Add(ttl)})
	return nil
}

// Len returns the number of cached entries, expired ones included
func (c *MemoryResultCache) Len() int {
	return c.entries.Len()
}

// Close is a no-op for the memory cache
func (c *MemoryResultCache) Close() error { return nil }

// RedisResultCache shares validator answers between server instances
type RedisResultCache struct {
	redis      *redis.Client
	defaultTTL time.Duration
}

// NewRedisResultCache connects to Redis and verifies the connection
func NewRedisResultCache(ctx context.Context, config domain.CacheConfig) (*RedisResultCache, error) {
	opts, err := redis.ParseURL(config.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	if config.PoolSize > 0 {
		opts.PoolSize = config.PoolSize
	}
	if config.PoolTimeout > 0 {
		opts.PoolTimeout = config.PoolTimeout
	}
	if config.MaxRetries > 0 {
		opts.MaxRetries = config.MaxRetries
	}

	client := redis.NewClient(opts)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisResultCacheFromClient(client, config.DefaultTTL), nil
}

// NewRedisResultCacheFromClient wraps an existing client
func NewRedisResultCacheFromClient(client *redis.Client, defaultTTL time.Duration) *RedisResultCache {
	if defaultTTL <= 0 {
		defaultTTL = defaultCacheTTL
	}
	return &RedisResultCache{redis: client, defaultTTL: defaultTTL}
}

// Get returns a cached value. Corrupted entries are removed and reported as
// a miss.
func (c *RedisResultCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := c.redis.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get cache entry: %w", err)
	}

	var cached cachedResult
	if err := json.Unmarshal(val, &cached); err != nil {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}
	if time.Now().After(cached.ExpiresAt) {
		c.redis.Del(ctx, key)
		return nil, false, nil
	}
	return cached.Data, true, nil
}

// Set stores a value; a zero ttl uses the cache default
func (c *RedisResultCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl == 0 {
		ttl = c.defaultTTL
	}
	now := time.Now()
	data, err := json.Marshal(cachedResult{Data: value, CachedAt: now, ExpiresAt: now.Add(ttl)})
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}
	return c.redis.Set(ctx, key, data, ttl).Err()
}

// Ping checks if Redis connection is alive
func (c *RedisResultCache) Ping(ctx context.Context) error {
	return c.redis.Ping(ctx).Err()
}

// Close closes the Redis connection
func (c *RedisResultCache) Close() error {
	return c.redis.Close()
}
