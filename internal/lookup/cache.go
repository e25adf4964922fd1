package lookup

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pitabwire/backoffice/model"
)

// Cache stores resolved option lists by key.
type Cache interface {
	// Get returns the cached options for key. found is false on a miss or
	// an expired entry.
	Get(ctx context.Context, key string) (options []model.StaticOption, found bool, err error)
	// Set stores options under key for ttl.
	Set(ctx context.Context, key string, options []model.StaticOption, ttl time.Duration) error
	// Invalidate drops every entry whose key starts with prefix.
	Invalidate(ctx context.Context, prefix string) error
}

// --- MemoryCache ---

// MemoryCache is an in-process Cache with TTL and a soft size bound.
// Suitable for testing and single-instance deployments.
type MemoryCache struct {
	maxEntries int
	now        func() time.Time

	mu      sync.RWMutex
	entries map[string]memEntry
}

type memEntry struct {
	options   []model.StaticOption
	expiresAt time.Time
}

// NewMemoryCache creates a MemoryCache holding at most maxEntries live
// entries before expired ones are evicted.
func NewMemoryCache(maxEntries int) *MemoryCache {
	if maxEntries <= 0 {
		maxEntries = 1000
	}
	return &MemoryCache{
		maxEntries: maxEntries,
		now:        time.Now,
		entries:    make(map[string]memEntry),
	}
}

// Get implements Cache.
func (c *MemoryCache) Get(_ context.Context, key string) ([]model.StaticOption, bool, error) {
	c.mu.RLock()
	entry, exists := c.entries[key]
	c.mu.RUnlock()

	if !exists {
		return nil, false, nil
	}
	if c.now().After(entry.expiresAt) {
		c.mu.Lock()
		delete(c.entries, key)
		c.mu.Unlock()
		return nil, false, nil
	}
	return entry.options, true, nil
}

// Set implements Cache.
func (c *MemoryCache) Set(_ context.Context, key string, options []model.StaticOption, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.entries) >= c.maxEntries {
		c.evictExpired()
	}
	c.entries[key] = memEntry{options: options, expiresAt: c.now().Add(ttl)}
	return nil
}

// Invalidate implements Cache.
func (c *MemoryCache) Invalidate(_ context.Context, prefix string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for k := range c.entries {
		if strings.HasPrefix(k, prefix) {
			delete(c.entries, k)
		}
	}
	return nil
}

// Len returns the number of entries, expired ones included.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// evictExpired removes expired entries. Must be called with mu held.
func (c *MemoryCache) evictExpired() {
	now := c.now()
	for k, v := range c.entries {
		if now.After(v.expiresAt) {
			delete(c.entries, k)
		}
	}
}

// --- RedisCache ---

// RedisCache is a Cache shared by every instance through Redis.
type RedisCache struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisCache creates a RedisCache. Every key is stored under prefix.
func NewRedisCache(client redis.UniversalClient, prefix string) *RedisCache {
	return &RedisCache{client: client, prefix: prefix}
}

// Get implements Cache.
func (c *RedisCache) Get(ctx context.Context, key string) ([]model.StaticOption, bool, error) {
	raw, err := c.client.Get(ctx, c.prefix+key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %q: %w", key, err)
	}

	var options []model.StaticOption
	if err := json.Unmarshal(raw, &options); err != nil {
		return nil, false, fmt.Errorf("unmarshal lookup entry %q: %w", key, err)
	}
	return options, true, nil
}

// Set implements Cache.
func (c *RedisCache) Set(ctx context.Context, key string, options []model.StaticOption, ttl time.Duration) error {
	data, err := json.Marshal(options)
	if err != nil {
		return fmt.Errorf("marshal lookup entry: %w", err)
	}
	if err := c.client.Set(ctx, c.prefix+key, data, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %q: %w", key, err)
	}
	return nil
}

// Invalidate implements Cache.
func (c *RedisCache) Invalidate(ctx context.Context, prefix string) error {
	iter := c.client.Scan(ctx, 0, c.prefix+prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %q: %w", prefix, err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

// HealthCheck pings Redis.
func (c *RedisCache) HealthCheck(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}
