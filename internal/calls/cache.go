package calls

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"ivr-platform/pkg/utils"
)

// Cache is the read-through active-call cache keyed by provider call id.
// Get returns (nil, nil) on miss. Entries are evicted on finalize only.
type Cache interface {
	Get(ctx context.Context, providerCallID string) (*Session, error)
	Put(ctx context.Context, s *Session) error
	Evict(ctx context.Context, providerCallID string) error
}

// MemoryCache is a process-local cache.
type MemoryCache struct {
	mu    sync.RWMutex
	items map[string]*Session
}

func NewMemoryCache() *MemoryCache {
	return &MemoryCache{items: make(map[string]*Session)}
}

func (c *MemoryCache) Get(ctx context.Context, providerCallID string) (*Session, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s, ok := c.items[providerCallID]
	if !ok {
		return nil, nil
	}
	return s.Clone(), nil
}

func (c *MemoryCache) Put(ctx context.Context, s *Session) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items[s.ProviderCallID] = s.Clone()
	return nil
}

func (c *MemoryCache) Evict(ctx context.Context, providerCallID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.items, providerCallID)
	return nil
}

// Len reports the number of cached sessions.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.items)
}

const defaultCacheTTL = 6 * time.Hour

// RedisCache keeps active sessions in Redis as JSON documents. It shares
// session state between instances; the live conversation stays in the
// process that answered the call, so webhooks must be routed sticky per
// CallSid. The TTL bounds entries whose hangup event never arrived.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCache{client: client, ttl: ttl}
}

func (c *RedisCache) Get(ctx context.Context, providerCallID string) (*Session, error) {
	val, err := c.client.Get(ctx, c.key(providerCallID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s Session
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

func (c *RedisCache) Put(ctx context.Context, s *Session) error {
	val, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, c.key(s.ProviderCallID), val, c.ttl).Err()
}

func (c *RedisCache) Evict(ctx context.Context, providerCallID string) error {
	return c.client.Del(ctx, c.key(providerCallID)).Err()
}

func (c *RedisCache) key(providerCallID string) string {
	return utils.RedisKey("ivr", "call", providerCallID)
}
