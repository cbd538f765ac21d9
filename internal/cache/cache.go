package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// Cache is the hot key-value tier. Values are opaque byte strings with a
// TTL; callers serialize as needed.
type Cache interface {
	Get(key string) ([]byte, bool)
	Set(key string, val []byte, ttl time.Duration)
	Delete(key string)
	// Keys returns the live keys under a prefix, for snapshot reads
	Keys(prefix string) []string
}

type memory struct {
	mu sync.RWMutex
	m  map[string]entry
}

type entry struct {
	b   []byte
	exp time.Time
}

// NewMemory creates the in-process cache used when no Redis is configured
func NewMemory() Cache { return &memory{m: make(map[string]entry)} }

// NewAuto returns a Redis-backed cache when addr is non-empty, otherwise
// the in-process cache.
func NewAuto(addr string) Cache {
	if addr != "" {
		return &redisCache{r: redis.NewClient(&redis.Options{Addr: addr})}
	}
	return NewMemory()
}

func (c *memory) Get(key string) ([]byte, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.m[key]
	if !ok || (!e.exp.IsZero() && time.Now().After(e.exp)) {
		return nil, false
	}
	return e.b, true
}

func (c *memory) Set(key string, val []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := entry{b: append([]byte(nil), val...)}
	if ttl > 0 {
		e.exp = time.Now().Add(ttl)
	}
	c.m[key] = e
}

func (c *memory) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.m, key)
}

func (c *memory) Keys(prefix string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	now := time.Now()
	var keys []string
	for k, e := range c.m {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if !e.exp.IsZero() && now.After(e.exp) {
			continue
		}
		keys = append(keys, k)
	}
	return keys
}

type redisCache struct{ r *redis.Client }

func (r *redisCache) Get(key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	v, err := r.r.Get(ctx, key).Bytes()
	if err != nil {
		return nil, false
	}
	return v, true
}

func (r *redisCache) Set(key string, val []byte, ttl time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.r.Set(ctx, key, val, ttl).Err()
}

func (r *redisCache) Delete(key string) {
	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	_ = r.r.Del(ctx, key).Err()
}

func (r *redisCache) Keys(prefix string) []string {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	var keys []string
	iter := r.r.Scan(ctx, 0, prefix+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	return keys
}
