package replay

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// HashCache stores normalized file hashes keyed by (path, size, mtime).
// A cache only saves work; it never changes a comparison result.
type HashCache interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Put(ctx context.Context, key, hash string) error
}

type memEntry struct {
	hash      string
	expiresAt time.Time
}

// MemoryCache is an in-process HashCache with a fixed TTL. Expired entries
// are swept on access.
type MemoryCache struct {
	mu      sync.Mutex
	ttl     time.Duration
	clock   func() time.Time
	entries map[string]memEntry
}

// NewMemoryCache creates a cache whose entries live for ttl.
func NewMemoryCache(ttl time.Duration) *MemoryCache {
	return &MemoryCache{
		ttl:     ttl,
		clock:   time.Now,
		entries: make(map[string]memEntry),
	}
}

// WithClock overrides the clock for deterministic testing.
func (m *MemoryCache) WithClock(clock func() time.Time) *MemoryCache {
	m.clock = clock
	return m
}

func (m *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	e, ok := m.entries[key]
	if !ok {
		return "", false, nil
	}
	return e.hash, true, nil
}

func (m *MemoryCache) Put(_ context.Context, key, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	m.entries[key] = memEntry{hash: hash, expiresAt: m.clock().Add(m.ttl)}
	return nil
}

// Len reports the number of live entries.
func (m *MemoryCache) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sweepLocked()
	return len(m.entries)
}

func (m *MemoryCache) sweepLocked() {
	now := m.clock()
	for k, e := range m.entries {
		if !now.Before(e.expiresAt) {
			delete(m.entries, k)
		}
	}
}

// RedisCache is a HashCache backed by Redis; expiry is enforced server side.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a cache backed by the Redis server at addr.
func NewRedisCache(addr, password string, db int, ttl time.Duration) *RedisCache {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	return NewRedisCacheFromClient(rdb, ttl)
}

// NewRedisCacheFromClient wraps an existing client.
func NewRedisCacheFromClient(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, prefix: "trustchain:replay:", ttl: ttl}
}

// Ping checks connectivity.
func (r *RedisCache) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisCache) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.client.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("redis get: %w", err)
	}
	return v, true, nil
}

func (r *RedisCache) Put(ctx context.Context, key, hash string) error {
	if err := r.client.Set(ctx, r.prefix+key, hash, r.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (r *RedisCache) Close() error {
	return r.client.Close()
}
