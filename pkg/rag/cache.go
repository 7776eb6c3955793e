package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheKey is the tuple spec.md §3 keys a Query Cache Entry on:
// (normalized_query_hash, tenant_id, suite_id, module_id).
type CacheKey struct {
	QueryHash string
	TenantID  string
	SuiteID   string
	ModuleID  string
}

// CacheEntry is one cached generated response plus the chunk/document IDs
// that produced it, so a cache hit can still attribute its sources.
type CacheEntry struct {
	ResponseText string    `json:"response_text"`
	ChunkIDs     []string  `json:"chunk_ids"`
	DocumentIDs  []string  `json:"document_ids"`
	HitCount     int64     `json:"hit_count"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// NormalizeQueryHash computes the cache key's query_hash component:
// sha256(lowercased(query)).
func NormalizeQueryHash(query string) string {
	h := sha256.Sum256([]byte(strings.ToLower(strings.TrimSpace(query))))
	return hex.EncodeToString(h[:])
}

func (k CacheKey) redisKey() string {
	return fmt.Sprintf("rag:cache:%s:%s:%s:%s", k.QueryHash, k.TenantID, k.SuiteID, k.ModuleID)
}

// Cache is the semantic query cache contract: a Get/hit-count-increment
// and a Put, keyed on CacheKey, with a TTL (spec.md §3/§4.4).
type Cache interface {
	Get(ctx context.Context, key CacheKey) (*CacheEntry, bool, error)
	Put(ctx context.Context, key CacheKey, entry CacheEntry, ttl time.Duration) error
}

// DefaultCacheTTL is used when a caller doesn't specify one.
const DefaultCacheTTL = 1 * time.Hour

// RedisCache is a Cache backed by Redis, with the hit_count update path
// implemented as an atomic HINCRBY so concurrent hits never lose an
// increment (spec.md §5: "the hit_count update path is atomic increment").
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-configured *redis.Client.
func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// Get implements Cache. On a hit, it atomically increments hit_count and
// returns the entry with the post-increment count; expired entries (Redis
// TTL already handles this, but defense in depth) are treated as a miss.
func (c *RedisCache) Get(ctx context.Context, key CacheKey) (*CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, key.redisKey()).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("rag: cache get: %w", err)
	}

	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("rag: cache decode: %w", err)
	}
	if time.Now().After(entry.ExpiresAt) {
		return nil, false, nil
	}

	hitCount, err := c.client.HIncrBy(ctx, key.redisKey()+":hits", "count", 1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("rag: cache hit-count increment: %w", err)
	}
	entry.HitCount = hitCount
	return &entry, true, nil
}

// Put implements Cache. Writes are last-writer-wins (spec.md §5).
func (c *RedisCache) Put(ctx context.Context, key CacheKey, entry CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	entry.ExpiresAt = time.Now().Add(ttl)
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("rag: cache encode: %w", err)
	}
	return c.client.Set(ctx, key.redisKey(), data, ttl).Err()
}

// MemoryCache is an in-process Cache used for tests and local development,
// mirroring RedisCache's last-writer-wins/atomic-increment semantics with a
// mutex instead of Redis commands.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, key CacheKey) (*CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[key.redisKey()]
	if !ok {
		return nil, false, nil
	}
	if time.Now().After(e.ExpiresAt) {
		return nil, false, nil
	}
	e.HitCount++
	cp := *e
	return &cp, true, nil
}

func (c *MemoryCache) Put(_ context.Context, key CacheKey, entry CacheEntry, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	entry.ExpiresAt = time.Now().Add(ttl)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key.redisKey()] = &entry
	return nil
}
