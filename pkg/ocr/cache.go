package ocr

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// CacheEntry is a prior OCR result, keyed by document_hash (spec.md §3).
type CacheEntry struct {
	Result         Result    `json:"result"`
	HitCount       int64     `json:"hit_count"`
	LastAccessedAt time.Time `json:"last_accessed_at"`
}

// Cache stores OCR results keyed by document_hash so an identical document
// submitted again is served without re-running any tier.
type Cache interface {
	Get(ctx context.Context, documentHash string) (*CacheEntry, bool, error)
	Put(ctx context.Context, documentHash string, result Result) error
}

// RedisCache is a Cache backed by Redis, with an atomic hit-count increment
// on every hit (mirroring pkg/rag's semantic cache).
type RedisCache struct {
	client *redis.Client
}

// NewRedisCache wraps an already-configured *redis.Client.
func NewRedisCache(client *redis.Client) *RedisCache { return &RedisCache{client: client} }

func cacheKey(documentHash string) string { return "ocr:cache:" + documentHash }

func (c *RedisCache) Get(ctx context.Context, documentHash string) (*CacheEntry, bool, error) {
	raw, err := c.client.Get(ctx, cacheKey(documentHash)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("ocr: cache get: %w", err)
	}
	var entry CacheEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		return nil, false, fmt.Errorf("ocr: cache decode: %w", err)
	}

	hits, err := c.client.HIncrBy(ctx, cacheKey(documentHash)+":hits", "count", 1).Result()
	if err != nil {
		return nil, false, fmt.Errorf("ocr: cache hit-count increment: %w", err)
	}
	entry.HitCount = hits
	entry.LastAccessedAt = time.Now().UTC()
	return &entry, true, nil
}

func (c *RedisCache) Put(ctx context.Context, documentHash string, result Result) error {
	entry := CacheEntry{Result: result, LastAccessedAt: time.Now().UTC()}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("ocr: cache encode: %w", err)
	}
	return c.client.Set(ctx, cacheKey(documentHash), data, 0).Err()
}

// MemoryCache is an in-process Cache for tests and local development.
type MemoryCache struct {
	mu      sync.Mutex
	entries map[string]*CacheEntry
}

// NewMemoryCache returns an empty MemoryCache.
func NewMemoryCache() *MemoryCache {
	return &MemoryCache{entries: make(map[string]*CacheEntry)}
}

func (c *MemoryCache) Get(_ context.Context, documentHash string) (*CacheEntry, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[documentHash]
	if !ok {
		return nil, false, nil
	}
	e.HitCount++
	e.LastAccessedAt = time.Now().UTC()
	cp := *e
	return &cp, true, nil
}

func (c *MemoryCache) Put(_ context.Context, documentHash string, result Result) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[documentHash] = &CacheEntry{Result: result, LastAccessedAt: time.Now().UTC()}
	return nil
}
