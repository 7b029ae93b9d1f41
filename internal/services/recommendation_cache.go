package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/redis/go-redis/v9"

	"github.com/temcen/fusionrec/pkg/models"
)

// RecommendationCache stores finished results. Get returns ErrCacheMiss for
// absent or expired entries.
type RecommendationCache interface {
	Get(ctx context.Context, key string) (*models.RecommendationResult, error)
	Set(ctx context.Context, key string, result *models.RecommendationResult) error
}

// CacheKey builds recs:{version}:{mode}:{user}:{k}:{weights-hash}.
func CacheKey(version string, mode models.RecommendationMode, userID string, k int, w models.Weights) string {
	return fmt.Sprintf("recs:%s:%s:%s:%d:%s", version, mode, userID, k, weightsHash(w))
}

func weightsHash(w models.Weights) string {
	h := xxhash.New()
	for _, v := range []float64{w.CF, w.Content, w.Popularity, w.Novelty, w.PriceGap} {
		_, _ = h.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
		_, _ = h.WriteString("|")
	}
	return strconv.FormatUint(h.Sum64(), 16)
}

// RedisRecommendationCache keeps JSON-encoded results with a TTL.
type RedisRecommendationCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRecommendationCache(client *redis.Client, ttl time.Duration) *RedisRecommendationCache {
	return &RedisRecommendationCache{client: client, ttl: ttl}
}

func (c *RedisRecommendationCache) Get(ctx context.Context, key string) (*models.RecommendationResult, error) {
	data, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("cache read failed: %w", err)
	}

	var result models.RecommendationResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached result: %w", err)
	}
	return &result, nil
}

func (c *RedisRecommendationCache) Set(ctx context.Context, key string, result *models.RecommendationResult) error {
	data, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode result: %w", err)
	}
	return c.client.Set(ctx, key, data, c.ttl).Err()
}

type memoryCacheEntry struct {
	result    models.RecommendationResult
	expiresAt time.Time
}

// MemoryRecommendationCache is the in-process backend.
type MemoryRecommendationCache struct {
	mu      sync.Mutex
	entries map[string]memoryCacheEntry
	ttl     time.Duration
	now     func() time.Time
}

func NewMemoryRecommendationCache(ttl time.Duration) *MemoryRecommendationCache {
	return &MemoryRecommendationCache{
		entries: make(map[string]memoryCacheEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (c *MemoryRecommendationCache) Get(_ context.Context, key string) (*models.RecommendationResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		return nil, ErrCacheMiss
	}
	if !c.now().Before(entry.expiresAt) {
		delete(c.entries, key)
		return nil, ErrCacheMiss
	}
	result := entry.result
	return &result, nil
}

func (c *MemoryRecommendationCache) Set(_ context.Context, key string, result *models.RecommendationResult) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries[key] = memoryCacheEntry{result: *result, expiresAt: c.now().Add(c.ttl)}
	return nil
}
