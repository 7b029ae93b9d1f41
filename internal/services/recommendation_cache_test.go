package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/fusionrec/pkg/models"
)

func TestCacheKey(t *testing.T) {
	w := models.DefaultWeights()
	key := CacheKey("hybrid-v1.cf1.cb2.pop3", models.ModeHybrid, "u1", 10, w)

	assert.Regexp(t, `^recs:hybrid-v1\.cf1\.cb2\.pop3:hybrid:u1:10:[0-9a-f]+$`, key)
	assert.Equal(t, key, CacheKey("hybrid-v1.cf1.cb2.pop3", models.ModeHybrid, "u1", 10, w))

	other := w
	other.CF = 0.5
	assert.NotEqual(t, key, CacheKey("hybrid-v1.cf1.cb2.pop3", models.ModeHybrid, "u1", 10, other))
	assert.NotEqual(t, key, CacheKey("hybrid-v1.cf2.cb2.pop3", models.ModeHybrid, "u1", 10, w))
	assert.NotEqual(t, key, CacheKey("hybrid-v1.cf1.cb2.pop3", models.ModeCF, "u1", 10, w))
}

func TestMemoryRecommendationCache_Expiry(t *testing.T) {
	cache := NewMemoryRecommendationCache(15 * time.Minute)
	now := testNow
	cache.now = func() time.Time { return now }
	ctx := context.Background()

	_, err := cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, cache.Set(ctx, "k", &models.RecommendationResult{UserID: "u1", K: 3}))

	got, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "u1", got.UserID)

	// Returned results are copies.
	got.UserID = "mutated"
	again, err := cache.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "u1", again.UserID)

	now = now.Add(15 * time.Minute)
	_, err = cache.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrCacheMiss)
}

func TestRedisRecommendationCache_UnreachableServer(t *testing.T) {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 50 * time.Millisecond,
		MaxRetries:  -1,
	})
	defer client.Close()

	cache := NewRedisRecommendationCache(client, time.Minute)
	ctx := context.Background()

	_, err := cache.Get(ctx, "k")
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrCacheMiss))

	assert.Error(t, cache.Set(ctx, "k", &models.RecommendationResult{UserID: "u1"}))
}
