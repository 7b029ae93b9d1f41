package index

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/fusionrec/pkg/models"
)

var testTime = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func unreachableRedis() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 100 * time.Millisecond,
	})
}

func newTestRedisStore(t *testing.T, retain int) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisStore(client, "", retain, testLogger()), mr
}

func TestRedisStore_Keys(t *testing.T) {
	store := NewRedisStore(nil, "", 0, testLogger())

	assert.Equal(t, "fusionrec:cf:active", store.activeKey(models.IndexKindCF))
	assert.Equal(t, "fusionrec:content:gen:7", store.dataKey(models.IndexKindContent, 7))
	assert.Equal(t, "fusionrec:popularity:gen:3:meta", store.metaKey(models.IndexKindPopularity, 3))
	assert.Equal(t, "fusionrec:popularity:gen:3:category", store.categoryKey(3))
	assert.Equal(t, "fusionrec:cf:generations", store.historyKey(models.IndexKindCF))
	assert.Equal(t, 1, store.retain)
}

func TestRedisStore_UnreachableServerReturnsErrors(t *testing.T) {
	client := unreachableRedis()
	defer client.Close()
	store := NewRedisStore(client, "test", 2, testLogger())
	ctx := context.Background()

	_, err := store.GetCFNeighbors(ctx, "A", 10)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNoGeneration)

	_, err = store.GetTopPopular(ctx, 5)
	require.Error(t, err)

	_, err = store.NextGenerationID(ctx, models.IndexKindCF)
	require.Error(t, err)
}

func TestRedisStore_RejectsUnknownKind(t *testing.T) {
	store := NewRedisStore(nil, "test", 1, testLogger())
	_, err := store.NextGenerationID(context.Background(), models.IndexKind("graph"))
	assert.Error(t, err)
}

func TestMetaStatsRoundTrip(t *testing.T) {
	gen := &CFGeneration{
		ID:      4,
		BuiltAt: testTime,
		Neighbors: map[string][]models.CFNeighbor{
			"A": {{ItemID: "B", Score: 0.5, CoUsers: 6}, {ItemID: "C", Score: 0.3, CoUsers: 10}},
		},
	}

	meta := statsMeta(gen.Stats())
	raw := make(map[string]string, len(meta))
	for k, v := range meta {
		raw[k] = toString(v)
	}

	stats := metaStats(models.IndexKindCF, 4, raw)
	assert.Equal(t, 1, stats.Items)
	assert.Equal(t, 2, stats.Edges)
	assert.InDelta(t, 0.4, stats.AvgScore, 1e-9)
	assert.InDelta(t, 8.0, stats.AvgCoUsers, 1e-9)
	assert.True(t, stats.BuiltAt.Equal(testTime))
}

func toString(v interface{}) string {
	switch val := v.(type) {
	case string:
		return val
	case int:
		return strconv.Itoa(val)
	case float64:
		return strconv.FormatFloat(val, 'g', -1, 64)
	}
	return ""
}

func TestRedisStore_NoGeneration(t *testing.T) {
	store, _ := newTestRedisStore(t, 2)
	ctx := context.Background()

	_, err := store.GetCFNeighbors(ctx, "A", 10)
	assert.ErrorIs(t, err, ErrNoGeneration)

	_, err = store.GetContentNeighbors(ctx, "A", 10)
	assert.ErrorIs(t, err, ErrNoGeneration)

	_, err = store.GetTopPopular(ctx, 5)
	assert.ErrorIs(t, err, ErrNoGeneration)

	_, err = store.GetPopularity(ctx, "A")
	assert.ErrorIs(t, err, ErrNoGeneration)

	active, err := store.ActiveGenerations(ctx)
	require.NoError(t, err)
	assert.Empty(t, active)
}

func TestRedisStore_PublishAndSwap(t *testing.T) {
	store, _ := newTestRedisStore(t, 2)
	ctx := context.Background()

	id, err := store.NextGenerationID(ctx, models.IndexKindCF)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), id)

	require.NoError(t, store.PublishCF(ctx, &CFGeneration{
		ID:      id,
		BuiltAt: testTime,
		Neighbors: map[string][]models.CFNeighbor{
			"A": {{ItemID: "B", Score: 0.9, CoUsers: 7}, {ItemID: "C", Score: 0.5, CoUsers: 5}},
		},
		Quality: &models.CFQualityReport{CatalogItems: 3, ItemsWithEdges: 1, Pairs: 2},
	}))

	neighbors, err := store.GetCFNeighbors(ctx, "A", 1)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, models.CFNeighbor{ItemID: "B", Score: 0.9, CoUsers: 7}, neighbors[0])

	neighbors, err = store.GetCFNeighbors(ctx, "missing", 10)
	require.NoError(t, err)
	assert.Empty(t, neighbors)

	id2, err := store.NextGenerationID(ctx, models.IndexKindCF)
	require.NoError(t, err)
	require.NoError(t, store.PublishCF(ctx, &CFGeneration{
		ID:        id2,
		BuiltAt:   testTime,
		Neighbors: map[string][]models.CFNeighbor{"A": {{ItemID: "D", Score: 0.7, CoUsers: 6}}},
	}))

	neighbors, err = store.GetCFNeighbors(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "D", neighbors[0].ItemID)

	active, err := store.ActiveGenerations(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.IndexKind]uint64{models.IndexKindCF: 2}, active)

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	require.NotNil(t, stats.CF)
	assert.Equal(t, uint64(2), stats.CF.GenerationID)
	assert.Equal(t, 1, stats.CF.Edges)
	assert.True(t, stats.CF.BuiltAt.Equal(testTime))
	assert.Equal(t, []uint64{1, 2}, stats.Retained[models.IndexKindCF])
}

func TestRedisStore_RetentionDeletesExpiredGenerations(t *testing.T) {
	store, mr := newTestRedisStore(t, 2)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		id, err := store.NextGenerationID(ctx, models.IndexKindContent)
		require.NoError(t, err)
		require.NoError(t, store.PublishContent(ctx, &ContentGeneration{
			ID:        id,
			BuiltAt:   testTime,
			Neighbors: map[string][]models.ContentNeighbor{"A": {{ItemID: fmt.Sprintf("N%d", id), Score: 0.5}}},
		}))
	}

	for _, gen := range []uint64{1, 2} {
		assert.False(t, mr.Exists(store.dataKey(models.IndexKindContent, gen)), "generation %d data", gen)
		assert.False(t, mr.Exists(store.metaKey(models.IndexKindContent, gen)), "generation %d meta", gen)
	}
	for _, gen := range []uint64{3, 4} {
		assert.True(t, mr.Exists(store.dataKey(models.IndexKindContent, gen)), "generation %d data", gen)
	}

	stats, err := store.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{3, 4}, stats.Retained[models.IndexKindContent])

	neighbors, err := store.GetContentNeighbors(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, neighbors, 1)
	assert.Equal(t, "N4", neighbors[0].ItemID)
}

func TestRedisStore_EmptyGenerationReplacesNeighbors(t *testing.T) {
	store, mr := newTestRedisStore(t, 1)
	ctx := context.Background()

	require.NoError(t, store.PublishCF(ctx, &CFGeneration{
		ID:        1,
		Neighbors: map[string][]models.CFNeighbor{"A": {{ItemID: "B", Score: 0.5, CoUsers: 5}}},
	}))
	require.NoError(t, store.PublishCF(ctx, &CFGeneration{ID: 2, Neighbors: map[string][]models.CFNeighbor{}}))

	neighbors, err := store.GetCFNeighbors(ctx, "A", 10)
	require.NoError(t, err)
	assert.Empty(t, neighbors)
	assert.False(t, mr.Exists(store.dataKey(models.IndexKindCF, 1)))

	active, err := store.ActiveGenerations(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), active[models.IndexKindCF])
}

func TestRedisStore_TopPopularMatchesMemoryOrdering(t *testing.T) {
	scores := []models.PopularityScore{
		{ItemID: "a", Category: "x", Score: 5},
		{ItemID: "b", Category: "x", Score: 5},
		{ItemID: "c", Category: "y", Score: 5},
		{ItemID: "d", Category: "y", Score: 9},
	}
	gen := NewPopularityGeneration(1, testTime, time.Hour, scores)

	store, _ := newTestRedisStore(t, 1)
	ctx := context.Background()
	require.NoError(t, store.PublishPopularity(ctx, gen))

	ids := func(ps []models.PopularityScore) []string {
		out := make([]string, len(ps))
		for i, p := range ps {
			out[i] = p.ItemID
		}
		return out
	}

	tests := []struct {
		name       string
		k          int
		categories []string
		expected   []string
	}{
		{"tied tail resolves by item id", 2, nil, []string{"d", "a"}},
		{"three of four", 3, nil, []string{"d", "a", "b"}},
		{"all", 0, nil, []string{"d", "a", "b", "c"}},
		{"category filter", 2, []string{"y"}, []string{"d", "c"}},
		{"category smaller than k", 5, []string{"x"}, []string{"a", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			top, err := store.GetTopPopular(ctx, tt.k, tt.categories...)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, ids(top))
			assert.Equal(t, ids(gen.Top(tt.k, tt.categories...)), ids(top))
		})
	}

	top, err := store.GetTopPopular(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, "y", top[0].Category)

	score, err := store.GetPopularity(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 5.0, score)

	score, err = store.GetPopularity(ctx, "missing")
	require.NoError(t, err)
	assert.Zero(t, score)
}

func TestRedisStore_TopPopularPagesThroughLargeRankings(t *testing.T) {
	scores := make([]models.PopularityScore, 0, 600)
	for i := 0; i < 600; i++ {
		category := "even"
		if i%2 == 1 {
			category = "odd"
		}
		scores = append(scores, models.PopularityScore{ItemID: fmt.Sprintf("item-%03d", i), Category: category, Score: float64(i)})
	}
	gen := NewPopularityGeneration(1, testTime, time.Hour, scores)

	store, _ := newTestRedisStore(t, 1)
	ctx := context.Background()
	require.NoError(t, store.PublishPopularity(ctx, gen))

	odd, err := store.GetTopPopular(ctx, 200, "odd")
	require.NoError(t, err)
	require.Len(t, odd, 200)
	assert.Equal(t, "item-599", odd[0].ItemID)
	assert.Equal(t, "item-201", odd[199].ItemID)

	all, err := store.GetTopPopular(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, all, 600)
	assert.Equal(t, gen.Top(0)[599].ItemID, all[599].ItemID)
}

func TestRedisStore_SnapshotKeepsPinnedGenerations(t *testing.T) {
	store, _ := newTestRedisStore(t, 2)
	ctx := context.Background()

	require.NoError(t, store.PublishCF(ctx, &CFGeneration{
		ID:        1,
		Neighbors: map[string][]models.CFNeighbor{"A": {{ItemID: "B", Score: 0.5, CoUsers: 5}}},
	}))

	snapshot, err := store.Snapshot(ctx)
	require.NoError(t, err)

	require.NoError(t, store.PublishCF(ctx, &CFGeneration{
		ID:        2,
		Neighbors: map[string][]models.CFNeighbor{"A": {{ItemID: "C", Score: 0.7, CoUsers: 6}}},
	}))

	pinned, err := snapshot.GetCFNeighbors(ctx, "A", 10)
	require.NoError(t, err)
	require.Len(t, pinned, 1)
	assert.Equal(t, "B", pinned[0].ItemID)

	_, err = snapshot.GetTopPopular(ctx, 3)
	assert.ErrorIs(t, err, ErrNoGeneration)

	active, err := snapshot.ActiveGenerations(ctx)
	require.NoError(t, err)
	assert.Equal(t, map[models.IndexKind]uint64{models.IndexKindCF: 1}, active)

	live, err := store.GetCFNeighbors(ctx, "A", 10)
	require.NoError(t, err)
	assert.Equal(t, "C", live[0].ItemID)
}
