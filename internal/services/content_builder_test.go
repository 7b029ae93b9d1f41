package services

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/pkg/models"
)

func contentCatalog() []models.Item {
	return []models.Item{
		{ID: "i3", Category: "home", Brand: "Acme", Price: 30, Tags: []string{"kitchen"}, Active: true},
		{ID: "i1", Category: "shoes", Brand: "Nike", Price: 100, Tags: []string{"<b>Running</b> Shoes", "sport"}, Active: true},
		{ID: "i2", Category: "Shoes ", Brand: "nike", Price: 120, Tags: []string{"running", "trail"}, Active: true},
	}
}

func TestTokenizeTags(t *testing.T) {
	assert.Equal(t, []string{"running", "shoes", "sport"}, tokenizeTags([]string{"<b>Running</b> Shoes", "sport"}))
	assert.Equal(t, []string{"rock", "roll"}, tokenizeTags([]string{"Rock &amp; Roll 2024"}))
	assert.Empty(t, tokenizeTags([]string{"a", "1"}))
}

func TestExtractContentFeatures(t *testing.T) {
	f := ExtractContentFeatures(contentCatalog(), testConfig().Content)

	assert.Equal(t, []string{"i1", "i2", "i3"}, f.ItemIDs)
	// Only "running" appears in at least two documents.
	assert.Equal(t, []string{"running"}, f.Vocabulary)
	assert.Equal(t, []float64{1}, f.Tags[0])
	assert.Equal(t, []float64{1}, f.Tags[1])
	assert.Equal(t, []float64{0}, f.Tags[2])

	assert.Equal(t, f.Categorical[0], f.Categorical[1])
	assert.Equal(t, "nike", f.Categorical[0][0])
	assert.Equal(t, models.UnknownAttribute, f.Categorical[2][2])

	// price, popularity, rating, tag count after min-max scaling
	assert.InDelta(t, 70.0/90.0, f.Numeric[0][0], 1e-12)
	assert.Equal(t, []float64{1, 0, 0, 1}, f.Numeric[1])
	assert.Equal(t, []float64{0, 0, 0, 0}, f.Numeric[2])
}

func TestBuildVocabulary_MaxFeatures(t *testing.T) {
	docs := [][]string{
		{"red", "blue"},
		{"red", "blue", "green"},
		{"red", "green"},
		{"red", "blue", "green"},
		{"yellow"},
	}
	cfg := testConfig().Content
	cfg.MaxDF = 1.0
	cfg.MaxFeatures = 2

	assert.Equal(t, []string{"blue", "red"}, buildVocabulary(docs, cfg))

	cfg.MaxDF = 0.7
	cfg.MaxFeatures = 0
	// red appears in 4 of 5 documents, above 0.7.
	assert.Equal(t, []string{"blue", "green"}, buildVocabulary(docs, cfg))
}

func TestComputeContentNeighbors(t *testing.T) {
	cfg := testConfig().Content
	neighbors, err := ComputeContentNeighbors(context.Background(), ExtractContentFeatures(contentCatalog(), cfg), cfg)
	require.NoError(t, err)

	require.NotEmpty(t, neighbors["i1"])
	top := neighbors["i1"][0]
	assert.Equal(t, "i2", top.ItemID)
	assert.InDelta(t, 1.0, top.Breakdown.Tags, 1e-12)
	assert.InDelta(t, 1.0, top.Breakdown.Categorical, 1e-12)
	assert.Greater(t, top.Breakdown.Numeric, 0.99)

	require.Len(t, neighbors["i3"], 2)
	assert.Equal(t, "i1", neighbors["i3"][0].ItemID)
	assert.Equal(t, "i2", neighbors["i3"][1].ItemID)
	assert.InDelta(t, 0.3*5.0/7.0, neighbors["i3"][0].Score, 1e-12)

	for _, row := range neighbors {
		for _, n := range row {
			assert.GreaterOrEqual(t, n.Score, 0.0)
			assert.LessOrEqual(t, n.Score, 1.0+1e-12)
		}
	}
}

func TestComputeContentNeighbors_MinSimilarity(t *testing.T) {
	cfg := testConfig().Content
	cfg.MinSimilarity = 0.5
	neighbors, err := ComputeContentNeighbors(context.Background(), ExtractContentFeatures(contentCatalog(), cfg), cfg)
	require.NoError(t, err)

	assert.NotContains(t, neighbors, "i3")
	assert.Len(t, neighbors["i1"], 1)
}

func TestContentSimilarityBuilder_Build(t *testing.T) {
	items := contentCatalog()
	items = append(items, models.Item{ID: "retired", Category: "shoes", Brand: "nike", Tags: []string{"running"}})
	catalog := NewMemoryCatalog(items, nil)
	store := index.NewMemoryStore(1)

	builder := NewContentSimilarityBuilder(catalog, store, testConfig().Content, testLogger())
	builder.now = func() time.Time { return testNow }

	result, err := builder.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.IndexKindContent, result.Kind)
	assert.Equal(t, uint64(1), result.GenerationID)
	assert.Equal(t, 3, result.Items)

	row, err := store.GetContentNeighbors(context.Background(), "i1", 1)
	require.NoError(t, err)
	require.Len(t, row, 1)
	assert.Equal(t, "i2", row[0].ItemID)

	row, err = store.GetContentNeighbors(context.Background(), "retired", 10)
	require.NoError(t, err)
	assert.Empty(t, row)
}
