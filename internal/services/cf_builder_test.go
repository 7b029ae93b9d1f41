package services

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/pkg/models"
)

// coPurchaseLog: u1..u6 buy X and Y, u1..u5 also buy Z, u7 buys only X and
// u1..u4 buy W. u1 buys X twice.
func coPurchaseLog() []models.InteractionEvent {
	var events []models.InteractionEvent
	for i := 1; i <= 7; i++ {
		user := fmt.Sprintf("u%d", i)
		events = append(events, purchase(user, "X", daysAgo(10)))
		if i <= 6 {
			events = append(events, purchase(user, "Y", daysAgo(9)))
		}
		if i <= 5 {
			events = append(events, purchase(user, "Z", daysAgo(8)))
		}
		if i <= 4 {
			events = append(events, purchase(user, "W", daysAgo(7)))
		}
	}
	return append(events, purchase("u1", "X", daysAgo(3)))
}

func TestComputeCFNeighbors(t *testing.T) {
	cfg := testConfig().CF

	neighbors, quality, err := ComputeCFNeighbors(context.Background(), coPurchaseLog(), cfg)
	require.NoError(t, err)

	require.Len(t, neighbors["X"], 2)
	assert.Equal(t, "Y", neighbors["X"][0].ItemID)
	assert.Equal(t, 6, neighbors["X"][0].CoUsers)
	assert.InDelta(t, 6/math.Sqrt(42), neighbors["X"][0].Score, 1e-12)
	assert.Equal(t, "Z", neighbors["X"][1].ItemID)
	assert.InDelta(t, 5/math.Sqrt(35), neighbors["X"][1].Score, 1e-12)

	require.Len(t, neighbors["Z"], 2)
	assert.Equal(t, "Y", neighbors["Z"][0].ItemID)
	assert.InDelta(t, 5/math.Sqrt(30), neighbors["Z"][0].Score, 1e-12)

	// W has only four purchasers.
	assert.NotContains(t, neighbors, "W")
	for _, row := range neighbors {
		for _, n := range row {
			assert.NotEqual(t, "W", n.ItemID)
			assert.GreaterOrEqual(t, n.Score, 0.0)
			assert.LessOrEqual(t, n.Score, 1.0)
		}
	}

	assert.Equal(t, 4, quality.CatalogItems)
	assert.Equal(t, 3, quality.ItemsWithEdges)
	assert.Equal(t, 6, quality.Pairs)
	assert.Equal(t, 5, quality.MinCoUsers)
	assert.Equal(t, 6, quality.MaxCoUsers)
	assert.InDelta(t, 75.0, quality.CoveragePercent, 1e-9)
}

func TestComputeCFNeighbors_Thresholds(t *testing.T) {
	cfg := testConfig().CF
	cfg.MinCoUsers = 6

	neighbors, _, err := ComputeCFNeighbors(context.Background(), coPurchaseLog(), cfg)
	require.NoError(t, err)
	assert.Equal(t, []models.CFNeighbor{{ItemID: "Y", Score: 6 / math.Sqrt(42), CoUsers: 6}}, neighbors["X"])
	assert.NotContains(t, neighbors, "Z")

	cfg = testConfig().CF
	cfg.TopK = 1
	neighbors, _, err = ComputeCFNeighbors(context.Background(), coPurchaseLog(), cfg)
	require.NoError(t, err)
	for _, row := range neighbors {
		assert.Len(t, row, 1)
	}
}

func TestComputeCFNeighbors_IndependentOfWorkers(t *testing.T) {
	cfg := testConfig().CF
	cfg.Workers = 1
	serial, _, err := ComputeCFNeighbors(context.Background(), coPurchaseLog(), cfg)
	require.NoError(t, err)

	cfg.Workers = 8
	parallel, _, err := ComputeCFNeighbors(context.Background(), coPurchaseLog(), cfg)
	require.NoError(t, err)

	assert.Equal(t, serial, parallel)
}

func TestComputeCFNeighbors_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := ComputeCFNeighbors(ctx, coPurchaseLog(), testConfig().CF)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestCFSimilarityBuilder_BuildPublishesGeneration(t *testing.T) {
	events := coPurchaseLog()
	// Purchases outside the window are ignored.
	for i := 1; i <= 6; i++ {
		events = append(events,
			purchase(fmt.Sprintf("old%d", i), "X", daysAgo(200)),
			purchase(fmt.Sprintf("old%d", i), "V", daysAgo(200)),
		)
	}
	catalog := NewMemoryCatalog(nil, events)
	store := index.NewMemoryStore(2)

	builder := NewCFSimilarityBuilder(catalog, store, testConfig().CF, testLogger())
	builder.now = func() time.Time { return testNow }

	result, err := builder.Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, models.IndexKindCF, result.Kind)
	assert.Equal(t, uint64(1), result.GenerationID)
	assert.Equal(t, 6, result.Rows)
	assert.Equal(t, 3, result.Items)

	generations, err := store.ActiveGenerations(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), generations[models.IndexKindCF])

	row, err := store.GetCFNeighbors(context.Background(), "X", 10)
	require.NoError(t, err)
	require.Len(t, row, 2)
	assert.Equal(t, 6, row[0].CoUsers)

	row, err = store.GetCFNeighbors(context.Background(), "V", 10)
	require.NoError(t, err)
	assert.Empty(t, row)
}
