package services

import (
	"context"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/pkg/models"
)

var testNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Reduce noise in tests
	return logger
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Cache.Enabled = false
	return cfg
}

func daysAgo(d int) time.Time {
	return testNow.Add(-time.Duration(d) * 24 * time.Hour)
}

func purchase(user, item string, at time.Time) models.InteractionEvent {
	return models.InteractionEvent{UserID: user, ItemID: item, Timestamp: at, Quantity: 1, Amount: 10}
}

// scenarioCatalog is the two-anchor catalog used by the end-to-end tests:
// U bought A (shoes, 50) and B (electronics, 300) within the last week.
func scenarioCatalog() *MemoryCatalog {
	items := []models.Item{
		{ID: "A", Category: "shoes", Price: 50, Active: true},
		{ID: "B", Category: "electronics", Price: 300, Active: true},
		{ID: "C", Category: "shoes", Price: 60, Active: true},
		{ID: "D", Category: "electronics", Price: 280, Active: true},
		{ID: "E", Category: "toys", Price: 175, Active: true},
		{ID: "F", Category: "books", Price: 175, Active: true},
	}
	events := []models.InteractionEvent{
		purchase("U", "A", daysAgo(2)),
		purchase("U", "B", daysAgo(5)),
	}
	return NewMemoryCatalog(items, events)
}

// publishScenario publishes CF(A)=[C 0.8], Content(B)=[D 0.6] and the
// popularity ranking E=1000, F=900.
func publishScenario(t *testing.T, store *index.MemoryStore) {
	t.Helper()
	ctx := context.Background()

	cfID, err := store.NextGenerationID(ctx, models.IndexKindCF)
	require.NoError(t, err)
	require.NoError(t, store.PublishCF(ctx, &index.CFGeneration{
		ID:      cfID,
		BuiltAt: testNow,
		Neighbors: map[string][]models.CFNeighbor{
			"A": {{ItemID: "C", Score: 0.8, CoUsers: 10}},
		},
	}))

	cbID, err := store.NextGenerationID(ctx, models.IndexKindContent)
	require.NoError(t, err)
	require.NoError(t, store.PublishContent(ctx, &index.ContentGeneration{
		ID:      cbID,
		BuiltAt: testNow,
		Neighbors: map[string][]models.ContentNeighbor{
			"B": {{ItemID: "D", Score: 0.6, Breakdown: models.ContentBreakdown{Tags: 0.5, Categorical: 0.8, Numeric: 0.5}}},
		},
	}))

	publishPopularity(t, store, []models.PopularityScore{
		{ItemID: "E", Category: "toys", Score: 1000},
		{ItemID: "F", Category: "books", Score: 900},
	})
}

func publishPopularity(t *testing.T, store *index.MemoryStore, scores []models.PopularityScore) {
	t.Helper()
	ctx := context.Background()
	id, err := store.NextGenerationID(ctx, models.IndexKindPopularity)
	require.NoError(t, err)
	require.NoError(t, store.PublishPopularity(ctx, index.NewPopularityGeneration(id, testNow, 720*time.Hour, scores)))
}

func newTestGenerator(interactions InteractionStore, reader index.Reader, cfg *config.Config) *CandidateGenerator {
	g := NewCandidateGenerator(interactions, reader, cfg.Candidates, testLogger())
	g.now = func() time.Time { return testNow }
	return g
}

func newTestEngine(catalog *MemoryCatalog, store *index.MemoryStore, cfg *config.Config, cache RecommendationCache) *RecommendationEngine {
	engine := NewRecommendationEngine(
		newTestGenerator(catalog, store, cfg),
		catalog,
		store,
		store,
		NewFusionReranker(cfg.Fusion),
		cache,
		cfg.Fusion,
		testLogger(),
	)
	engine.now = func() time.Time { return testNow }
	return engine
}
