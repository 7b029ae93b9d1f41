package services

import (
	"context"
	"fmt"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/fusionrec/pkg/models"
)

func evaluationCatalog() *MemoryCatalog {
	items := []models.Item{
		{ID: "X", Category: "shoes", Price: 50, Active: true},
		{ID: "Y", Category: "shoes", Price: 55, Active: true},
		{ID: "Q", Category: "hats", Price: 20, Active: true},
		{ID: "P", Category: "toys", Price: 15, Active: true},
	}

	var events []models.InteractionEvent
	for i := 1; i <= 6; i++ {
		user := fmt.Sprintf("u%d", i)
		events = append(events, purchase(user, "X", daysAgo(10)), purchase(user, "Y", daysAgo(9)))
	}
	for i := 1; i <= 10; i++ {
		events = append(events, purchase(fmt.Sprintf("p%d", i), "P", daysAgo(5)))
	}
	events = append(events,
		purchase("t", "X", daysAgo(4)),
		purchase("t", "Q", daysAgo(3)),
		// After the cutoff: t discovers Y, u1 rebuys X.
		purchase("t", "Y", testNow.Add(24*time.Hour)),
		purchase("u1", "X", testNow.Add(48*time.Hour)),
	)
	return NewMemoryCatalog(items, events)
}

func TestEvaluator_Evaluate(t *testing.T) {
	catalog := evaluationCatalog()
	ev := NewEvaluator(catalog, catalog, testConfig(), testLogger())

	report, err := ev.Evaluate(context.Background(), models.EvaluationConfig{Cutoff: testNow, K: 3})
	require.NoError(t, err)

	assert.Equal(t, 3, report.K)
	assert.Equal(t, 4, report.CatalogItems)
	assert.Equal(t, 1, report.Hybrid.Users)
	assert.Equal(t, 1, report.Hybrid.Hits)
	assert.InDelta(t, 1.0, report.Hybrid.HitRate, 1e-9)
	assert.Equal(t, 1, report.Popularity.Users)

	for _, set := range []models.MetricSet{report.Hybrid, report.Popularity} {
		assert.GreaterOrEqual(t, set.NDCG, 0.0)
		assert.LessOrEqual(t, set.NDCG, 1.0)
		assert.GreaterOrEqual(t, set.Coverage, 0.0)
		assert.LessOrEqual(t, set.Coverage, 1.0)
	}
}

func TestEvaluator_RejectsInvalidRequests(t *testing.T) {
	catalog := evaluationCatalog()
	ev := NewEvaluator(catalog, catalog, testConfig(), testLogger())

	_, err := ev.Evaluate(context.Background(), models.EvaluationConfig{Cutoff: testNow})
	assert.True(t, IsValidationError(err))

	_, err = ev.Evaluate(context.Background(), models.EvaluationConfig{K: 5})
	assert.True(t, IsValidationError(err))
}

func TestHoldoutPurchases(t *testing.T) {
	catalog := evaluationCatalog()
	train := catalog.Before(testNow)
	events, err := catalog.GetInteractionsSince(context.Background(), time.Time{})
	require.NoError(t, err)

	holdout := holdoutPurchases(events, testNow, train)
	assert.Equal(t, map[string]map[string]struct{}{"t": {"Y": {}}}, holdout)
}

func TestMetricAccumulator(t *testing.T) {
	var m metricAccumulator
	m.add([]string{"a", "b", "c"}, map[string]struct{}{"b": {}, "d": {}}, 3)
	m.add([]string{"e"}, map[string]struct{}{"z": {}}, 3)

	set := m.result(10)
	assert.Equal(t, 2, set.Users)
	assert.Equal(t, 1, set.Hits)
	assert.InDelta(t, 0.5, set.HitRate, 1e-12)

	idcg := 1 + 1/math.Log2(3)
	assert.InDelta(t, (1/math.Log2(3))/idcg/2, set.NDCG, 1e-12)
	assert.InDelta(t, 0.4, set.Coverage, 1e-12)
}

func TestLift(t *testing.T) {
	assert.InDelta(t, 0.5, lift(0.3, 0.2), 1e-12)
	assert.Zero(t, lift(0.3, 0))
}
