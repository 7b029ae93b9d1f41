package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/pkg/models"
)

func testReranker() *FusionReranker {
	return NewFusionReranker(config.FusionConfig{DiversityStep: 0.1, DiversityCap: 0.5})
}

func cfCandidate(id string, score float64) *NormalizedCandidate {
	c := &NormalizedCandidate{ItemID: id}
	c.Scores[models.SourceCF] = score
	c.Seen[models.SourceCF] = true
	return c
}

func TestFusedScore(t *testing.T) {
	w := models.DefaultWeights()

	c := &NormalizedCandidate{ItemID: "i"}
	c.Scores = [3]float64{1, 0.5, 0.2}
	c.Seen = [3]bool{true, true, true}

	tests := []struct {
		name     string
		item     models.Item
		known    bool
		avgPrice float64
		expected float64
	}{
		{
			name:     "no history has no price penalty",
			item:     models.Item{Price: 500},
			known:    true,
			avgPrice: 0,
			expected: 0.4 + 0.15 + 0.06 + 0.05*0.8,
		},
		{
			name:     "price gap is capped at one",
			item:     models.Item{Price: 500},
			known:    true,
			avgPrice: 100,
			expected: 0.4 + 0.15 + 0.06 + 0.04 - 0.1,
		},
		{
			name:     "partial price gap",
			item:     models.Item{Price: 150},
			known:    true,
			avgPrice: 100,
			expected: 0.65 - 0.1*0.5,
		},
		{
			name:     "unknown item",
			known:    false,
			avgPrice: 100,
			expected: 0.65,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.expected, FusedScore(c, tt.item, tt.known, w, tt.avgPrice), 1e-9)
		})
	}
}

func TestRerank_DiversityPenaltyIsMonotonic(t *testing.T) {
	candidates := map[string]*NormalizedCandidate{}
	items := map[string]models.Item{}
	for i, id := range []string{"s1", "s2", "s3", "s4", "s5", "s6", "s7", "s8"} {
		candidates[id] = cfCandidate(id, 1-float64(i)*0.01)
		items[id] = models.Item{ID: id, Category: "shoes"}
	}

	recs := testReranker().Rerank(FusionInput{
		Candidates: candidates,
		Items:      items,
		Weights:    models.Weights{CF: 1},
		K:          8,
	})
	require.Len(t, recs, 8)

	prev := -1.0
	for i, rec := range recs {
		assert.Equal(t, i+1, rec.Rank)
		assert.GreaterOrEqual(t, rec.DiversityPenalty, prev)
		assert.LessOrEqual(t, rec.DiversityPenalty, 0.5)
		assert.InDelta(t, rec.FusedScore-rec.DiversityPenalty, rec.FinalScore, 1e-12)
		prev = rec.DiversityPenalty
	}
	assert.InDelta(t, 0.5, recs[7].DiversityPenalty, 1e-12)
}

func TestRerank_DiversityPromotesOtherCategories(t *testing.T) {
	candidates := map[string]*NormalizedCandidate{
		"shoe-1": cfCandidate("shoe-1", 1.0),
		"shoe-2": cfCandidate("shoe-2", 0.95),
		"hat-1":  cfCandidate("hat-1", 0.9),
	}
	items := map[string]models.Item{
		"shoe-1": {Category: "shoes"},
		"shoe-2": {Category: "shoes"},
		"hat-1":  {Category: "hats"},
	}

	recs := testReranker().Rerank(FusionInput{Candidates: candidates, Items: items, Weights: models.Weights{CF: 1}, K: 3})
	require.Len(t, recs, 3)
	assert.Equal(t, "shoe-1", recs[0].ItemID)
	assert.Equal(t, "hat-1", recs[1].ItemID)
	assert.Equal(t, "shoe-2", recs[2].ItemID)
	assert.InDelta(t, 0.85, recs[2].FinalScore, 1e-12)
}

func TestRerank_TiesBreakByItemID(t *testing.T) {
	candidates := map[string]*NormalizedCandidate{
		"b": cfCandidate("b", 0.5),
		"a": cfCandidate("a", 0.5),
		"c": cfCandidate("c", 0.5),
	}
	items := map[string]models.Item{
		"a": {Category: "x"}, "b": {Category: "y"}, "c": {Category: "z"},
	}

	recs := testReranker().Rerank(FusionInput{Candidates: candidates, Items: items, Weights: models.Weights{CF: 1}, K: 3})
	require.Len(t, recs, 3)
	assert.Equal(t, "a", recs[0].ItemID)
	assert.Equal(t, "b", recs[1].ItemID)
	assert.Equal(t, "c", recs[2].ItemID)
}

func TestRerank_UnknownCategoryAndSources(t *testing.T) {
	c := &NormalizedCandidate{ItemID: "n"}
	c.Scores[models.SourceContent] = 0.7
	c.Seen = [3]bool{false, true, true}

	recs := testReranker().Rerank(FusionInput{
		Candidates: map[string]*NormalizedCandidate{"n": c},
		Items:      map[string]models.Item{},
		Weights:    models.DefaultWeights(),
		K:          5,
	})
	require.Len(t, recs, 1)
	assert.Equal(t, models.UnknownAttribute, recs[0].Category)
	assert.Equal(t, []models.CandidateSource{models.SourceContent}, recs[0].ContributingSources)
	assert.Equal(t, map[models.CandidateSource]float64{
		models.SourceContent:    0.7,
		models.SourcePopularity: 0,
	}, recs[0].NormalizedScores)
}

func TestRerank_EmptyAndZeroK(t *testing.T) {
	r := testReranker()
	assert.Empty(t, r.Rerank(FusionInput{K: 5}))
	assert.Empty(t, r.Rerank(FusionInput{
		Candidates: map[string]*NormalizedCandidate{"a": cfCandidate("a", 1)},
		K:          0,
	}))
}
