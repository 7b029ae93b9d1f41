package services

import (
	"math"
	"sort"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/pkg/models"
)

// FusionInput is everything the reranker needs for one request.
type FusionInput struct {
	Candidates map[string]*NormalizedCandidate
	Items      map[string]models.Item
	Weights    models.Weights
	// AvgPurchasePrice is 0 when the user has no history.
	AvgPurchasePrice float64
	K                int
}

// FusionReranker blends normalized scores and selects a category-diverse
// top-k.
type FusionReranker struct {
	diversityStep float64
	diversityCap  float64
}

func NewFusionReranker(cfg config.FusionConfig) *FusionReranker {
	return &FusionReranker{
		diversityStep: cfg.DiversityStep,
		diversityCap:  cfg.DiversityCap,
	}
}

type scoredCandidate struct {
	candidate *NormalizedCandidate
	category  string
	fused     float64
}

// FusedScore computes the blended relevance of one candidate before any
// diversity adjustment.
func FusedScore(c *NormalizedCandidate, item models.Item, known bool, w models.Weights, avgPrice float64) float64 {
	pop := c.Score(models.SourcePopularity)
	fused := w.CF*c.Score(models.SourceCF) +
		w.Content*c.Score(models.SourceContent) +
		w.Popularity*pop +
		w.Novelty*(1-pop)

	if known && avgPrice > 0 && item.Price > 0 {
		fused -= w.PriceGap * math.Min(math.Abs(item.Price-avgPrice)/avgPrice, 1.0)
	}
	return fused
}

// Rerank returns at most in.K recommendations. Each step selects the
// candidate with the highest fused score minus the current penalty for its
// category; ties go to the earlier item in fused-desc, id-asc order.
func (r *FusionReranker) Rerank(in FusionInput) []models.RankedRecommendation {
	if in.K <= 0 || len(in.Candidates) == 0 {
		return []models.RankedRecommendation{}
	}

	pool := make([]scoredCandidate, 0, len(in.Candidates))
	for id, c := range in.Candidates {
		item, known := in.Items[id]
		category := item.Category
		if category == "" {
			category = models.UnknownAttribute
		}
		pool = append(pool, scoredCandidate{
			candidate: c,
			category:  category,
			fused:     FusedScore(c, item, known, in.Weights, in.AvgPurchasePrice),
		})
	}
	sort.Slice(pool, func(i, j int) bool {
		if pool[i].fused != pool[j].fused {
			return pool[i].fused > pool[j].fused
		}
		return pool[i].candidate.ItemID < pool[j].candidate.ItemID
	})

	selectedInCategory := make(map[string]int)
	out := make([]models.RankedRecommendation, 0, min(in.K, len(pool)))
	for len(out) < in.K && len(pool) > 0 {
		best := 0
		bestScore := math.Inf(-1)
		for i, sc := range pool {
			effective := sc.fused - r.penalty(selectedInCategory[sc.category])
			if effective > bestScore {
				best, bestScore = i, effective
			}
		}

		chosen := pool[best]
		penalty := r.penalty(selectedInCategory[chosen.category])
		pool = append(pool[:best], pool[best+1:]...)

		out = append(out, models.RankedRecommendation{
			ItemID:              chosen.candidate.ItemID,
			FinalScore:          bestScore,
			ContributingSources: contributingSources(chosen.candidate),
			Category:            chosen.category,
			Rank:                len(out) + 1,
			FusedScore:          chosen.fused,
			DiversityPenalty:    penalty,
			NormalizedScores:    normalizedScores(chosen.candidate),
		})
		selectedInCategory[chosen.category]++
	}
	return out
}

func (r *FusionReranker) penalty(selected int) float64 {
	return math.Min(r.diversityStep*float64(selected), r.diversityCap)
}

func contributingSources(c *NormalizedCandidate) []models.CandidateSource {
	sources := make([]models.CandidateSource, 0, len(models.AllSources))
	for _, s := range models.AllSources {
		if c.Score(s) > 0 {
			sources = append(sources, s)
		}
	}
	return sources
}

func normalizedScores(c *NormalizedCandidate) map[models.CandidateSource]float64 {
	out := make(map[models.CandidateSource]float64, len(models.AllSources))
	for _, s := range models.AllSources {
		if c.Seen[s] {
			out[s] = c.Score(s)
		}
	}
	return out
}
