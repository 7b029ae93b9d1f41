// Package index holds the similarity and popularity indices served to the
// online path. Every rebuild produces a complete, immutable generation that
// replaces the active one in a single swap, so readers observe either the old
// or the new generation and never a partial one.
package index

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/temcen/fusionrec/pkg/models"
)

// ErrNoGeneration is returned by readers before the first generation of an
// index has been published.
var ErrNoGeneration = errors.New("index: no active generation")

// Reader is the read-only view consumed by candidate generation.
type Reader interface {
	GetCFNeighbors(ctx context.Context, itemID string, k int) ([]models.CFNeighbor, error)
	GetContentNeighbors(ctx context.Context, itemID string, k int) ([]models.ContentNeighbor, error)
	GetPopularity(ctx context.Context, itemID string) (float64, error)
	GetTopPopular(ctx context.Context, k int, categories ...string) ([]models.PopularityScore, error)
	ActiveGenerations(ctx context.Context) (map[models.IndexKind]uint64, error)
}

// Snapshotter is implemented by readers that can pin the generations active
// at one instant. The returned Reader keeps serving those generations after
// later swaps.
type Snapshotter interface {
	Snapshot(ctx context.Context) (Reader, error)
}

// Pin returns a reader bound to the currently active generations when r
// supports snapshots, and r itself otherwise.
func Pin(ctx context.Context, r Reader) (Reader, error) {
	if s, ok := r.(Snapshotter); ok {
		return s.Snapshot(ctx)
	}
	return r, nil
}

// Publisher is used by the offline builders.
type Publisher interface {
	NextGenerationID(ctx context.Context, kind models.IndexKind) (uint64, error)
	PublishCF(ctx context.Context, gen *CFGeneration) error
	PublishContent(ctx context.Context, gen *ContentGeneration) error
	PublishPopularity(ctx context.Context, gen *PopularityGeneration) error
}

type Store interface {
	Reader
	Publisher
	Stats(ctx context.Context) (*models.IndexStats, error)
}

type CFGeneration struct {
	ID        uint64
	BuiltAt   time.Time
	Neighbors map[string][]models.CFNeighbor
	Quality   *models.CFQualityReport
}

func (g *CFGeneration) Stats() *models.GenerationStats {
	stats := &models.GenerationStats{
		Kind:         models.IndexKindCF,
		GenerationID: g.ID,
		BuiltAt:      g.BuiltAt,
		Items:        len(g.Neighbors),
	}
	var scoreSum float64
	var coUsers int
	for _, neighbors := range g.Neighbors {
		for _, n := range neighbors {
			stats.Edges++
			scoreSum += n.Score
			coUsers += n.CoUsers
		}
	}
	if stats.Edges > 0 {
		stats.AvgScore = scoreSum / float64(stats.Edges)
		stats.AvgCoUsers = float64(coUsers) / float64(stats.Edges)
	}
	return stats
}

type ContentGeneration struct {
	ID        uint64
	BuiltAt   time.Time
	Neighbors map[string][]models.ContentNeighbor
}

func (g *ContentGeneration) Stats() *models.GenerationStats {
	stats := &models.GenerationStats{
		Kind:         models.IndexKindContent,
		GenerationID: g.ID,
		BuiltAt:      g.BuiltAt,
		Items:        len(g.Neighbors),
	}
	var scoreSum float64
	for _, neighbors := range g.Neighbors {
		for _, n := range neighbors {
			stats.Edges++
			scoreSum += n.Score
		}
	}
	if stats.Edges > 0 {
		stats.AvgScore = scoreSum / float64(stats.Edges)
	}
	return stats
}

// PopularityGeneration is a point-in-time popularity snapshot ranked by score
// descending, then item id ascending.
type PopularityGeneration struct {
	ID      uint64
	BuiltAt time.Time
	Window  time.Duration
	Ranked  []models.PopularityScore

	scores map[string]float64
}

// NewPopularityGeneration ranks the given scores and indexes them by item.
func NewPopularityGeneration(id uint64, builtAt time.Time, window time.Duration, scores []models.PopularityScore) *PopularityGeneration {
	ranked := make([]models.PopularityScore, len(scores))
	copy(ranked, scores)
	SortPopularity(ranked)

	byItem := make(map[string]float64, len(ranked))
	for i := range ranked {
		ranked[i].Window = window
		byItem[ranked[i].ItemID] = ranked[i].Score
	}

	return &PopularityGeneration{
		ID:      id,
		BuiltAt: builtAt,
		Window:  window,
		Ranked:  ranked,
		scores:  byItem,
	}
}

func (g *PopularityGeneration) Score(itemID string) float64 {
	return g.scores[itemID]
}

// Top returns up to k entries, optionally restricted to the given categories.
// A non-positive k returns every matching entry.
func (g *PopularityGeneration) Top(k int, categories ...string) []models.PopularityScore {
	var allowed map[string]struct{}
	if len(categories) > 0 {
		allowed = make(map[string]struct{}, len(categories))
		for _, c := range categories {
			allowed[c] = struct{}{}
		}
	}

	out := make([]models.PopularityScore, 0, min(max(k, 0), len(g.Ranked)))
	for _, p := range g.Ranked {
		if allowed != nil {
			if _, ok := allowed[p.Category]; !ok {
				continue
			}
		}
		out = append(out, p)
		if k > 0 && len(out) == k {
			break
		}
	}
	return out
}

func (g *PopularityGeneration) Stats() *models.GenerationStats {
	stats := &models.GenerationStats{
		Kind:         models.IndexKindPopularity,
		GenerationID: g.ID,
		BuiltAt:      g.BuiltAt,
		Items:        len(g.Ranked),
	}
	for _, p := range g.Ranked {
		stats.TotalScore += p.Score
	}
	if stats.Items > 0 {
		stats.AvgScore = stats.TotalScore / float64(stats.Items)
	}
	return stats
}

// SortPopularity orders by score descending, then item id ascending.
func SortPopularity(scores []models.PopularityScore) {
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].Score != scores[j].Score {
			return scores[i].Score > scores[j].Score
		}
		return scores[i].ItemID < scores[j].ItemID
	})
}

func limitCF(neighbors []models.CFNeighbor, k int) []models.CFNeighbor {
	if k <= 0 || k >= len(neighbors) {
		k = len(neighbors)
	}
	out := make([]models.CFNeighbor, k)
	copy(out, neighbors[:k])
	return out
}

func limitContent(neighbors []models.ContentNeighbor, k int) []models.ContentNeighbor {
	if k <= 0 || k >= len(neighbors) {
		k = len(neighbors)
	}
	out := make([]models.ContentNeighbor, k)
	copy(out, neighbors[:k])
	return out
}
