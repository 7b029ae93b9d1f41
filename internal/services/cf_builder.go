package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/pkg/models"
)

// CFSimilarityBuilder computes item-item cosine similarity over the binary
// user x item purchase matrix and publishes it as a new CF generation.
type CFSimilarityBuilder struct {
	interactions InteractionStore
	publisher    index.Publisher
	config       config.CFConfig
	logger       *logrus.Logger
	now          func() time.Time
}

func NewCFSimilarityBuilder(
	interactions InteractionStore,
	publisher index.Publisher,
	cfg config.CFConfig,
	logger *logrus.Logger,
) *CFSimilarityBuilder {
	return &CFSimilarityBuilder{
		interactions: interactions,
		publisher:    publisher,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
	}
}

func (b *CFSimilarityBuilder) Build(ctx context.Context) (*models.BuildResult, error) {
	started := b.now()
	since := started.Add(-b.config.Window)

	events, err := b.interactions.GetInteractionsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}

	neighbors, quality, err := ComputeCFNeighbors(ctx, events, b.config)
	if err != nil {
		return nil, err
	}

	genID, err := b.publisher.NextGenerationID(ctx, models.IndexKindCF)
	if err != nil {
		return nil, err
	}

	gen := &index.CFGeneration{
		ID:        genID,
		BuiltAt:   b.now(),
		Neighbors: neighbors,
		Quality:   quality,
	}
	if err := b.publisher.PublishCF(ctx, gen); err != nil {
		return nil, fmt.Errorf("failed to publish cf generation: %w", err)
	}

	result := &models.BuildResult{
		Kind:         models.IndexKindCF,
		GenerationID: genID,
		Rows:         quality.Pairs,
		Items:        quality.ItemsWithEdges,
		StartedAt:    started,
		Duration:     b.now().Sub(started),
		Quality:      quality,
	}

	b.logger.WithFields(logrus.Fields{
		"generation":   genID,
		"events":       len(events),
		"pairs":        quality.Pairs,
		"items":        quality.ItemsWithEdges,
		"coverage_pct": quality.CoveragePercent,
		"avg_sim":      quality.AvgSimilarity,
	}).Info("CF similarity index built")

	return result, nil
}

// ComputeCFNeighbors returns the top-K cosine neighbors per item. Repeat
// purchases count once. Rows are computed in parallel but each row depends
// only on the input, so the output does not depend on scheduling.
func ComputeCFNeighbors(ctx context.Context, events []models.InteractionEvent, cfg config.CFConfig) (map[string][]models.CFNeighbor, *models.CFQualityReport, error) {
	baskets := make(map[string]map[string]struct{})
	for _, e := range events {
		basket, ok := baskets[e.UserID]
		if !ok {
			basket = make(map[string]struct{})
			baskets[e.UserID] = basket
		}
		basket[e.ItemID] = struct{}{}
	}

	purchasers := make(map[string][]string)
	for userID, basket := range baskets {
		for itemID := range basket {
			purchasers[itemID] = append(purchasers[itemID], userID)
		}
	}

	eligible := make(map[string]bool, len(purchasers))
	var items []string
	for itemID, users := range purchasers {
		if len(users) >= cfg.MinItemPurchases {
			eligible[itemID] = true
			items = append(items, itemID)
		}
	}
	sort.Strings(items)

	rows := make([][]models.CFNeighbor, len(items))
	workers := max(cfg.Workers, 1)
	chunk := (len(items) + workers - 1) / workers

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < len(items); start += chunk {
		start, end := start, min(start+chunk, len(items))
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				rows[i] = cfRow(items[i], purchasers, baskets, eligible, cfg)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, nil, fmt.Errorf("cf similarity computation aborted: %w", err)
	}

	neighbors := make(map[string][]models.CFNeighbor)
	quality := &models.CFQualityReport{CatalogItems: len(purchasers)}
	var scoreSum float64
	var coSum int
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		neighbors[items[i]] = row
		for _, n := range row {
			if quality.Pairs == 0 || n.Score < quality.MinSimilarity {
				quality.MinSimilarity = n.Score
			}
			if n.Score > quality.MaxSimilarity {
				quality.MaxSimilarity = n.Score
			}
			if quality.Pairs == 0 || n.CoUsers < quality.MinCoUsers {
				quality.MinCoUsers = n.CoUsers
			}
			if n.CoUsers > quality.MaxCoUsers {
				quality.MaxCoUsers = n.CoUsers
			}
			quality.Pairs++
			scoreSum += n.Score
			coSum += n.CoUsers
		}
	}
	quality.ItemsWithEdges = len(neighbors)
	if quality.CatalogItems > 0 {
		quality.CoveragePercent = 100 * float64(quality.ItemsWithEdges) / float64(quality.CatalogItems)
	}
	if quality.Pairs > 0 {
		quality.AvgSimilarity = scoreSum / float64(quality.Pairs)
		quality.AvgCoUsers = float64(coSum) / float64(quality.Pairs)
	}

	return neighbors, quality, nil
}

func cfRow(
	itemID string,
	purchasers map[string][]string,
	baskets map[string]map[string]struct{},
	eligible map[string]bool,
	cfg config.CFConfig,
) []models.CFNeighbor {
	coCounts := make(map[string]int)
	for _, userID := range purchasers[itemID] {
		for other := range baskets[userID] {
			if other != itemID && eligible[other] {
				coCounts[other]++
			}
		}
	}

	n := float64(len(purchasers[itemID]))
	row := make([]models.CFNeighbor, 0, len(coCounts))
	for other, co := range coCounts {
		if co < cfg.MinCoUsers {
			continue
		}
		score := clampUnit(float64(co) / math.Sqrt(n*float64(len(purchasers[other]))))
		if score < cfg.MinSimilarity {
			continue
		}
		row = append(row, models.CFNeighbor{ItemID: other, Score: score, CoUsers: co})
	}

	SortCFNeighbors(row)
	if cfg.TopK > 0 && len(row) > cfg.TopK {
		row = row[:cfg.TopK]
	}
	return row
}

// SortCFNeighbors orders by score desc, co-users desc, then item id asc.
func SortCFNeighbors(row []models.CFNeighbor) {
	sort.Slice(row, func(i, j int) bool {
		if row[i].Score != row[j].Score {
			return row[i].Score > row[j].Score
		}
		if row[i].CoUsers != row[j].CoUsers {
			return row[i].CoUsers > row[j].CoUsers
		}
		return row[i].ItemID < row[j].ItemID
	})
}

func clampUnit(v float64) float64 {
	if v < 0 || math.IsNaN(v) {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
