package services

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/pkg/models"
)

const (
	PopularityModeAmount = "amount"
	PopularityModeCount  = "count"
)

// PopularityIndexBuilder aggregates purchases over a rolling window into a
// ranked popularity generation.
type PopularityIndexBuilder struct {
	interactions InteractionStore
	items        ItemFeatureStore
	publisher    index.Publisher
	config       config.PopularityConfig
	logger       *logrus.Logger
	now          func() time.Time
}

func NewPopularityIndexBuilder(
	interactions InteractionStore,
	items ItemFeatureStore,
	publisher index.Publisher,
	cfg config.PopularityConfig,
	logger *logrus.Logger,
) *PopularityIndexBuilder {
	return &PopularityIndexBuilder{
		interactions: interactions,
		items:        items,
		publisher:    publisher,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
	}
}

func (b *PopularityIndexBuilder) Refresh(ctx context.Context) (*models.BuildResult, error) {
	started := b.now()

	events, err := b.interactions.GetInteractionsSince(ctx, started.Add(-b.config.Window))
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}

	totals, err := AggregatePopularity(events, b.config.Mode)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(totals))
	for id := range totals {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	attrs, err := b.items.GetItemAttributes(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load item categories: %w", err)
	}

	scores := make([]models.PopularityScore, 0, len(ids))
	for _, id := range ids {
		scores = append(scores, models.PopularityScore{
			ItemID:   id,
			Category: attrs[id].Category,
			Score:    totals[id],
		})
	}

	genID, err := b.publisher.NextGenerationID(ctx, models.IndexKindPopularity)
	if err != nil {
		return nil, err
	}

	gen := index.NewPopularityGeneration(genID, b.now(), b.config.Window, scores)
	if err := b.publisher.PublishPopularity(ctx, gen); err != nil {
		return nil, fmt.Errorf("failed to publish popularity generation: %w", err)
	}

	stats := gen.Stats()
	b.logger.WithFields(logrus.Fields{
		"generation":  genID,
		"events":      len(events),
		"items":       stats.Items,
		"total_score": stats.TotalScore,
		"mode":        b.config.Mode,
	}).Info("Popularity index refreshed")

	return &models.BuildResult{
		Kind:         models.IndexKindPopularity,
		GenerationID: genID,
		Rows:         stats.Items,
		Items:        stats.Items,
		StartedAt:    started,
		Duration:     b.now().Sub(started),
	}, nil
}

// AggregatePopularity sums purchase amount or quantity per item.
func AggregatePopularity(events []models.InteractionEvent, mode string) (map[string]float64, error) {
	totals := make(map[string]float64)
	for _, e := range events {
		switch mode {
		case PopularityModeAmount, "":
			totals[e.ItemID] += e.Amount
		case PopularityModeCount:
			totals[e.ItemID] += float64(e.Quantity)
		default:
			return nil, &ValidationError{Field: "popularity.mode", Message: fmt.Sprintf("unsupported mode %q", mode)}
		}
	}
	return totals, nil
}

// Build lets the job manager treat popularity like the similarity builders.
func (b *PopularityIndexBuilder) Build(ctx context.Context) (*models.BuildResult, error) {
	return b.Refresh(ctx)
}
