package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/pkg/models"
)

// Evaluator replays history up to a cutoff, rebuilds every index on that
// prefix in memory and scores hybrid recommendations against purchases made
// after the cutoff, next to a global popularity baseline.
type Evaluator struct {
	interactions InteractionStore
	items        ItemFeatureStore
	config       *config.Config
	logger       *logrus.Logger
}

func NewEvaluator(interactions InteractionStore, items ItemFeatureStore, cfg *config.Config, logger *logrus.Logger) *Evaluator {
	return &Evaluator{
		interactions: interactions,
		items:        items,
		config:       cfg,
		logger:       logger,
	}
}

func (ev *Evaluator) Evaluate(ctx context.Context, req models.EvaluationConfig) (*models.EvaluationReport, error) {
	started := time.Now()
	if req.K <= 0 {
		return nil, &ValidationError{Field: "k", Message: "must be positive"}
	}
	if req.Cutoff.IsZero() {
		return nil, &ValidationError{Field: "cutoff", Message: "is required"}
	}

	lookback := max(ev.config.CF.Window, ev.config.Popularity.Window)
	events, err := ev.interactions.GetInteractionsSince(ctx, req.Cutoff.Add(-lookback))
	if err != nil {
		return nil, fmt.Errorf("failed to load interactions: %w", err)
	}
	catalog, err := ev.items.ListActiveItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load catalog: %w", err)
	}

	full := NewMemoryCatalog(catalog, events)
	train := full.Before(req.Cutoff)
	holdout := holdoutPurchases(events, req.Cutoff, train)

	store := index.NewMemoryStore(1)
	clock := func() time.Time { return req.Cutoff }

	cf := NewCFSimilarityBuilder(train, store, ev.config.CF, ev.logger)
	cf.now = clock
	content := NewContentSimilarityBuilder(train, store, ev.config.Content, ev.logger)
	content.now = clock
	pop := NewPopularityIndexBuilder(train, train, store, ev.config.Popularity, ev.logger)
	pop.now = clock
	for _, b := range []IndexBuilder{cf, content, pop} {
		if _, err := b.Build(ctx); err != nil {
			return nil, fmt.Errorf("failed to build evaluation index: %w", err)
		}
	}

	generator := NewCandidateGenerator(train, store, ev.config.Candidates, ev.logger)
	generator.now = clock
	engine := NewRecommendationEngine(generator, train, store, store, NewFusionReranker(ev.config.Fusion), nil, ev.config.Fusion, ev.logger)

	users := make([]string, 0, len(holdout))
	for userID := range holdout {
		users = append(users, userID)
	}
	sort.Strings(users)
	if req.MaxUsers > 0 && len(users) > req.MaxUsers {
		users = users[:req.MaxUsers]
	}

	var hybrid, baseline metricAccumulator
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		result, err := engine.GetHybridRecommendations(ctx, userID, req.K, req.Weights)
		if err != nil {
			return nil, fmt.Errorf("failed to recommend for %s: %w", userID, err)
		}
		ranked := make([]string, len(result.Recommendations))
		for i, rec := range result.Recommendations {
			ranked[i] = rec.ItemID
		}
		hybrid.add(ranked, holdout[userID], req.K)

		popular, err := popularityBaseline(ctx, train, store, userID, req.K)
		if err != nil {
			return nil, err
		}
		baseline.add(popular, holdout[userID], req.K)
	}

	report := &models.EvaluationReport{
		Cutoff:       req.Cutoff,
		K:            req.K,
		CatalogItems: len(catalog),
		Hybrid:       hybrid.result(len(catalog)),
		Popularity:   baseline.result(len(catalog)),
	}
	report.HitRateLift = lift(report.Hybrid.HitRate, report.Popularity.HitRate)
	report.NDCGLift = lift(report.Hybrid.NDCG, report.Popularity.NDCG)
	report.Duration = time.Since(started).Seconds()

	ev.logger.WithFields(logrus.Fields{
		"cutoff":          req.Cutoff,
		"users":           report.Hybrid.Users,
		"hybrid_hit_rate": report.Hybrid.HitRate,
		"pop_hit_rate":    report.Popularity.HitRate,
		"hybrid_ndcg":     report.Hybrid.NDCG,
		"pop_ndcg":        report.Popularity.NDCG,
	}).Info("Offline evaluation finished")

	return report, nil
}

// holdoutPurchases maps each user to the items first bought at or after the
// cutoff. Items already bought before the cutoff cannot be recommended and
// are left out.
func holdoutPurchases(events []models.InteractionEvent, cutoff time.Time, train *MemoryCatalog) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, e := range events {
		if e.Timestamp.Before(cutoff) {
			continue
		}
		if _, bought := train.purchased(e.UserID)[e.ItemID]; bought {
			continue
		}
		if out[e.UserID] == nil {
			out[e.UserID] = make(map[string]struct{})
		}
		out[e.UserID][e.ItemID] = struct{}{}
	}
	return out
}

func popularityBaseline(ctx context.Context, train *MemoryCatalog, store index.Reader, userID string, k int) ([]string, error) {
	purchased := train.purchased(userID)
	top, err := store.GetTopPopular(ctx, k+len(purchased))
	if err != nil && !errors.Is(err, index.ErrNoGeneration) {
		return nil, err
	}
	var out []string
	for _, p := range top {
		if len(out) == k {
			break
		}
		if _, bought := purchased[p.ItemID]; !bought && p.Score > 0 {
			out = append(out, p.ItemID)
		}
	}
	return out, nil
}

type metricAccumulator struct {
	users       int
	hits        int
	ndcgSum     float64
	recommended map[string]struct{}
}

func (m *metricAccumulator) add(ranked []string, actual map[string]struct{}, k int) {
	if m.recommended == nil {
		m.recommended = make(map[string]struct{})
	}
	m.users++

	var dcg float64
	hit := false
	for i, id := range ranked {
		m.recommended[id] = struct{}{}
		if _, ok := actual[id]; ok {
			hit = true
			dcg += 1 / math.Log2(float64(i+2))
		}
	}
	if hit {
		m.hits++
	}

	var idcg float64
	for i := 0; i < min(len(actual), k); i++ {
		idcg += 1 / math.Log2(float64(i+2))
	}
	if idcg > 0 {
		m.ndcgSum += dcg / idcg
	}
}

func (m *metricAccumulator) result(catalogItems int) models.MetricSet {
	set := models.MetricSet{Users: m.users, Hits: m.hits}
	if m.users > 0 {
		set.HitRate = float64(m.hits) / float64(m.users)
		set.NDCG = m.ndcgSum / float64(m.users)
	}
	if catalogItems > 0 {
		set.Coverage = float64(len(m.recommended)) / float64(catalogItems)
	}
	return set
}

func lift(value, baseline float64) float64 {
	if baseline == 0 {
		return 0
	}
	return (value - baseline) / baseline
}
