package services

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/internal/metrics"
	"github.com/temcen/fusionrec/pkg/models"
)

// IndexStatsSource reports the state of the index generations.
type IndexStatsSource interface {
	Stats(ctx context.Context) (*models.IndexStats, error)
}

// RecommendationEngine runs candidate generation, normalization and fusion
// for a single user request.
type RecommendationEngine struct {
	candidates *CandidateGenerator
	items      ItemFeatureStore
	indexes    index.Reader
	stats      IndexStatsSource
	reranker   *FusionReranker
	cache      RecommendationCache
	config     config.FusionConfig
	logger     *logrus.Logger
	now        func() time.Time
}

// NewRecommendationEngine wires the online path. cache may be nil.
func NewRecommendationEngine(
	candidates *CandidateGenerator,
	items ItemFeatureStore,
	indexes index.Reader,
	stats IndexStatsSource,
	reranker *FusionReranker,
	cache RecommendationCache,
	cfg config.FusionConfig,
	logger *logrus.Logger,
) *RecommendationEngine {
	return &RecommendationEngine{
		candidates: candidates,
		items:      items,
		indexes:    indexes,
		stats:      stats,
		reranker:   reranker,
		cache:      cache,
		config:     cfg,
		logger:     logger,
		now:        time.Now,
	}
}

// GetHybridRecommendations blends all three sources. A nil weights pointer
// selects the configured defaults.
func (e *RecommendationEngine) GetHybridRecommendations(ctx context.Context, userID string, k int, weights *models.Weights) (*models.RecommendationResult, error) {
	w := e.config.Weights
	if weights != nil {
		w = *weights
	}
	return e.recommend(ctx, models.ModeHybrid, userID, k, w, models.AllSources)
}

func (e *RecommendationEngine) GetCFOnlyRecommendations(ctx context.Context, userID string, k int) (*models.RecommendationResult, error) {
	return e.recommend(ctx, models.ModeCF, userID, k, models.Weights{CF: 1}, []models.CandidateSource{models.SourceCF})
}

func (e *RecommendationEngine) GetContentOnlyRecommendations(ctx context.Context, userID string, k int) (*models.RecommendationResult, error) {
	return e.recommend(ctx, models.ModeContent, userID, k, models.Weights{Content: 1}, []models.CandidateSource{models.SourceContent})
}

// Recommend dispatches on mode.
func (e *RecommendationEngine) Recommend(ctx context.Context, mode models.RecommendationMode, userID string, k int, weights *models.Weights) (*models.RecommendationResult, error) {
	switch mode {
	case models.ModeHybrid, "":
		return e.GetHybridRecommendations(ctx, userID, k, weights)
	case models.ModeCF:
		return e.GetCFOnlyRecommendations(ctx, userID, k)
	case models.ModeContent:
		return e.GetContentOnlyRecommendations(ctx, userID, k)
	}
	return nil, &ValidationError{Field: "mode", Message: fmt.Sprintf("unsupported mode %q", mode)}
}

func (e *RecommendationEngine) validate(userID string, k int, w models.Weights) error {
	if userID == "" {
		return &ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if k <= 0 {
		return &ValidationError{Field: "k", Message: "must be positive"}
	}
	if e.config.MaxK > 0 && k > e.config.MaxK {
		return &ValidationError{Field: "k", Message: fmt.Sprintf("must not exceed %d", e.config.MaxK)}
	}
	for _, f := range []struct {
		name  string
		value float64
	}{
		{"weights.cf", w.CF},
		{"weights.content", w.Content},
		{"weights.popularity", w.Popularity},
		{"weights.novelty", w.Novelty},
		{"weights.price_gap", w.PriceGap},
	} {
		if f.value < 0 {
			return &ValidationError{Field: f.name, Message: "must not be negative"}
		}
	}
	return nil
}

func (e *RecommendationEngine) recommend(
	ctx context.Context,
	mode models.RecommendationMode,
	userID string,
	k int,
	weights models.Weights,
	sources []models.CandidateSource,
) (*models.RecommendationResult, error) {
	start := e.now()

	if err := e.validate(userID, k, weights); err != nil {
		metrics.RecommendationRequests.WithLabelValues(string(mode), "invalid").Inc()
		return nil, err
	}

	if e.config.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.RequestTimeout)
		defer cancel()
	}

	reader, err := e.candidates.Pin(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to pin index generations")
		reader = e.candidates.indexes
	}
	generations, version := e.algorithmVersion(ctx, reader, err == nil)
	cacheKey := CacheKey(version, mode, userID, k, weights)
	if cached := e.cached(ctx, cacheKey, generations != nil); cached != nil {
		metrics.RecommendationRequests.WithLabelValues(string(mode), "cache_hit").Inc()
		metrics.RecommendationLatency.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())
		return cached, nil
	}

	set, err := e.candidates.GenerateFrom(ctx, reader, userID, k, sources...)
	if err != nil {
		metrics.RecommendationRequests.WithLabelValues(string(mode), "error").Inc()
		return nil, err
	}

	applied := weights
	if mode != models.ModeHybrid && (set.Fallback || set.ColdStart) {
		applied = models.Weights{Popularity: 1}
	}

	items, err := e.items.GetItemAttributes(ctx, set.ItemIDs())
	if err != nil {
		e.logger.WithError(err).WithField("user_id", userID).Warn("Item attributes unavailable, fusing without price and category")
		items = map[string]models.Item{}
	}

	recs := e.reranker.Rerank(FusionInput{
		Candidates:       NormalizeScores(set.Candidates),
		Items:            items,
		Weights:          applied,
		AvgPurchasePrice: set.AvgPurchasePrice(),
		K:                k,
	})

	result := &models.RecommendationResult{
		UserID:          userID,
		Mode:            mode,
		K:               k,
		Recommendations: recs,
		GeneratedAt:     e.now(),
		Metadata: models.RecommendationMetadata{
			AlgorithmVersion: version,
			WeightsUsed:      applied,
			CandidateCounts:  set.Counts,
			SourceStatistics: sourceStatistics(recs),
			DegradedSources:  set.Degraded,
			Generations:      generations,
			ColdStart:        set.ColdStart,
			Fallback:         set.Fallback,
		},
	}
	result.Metadata.ProcessingTimeMs = float64(e.now().Sub(start).Microseconds()) / 1000

	// Degraded results are never cached, nor results whose generations were
	// swapped out while they were computed.
	if e.cache != nil && generations != nil && len(set.Degraded) == 0 && e.stillActive(ctx, generations) {
		if err := e.cache.Set(ctx, cacheKey, result); err != nil {
			e.logger.WithError(err).WithField("key", cacheKey).Warn("Failed to cache recommendations")
		}
	}

	metrics.RecommendationRequests.WithLabelValues(string(mode), "success").Inc()
	metrics.RecommendationLatency.WithLabelValues(string(mode)).Observe(time.Since(start).Seconds())

	e.logger.WithFields(logrus.Fields{
		"user_id":    userID,
		"mode":       mode,
		"k":          k,
		"returned":   len(recs),
		"cold_start": set.ColdStart,
		"fallback":   set.Fallback,
		"degraded":   len(set.Degraded),
	}).Debug("Recommendations generated")

	return result, nil
}

func (e *RecommendationEngine) cached(ctx context.Context, key string, usable bool) *models.RecommendationResult {
	if e.cache == nil || !usable {
		return nil
	}
	result, err := e.cache.Get(ctx, key)
	switch {
	case err == nil:
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		result.CacheHit = true
		return result
	case errors.Is(err, ErrCacheMiss):
		metrics.CacheLookups.WithLabelValues("miss").Inc()
	default:
		metrics.CacheLookups.WithLabelValues("error").Inc()
		e.logger.WithError(err).WithField("key", key).Warn("Recommendation cache lookup failed")
	}
	return nil
}

// algorithmVersion embeds the pinned generation ids into the configured
// version so that a generation swap changes every cache key. A nil map means
// the generations could not be pinned and the cache is bypassed.
func (e *RecommendationEngine) algorithmVersion(ctx context.Context, reader index.Reader, pinned bool) (map[models.IndexKind]uint64, string) {
	if !pinned {
		return nil, e.config.AlgorithmVersion
	}
	generations, err := reader.ActiveGenerations(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to read active generations")
		return nil, e.config.AlgorithmVersion
	}
	return generations, fmt.Sprintf("%s.cf%d.cb%d.pop%d",
		e.config.AlgorithmVersion,
		generations[models.IndexKindCF],
		generations[models.IndexKindContent],
		generations[models.IndexKindPopularity],
	)
}

func (e *RecommendationEngine) stillActive(ctx context.Context, generations map[models.IndexKind]uint64) bool {
	current, err := e.indexes.ActiveGenerations(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to re-read active generations")
		return false
	}
	if !maps.Equal(current, generations) {
		e.logger.WithFields(logrus.Fields{
			"pinned": generations,
			"active": current,
		}).Debug("Index generations swapped during request, result not cached")
		return false
	}
	return true
}

func sourceStatistics(recs []models.RankedRecommendation) map[models.CandidateSource]int {
	stats := make(map[models.CandidateSource]int, len(models.AllSources))
	for _, rec := range recs {
		for _, s := range rec.ContributingSources {
			stats[s]++
		}
	}
	return stats
}

// GetSimilarItems reads an item's neighbors straight from the CF or content
// index.
func (e *RecommendationEngine) GetSimilarItems(ctx context.Context, itemID string, k int, source models.CandidateSource) (*models.SimilarItemsResponse, error) {
	if itemID == "" {
		return nil, &ValidationError{Field: "item_id", Message: "must not be empty"}
	}
	if k <= 0 || (e.config.MaxK > 0 && k > e.config.MaxK) {
		return nil, &ValidationError{Field: "k", Message: fmt.Sprintf("must be between 1 and %d", e.config.MaxK)}
	}
	if source != models.SourceCF && source != models.SourceContent {
		return nil, &ValidationError{Field: "source", Message: "must be cf or content"}
	}

	attrs, err := e.items.GetItemAttributes(ctx, []string{itemID})
	if err != nil {
		return nil, fmt.Errorf("failed to look up item: %w", err)
	}
	if _, ok := attrs[itemID]; !ok {
		return nil, ErrItemNotFound
	}

	resp := &models.SimilarItemsResponse{ItemID: itemID, Source: source}
	if generations, err := e.indexes.ActiveGenerations(ctx); err == nil {
		if source == models.SourceCF {
			resp.GenerationID = generations[models.IndexKindCF]
		} else {
			resp.GenerationID = generations[models.IndexKindContent]
		}
	}

	switch source {
	case models.SourceCF:
		resp.CF, err = e.indexes.GetCFNeighbors(ctx, itemID, k)
		if resp.CF == nil {
			resp.CF = []models.CFNeighbor{}
		}
	case models.SourceContent:
		resp.Content, err = e.indexes.GetContentNeighbors(ctx, itemID, k)
		if resp.Content == nil {
			resp.Content = []models.ContentNeighbor{}
		}
	}
	if err != nil && !errors.Is(err, index.ErrNoGeneration) {
		return nil, fmt.Errorf("failed to read neighbors: %w", err)
	}
	return resp, nil
}

func (e *RecommendationEngine) GetIndexStats(ctx context.Context) (*models.IndexStats, error) {
	return e.stats.Stats(ctx)
}

// GetUserPurchases returns the user's most recent purchases with their age
// in whole days.
func (e *RecommendationEngine) GetUserPurchases(ctx context.Context, userID string, limit int) (*models.UserPurchasesResponse, error) {
	if userID == "" {
		return nil, &ValidationError{Field: "user_id", Message: "must not be empty"}
	}
	if limit <= 0 || (e.config.MaxK > 0 && limit > e.config.MaxK) {
		return nil, &ValidationError{Field: "limit", Message: fmt.Sprintf("must be between 1 and %d", e.config.MaxK)}
	}

	recent, err := e.candidates.interactions.GetRecentPurchases(ctx, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to read purchase history: %w", err)
	}

	now := e.now()
	resp := &models.UserPurchasesResponse{UserID: userID, Purchases: make([]models.UserPurchase, 0, len(recent))}
	for _, p := range recent {
		days := int(now.Sub(p.PurchasedAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
		resp.Purchases = append(resp.Purchases, models.UserPurchase{RecentPurchase: p, DaysAgo: days})
	}
	return resp, nil
}

// GetPopularItems returns the top k items of the active popularity
// generation, optionally restricted to categories. Without a published
// generation the list is empty.
func (e *RecommendationEngine) GetPopularItems(ctx context.Context, k int, categories ...string) (*models.PopularItemsResponse, error) {
	if k <= 0 || (e.config.MaxK > 0 && k > e.config.MaxK) {
		return nil, &ValidationError{Field: "k", Message: fmt.Sprintf("must be between 1 and %d", e.config.MaxK)}
	}

	reader, err := e.candidates.Pin(ctx)
	if err != nil {
		e.logger.WithError(err).Warn("Failed to pin index generations, reading live indexes")
		reader = e.candidates.indexes
	}

	resp := &models.PopularItemsResponse{Categories: categories, Items: []models.PopularityScore{}}
	if generations, err := reader.ActiveGenerations(ctx); err == nil {
		resp.GenerationID = generations[models.IndexKindPopularity]
	}

	top, err := reader.GetTopPopular(ctx, k, categories...)
	if err != nil {
		if errors.Is(err, index.ErrNoGeneration) {
			return resp, nil
		}
		return nil, fmt.Errorf("failed to read popularity index: %w", err)
	}
	if top != nil {
		resp.Items = top
	}
	return resp, nil
}
