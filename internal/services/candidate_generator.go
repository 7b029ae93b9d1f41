package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/internal/metrics"
	"github.com/temcen/fusionrec/pkg/models"
)

// CandidateSet is the per-request candidate multiset together with the user
// context needed by fusion.
type CandidateSet struct {
	UserID     string
	Candidates []models.CandidateItem
	History    []models.RecentPurchase
	Purchased  map[string]struct{}
	Counts     map[models.CandidateSource]int
	Degraded   []models.CandidateSource
	ColdStart  bool
	Fallback   bool
}

// AvgPurchasePrice is the mean price of the anchor purchases, or 0 without
// history.
func (s *CandidateSet) AvgPurchasePrice() float64 {
	if len(s.History) == 0 {
		return 0
	}
	var total float64
	for _, p := range s.History {
		total += p.Price
	}
	return total / float64(len(s.History))
}

// ItemIDs returns the distinct candidate ids in ascending order.
func (s *CandidateSet) ItemIDs() []string {
	seen := make(map[string]struct{}, len(s.Candidates))
	ids := make([]string, 0, len(s.Candidates))
	for _, c := range s.Candidates {
		if _, ok := seen[c.ItemID]; ok {
			continue
		}
		seen[c.ItemID] = struct{}{}
		ids = append(ids, c.ItemID)
	}
	sort.Strings(ids)
	return ids
}

type anchor struct {
	itemID string
	weight float64
}

// CandidateGenerator expands a user's recent purchases through the CF and
// content indices and mixes in popular items.
type CandidateGenerator struct {
	interactions InteractionStore
	indexes      index.Reader
	config       config.CandidateConfig
	logger       *logrus.Logger
	now          func() time.Time
}

func NewCandidateGenerator(
	interactions InteractionStore,
	indexes index.Reader,
	cfg config.CandidateConfig,
	logger *logrus.Logger,
) *CandidateGenerator {
	return &CandidateGenerator{
		interactions: interactions,
		indexes:      indexes,
		config:       cfg,
		logger:       logger,
		now:          time.Now,
	}
}

// Pin binds the generator's index reader to the generations active now.
func (g *CandidateGenerator) Pin(ctx context.Context) (index.Reader, error) {
	return index.Pin(ctx, g.indexes)
}

// Generate pins the active index generations and collects candidates from
// them.
func (g *CandidateGenerator) Generate(ctx context.Context, userID string, k int, sources ...models.CandidateSource) (*CandidateSet, error) {
	reader, err := g.Pin(ctx)
	if err != nil {
		g.logger.WithError(err).Warn("Failed to pin index generations")
		reader = g.indexes
	}
	return g.GenerateFrom(ctx, reader, userID, k, sources...)
}

// GenerateFrom collects candidates from the requested sources, reading every
// index through reader. Source failures degrade that source to empty; only a
// failure to read the user's history is returned.
func (g *CandidateGenerator) GenerateFrom(ctx context.Context, reader index.Reader, userID string, k int, sources ...models.CandidateSource) (*CandidateSet, error) {
	if len(sources) == 0 {
		sources = models.AllSources
	}

	recent, err := g.interactions.GetRecentPurchases(ctx, userID, g.config.RecentPurchases)
	if err != nil {
		return nil, fmt.Errorf("failed to load recent purchases: %w", err)
	}
	purchasedIDs, err := g.interactions.GetPurchasedItems(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to load purchase history: %w", err)
	}

	set := &CandidateSet{
		UserID:    userID,
		History:   recent,
		Purchased: make(map[string]struct{}, len(purchasedIDs)),
		Counts:    make(map[models.CandidateSource]int),
	}
	for _, id := range purchasedIDs {
		set.Purchased[id] = struct{}{}
	}
	for _, p := range recent {
		set.Purchased[p.ItemID] = struct{}{}
	}

	if len(set.Purchased) == 0 {
		set.ColdStart = true
		g.popularityFallback(ctx, reader, set, k)
		return set, nil
	}

	anchors := g.anchors(recent)
	results := make([][]models.CandidateItem, len(models.AllSources))
	degraded := make([]bool, len(models.AllSources))

	eg, egctx := errgroup.WithContext(ctx)
	for _, source := range sources {
		if source == models.SourceCF && len(recent) < g.config.CFMinHistory {
			continue
		}
		eg.Go(func() error {
			sctx, cancel := context.WithTimeout(egctx, g.config.SourceTimeout)
			defer cancel()

			items, err := g.fetch(sctx, reader, source, set, anchors)
			if err == nil {
				err = sctx.Err()
			}
			if err != nil {
				g.degrade(userID, source, err)
				degraded[source] = true
				return nil
			}
			results[source] = items
			return nil
		})
	}
	_ = eg.Wait()

	for _, source := range models.AllSources {
		if degraded[source] {
			set.Degraded = append(set.Degraded, source)
		}
		set.Candidates = append(set.Candidates, results[source]...)
		set.Counts[source] = len(results[source])
		metrics.CandidateCount.WithLabelValues(source.String()).Observe(float64(len(results[source])))
	}

	if len(set.Candidates) == 0 {
		set.Fallback = true
		g.popularityFallback(ctx, reader, set, k)
	}

	return set, nil
}

func (g *CandidateGenerator) fetch(ctx context.Context, reader index.Reader, source models.CandidateSource, set *CandidateSet, anchors []anchor) ([]models.CandidateItem, error) {
	var (
		items []models.CandidateItem
		err   error
	)
	switch source {
	case models.SourceCF:
		items, err = g.cfCandidates(ctx, reader, set, anchors)
	case models.SourceContent:
		items, err = g.contentCandidates(ctx, reader, set, anchors)
	case models.SourcePopularity:
		items, err = g.popularityCandidates(ctx, reader, set)
	default:
		return nil, fmt.Errorf("unknown candidate source %d", source)
	}
	if errors.Is(err, index.ErrNoGeneration) {
		return []models.CandidateItem{}, nil
	}
	return items, err
}

// anchors weights each recent purchase by decay^days, counting whole days
// since the purchase.
func (g *CandidateGenerator) anchors(recent []models.RecentPurchase) []anchor {
	now := g.now()
	out := make([]anchor, 0, len(recent))
	for _, p := range recent {
		days := math.Floor(now.Sub(p.PurchasedAt).Hours() / 24)
		if days < 0 {
			days = 0
		}
		out = append(out, anchor{itemID: p.ItemID, weight: math.Pow(g.config.DecayFactor, days)})
	}
	return out
}

func (g *CandidateGenerator) cfCandidates(ctx context.Context, reader index.Reader, set *CandidateSet, anchors []anchor) ([]models.CandidateItem, error) {
	scores := make(map[string]float64)
	for _, a := range anchors {
		neighbors, err := reader.GetCFNeighbors(ctx, a.itemID, g.config.NeighborK)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if _, bought := set.Purchased[n.ItemID]; bought {
				continue
			}
			scores[n.ItemID] += n.Score * a.weight
		}
	}
	return topCandidates(scores, models.SourceCF, g.config.CFLimit), nil
}

func (g *CandidateGenerator) contentCandidates(ctx context.Context, reader index.Reader, set *CandidateSet, anchors []anchor) ([]models.CandidateItem, error) {
	scores := make(map[string]float64)
	for _, a := range anchors {
		neighbors, err := reader.GetContentNeighbors(ctx, a.itemID, g.config.NeighborK)
		if err != nil {
			return nil, err
		}
		for _, n := range neighbors {
			if _, bought := set.Purchased[n.ItemID]; bought {
				continue
			}
			scores[n.ItemID] += n.Score * a.weight
		}
	}
	return topCandidates(scores, models.SourceContent, g.config.ContentLimit), nil
}

func (g *CandidateGenerator) popularityCandidates(ctx context.Context, reader index.Reader, set *CandidateSet) ([]models.CandidateItem, error) {
	top, err := reader.GetTopPopular(ctx, g.config.PopularityLimit+len(set.Purchased))
	if err != nil {
		return nil, err
	}

	categories := make(map[string]struct{}, len(set.History))
	for _, p := range set.History {
		if p.Category != "" {
			categories[p.Category] = struct{}{}
		}
	}

	scores := make(map[string]float64)
	for _, p := range top {
		if p.Score <= 0 {
			continue
		}
		if _, bought := set.Purchased[p.ItemID]; bought {
			continue
		}
		score := p.Score
		if _, ok := categories[p.Category]; ok {
			score *= g.config.CategoryBoost
		}
		scores[p.ItemID] = score
	}
	return topCandidates(scores, models.SourcePopularity, g.config.PopularityLimit), nil
}

// popularityFallback fills the set with the global top-k popular items the
// user has not bought.
func (g *CandidateGenerator) popularityFallback(ctx context.Context, reader index.Reader, set *CandidateSet, k int) {
	sctx, cancel := context.WithTimeout(ctx, g.config.SourceTimeout)
	defer cancel()

	top, err := reader.GetTopPopular(sctx, k+len(set.Purchased))
	if err != nil {
		if !errors.Is(err, index.ErrNoGeneration) {
			g.degrade(set.UserID, models.SourcePopularity, err)
			set.Degraded = appendSource(set.Degraded, models.SourcePopularity)
		}
		return
	}

	var items []models.CandidateItem
	for _, p := range top {
		if len(items) == k {
			break
		}
		if p.Score <= 0 {
			continue
		}
		if _, bought := set.Purchased[p.ItemID]; bought {
			continue
		}
		items = append(items, models.CandidateItem{ItemID: p.ItemID, RawScore: p.Score, Source: models.SourcePopularity})
	}
	set.Candidates = items
	set.Counts[models.SourcePopularity] = len(items)
}

func (g *CandidateGenerator) degrade(userID string, source models.CandidateSource, err error) {
	reason := "error"
	if errors.Is(err, context.DeadlineExceeded) {
		reason = "timeout"
	}
	metrics.SourceDegraded.WithLabelValues(source.String(), reason).Inc()
	g.logger.WithError(err).WithFields(logrus.Fields{
		"user_id": userID,
		"source":  source.String(),
		"reason":  reason,
	}).Warn("Candidate source degraded")
}

// topCandidates keeps the limit best scores, ties broken by item id.
func topCandidates(scores map[string]float64, source models.CandidateSource, limit int) []models.CandidateItem {
	items := make([]models.CandidateItem, 0, len(scores))
	for id, score := range scores {
		items = append(items, models.CandidateItem{ItemID: id, RawScore: score, Source: source})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].RawScore != items[j].RawScore {
			return items[i].RawScore > items[j].RawScore
		}
		return items[i].ItemID < items[j].ItemID
	})
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func appendSource(sources []models.CandidateSource, source models.CandidateSource) []models.CandidateSource {
	for _, s := range sources {
		if s == source {
			return sources
		}
	}
	return append(sources, source)
}
