package services

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/floats"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/pkg/models"
)

// ContentSimilarityBuilder scores every pair of active items on their tags,
// categorical attributes and numeric features.
type ContentSimilarityBuilder struct {
	items     ItemFeatureStore
	publisher index.Publisher
	config    config.ContentConfig
	logger    *logrus.Logger
	now       func() time.Time
}

func NewContentSimilarityBuilder(
	items ItemFeatureStore,
	publisher index.Publisher,
	cfg config.ContentConfig,
	logger *logrus.Logger,
) *ContentSimilarityBuilder {
	return &ContentSimilarityBuilder{
		items:     items,
		publisher: publisher,
		config:    cfg,
		logger:    logger,
		now:       time.Now,
	}
}

func (b *ContentSimilarityBuilder) Build(ctx context.Context) (*models.BuildResult, error) {
	started := b.now()

	catalog, err := b.items.ListActiveItems(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load active items: %w", err)
	}

	features := ExtractContentFeatures(catalog, b.config)
	neighbors, err := ComputeContentNeighbors(ctx, features, b.config)
	if err != nil {
		return nil, err
	}

	genID, err := b.publisher.NextGenerationID(ctx, models.IndexKindContent)
	if err != nil {
		return nil, err
	}

	gen := &index.ContentGeneration{ID: genID, BuiltAt: b.now(), Neighbors: neighbors}
	if err := b.publisher.PublishContent(ctx, gen); err != nil {
		return nil, fmt.Errorf("failed to publish content generation: %w", err)
	}

	stats := gen.Stats()
	b.logger.WithFields(logrus.Fields{
		"generation": genID,
		"catalog":    len(catalog),
		"vocabulary": len(features.Vocabulary),
		"items":      stats.Items,
		"pairs":      stats.Edges,
		"avg_score":  stats.AvgScore,
	}).Info("Content similarity index built")

	return &models.BuildResult{
		Kind:         models.IndexKindContent,
		GenerationID: genID,
		Rows:         stats.Edges,
		Items:        stats.Items,
		StartedAt:    started,
		Duration:     b.now().Sub(started),
	}, nil
}

// ContentFeatures holds the per-item feature blocks, in catalog id order.
type ContentFeatures struct {
	ItemIDs     []string
	Vocabulary  []string
	Tags        [][]float64
	Categorical [][7]string
	Numeric     [][]float64
}

// ExtractContentFeatures builds the TF-IDF, one-hot and scaled numeric blocks
// for the given catalog.
func ExtractContentFeatures(catalog []models.Item, cfg config.ContentConfig) *ContentFeatures {
	items := make([]models.Item, len(catalog))
	copy(items, catalog)
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })

	f := &ContentFeatures{
		ItemIDs:     make([]string, len(items)),
		Tags:        make([][]float64, len(items)),
		Categorical: make([][7]string, len(items)),
		Numeric:     make([][]float64, len(items)),
	}

	docs := make([][]string, len(items))
	for i, item := range items {
		f.ItemIDs[i] = item.ID
		docs[i] = tokenizeTags(item.Tags)

		attrs := item.CategoricalAttributes()
		for a, v := range attrs {
			if v = normalizeAttribute(v); v == "" {
				v = models.UnknownAttribute
			}
			attrs[a] = v
		}
		f.Categorical[i] = attrs

		f.Numeric[i] = []float64{item.Price, item.Popularity, item.RatingOrDefault(), float64(len(item.Tags))}
	}

	f.Vocabulary = buildVocabulary(docs, cfg)
	f.Tags = tfidfVectors(docs, f.Vocabulary)
	minMaxScaleColumns(f.Numeric)

	return f
}

func buildVocabulary(docs [][]string, cfg config.ContentConfig) []string {
	df := make(map[string]int)
	for _, doc := range docs {
		seen := make(map[string]struct{}, len(doc))
		for _, token := range doc {
			if _, ok := seen[token]; ok {
				continue
			}
			seen[token] = struct{}{}
			df[token]++
		}
	}

	maxDocs := cfg.MaxDF * float64(len(docs))
	vocab := make([]string, 0, len(df))
	for token, count := range df {
		if count >= cfg.MinDF && float64(count) <= maxDocs {
			vocab = append(vocab, token)
		}
	}

	sort.Slice(vocab, func(i, j int) bool {
		if df[vocab[i]] != df[vocab[j]] {
			return df[vocab[i]] > df[vocab[j]]
		}
		return vocab[i] < vocab[j]
	})
	if cfg.MaxFeatures > 0 && len(vocab) > cfg.MaxFeatures {
		vocab = vocab[:cfg.MaxFeatures]
	}
	sort.Strings(vocab)
	return vocab
}

// tfidfVectors weights raw term counts by the smoothed idf
// ln((1+n)/(1+df)) + 1 and L2-normalises each row.
func tfidfVectors(docs [][]string, vocab []string) [][]float64 {
	column := make(map[string]int, len(vocab))
	for i, token := range vocab {
		column[token] = i
	}

	counts := make([][]float64, len(docs))
	df := make([]float64, len(vocab))
	for d, doc := range docs {
		row := make([]float64, len(vocab))
		for _, token := range doc {
			if c, ok := column[token]; ok {
				if row[c] == 0 {
					df[c]++
				}
				row[c]++
			}
		}
		counts[d] = row
	}

	n := float64(len(docs))
	idf := make([]float64, len(vocab))
	for c := range idf {
		idf[c] = math.Log((1+n)/(1+df[c])) + 1
	}

	for _, row := range counts {
		floats.Mul(row, idf)
		if norm := floats.Norm(row, 2); norm > 0 {
			floats.Scale(1/norm, row)
		}
	}
	return counts
}

// minMaxScaleColumns rescales each column to [0,1]; a constant column
// becomes all zeros.
func minMaxScaleColumns(rows [][]float64) {
	if len(rows) == 0 {
		return
	}
	for c := range rows[0] {
		lo, hi := rows[0][c], rows[0][c]
		for _, row := range rows[1:] {
			lo = math.Min(lo, row[c])
			hi = math.Max(hi, row[c])
		}
		for _, row := range rows {
			if hi == lo {
				row[c] = 0
			} else {
				row[c] = (row[c] - lo) / (hi - lo)
			}
		}
	}
}

// ComputeContentNeighbors returns the top-K weighted cosine neighbors for
// every item.
func ComputeContentNeighbors(ctx context.Context, f *ContentFeatures, cfg config.ContentConfig) (map[string][]models.ContentNeighbor, error) {
	n := len(f.ItemIDs)
	numericNorms := make([]float64, n)
	for i, v := range f.Numeric {
		numericNorms[i] = floats.Norm(v, 2)
	}

	rows := make([][]models.ContentNeighbor, n)
	workers := max(cfg.Workers, 1)
	chunk := max((n+workers-1)/workers, 1)

	g, gctx := errgroup.WithContext(ctx)
	for start := 0; start < n; start += chunk {
		start, end := start, min(start+chunk, n)
		g.Go(func() error {
			for i := start; i < end; i++ {
				if err := gctx.Err(); err != nil {
					return err
				}
				rows[i] = contentRow(i, f, numericNorms, cfg)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("content similarity computation aborted: %w", err)
	}

	neighbors := make(map[string][]models.ContentNeighbor)
	for i, row := range rows {
		if len(row) > 0 {
			neighbors[f.ItemIDs[i]] = row
		}
	}
	return neighbors, nil
}

func contentRow(i int, f *ContentFeatures, numericNorms []float64, cfg config.ContentConfig) []models.ContentNeighbor {
	var row []models.ContentNeighbor
	for j := range f.ItemIDs {
		if i == j {
			continue
		}
		breakdown := models.ContentBreakdown{
			Categorical: categoricalCosine(f.Categorical[i], f.Categorical[j]),
		}
		if len(f.Vocabulary) > 0 {
			// Rows are unit length or all zero.
			breakdown.Tags = clampUnit(floats.Dot(f.Tags[i], f.Tags[j]))
		}
		if numericNorms[i] > 0 && numericNorms[j] > 0 {
			breakdown.Numeric = clampUnit(floats.Dot(f.Numeric[i], f.Numeric[j]) / (numericNorms[i] * numericNorms[j]))
		}

		score := cfg.TagWeight*breakdown.Tags + cfg.CategoricalWeight*breakdown.Categorical + cfg.NumericWeight*breakdown.Numeric
		if score < cfg.MinSimilarity {
			continue
		}
		row = append(row, models.ContentNeighbor{ItemID: f.ItemIDs[j], Score: score, Breakdown: breakdown})
	}

	SortContentNeighbors(row)
	if cfg.TopK > 0 && len(row) > cfg.TopK {
		row = row[:cfg.TopK]
	}
	return row
}

// categoricalCosine is the cosine of two one-hot encodings with one hot
// column per attribute.
func categoricalCosine(a, b [7]string) float64 {
	matches := 0
	for idx := range a {
		if a[idx] == b[idx] {
			matches++
		}
	}
	return float64(matches) / float64(len(a))
}

func SortContentNeighbors(row []models.ContentNeighbor) {
	sort.Slice(row, func(i, j int) bool {
		if row[i].Score != row[j].Score {
			return row[i].Score > row[j].Score
		}
		return row[i].ItemID < row[j].ItemID
	})
}
