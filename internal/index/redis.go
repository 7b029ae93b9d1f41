package index

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/pkg/models"
)

const (
	writeBatchSize = 500
	scanPageSize   = 256
)

// RedisStore shares index generations between processes. Each generation is
// written under its own keys and becomes visible when the per-kind active key
// is switched to its id.
type RedisStore struct {
	client *redis.Client
	prefix string
	retain int
	logger *logrus.Logger
}

func NewRedisStore(client *redis.Client, prefix string, retain int, logger *logrus.Logger) *RedisStore {
	if retain < 1 {
		retain = 1
	}
	if prefix == "" {
		prefix = "fusionrec"
	}
	return &RedisStore{
		client: client,
		prefix: prefix,
		retain: retain,
		logger: logger,
	}
}

func (s *RedisStore) seqKey(kind models.IndexKind) string {
	return fmt.Sprintf("%s:%s:seq", s.prefix, kind)
}

func (s *RedisStore) activeKey(kind models.IndexKind) string {
	return fmt.Sprintf("%s:%s:active", s.prefix, kind)
}

func (s *RedisStore) historyKey(kind models.IndexKind) string {
	return fmt.Sprintf("%s:%s:generations", s.prefix, kind)
}

func (s *RedisStore) dataKey(kind models.IndexKind, gen uint64) string {
	return fmt.Sprintf("%s:%s:gen:%d", s.prefix, kind, gen)
}

func (s *RedisStore) metaKey(kind models.IndexKind, gen uint64) string {
	return fmt.Sprintf("%s:%s:gen:%d:meta", s.prefix, kind, gen)
}

func (s *RedisStore) categoryKey(gen uint64) string {
	return fmt.Sprintf("%s:%s:gen:%d:category", s.prefix, models.IndexKindPopularity, gen)
}

func (s *RedisStore) NextGenerationID(ctx context.Context, kind models.IndexKind) (uint64, error) {
	if !kind.Valid() {
		return 0, fmt.Errorf("unknown index kind %q", kind)
	}
	id, err := s.client.Incr(ctx, s.seqKey(kind)).Uint64()
	if err != nil {
		return 0, fmt.Errorf("failed to allocate %s generation id: %w", kind, err)
	}
	return id, nil
}

func (s *RedisStore) PublishCF(ctx context.Context, gen *CFGeneration) error {
	if err := writeAdjacency(ctx, s.client, s.dataKey(models.IndexKindCF, gen.ID), gen.Neighbors); err != nil {
		return fmt.Errorf("failed to write cf generation %d: %w", gen.ID, err)
	}

	meta := statsMeta(gen.Stats())
	if gen.Quality != nil {
		quality, err := json.Marshal(gen.Quality)
		if err != nil {
			return fmt.Errorf("failed to marshal cf quality report: %w", err)
		}
		meta["quality"] = string(quality)
	}
	return s.activate(ctx, models.IndexKindCF, gen.ID, meta)
}

func (s *RedisStore) PublishContent(ctx context.Context, gen *ContentGeneration) error {
	if err := writeAdjacency(ctx, s.client, s.dataKey(models.IndexKindContent, gen.ID), gen.Neighbors); err != nil {
		return fmt.Errorf("failed to write content generation %d: %w", gen.ID, err)
	}
	return s.activate(ctx, models.IndexKindContent, gen.ID, statsMeta(gen.Stats()))
}

func (s *RedisStore) PublishPopularity(ctx context.Context, gen *PopularityGeneration) error {
	dataKey := s.dataKey(models.IndexKindPopularity, gen.ID)
	categoryKey := s.categoryKey(gen.ID)

	for start := 0; start < len(gen.Ranked); start += writeBatchSize {
		end := min(start+writeBatchSize, len(gen.Ranked))
		members := make([]redis.Z, 0, end-start)
		categories := make([]interface{}, 0, 2*(end-start))
		for _, p := range gen.Ranked[start:end] {
			members = append(members, redis.Z{Score: p.Score, Member: p.ItemID})
			categories = append(categories, p.ItemID, p.Category)
		}

		pipe := s.client.Pipeline()
		pipe.ZAdd(ctx, dataKey, members...)
		pipe.HSet(ctx, categoryKey, categories...)
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("failed to write popularity generation %d: %w", gen.ID, err)
		}
	}

	meta := statsMeta(gen.Stats())
	meta["window"] = gen.Window.String()
	return s.activate(ctx, models.IndexKindPopularity, gen.ID, meta)
}

// activate records generation metadata, switches the active key and drops
// generations beyond the retention limit.
func (s *RedisStore) activate(ctx context.Context, kind models.IndexKind, gen uint64, meta map[string]interface{}) error {
	if err := s.client.HSet(ctx, s.metaKey(kind, gen), meta).Err(); err != nil {
		return fmt.Errorf("failed to write %s generation metadata: %w", kind, err)
	}

	if err := s.client.Set(ctx, s.activeKey(kind), gen, 0).Err(); err != nil {
		return fmt.Errorf("failed to activate %s generation %d: %w", kind, gen, err)
	}

	historyKey := s.historyKey(kind)
	if err := s.client.LPush(ctx, historyKey, gen).Err(); err != nil {
		s.logger.WithError(err).WithField("kind", kind).Warn("Failed to record generation history")
		return nil
	}

	expired, err := s.client.LRange(ctx, historyKey, int64(s.retain), -1).Result()
	if err != nil {
		s.logger.WithError(err).WithField("kind", kind).Warn("Failed to read generation history")
		return nil
	}
	for _, raw := range expired {
		old, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			continue
		}
		keys := []string{s.dataKey(kind, old), s.metaKey(kind, old)}
		if kind == models.IndexKindPopularity {
			keys = append(keys, s.categoryKey(old))
		}
		if err := s.client.Del(ctx, keys...).Err(); err != nil {
			s.logger.WithError(err).WithFields(logrus.Fields{
				"kind":       kind,
				"generation": old,
			}).Warn("Failed to delete expired generation")
		}
	}
	if err := s.client.LTrim(ctx, historyKey, 0, int64(s.retain-1)).Err(); err != nil {
		s.logger.WithError(err).WithField("kind", kind).Warn("Failed to trim generation history")
	}

	s.logger.WithFields(logrus.Fields{
		"kind":       kind,
		"generation": gen,
	}).Info("Index generation activated")
	return nil
}

func (s *RedisStore) activeID(ctx context.Context, kind models.IndexKind) (uint64, error) {
	id, err := s.client.Get(ctx, s.activeKey(kind)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, ErrNoGeneration
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read active %s generation: %w", kind, err)
	}
	return id, nil
}

func (s *RedisStore) GetCFNeighbors(ctx context.Context, itemID string, k int) ([]models.CFNeighbor, error) {
	gen, err := s.activeID(ctx, models.IndexKindCF)
	if err != nil {
		return nil, err
	}
	return s.cfNeighbors(ctx, gen, itemID, k)
}

func (s *RedisStore) GetContentNeighbors(ctx context.Context, itemID string, k int) ([]models.ContentNeighbor, error) {
	gen, err := s.activeID(ctx, models.IndexKindContent)
	if err != nil {
		return nil, err
	}
	return s.contentNeighbors(ctx, gen, itemID, k)
}

func (s *RedisStore) cfNeighbors(ctx context.Context, gen uint64, itemID string, k int) ([]models.CFNeighbor, error) {
	var neighbors []models.CFNeighbor
	if err := s.readAdjacency(ctx, models.IndexKindCF, gen, itemID, &neighbors); err != nil {
		return nil, err
	}
	return limitCF(neighbors, k), nil
}

func (s *RedisStore) contentNeighbors(ctx context.Context, gen uint64, itemID string, k int) ([]models.ContentNeighbor, error) {
	var neighbors []models.ContentNeighbor
	if err := s.readAdjacency(ctx, models.IndexKindContent, gen, itemID, &neighbors); err != nil {
		return nil, err
	}
	return limitContent(neighbors, k), nil
}

func (s *RedisStore) readAdjacency(ctx context.Context, kind models.IndexKind, gen uint64, itemID string, dest interface{}) error {
	data, err := s.client.HGet(ctx, s.dataKey(kind, gen), itemID).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read %s neighbors: %w", kind, err)
	}

	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("failed to decode %s neighbors: %w", kind, err)
	}
	return nil
}

func (s *RedisStore) GetPopularity(ctx context.Context, itemID string) (float64, error) {
	gen, err := s.activeID(ctx, models.IndexKindPopularity)
	if err != nil {
		return 0, err
	}
	return s.popularity(ctx, gen, itemID)
}

func (s *RedisStore) popularity(ctx context.Context, gen uint64, itemID string) (float64, error) {
	score, err := s.client.ZScore(ctx, s.dataKey(models.IndexKindPopularity, gen), itemID).Result()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read popularity: %w", err)
	}
	return score, nil
}

// GetTopPopular walks the popularity ZSET from the top. Redis orders equal
// scores by member descending, so members tied with the last selected score
// are re-read in ascending order to keep the item-id tie-break.
func (s *RedisStore) GetTopPopular(ctx context.Context, k int, categories ...string) ([]models.PopularityScore, error) {
	gen, err := s.activeID(ctx, models.IndexKindPopularity)
	if err != nil {
		return nil, err
	}
	return s.topPopular(ctx, gen, k, categories...)
}

func (s *RedisStore) topPopular(ctx context.Context, gen uint64, k int, categories ...string) ([]models.PopularityScore, error) {
	var err error
	dataKey := s.dataKey(models.IndexKindPopularity, gen)

	var allowed map[string]struct{}
	if len(categories) > 0 {
		allowed = make(map[string]struct{}, len(categories))
		for _, c := range categories {
			allowed[c] = struct{}{}
		}
	}

	var selected []models.PopularityScore
	for start := int64(0); k <= 0 || len(selected) < k; start += scanPageSize {
		page, err := s.client.ZRevRangeWithScores(ctx, dataKey, start, start+scanPageSize-1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read popularity ranking: %w", err)
		}
		if len(page) == 0 {
			break
		}

		scores, err := s.withCategories(ctx, gen, page)
		if err != nil {
			return nil, err
		}
		for _, p := range scores {
			if !categoryAllowed(allowed, p.Category) {
				continue
			}
			selected = append(selected, p)
			if k > 0 && len(selected) == k {
				break
			}
		}
		if len(page) < scanPageSize {
			break
		}
	}

	if k > 0 && len(selected) == k {
		selected, err = s.resolveTailTies(ctx, gen, dataKey, selected, k, allowed)
		if err != nil {
			return nil, err
		}
	}

	SortPopularity(selected)
	return selected, nil
}

func (s *RedisStore) resolveTailTies(ctx context.Context, gen uint64, dataKey string, selected []models.PopularityScore, k int, allowed map[string]struct{}) ([]models.PopularityScore, error) {
	last := selected[len(selected)-1].Score
	kept := selected[:0]
	for _, p := range selected {
		if p.Score != last {
			kept = append(kept, p)
		}
	}

	bound := strconv.FormatFloat(last, 'g', -1, 64)
	tied, err := s.client.ZRangeByScoreWithScores(ctx, dataKey, &redis.ZRangeBy{Min: bound, Max: bound}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read tied popularity scores: %w", err)
	}
	scores, err := s.withCategories(ctx, gen, tied)
	if err != nil {
		return nil, err
	}
	for _, p := range scores {
		if len(kept) == k {
			break
		}
		if categoryAllowed(allowed, p.Category) {
			kept = append(kept, p)
		}
	}
	return kept, nil
}

func (s *RedisStore) withCategories(ctx context.Context, gen uint64, page []redis.Z) ([]models.PopularityScore, error) {
	if len(page) == 0 {
		return nil, nil
	}
	ids := make([]string, len(page))
	for i, z := range page {
		ids[i] = fmt.Sprint(z.Member)
	}

	cats, err := s.client.HMGet(ctx, s.categoryKey(gen), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read popularity categories: %w", err)
	}

	out := make([]models.PopularityScore, len(page))
	for i, z := range page {
		out[i] = models.PopularityScore{ItemID: ids[i], Score: z.Score}
		if c, ok := cats[i].(string); ok {
			out[i].Category = c
		}
	}
	return out, nil
}

func categoryAllowed(allowed map[string]struct{}, category string) bool {
	if allowed == nil {
		return true
	}
	_, ok := allowed[category]
	return ok
}

// ActiveGenerations reads every active key in one round trip.
func (s *RedisStore) ActiveGenerations(ctx context.Context) (map[models.IndexKind]uint64, error) {
	kinds := models.IndexKinds()
	keys := make([]string, len(kinds))
	for i, kind := range kinds {
		keys[i] = s.activeKey(kind)
	}

	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read active generations: %w", err)
	}

	out := make(map[models.IndexKind]uint64, len(kinds))
	for i, kind := range kinds {
		raw, ok := values[i].(string)
		if !ok {
			continue
		}
		id, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid active %s generation %q: %w", kind, raw, err)
		}
		out[kind] = id
	}
	return out, nil
}

// Snapshot pins the active generation ids. Reads through the snapshot keep
// using those ids until the generations are dropped by retention.
func (s *RedisStore) Snapshot(ctx context.Context) (Reader, error) {
	active, err := s.ActiveGenerations(ctx)
	if err != nil {
		return nil, err
	}
	return &redisSnapshot{store: s, active: active}, nil
}

type redisSnapshot struct {
	store  *RedisStore
	active map[models.IndexKind]uint64
}

func (r *redisSnapshot) generation(kind models.IndexKind) (uint64, error) {
	gen, ok := r.active[kind]
	if !ok {
		return 0, ErrNoGeneration
	}
	return gen, nil
}

func (r *redisSnapshot) GetCFNeighbors(ctx context.Context, itemID string, k int) ([]models.CFNeighbor, error) {
	gen, err := r.generation(models.IndexKindCF)
	if err != nil {
		return nil, err
	}
	return r.store.cfNeighbors(ctx, gen, itemID, k)
}

func (r *redisSnapshot) GetContentNeighbors(ctx context.Context, itemID string, k int) ([]models.ContentNeighbor, error) {
	gen, err := r.generation(models.IndexKindContent)
	if err != nil {
		return nil, err
	}
	return r.store.contentNeighbors(ctx, gen, itemID, k)
}

func (r *redisSnapshot) GetPopularity(ctx context.Context, itemID string) (float64, error) {
	gen, err := r.generation(models.IndexKindPopularity)
	if err != nil {
		return 0, err
	}
	return r.store.popularity(ctx, gen, itemID)
}

func (r *redisSnapshot) GetTopPopular(ctx context.Context, k int, categories ...string) ([]models.PopularityScore, error) {
	gen, err := r.generation(models.IndexKindPopularity)
	if err != nil {
		return nil, err
	}
	return r.store.topPopular(ctx, gen, k, categories...)
}

func (r *redisSnapshot) ActiveGenerations(context.Context) (map[models.IndexKind]uint64, error) {
	out := make(map[models.IndexKind]uint64, len(r.active))
	for kind, gen := range r.active {
		out[kind] = gen
	}
	return out, nil
}

func (s *RedisStore) Stats(ctx context.Context) (*models.IndexStats, error) {
	active, err := s.ActiveGenerations(ctx)
	if err != nil {
		return nil, err
	}

	stats := &models.IndexStats{Retained: make(map[models.IndexKind][]uint64)}
	for kind, gen := range active {
		meta, err := s.client.HGetAll(ctx, s.metaKey(kind, gen)).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s generation metadata: %w", kind, err)
		}
		genStats := metaStats(kind, gen, meta)
		switch kind {
		case models.IndexKindCF:
			stats.CF = genStats
		case models.IndexKindContent:
			stats.Content = genStats
		case models.IndexKindPopularity:
			stats.Popularity = genStats
		}

		history, err := s.client.LRange(ctx, s.historyKey(kind), 0, -1).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read %s generation history: %w", kind, err)
		}
		for i := len(history) - 1; i >= 0; i-- {
			if id, err := strconv.ParseUint(history[i], 10, 64); err == nil {
				stats.Retained[kind] = append(stats.Retained[kind], id)
			}
		}
	}
	return stats, nil
}

func writeAdjacency[N any](ctx context.Context, client *redis.Client, key string, neighbors map[string][]N) error {
	fields := make([]interface{}, 0, 2*writeBatchSize)
	flush := func() error {
		if len(fields) == 0 {
			return nil
		}
		err := client.HSet(ctx, key, fields...).Err()
		fields = fields[:0]
		return err
	}

	for itemID, list := range neighbors {
		data, err := json.Marshal(list)
		if err != nil {
			return err
		}
		fields = append(fields, itemID, data)
		if len(fields) >= 2*writeBatchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}

func statsMeta(stats *models.GenerationStats) map[string]interface{} {
	return map[string]interface{}{
		"built_at":     stats.BuiltAt.UTC().Format(time.RFC3339Nano),
		"items":        stats.Items,
		"edges":        stats.Edges,
		"avg_score":    stats.AvgScore,
		"avg_co_users": stats.AvgCoUsers,
		"total_score":  stats.TotalScore,
	}
}

func metaStats(kind models.IndexKind, gen uint64, meta map[string]string) *models.GenerationStats {
	stats := &models.GenerationStats{Kind: kind, GenerationID: gen}
	stats.BuiltAt, _ = time.Parse(time.RFC3339Nano, meta["built_at"])
	stats.Items, _ = strconv.Atoi(meta["items"])
	stats.Edges, _ = strconv.Atoi(meta["edges"])
	stats.AvgScore, _ = strconv.ParseFloat(meta["avg_score"], 64)
	stats.AvgCoUsers, _ = strconv.ParseFloat(meta["avg_co_users"], 64)
	stats.TotalScore, _ = strconv.ParseFloat(meta["total_score"], 64)
	return stats
}
