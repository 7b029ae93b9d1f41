package index

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/temcen/fusionrec/pkg/models"
)

// slot is an arena of generations for one index kind. Only the active pointer
// is visible to readers; retained generations are kept for diagnostics.
type slot[G any] struct {
	active atomic.Pointer[G]
	seq    atomic.Uint64

	mu       sync.Mutex
	retained []*G
	retain   int
}

func (s *slot[G]) publish(gen *G) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.active.Store(gen)
	s.retained = append(s.retained, gen)
	if s.retain > 0 && len(s.retained) > s.retain {
		s.retained = s.retained[len(s.retained)-s.retain:]
	}
}

func (s *slot[G]) history() []*G {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*G, len(s.retained))
	copy(out, s.retained)
	return out
}

// MemoryStore keeps every index in process memory.
type MemoryStore struct {
	cf         slot[CFGeneration]
	content    slot[ContentGeneration]
	popularity slot[PopularityGeneration]
}

// NewMemoryStore returns a store retaining the last retain generations per
// index (at least one).
func NewMemoryStore(retain int) *MemoryStore {
	if retain < 1 {
		retain = 1
	}
	s := &MemoryStore{}
	s.cf.retain = retain
	s.content.retain = retain
	s.popularity.retain = retain
	return s
}

func (s *MemoryStore) NextGenerationID(_ context.Context, kind models.IndexKind) (uint64, error) {
	switch kind {
	case models.IndexKindCF:
		return s.cf.seq.Add(1), nil
	case models.IndexKindContent:
		return s.content.seq.Add(1), nil
	case models.IndexKindPopularity:
		return s.popularity.seq.Add(1), nil
	}
	return 0, fmt.Errorf("unknown index kind %q", kind)
}

func (s *MemoryStore) PublishCF(_ context.Context, gen *CFGeneration) error {
	s.cf.publish(gen)
	return nil
}

func (s *MemoryStore) PublishContent(_ context.Context, gen *ContentGeneration) error {
	s.content.publish(gen)
	return nil
}

func (s *MemoryStore) PublishPopularity(_ context.Context, gen *PopularityGeneration) error {
	s.popularity.publish(gen)
	return nil
}

// Snapshot pins the generations active right now.
func (s *MemoryStore) Snapshot(_ context.Context) (Reader, error) {
	return s.current(), nil
}

func (s *MemoryStore) current() *memorySnapshot {
	return &memorySnapshot{
		cf:         s.cf.active.Load(),
		content:    s.content.active.Load(),
		popularity: s.popularity.active.Load(),
	}
}

func (s *MemoryStore) GetCFNeighbors(ctx context.Context, itemID string, k int) ([]models.CFNeighbor, error) {
	return s.current().GetCFNeighbors(ctx, itemID, k)
}

func (s *MemoryStore) GetContentNeighbors(ctx context.Context, itemID string, k int) ([]models.ContentNeighbor, error) {
	return s.current().GetContentNeighbors(ctx, itemID, k)
}

func (s *MemoryStore) GetPopularity(ctx context.Context, itemID string) (float64, error) {
	return s.current().GetPopularity(ctx, itemID)
}

func (s *MemoryStore) GetTopPopular(ctx context.Context, k int, categories ...string) ([]models.PopularityScore, error) {
	return s.current().GetTopPopular(ctx, k, categories...)
}

func (s *MemoryStore) ActiveGenerations(ctx context.Context) (map[models.IndexKind]uint64, error) {
	return s.current().ActiveGenerations(ctx)
}

// memorySnapshot reads from fixed generations. A nil generation has not been
// published yet.
type memorySnapshot struct {
	cf         *CFGeneration
	content    *ContentGeneration
	popularity *PopularityGeneration
}

func (m *memorySnapshot) GetCFNeighbors(_ context.Context, itemID string, k int) ([]models.CFNeighbor, error) {
	if m.cf == nil {
		return nil, ErrNoGeneration
	}
	return limitCF(m.cf.Neighbors[itemID], k), nil
}

func (m *memorySnapshot) GetContentNeighbors(_ context.Context, itemID string, k int) ([]models.ContentNeighbor, error) {
	if m.content == nil {
		return nil, ErrNoGeneration
	}
	return limitContent(m.content.Neighbors[itemID], k), nil
}

func (m *memorySnapshot) GetPopularity(_ context.Context, itemID string) (float64, error) {
	if m.popularity == nil {
		return 0, ErrNoGeneration
	}
	return m.popularity.Score(itemID), nil
}

func (m *memorySnapshot) GetTopPopular(_ context.Context, k int, categories ...string) ([]models.PopularityScore, error) {
	if m.popularity == nil {
		return nil, ErrNoGeneration
	}
	return m.popularity.Top(k, categories...), nil
}

func (m *memorySnapshot) ActiveGenerations(_ context.Context) (map[models.IndexKind]uint64, error) {
	out := make(map[models.IndexKind]uint64, 3)
	if m.cf != nil {
		out[models.IndexKindCF] = m.cf.ID
	}
	if m.content != nil {
		out[models.IndexKindContent] = m.content.ID
	}
	if m.popularity != nil {
		out[models.IndexKindPopularity] = m.popularity.ID
	}
	return out, nil
}

func (s *MemoryStore) Stats(_ context.Context) (*models.IndexStats, error) {
	stats := &models.IndexStats{Retained: make(map[models.IndexKind][]uint64)}

	if gen := s.cf.active.Load(); gen != nil {
		stats.CF = gen.Stats()
	}
	if gen := s.content.active.Load(); gen != nil {
		stats.Content = gen.Stats()
	}
	if gen := s.popularity.active.Load(); gen != nil {
		stats.Popularity = gen.Stats()
	}

	for _, g := range s.cf.history() {
		stats.Retained[models.IndexKindCF] = append(stats.Retained[models.IndexKindCF], g.ID)
	}
	for _, g := range s.content.history() {
		stats.Retained[models.IndexKindContent] = append(stats.Retained[models.IndexKindContent], g.ID)
	}
	for _, g := range s.popularity.history() {
		stats.Retained[models.IndexKindPopularity] = append(stats.Retained[models.IndexKindPopularity], g.ID)
	}
	return stats, nil
}
