package models

import "time"

type IndexKind string

const (
	IndexKindCF         IndexKind = "cf"
	IndexKindContent    IndexKind = "content"
	IndexKindPopularity IndexKind = "popularity"
)

// IndexKinds lists every index in build order.
func IndexKinds() []IndexKind {
	return []IndexKind{IndexKindPopularity, IndexKindCF, IndexKindContent}
}

func (k IndexKind) Valid() bool {
	switch k {
	case IndexKindCF, IndexKindContent, IndexKindPopularity:
		return true
	}
	return false
}

// BuildResult is reported by every offline rebuild once its generation has
// been published.
type BuildResult struct {
	Kind         IndexKind        `json:"kind"`
	GenerationID uint64           `json:"generation_id"`
	Rows         int              `json:"rows"`
	Items        int              `json:"items"`
	StartedAt    time.Time        `json:"started_at"`
	Duration     time.Duration    `json:"duration"`
	Quality      *CFQualityReport `json:"quality,omitempty"`
}

// CFQualityReport summarises a CF generation.
type CFQualityReport struct {
	CatalogItems    int     `json:"catalog_items"`
	ItemsWithEdges  int     `json:"items_with_edges"`
	CoveragePercent float64 `json:"coverage_percent"`
	Pairs           int     `json:"pairs"`
	AvgSimilarity   float64 `json:"avg_similarity"`
	MinSimilarity   float64 `json:"min_similarity"`
	MaxSimilarity   float64 `json:"max_similarity"`
	AvgCoUsers      float64 `json:"avg_co_users"`
	MinCoUsers      int     `json:"min_co_users"`
	MaxCoUsers      int     `json:"max_co_users"`
}

type GenerationStats struct {
	Kind         IndexKind `json:"kind"`
	GenerationID uint64    `json:"generation_id"`
	BuiltAt      time.Time `json:"built_at"`
	Items        int       `json:"items"`
	Edges        int       `json:"edges"`
	AvgScore     float64   `json:"avg_score"`
	AvgCoUsers   float64   `json:"avg_co_users,omitempty"`
	TotalScore   float64   `json:"total_score,omitempty"`
}

type IndexStats struct {
	CF         *GenerationStats       `json:"cf,omitempty"`
	Content    *GenerationStats       `json:"content,omitempty"`
	Popularity *GenerationStats       `json:"popularity,omitempty"`
	Retained   map[IndexKind][]uint64 `json:"retained_generations,omitempty"`
}
