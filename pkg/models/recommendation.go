package models

import (
	"fmt"
	"strings"
	"time"
)

// CandidateSource identifies which index produced a candidate.
type CandidateSource uint8

const (
	SourceCF CandidateSource = iota
	SourceContent
	SourcePopularity
)

// AllSources lists every source in their canonical order.
var AllSources = []CandidateSource{SourceCF, SourceContent, SourcePopularity}

func (s CandidateSource) String() string {
	switch s {
	case SourceCF:
		return "cf"
	case SourceContent:
		return "content"
	case SourcePopularity:
		return "popularity"
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

func (s CandidateSource) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *CandidateSource) UnmarshalText(text []byte) error {
	parsed, err := ParseCandidateSource(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseCandidateSource(v string) (CandidateSource, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "cf", "collaborative":
		return SourceCF, nil
	case "content", "cb":
		return SourceContent, nil
	case "popularity", "pop":
		return SourcePopularity, nil
	}
	return 0, fmt.Errorf("unknown candidate source %q", v)
}

// CandidateItem is a per-request score for one item from one source. It is
// never persisted.
type CandidateItem struct {
	ItemID   string          `json:"item_id"`
	RawScore float64         `json:"raw_score"`
	Source   CandidateSource `json:"source"`
}

// Weights parameterise the fusion score. They need not sum to one.
type Weights struct {
	CF         float64 `json:"cf" mapstructure:"cf"`
	Content    float64 `json:"content" mapstructure:"content"`
	Popularity float64 `json:"popularity" mapstructure:"popularity"`
	Novelty    float64 `json:"novelty" mapstructure:"novelty"`
	PriceGap   float64 `json:"price_gap" mapstructure:"price_gap"`
}

func DefaultWeights() Weights {
	return Weights{CF: 0.4, Content: 0.3, Popularity: 0.3, Novelty: 0.05, PriceGap: 0.1}
}

// For returns the blending weight of a single source.
func (w Weights) For(source CandidateSource) float64 {
	switch source {
	case SourceCF:
		return w.CF
	case SourceContent:
		return w.Content
	case SourcePopularity:
		return w.Popularity
	}
	return 0
}

// WeightsOverride carries caller-supplied weights; nil fields keep the base
// value.
type WeightsOverride struct {
	CF         *float64 `json:"cf,omitempty" validate:"omitempty,gte=0"`
	Content    *float64 `json:"content,omitempty" validate:"omitempty,gte=0"`
	Popularity *float64 `json:"popularity,omitempty" validate:"omitempty,gte=0"`
	Novelty    *float64 `json:"novelty,omitempty" validate:"omitempty,gte=0"`
	PriceGap   *float64 `json:"price_gap,omitempty" validate:"omitempty,gte=0"`
}

func (o *WeightsOverride) Apply(base Weights) Weights {
	if o == nil {
		return base
	}
	if o.CF != nil {
		base.CF = *o.CF
	}
	if o.Content != nil {
		base.Content = *o.Content
	}
	if o.Popularity != nil {
		base.Popularity = *o.Popularity
	}
	if o.Novelty != nil {
		base.Novelty = *o.Novelty
	}
	if o.PriceGap != nil {
		base.PriceGap = *o.PriceGap
	}
	return base
}

// RankedRecommendation is the output unit of the fusion reranker.
type RankedRecommendation struct {
	ItemID              string                      `json:"item_id"`
	FinalScore          float64                     `json:"final_score"`
	ContributingSources []CandidateSource           `json:"contributing_sources"`
	Category            string                      `json:"category"`
	Rank                int                         `json:"rank"`
	FusedScore          float64                     `json:"fused_score"`
	DiversityPenalty    float64                     `json:"diversity_penalty"`
	NormalizedScores    map[CandidateSource]float64 `json:"normalized_scores,omitempty"`
}

type RecommendationMode string

const (
	ModeHybrid  RecommendationMode = "hybrid"
	ModeCF      RecommendationMode = "cf"
	ModeContent RecommendationMode = "content"
)

type RecommendationMetadata struct {
	AlgorithmVersion string                  `json:"algorithm_version"`
	WeightsUsed      Weights                 `json:"weights_used"`
	CandidateCounts  map[CandidateSource]int `json:"candidate_counts"`
	SourceStatistics map[CandidateSource]int `json:"source_statistics"`
	DegradedSources  []CandidateSource       `json:"degraded_sources,omitempty"`
	Generations      map[IndexKind]uint64    `json:"generations,omitempty"`
	ColdStart        bool                    `json:"cold_start"`
	Fallback         bool                    `json:"fallback"`
	ProcessingTimeMs float64                 `json:"processing_time_ms"`
}

type RecommendationResult struct {
	UserID          string                 `json:"user_id"`
	Mode            RecommendationMode     `json:"mode"`
	K               int                    `json:"k"`
	Recommendations []RankedRecommendation `json:"recommendations"`
	Metadata        RecommendationMetadata `json:"metadata"`
	GeneratedAt     time.Time              `json:"generated_at"`
	CacheHit        bool                   `json:"cache_hit"`
}

// RecommendationRequest is the POST body accepted by the HTTP API.
type RecommendationRequest struct {
	K       int                `json:"k" validate:"required,min=1,max=100"`
	Mode    RecommendationMode `json:"mode,omitempty" validate:"omitempty,oneof=hybrid cf content"`
	Weights *WeightsOverride   `json:"weights,omitempty"`
}

// UserPurchase is one row of a user's purchase history as served by the API.
type UserPurchase struct {
	RecentPurchase
	DaysAgo int `json:"days_ago"`
}

type UserPurchasesResponse struct {
	UserID    string         `json:"user_id"`
	Purchases []UserPurchase `json:"purchases"`
}

// PopularItemsResponse lists the head of the active popularity generation.
type PopularItemsResponse struct {
	GenerationID uint64            `json:"generation_id"`
	Categories   []string          `json:"categories,omitempty"`
	Items        []PopularityScore `json:"items"`
}

type SimilarItemsResponse struct {
	ItemID       string            `json:"item_id"`
	Source       CandidateSource   `json:"source"`
	GenerationID uint64            `json:"generation_id"`
	CF           []CFNeighbor      `json:"cf_neighbors,omitempty"`
	Content      []ContentNeighbor `json:"content_neighbors,omitempty"`
}
