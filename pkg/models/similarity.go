package models

import "time"

// CFNeighbor is a collaborative-filtering adjacency entry. CoUsers is the
// number of users who bought both the source item and this neighbor.
type CFNeighbor struct {
	ItemID  string  `json:"item_id"`
	Score   float64 `json:"score"`
	CoUsers int     `json:"co_users"`
}

// ContentBreakdown holds the per-block cosine similarities behind a content
// score.
type ContentBreakdown struct {
	Tags        float64 `json:"tags"`
	Categorical float64 `json:"categorical"`
	Numeric     float64 `json:"numeric"`
}

type ContentNeighbor struct {
	ItemID    string           `json:"item_id"`
	Score     float64          `json:"score"`
	Breakdown ContentBreakdown `json:"breakdown"`
}

type PopularityScore struct {
	ItemID   string        `json:"item_id"`
	Category string        `json:"category,omitempty"`
	Score    float64       `json:"score"`
	Window   time.Duration `json:"window"`
}
