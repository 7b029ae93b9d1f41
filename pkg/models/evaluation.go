package models

import "time"

type EvaluationConfig struct {
	Cutoff   time.Time `json:"cutoff" validate:"required"`
	K        int       `json:"k" validate:"min=1,max=100"`
	MaxUsers int       `json:"max_users" validate:"min=0"`
	Weights  *Weights  `json:"weights,omitempty"`
}

// MetricSet aggregates ranking quality over all evaluated users.
type MetricSet struct {
	HitRate  float64 `json:"hit_rate"`
	NDCG     float64 `json:"ndcg"`
	Coverage float64 `json:"coverage"`
	Users    int     `json:"users"`
	Hits     int     `json:"hits"`
}

type EvaluationReport struct {
	Cutoff       time.Time `json:"cutoff"`
	K            int       `json:"k"`
	CatalogItems int       `json:"catalog_items"`
	Hybrid       MetricSet `json:"hybrid"`
	Popularity   MetricSet `json:"popularity"`
	HitRateLift  float64   `json:"hit_rate_lift"`
	NDCGLift     float64   `json:"ndcg_lift"`
	Duration     float64   `json:"duration_seconds"`
}
