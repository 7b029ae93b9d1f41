package services

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/temcen/fusionrec/pkg/models"
)

// DatabaseQuerier is the subset of pgxpool.Pool used by the stores.
type DatabaseQuerier interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
}

// InteractionStore is the read-only purchase log.
type InteractionStore interface {
	// GetRecentPurchases returns up to limit purchases, most recent first.
	GetRecentPurchases(ctx context.Context, userID string, limit int) ([]models.RecentPurchase, error)
	GetPurchasedItems(ctx context.Context, userID string) ([]string, error)
	GetInteractionsSince(ctx context.Context, since time.Time) ([]models.InteractionEvent, error)
}

// ItemFeatureStore is the read-only catalog.
type ItemFeatureStore interface {
	GetItemAttributes(ctx context.Context, itemIDs []string) (map[string]models.Item, error)
	ListActiveItems(ctx context.Context) ([]models.Item, error)
}

// RecommendationEngineInterface is what the HTTP and CLI layers consume.
type RecommendationEngineInterface interface {
	GetHybridRecommendations(ctx context.Context, userID string, k int, weights *models.Weights) (*models.RecommendationResult, error)
	GetCFOnlyRecommendations(ctx context.Context, userID string, k int) (*models.RecommendationResult, error)
	GetContentOnlyRecommendations(ctx context.Context, userID string, k int) (*models.RecommendationResult, error)
	GetSimilarItems(ctx context.Context, itemID string, k int, source models.CandidateSource) (*models.SimilarItemsResponse, error)
	GetIndexStats(ctx context.Context) (*models.IndexStats, error)
	GetUserPurchases(ctx context.Context, userID string, limit int) (*models.UserPurchasesResponse, error)
	GetPopularItems(ctx context.Context, k int, categories ...string) (*models.PopularItemsResponse, error)
}

// IndexJobRunner triggers offline rebuilds.
type IndexJobRunner interface {
	RebuildCFIndex(ctx context.Context) (*models.BuildResult, error)
	RebuildContentIndex(ctx context.Context) (*models.BuildResult, error)
	RefreshPopularity(ctx context.Context) (*models.BuildResult, error)
}

// JobService queues rebuilds and reports their progress.
type JobService interface {
	Submit(ctx context.Context, kind models.IndexKind, trigger string) (*models.JobProgress, error)
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error)
}

type EvaluationService interface {
	Evaluate(ctx context.Context, req models.EvaluationConfig) (*models.EvaluationReport, error)
}
