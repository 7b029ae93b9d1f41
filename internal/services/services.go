package services

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/database"
	"github.com/temcen/fusionrec/internal/index"
	"github.com/temcen/fusionrec/internal/messaging"
	"github.com/temcen/fusionrec/pkg/models"
)

type Services struct {
	Health         *HealthService
	Engine         *RecommendationEngine
	Jobs           *JobManager
	Evaluator      *Evaluator
	EventBus       *messaging.EventBus
	Indexes        index.Store
	DefaultWeights models.Weights
}

// Components are the storage and transport pieces the services run on.
// Assemble accepts them directly so tests and the CLI can run fully in
// memory.
type Components struct {
	DB           *database.Database
	Interactions InteractionStore
	Items        ItemFeatureStore
	Indexes      index.Store
	Cache        RecommendationCache
	JobRecords   JobStore
	JobArchive   JobStore
	Events       GenerationEventPublisher
}

// New connects the services to PostgreSQL and Redis. The Kafka event bus is
// created only when enabled; decode validates incoming rebuild commands.
func New(cfg *config.Config, logger *logrus.Logger, db *database.Database, decode messaging.CommandDecoder) (*Services, error) {
	components := Components{
		DB:           db,
		Interactions: NewPostgresInteractionStore(db.PG, logger),
		Items:        NewPostgresItemStore(db.PG, logger),
		JobRecords:   NewRedisJobStore(db.Redis.Cache, cfg.Index.KeyPrefix, cfg.Jobs.RecordTTL),
		JobArchive:   NewPostgresJobStore(db.PG),
	}

	switch cfg.Index.Backend {
	case "redis":
		components.Indexes = index.NewRedisStore(db.Redis.Index, cfg.Index.KeyPrefix, cfg.Index.Retain, logger)
	default:
		components.Indexes = index.NewMemoryStore(cfg.Index.Retain)
	}

	if cfg.Cache.Enabled {
		switch cfg.Cache.Backend {
		case "memory":
			components.Cache = NewMemoryRecommendationCache(cfg.Cache.TTL)
		default:
			components.Cache = NewRedisRecommendationCache(db.Redis.Cache, cfg.Cache.TTL)
		}
	}

	var bus *messaging.EventBus
	if cfg.Kafka.Enabled {
		bus = messaging.NewEventBus(cfg, decode, logger)
		components.Events = bus
	}

	svc := Assemble(cfg, logger, components)
	svc.EventBus = bus

	logger.WithFields(logrus.Fields{
		"index_backend": cfg.Index.Backend,
		"cache_enabled": cfg.Cache.Enabled,
		"cache_backend": cfg.Cache.Backend,
		"kafka_enabled": cfg.Kafka.Enabled,
	}).Info("Services initialized")

	return svc, nil
}

// Assemble wires the online and offline paths on top of the given components.
// Reads go through a circuit breaker; builders publish to the store directly.
func Assemble(cfg *config.Config, logger *logrus.Logger, c Components) *Services {
	reader := index.NewBreakerReader(c.Indexes, breakerSettings(cfg.Breaker), logger)

	candidates := NewCandidateGenerator(c.Interactions, reader, cfg.Candidates, logger)
	reranker := NewFusionReranker(cfg.Fusion)
	engine := NewRecommendationEngine(candidates, c.Items, reader, c.Indexes, reranker, c.Cache, cfg.Fusion, logger)

	builders := map[models.IndexKind]IndexBuilder{
		models.IndexKindCF:         NewCFSimilarityBuilder(c.Interactions, c.Indexes, cfg.CF, logger),
		models.IndexKindContent:    NewContentSimilarityBuilder(c.Items, c.Indexes, cfg.Content, logger),
		models.IndexKindPopularity: NewPopularityIndexBuilder(c.Interactions, c.Items, c.Indexes, cfg.Popularity, logger),
	}

	records := c.JobRecords
	if records == nil {
		records = NewMemoryJobStore()
	}
	jobs := NewJobManager(builders, records, c.JobArchive, c.Events, cfg.Jobs, logger)

	return &Services{
		Health:         NewHealthService(cfg, logger, c.DB, reader),
		Engine:         engine,
		Jobs:           jobs,
		Evaluator:      NewEvaluator(c.Interactions, c.Items, cfg, logger),
		Indexes:        c.Indexes,
		DefaultWeights: cfg.Fusion.Weights,
	}
}

func breakerSettings(cfg config.BreakerConfig) index.BreakerSettings {
	settings := index.DefaultBreakerSettings()
	if cfg.MaxRequests > 0 {
		settings.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		settings.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		settings.Timeout = cfg.Timeout
	}
	if cfg.MinRequests > 0 {
		settings.MinRequests = cfg.MinRequests
	}
	if cfg.FailureRatio > 0 {
		settings.FailureRatio = cfg.FailureRatio
	}
	return settings
}
