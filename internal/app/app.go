package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/config"
	"github.com/temcen/fusionrec/internal/database"
	"github.com/temcen/fusionrec/internal/docs"
	"github.com/temcen/fusionrec/internal/handlers"
	"github.com/temcen/fusionrec/internal/messaging"
	"github.com/temcen/fusionrec/internal/middleware"
	"github.com/temcen/fusionrec/internal/services"
	"github.com/temcen/fusionrec/internal/supervisor"
	"github.com/temcen/fusionrec/internal/validation"
	"github.com/temcen/fusionrec/pkg/models"
)

type App struct {
	config    *config.Config
	logger    *logrus.Logger
	db        *database.Database
	validator *validation.SchemaValidator
	services  *services.Services
	handlers  *handlers.Handlers
	router    *gin.Engine
}

func New(cfg *config.Config) (*App, error) {
	app := &App{
		config: cfg,
		logger: NewLogger(cfg.Logging),
	}

	validator, err := validation.NewSchemaValidator()
	if err != nil {
		return nil, fmt.Errorf("failed to load JSON schemas: %w", err)
	}
	app.validator = validator

	db, err := database.New(cfg, app.logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.db = db

	svc, err := services.New(cfg, app.logger, db, NewCommandDecoder(validator))
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}
	app.services = svc
	app.handlers = handlers.New(app.logger, svc)
	app.router = NewRouter(cfg, app.logger, app.handlers, validator)

	return app, nil
}

func (a *App) Router() *gin.Engine {
	return a.router
}

func (a *App) Logger() *logrus.Logger {
	return a.logger
}

// Run starts the HTTP server, the rebuild schedules and the command
// consumer under one supervisor tree and blocks until ctx is cancelled.
func (a *App) Run(ctx context.Context) error {
	tree := supervisor.NewTree(a.logger, supervisor.DefaultTreeConfig())

	server := &http.Server{
		Addr:              ":" + a.config.Server.Port,
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	tree.AddAPIService(supervisor.NewHTTPService(server, 30*time.Second))
	tree.AddAPIService(supervisor.NewMetricsSampler(a.services.Health, 30*time.Second))

	if a.config.Jobs.Enabled {
		jobs := a.config.Jobs
		intervals := map[models.IndexKind]time.Duration{
			models.IndexKindCF:         jobs.CFInterval,
			models.IndexKindContent:    jobs.ContentInterval,
			models.IndexKindPopularity: jobs.PopularityInterval,
		}
		for _, kind := range models.IndexKinds() {
			tree.AddJobService(supervisor.NewRebuildScheduler(a.services.Jobs, kind, intervals[kind], jobs.BuildOnStart, a.logger))
		}
	}

	if a.services.EventBus != nil {
		tree.AddMessagingService(supervisor.NewRebuildConsumer(a.services.EventBus, a.services.Jobs, a.logger))
	}

	a.logger.WithFields(logrus.Fields{
		"port":         a.config.Server.Port,
		"jobs_enabled": a.config.Jobs.Enabled,
		"kafka":        a.services.EventBus != nil,
	}).Info("Server starting")

	err := tree.Serve(ctx)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("Shutting down application...")

	done := make(chan struct{})
	go func() {
		a.services.Jobs.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.logger.Warn("Index builds still running at shutdown")
	}

	var errs []error
	if a.services.EventBus != nil {
		if err := a.services.EventBus.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.db.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.WithError(err).Error("Error closing connections")
		return err
	}
	return nil
}

func NewLogger(cfg config.LoggingConfig) *logrus.Logger {
	logger := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}

	return logger
}

// NewCommandDecoder validates a rebuild command against its JSON schema
// before decoding it.
func NewCommandDecoder(validator *validation.SchemaValidator) messaging.CommandDecoder {
	return func(payload []byte) (models.RebuildCommand, error) {
		if result := validator.ValidateRebuildCommand(payload); !result.Valid {
			return models.RebuildCommand{}, fmt.Errorf("%w: %s", messaging.ErrInvalidCommand, result.Message())
		}
		return messaging.DecodeRebuildCommand(payload)
	}
}

func NewRouter(cfg *config.Config, logger *logrus.Logger, h *handlers.Handlers, validator *validation.SchemaValidator) *gin.Engine {
	if cfg.Server.Mode == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()

	router.Use(middleware.RequestID())
	router.Use(middleware.Logger(logger))
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.CORS(cfg))

	router.GET("/health", h.Health.Check)
	router.GET("/health/ready", h.Health.Ready)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	docs.NewHandler(docs.DocsConfig{
		Title:       "Hybrid Recommendation Fusion Engine",
		Description: "Fuses collaborative, content and popularity signals into ranked recommendations",
		Version:     "v1",
		BasePath:    "/api/v1",
	}, validator).RegisterRoutes(router)

	vm := middleware.NewValidationMiddleware(validator, cfg.Fusion.MaxK)

	api := router.Group("/api/v1")
	api.Use(vm.ValidateQueryParams())
	{
		recommendations := api.Group("/recommendations")
		{
			recommendations.GET("/:userId", h.Recommendation.Get)
			recommendations.POST("/:userId", vm.ValidateRecommendationRequest(), h.Recommendation.Post)
		}

		api.GET("/items/popular", h.Recommendation.Popular)
		api.GET("/items/:itemId/similar", h.Recommendation.Similar)
		api.GET("/users/:userId/purchases", h.Recommendation.Purchases)

		admin := api.Group("/admin")
		{
			admin.GET("/indexes/stats", h.Admin.IndexStats)
			admin.POST("/indexes/:kind/rebuild", h.Admin.Rebuild)
			admin.GET("/jobs/:jobId", h.Admin.GetJob)
			admin.POST("/evaluate", vm.ValidateEvaluationRequest(), h.Admin.Evaluate)
		}
	}

	return router
}
