package handlers

import (
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/services"
)

type Handlers struct {
	Health         *HealthHandler
	Recommendation *RecommendationHandler
	Admin          *AdminHandler
}

func New(logger *logrus.Logger, services *services.Services) *Handlers {
	return &Handlers{
		Health:         NewHealthHandler(services.Health, services.Engine, logger),
		Recommendation: NewRecommendationHandler(services.Engine, services.DefaultWeights, logger),
		Admin:          NewAdminHandler(services.Engine, services.Jobs, services.Evaluator, logger),
	}
}
