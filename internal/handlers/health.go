package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/services"
	"github.com/temcen/fusionrec/pkg/models"
)

type IndexStatsReader interface {
	GetIndexStats(ctx context.Context) (*models.IndexStats, error)
}

// HealthHandler reports dependency health for /health and serving
// readiness for /health/ready.
type HealthHandler struct {
	health  *services.HealthService
	indexes IndexStatsReader
	logger  *logrus.Logger
}

func NewHealthHandler(health *services.HealthService, indexes IndexStatsReader, logger *logrus.Logger) *HealthHandler {
	return &HealthHandler{
		health:  health,
		indexes: indexes,
		logger:  logger,
	}
}

func (h *HealthHandler) Check(c *gin.Context) {
	status := h.health.CheckHealth(c.Request.Context())
	c.JSON(healthStatusCode(status.Status), status)
}

// Ready answers 200 once a popularity generation is active, which is
// the minimum every fallback path needs.
func (h *HealthHandler) Ready(c *gin.Context) {
	stats, err := h.indexes.GetIndexStats(c.Request.Context())
	if err != nil {
		h.logger.WithError(err).Warn("Readiness check could not read index stats")
		c.JSON(http.StatusServiceUnavailable, gin.H{"ready": false, "reason": "index stats unavailable"})
		return
	}

	generations := make(map[models.IndexKind]uint64)
	for _, g := range []*models.GenerationStats{stats.CF, stats.Content, stats.Popularity} {
		if g != nil {
			generations[g.Kind] = g.GenerationID
		}
	}

	if stats.Popularity == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ready":       false,
			"reason":      "no popularity generation",
			"generations": generations,
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ready": true, "generations": generations})
}

func healthStatusCode(status string) int {
	switch status {
	case "healthy", "degraded":
		return http.StatusOK
	case "unhealthy":
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}
