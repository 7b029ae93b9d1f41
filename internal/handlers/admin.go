package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/services"
	"github.com/temcen/fusionrec/pkg/models"
)

// AdminHandler exposes index maintenance and offline evaluation.
type AdminHandler struct {
	engine    services.RecommendationEngineInterface
	jobs      services.JobService
	evaluator services.EvaluationService
	validator *validator.Validate
	logger    *logrus.Logger
}

func NewAdminHandler(
	engine services.RecommendationEngineInterface,
	jobs services.JobService,
	evaluator services.EvaluationService,
	logger *logrus.Logger,
) *AdminHandler {
	return &AdminHandler{
		engine:    engine,
		jobs:      jobs,
		evaluator: evaluator,
		validator: validator.New(),
		logger:    logger,
	}
}

func (h *AdminHandler) IndexStats(c *gin.Context) {
	stats, err := h.engine.GetIndexStats(c.Request.Context())
	if err != nil {
		respondError(c, h.logger, err, nil)
		return
	}
	c.JSON(http.StatusOK, stats)
}

// Rebuild queues a rebuild of the index named by :kind and answers 202 with
// the job record.
func (h *AdminHandler) Rebuild(c *gin.Context) {
	kind := models.IndexKind(c.Param("kind"))
	if !kind.Valid() {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", "kind must be one of: cf, content, popularity"))
		return
	}

	job, err := h.jobs.Submit(c.Request.Context(), kind, "api")
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"kind": kind})
		return
	}

	h.logger.WithFields(logrus.Fields{
		"job_id": job.JobID,
		"kind":   kind,
	}).Info("Index rebuild queued")

	c.JSON(http.StatusAccepted, job)
}

func (h *AdminHandler) GetJob(c *gin.Context) {
	jobID, err := uuid.Parse(c.Param("jobId"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", "Job ID must be a valid UUID"))
		return
	}

	job, err := h.jobs.GetJob(c.Request.Context(), jobID)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"job_id": jobID})
		return
	}
	c.JSON(http.StatusOK, job)
}

func (h *AdminHandler) Evaluate(c *gin.Context) {
	var request models.EvaluationConfig
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", "Invalid JSON format"))
		return
	}
	if err := h.validator.Struct(&request); err != nil {
		respondError(c, h.logger, err, nil)
		return
	}

	report, err := h.evaluator.Evaluate(c.Request.Context(), request)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"cutoff": request.Cutoff})
		return
	}
	c.JSON(http.StatusOK, report)
}
