package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/services"
	"github.com/temcen/fusionrec/pkg/models"
)

const (
	defaultK             = 10
	defaultPurchaseLimit = 5
)

type RecommendationHandler struct {
	engine         services.RecommendationEngineInterface
	defaultWeights models.Weights
	validator      *validator.Validate
	logger         *logrus.Logger
}

func NewRecommendationHandler(
	engine services.RecommendationEngineInterface,
	defaultWeights models.Weights,
	logger *logrus.Logger,
) *RecommendationHandler {
	return &RecommendationHandler{
		engine:         engine,
		defaultWeights: defaultWeights,
		validator:      validator.New(),
		logger:         logger,
	}
}

// Get serves GET /recommendations/:userId?k=&mode=.
func (h *RecommendationHandler) Get(c *gin.Context) {
	userID := c.Param("userId")

	k, ok := intQuery(c, "k", defaultK)
	if !ok {
		return
	}

	mode := models.RecommendationMode(c.DefaultQuery("mode", string(models.ModeHybrid)))
	h.respond(c, userID, k, mode, nil)
}

// Post serves POST /recommendations/:userId with weight overrides.
func (h *RecommendationHandler) Post(c *gin.Context) {
	userID := c.Param("userId")

	var request models.RecommendationRequest
	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", "Invalid JSON format"))
		return
	}
	if err := h.validator.Struct(&request); err != nil {
		respondError(c, h.logger, err, nil)
		return
	}

	mode := request.Mode
	if mode == "" {
		mode = models.ModeHybrid
	}

	var weights *models.Weights
	if request.Weights != nil {
		w := request.Weights.Apply(h.defaultWeights)
		weights = &w
	}
	h.respond(c, userID, request.K, mode, weights)
}

func (h *RecommendationHandler) respond(c *gin.Context, userID string, k int, mode models.RecommendationMode, weights *models.Weights) {
	var (
		result *models.RecommendationResult
		err    error
	)

	ctx := c.Request.Context()
	switch mode {
	case models.ModeHybrid:
		result, err = h.engine.GetHybridRecommendations(ctx, userID, k, weights)
	case models.ModeCF:
		result, err = h.engine.GetCFOnlyRecommendations(ctx, userID, k)
	case models.ModeContent:
		result, err = h.engine.GetContentOnlyRecommendations(ctx, userID, k)
	default:
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", "mode must be one of: hybrid, cf, content"))
		return
	}
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"user_id": userID, "mode": mode})
		return
	}

	c.JSON(http.StatusOK, result)
}

// Similar serves GET /items/:itemId/similar?k=&source=.
func (h *RecommendationHandler) Similar(c *gin.Context) {
	itemID := c.Param("itemId")

	k, ok := intQuery(c, "k", defaultK)
	if !ok {
		return
	}

	source, err := models.ParseCandidateSource(c.DefaultQuery("source", "cf"))
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", err.Error()))
		return
	}

	resp, err := h.engine.GetSimilarItems(c.Request.Context(), itemID, k, source)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"item_id": itemID, "source": source.String()})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Purchases serves GET /users/:userId/purchases?limit=.
func (h *RecommendationHandler) Purchases(c *gin.Context) {
	userID := c.Param("userId")

	limit, ok := intQuery(c, "limit", defaultPurchaseLimit)
	if !ok {
		return
	}

	resp, err := h.engine.GetUserPurchases(c.Request.Context(), userID, limit)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"user_id": userID})
		return
	}

	c.JSON(http.StatusOK, resp)
}

// Popular serves GET /items/popular?k=&category=. category may repeat.
func (h *RecommendationHandler) Popular(c *gin.Context) {
	k, ok := intQuery(c, "k", defaultK)
	if !ok {
		return
	}
	categories := c.QueryArray("category")

	resp, err := h.engine.GetPopularItems(c.Request.Context(), k, categories...)
	if err != nil {
		respondError(c, h.logger, err, logrus.Fields{"categories": categories})
		return
	}

	c.JSON(http.StatusOK, resp)
}

func intQuery(c *gin.Context, name string, fallback int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return fallback, true
	}
	parsed, err := strconv.Atoi(raw)
	if err != nil {
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", name+" must be an integer"))
		return 0, false
	}
	return parsed, true
}
