package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/sirupsen/logrus"

	"github.com/temcen/fusionrec/internal/services"
)

func errorBody(code, message string) gin.H {
	return gin.H{
		"error": gin.H{
			"code":    code,
			"message": message,
		},
	}
}

// respondError maps service errors onto HTTP status codes. Unexpected errors
// are logged and reported without detail.
func respondError(c *gin.Context, logger *logrus.Logger, err error, fields logrus.Fields) {
	var (
		validationErr *services.ValidationError
		fieldErrs     validator.ValidationErrors
	)

	switch {
	case errors.As(err, &validationErr):
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", validationErr.Error()))
	case errors.As(err, &fieldErrs):
		c.JSON(http.StatusBadRequest, errorBody("INVALID_REQUEST", fieldErrs.Error()))
	case errors.Is(err, services.ErrItemNotFound):
		c.JSON(http.StatusNotFound, errorBody("ITEM_NOT_FOUND", "Item not found"))
	case errors.Is(err, services.ErrJobNotFound):
		c.JSON(http.StatusNotFound, errorBody("JOB_NOT_FOUND", "Job not found"))
	case errors.Is(err, services.ErrBuildInProgress):
		c.JSON(http.StatusConflict, errorBody("BUILD_IN_PROGRESS", err.Error()))
	default:
		logger.WithError(err).WithFields(fields).Error("Request failed")
		c.JSON(http.StatusInternalServerError, errorBody("INTERNAL_SERVER_ERROR", "Internal server error"))
	}
}
