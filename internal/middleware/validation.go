package middleware

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/temcen/fusionrec/internal/validation"
)

// ValidationMiddleware checks bodies against JSON schemas and path/query
// parameters against their formats before a handler runs.
type ValidationMiddleware struct {
	validator *validation.SchemaValidator
	maxK      int
}

func NewValidationMiddleware(validator *validation.SchemaValidator, maxK int) *ValidationMiddleware {
	return &ValidationMiddleware{validator: validator, maxK: maxK}
}

func (vm *ValidationMiddleware) ValidateRecommendationRequest() gin.HandlerFunc {
	return vm.validateRequestBody(validation.SchemaRecommendationRequest)
}

func (vm *ValidationMiddleware) ValidateEvaluationRequest() gin.HandlerFunc {
	return vm.validateRequestBody(validation.SchemaEvaluationRequest)
}

// validateRequestBody creates a middleware that validates request body against a schema
func (vm *ValidationMiddleware) validateRequestBody(schemaName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.Method == http.MethodGet || c.Request.Method == http.MethodDelete {
			c.Next()
			return
		}

		bodyBytes, err := io.ReadAll(c.Request.Body)
		if err != nil {
			vm.sendValidationError(c, "Failed to read request body", nil)
			return
		}
		c.Request.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))

		if len(bodyBytes) == 0 {
			vm.sendValidationError(c, "Request body is required", nil)
			return
		}

		if !json.Valid(bodyBytes) {
			vm.sendValidationError(c, "Request body must be valid JSON", nil)
			return
		}

		result := vm.validator.ValidateJSON(schemaName, bodyBytes)
		if !result.Valid {
			apiError := result.ToAPIError()
			if errorObj, ok := apiError["error"].(map[string]interface{}); ok {
				errorObj["timestamp"] = time.Now().UTC().Format(time.RFC3339)
				errorObj["requestId"] = requestID(c)
				errorObj["path"] = c.Request.URL.Path
				errorObj["method"] = c.Request.Method
			}

			c.JSON(http.StatusBadRequest, apiError)
			c.Abort()
			return
		}

		c.Next()
	}
}

var (
	validModes   = []string{"hybrid", "cf", "content"}
	validSources = []string{"cf", "content"}
	validKinds   = []string{"cf", "content", "popularity"}
)

// ValidateQueryParams validates query parameters
func (vm *ValidationMiddleware) ValidateQueryParams() gin.HandlerFunc {
	return func(c *gin.Context) {
		errors := make([]validation.ValidationError, 0)

		if k := c.Query("k"); k != "" {
			if !vm.isValidPositiveInt(k, 1, vm.maxK) {
				errors = append(errors, validation.ValidationError{
					Field:   "k",
					Message: fmt.Sprintf("k must be an integer between 1 and %d", vm.maxK),
					Code:    "INVALID_QUERY_PARAM",
					Value:   k,
				})
			}
		}

		if limit := c.Query("limit"); limit != "" && !vm.isValidPositiveInt(limit, 1, vm.maxK) {
			errors = append(errors, validation.ValidationError{
				Field:   "limit",
				Message: fmt.Sprintf("limit must be an integer between 1 and %d", vm.maxK),
				Code:    "INVALID_QUERY_PARAM",
				Value:   limit,
			})
		}

		for _, category := range c.QueryArray("category") {
			if category == "" || len(category) > 100 {
				errors = append(errors, validation.ValidationError{
					Field:   "category",
					Message: "category must be 1-100 characters",
					Code:    "INVALID_QUERY_PARAM",
					Value:   category,
				})
			}
		}

		if mode := c.Query("mode"); mode != "" && !vm.isValidEnum(mode, validModes) {
			errors = append(errors, validation.ValidationError{
				Field:   "mode",
				Message: fmt.Sprintf("mode must be one of: %s", strings.Join(validModes, ", ")),
				Code:    "INVALID_QUERY_PARAM",
				Value:   mode,
			})
		}

		if source := c.Query("source"); source != "" && !vm.isValidEnum(source, validSources) {
			errors = append(errors, validation.ValidationError{
				Field:   "source",
				Message: fmt.Sprintf("source must be one of: %s", strings.Join(validSources, ", ")),
				Code:    "INVALID_QUERY_PARAM",
				Value:   source,
			})
		}

		for _, param := range []string{"userId", "itemId"} {
			if id := c.Param(param); id != "" && !vm.isValidID(id) {
				errors = append(errors, validation.ValidationError{
					Field:   param,
					Message: "identifier must be 1-100 alphanumeric characters, hyphens, underscores or dots",
					Code:    "INVALID_PATH_PARAM",
					Value:   id,
				})
			}
		}

		if jobID := c.Param("jobId"); jobID != "" && !vm.isValidUUID(jobID) {
			errors = append(errors, validation.ValidationError{
				Field:   "jobId",
				Message: "Job ID must be a valid UUID",
				Code:    "INVALID_PATH_PARAM",
				Value:   jobID,
			})
		}

		if kind := c.Param("kind"); kind != "" && !vm.isValidEnum(kind, validKinds) {
			errors = append(errors, validation.ValidationError{
				Field:   "kind",
				Message: fmt.Sprintf("kind must be one of: %s", strings.Join(validKinds, ", ")),
				Code:    "INVALID_PATH_PARAM",
				Value:   kind,
			})
		}

		if len(errors) > 0 {
			vm.sendValidationErrors(c, errors)
			return
		}

		c.Next()
	}
}

func (vm *ValidationMiddleware) isValidPositiveInt(value string, min, max int) bool {
	num, err := strconv.Atoi(value)
	if err != nil {
		return false
	}
	return num >= min && num <= max
}

func (vm *ValidationMiddleware) isValidUUID(value string) bool {
	_, err := uuid.Parse(value)
	return err == nil
}

func (vm *ValidationMiddleware) isValidID(value string) bool {
	if len(value) == 0 || len(value) > 100 {
		return false
	}
	for _, char := range value {
		if !((char >= 'a' && char <= 'z') ||
			(char >= 'A' && char <= 'Z') ||
			(char >= '0' && char <= '9') ||
			char == '-' || char == '_' || char == '.') {
			return false
		}
	}
	return true
}

func (vm *ValidationMiddleware) isValidEnum(value string, validValues []string) bool {
	for _, valid := range validValues {
		if value == valid {
			return true
		}
	}
	return false
}

func requestID(c *gin.Context) string {
	if id := c.GetString(requestIDKey); id != "" {
		return id
	}
	return uuid.New().String()
}

func (vm *ValidationMiddleware) sendValidationError(c *gin.Context, message string, details map[string]interface{}) {
	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":      "INVALID_REQUEST",
			"message":   message,
			"details":   details,
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"requestId": requestID(c),
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
		},
	}

	c.JSON(http.StatusBadRequest, errorResponse)
	c.Abort()
}

func (vm *ValidationMiddleware) sendValidationErrors(c *gin.Context, errors []validation.ValidationError) {
	fieldErrors := make(map[string][]string)
	for _, err := range errors {
		if err.Field != "" {
			fieldErrors[err.Field] = append(fieldErrors[err.Field], err.Message)
		}
	}

	errorResponse := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "INVALID_REQUEST",
			"message": errors[0].Message,
			"details": map[string]interface{}{
				"validationErrors": errors,
				"fieldErrors":      fieldErrors,
			},
			"timestamp": time.Now().UTC().Format(time.RFC3339),
			"requestId": requestID(c),
			"path":      c.Request.URL.Path,
			"method":    c.Request.Method,
		},
	}

	c.JSON(http.StatusBadRequest, errorResponse)
	c.Abort()
}
