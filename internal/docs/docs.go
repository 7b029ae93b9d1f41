package docs

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/temcen/fusionrec/internal/validation"
)

type DocsConfig struct {
	Title       string
	Description string
	Version     string
	BasePath    string
}

// Endpoint describes one route of the public API.
type Endpoint struct {
	Method      string `json:"method"`
	Path        string `json:"path"`
	Description string `json:"description"`
	Schema      string `json:"schema,omitempty"`
	Example     string `json:"example,omitempty"`
}

type SchemaInfo struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Handler serves a machine-readable index of the API and the JSON schemas
// request bodies are validated against.
type Handler struct {
	config    DocsConfig
	validator *validation.SchemaValidator
}

func NewHandler(config DocsConfig, validator *validation.SchemaValidator) *Handler {
	return &Handler{config: config, validator: validator}
}

func (h *Handler) RegisterRoutes(router gin.IRouter) {
	docs := router.Group("/docs")
	{
		docs.GET("", h.Index)
		docs.GET("/schemas", h.Schemas)
		docs.GET("/schemas/:name", h.Schema)
	}
}

func (h *Handler) Index(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"title":       h.config.Title,
		"description": h.config.Description,
		"version":     h.config.Version,
		"base_path":   h.config.BasePath,
		"endpoints":   Endpoints(h.config.BasePath),
		"schemas":     h.schemaInfos(),
	})
}

func (h *Handler) Schemas(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"schemas": h.schemaInfos()})
}

func (h *Handler) Schema(c *gin.Context) {
	raw, ok := h.validator.RawSchema(c.Param("name"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{
			"error": gin.H{
				"code":    "SCHEMA_NOT_FOUND",
				"message": "Unknown schema " + c.Param("name"),
			},
		})
		return
	}
	c.Data(http.StatusOK, "application/schema+json", raw)
}

func (h *Handler) schemaInfos() []SchemaInfo {
	names := h.validator.GetAvailableSchemas()
	infos := make([]SchemaInfo, 0, len(names))
	for _, name := range names {
		infos = append(infos, SchemaInfo{Name: name, URL: "/docs/schemas/" + name})
	}
	return infos
}

// Endpoints lists the routes mounted under basePath.
func Endpoints(basePath string) []Endpoint {
	return []Endpoint{
		{
			Method:      http.MethodGet,
			Path:        basePath + "/recommendations/:userId",
			Description: "Top-k recommendations. Query: k (1-100, default 10), mode (hybrid|cf|content)",
			Example:     basePath + "/recommendations/u-42?k=5&mode=hybrid",
		},
		{
			Method:      http.MethodPost,
			Path:        basePath + "/recommendations/:userId",
			Description: "Hybrid recommendations with per-request fusion weight overrides",
			Schema:      validation.SchemaRecommendationRequest,
			Example:     `{"k": 5, "weights": {"cf": 0.5, "popularity": 0.2}}`,
		},
		{
			Method:      http.MethodGet,
			Path:        basePath + "/items/:itemId/similar",
			Description: "Neighbors of an item from the CF or content index. Query: k, source (cf|content)",
		},
		{
			Method:      http.MethodGet,
			Path:        basePath + "/items/popular",
			Description: "Head of the active popularity generation. Query: k, category (repeatable)",
			Example:     basePath + "/items/popular?k=10&category=shoes",
		},
		{
			Method:      http.MethodGet,
			Path:        basePath + "/users/:userId/purchases",
			Description: "Most recent purchases of a user with days_ago, quantity and amount. Query: limit (default 5)",
		},
		{
			Method:      http.MethodGet,
			Path:        basePath + "/admin/indexes/stats",
			Description: "Active generation statistics for every index",
		},
		{
			Method:      http.MethodPost,
			Path:        basePath + "/admin/indexes/:kind/rebuild",
			Description: "Queue a rebuild of cf, content or popularity; answers 202 with the job",
		},
		{
			Method:      http.MethodGet,
			Path:        basePath + "/admin/jobs/:jobId",
			Description: "Status and build result of a rebuild job",
		},
		{
			Method:      http.MethodPost,
			Path:        basePath + "/admin/evaluate",
			Description: "Temporal holdout evaluation of hybrid against popularity",
			Schema:      validation.SchemaEvaluationRequest,
			Example:     `{"cutoff": "2024-05-01T00:00:00Z", "k": 10}`,
		},
		{
			Method:      http.MethodGet,
			Path:        "/health",
			Description: "Dependency health; 503 when a critical dependency is down",
		},
		{
			Method:      http.MethodGet,
			Path:        "/health/ready",
			Description: "Serving readiness; 503 until a popularity generation is active",
		},
		{
			Method:      http.MethodGet,
			Path:        "/metrics",
			Description: "Prometheus metrics",
		},
	}
}
