package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/temcen/fusionrec/internal/services"
	"github.com/temcen/fusionrec/pkg/models"
)

type MockJobService struct {
	mock.Mock
}

func (m *MockJobService) Submit(ctx context.Context, kind models.IndexKind, trigger string) (*models.JobProgress, error) {
	args := m.Called(ctx, kind, trigger)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JobProgress), args.Error(1)
}

func (m *MockJobService) GetJob(ctx context.Context, jobID uuid.UUID) (*models.JobProgress, error) {
	args := m.Called(ctx, jobID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.JobProgress), args.Error(1)
}

type MockEvaluationService struct {
	mock.Mock
}

func (m *MockEvaluationService) Evaluate(ctx context.Context, req models.EvaluationConfig) (*models.EvaluationReport, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*models.EvaluationReport), args.Error(1)
}

func setupAdminRouter(engine *MockRecommendationEngine, jobs *MockJobService, evaluator *MockEvaluationService) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewAdminHandler(engine, jobs, evaluator, testLogger())

	router := gin.New()
	router.GET("/admin/indexes", handler.IndexStats)
	router.POST("/admin/indexes/:kind/rebuild", handler.Rebuild)
	router.GET("/admin/jobs/:jobId", handler.GetJob)
	router.POST("/admin/evaluate", handler.Evaluate)
	return router
}

func TestAdminHandler_Rebuild(t *testing.T) {
	t.Run("queues job", func(t *testing.T) {
		jobs := new(MockJobService)
		job := &models.JobProgress{
			JobID:  uuid.New(),
			Kind:   models.IndexKindCF,
			Status: models.JobStatusQueued,
		}
		jobs.On("Submit", mock.Anything, models.IndexKindCF, "api").Return(job, nil)

		router := setupAdminRouter(new(MockRecommendationEngine), jobs, new(MockEvaluationService))
		req := httptest.NewRequest(http.MethodPost, "/admin/indexes/cf/rebuild", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusAccepted, w.Code)

		var got models.JobProgress
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
		assert.Equal(t, job.JobID, got.JobID)
		jobs.AssertExpectations(t)
	})

	t.Run("unknown kind", func(t *testing.T) {
		jobs := new(MockJobService)
		router := setupAdminRouter(new(MockRecommendationEngine), jobs, new(MockEvaluationService))
		req := httptest.NewRequest(http.MethodPost, "/admin/indexes/graph/rebuild", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusBadRequest, w.Code)
		jobs.AssertNotCalled(t, "Submit", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("build already running", func(t *testing.T) {
		jobs := new(MockJobService)
		jobs.On("Submit", mock.Anything, models.IndexKindPopularity, "api").Return(nil, services.ErrBuildInProgress)

		router := setupAdminRouter(new(MockRecommendationEngine), jobs, new(MockEvaluationService))
		req := httptest.NewRequest(http.MethodPost, "/admin/indexes/popularity/rebuild", nil)
		w := httptest.NewRecorder()
		router.ServeHTTP(w, req)

		assert.Equal(t, http.StatusConflict, w.Code)
	})
}

func TestAdminHandler_GetJob(t *testing.T) {
	jobs := new(MockJobService)
	known := uuid.New()
	missing := uuid.New()
	jobs.On("GetJob", mock.Anything, known).Return(&models.JobProgress{JobID: known, Kind: models.IndexKindContent, Status: models.JobStatusCompleted}, nil)
	jobs.On("GetJob", mock.Anything, missing).Return(nil, services.ErrJobNotFound)

	router := setupAdminRouter(new(MockRecommendationEngine), jobs, new(MockEvaluationService))

	tests := []struct {
		name           string
		path           string
		expectedStatus int
	}{
		{"found", "/admin/jobs/" + known.String(), http.StatusOK},
		{"missing", "/admin/jobs/" + missing.String(), http.StatusNotFound},
		{"malformed id", "/admin/jobs/not-a-uuid", http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			w := httptest.NewRecorder()
			router.ServeHTTP(w, req)
			assert.Equal(t, tt.expectedStatus, w.Code)
		})
	}
}

func TestAdminHandler_IndexStats(t *testing.T) {
	engine := new(MockRecommendationEngine)
	engine.On("GetIndexStats", mock.Anything).Return(&models.IndexStats{}, nil)

	router := setupAdminRouter(engine, new(MockJobService), new(MockEvaluationService))
	req := httptest.NewRequest(http.MethodGet, "/admin/indexes", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	engine.AssertExpectations(t)
}

func TestAdminHandler_Evaluate(t *testing.T) {
	cutoff := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

	evaluator := new(MockEvaluationService)
	evaluator.On("Evaluate", mock.Anything, mock.MatchedBy(func(cfg models.EvaluationConfig) bool {
		return cfg.Cutoff.Equal(cutoff) && cfg.K == 10
	})).Return(&models.EvaluationReport{
		Cutoff:      cutoff,
		K:           10,
		Hybrid:      models.MetricSet{HitRate: 0.4, Users: 10, Hits: 4},
		Popularity:  models.MetricSet{HitRate: 0.2, Users: 10, Hits: 2},
		HitRateLift: 1.0,
	}, nil)

	router := setupAdminRouter(new(MockRecommendationEngine), new(MockJobService), evaluator)

	body, _ := json.Marshal(map[string]interface{}{"cutoff": cutoff, "k": 10})
	req := httptest.NewRequest(http.MethodPost, "/admin/evaluate", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var report models.EvaluationReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.InDelta(t, 1.0, report.HitRateLift, 1e-9)
	evaluator.AssertExpectations(t)
}

func TestAdminHandler_EvaluateRejectsMissingCutoff(t *testing.T) {
	evaluator := new(MockEvaluationService)
	router := setupAdminRouter(new(MockRecommendationEngine), new(MockJobService), evaluator)

	req := httptest.NewRequest(http.MethodPost, "/admin/evaluate", bytes.NewBufferString(`{"k":10}`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	evaluator.AssertNotCalled(t, "Evaluate", mock.Anything, mock.Anything)
}
