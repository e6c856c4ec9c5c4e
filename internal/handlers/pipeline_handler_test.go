package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/onehaven/haven/api/internal/logger"
	"github.com/onehaven/haven/api/internal/models"
	"github.com/onehaven/haven/api/internal/repository"
	"github.com/onehaven/haven/api/internal/services"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockPipelineService is a mock implementation of services.PipelineService.
type mockPipelineService struct {
	mock.Mock
}

func (m *mockPipelineService) EnrichSnapshot(ctx context.Context, snapshotID uint, limit int) (*services.EnrichReport, error) {
	args := m.Called(ctx, snapshotID, limit)
	if report := args.Get(0); report != nil {
		return report.(*services.EnrichReport), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPipelineService) ExplainSnapshot(ctx context.Context, snapshotID uint, strategy string, limit int, persist bool) (*services.ExplainReport, error) {
	args := m.Called(ctx, snapshotID, strategy, limit, persist)
	if report := args.Get(0); report != nil {
		return report.(*services.ExplainReport), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPipelineService) EvaluateSnapshot(ctx context.Context, snapshotID uint, strategy string, limit int) (*services.EvaluateReport, error) {
	args := m.Called(ctx, snapshotID, strategy, limit)
	if report := args.Get(0); report != nil {
		return report.(*services.EvaluateReport), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockPipelineService) Results(ctx context.Context, snapshotID uint, decisionFilter *string, limit int) ([]models.UnderwritingResult, error) {
	args := m.Called(ctx, snapshotID, decisionFilter, limit)
	return args.Get(0).([]models.UnderwritingResult), args.Error(1)
}

func (m *mockPipelineService) Survivors(ctx context.Context, f repository.SurvivorFilter) ([]repository.SurvivorRow, error) {
	args := m.Called(ctx, f)
	return args.Get(0).([]repository.SurvivorRow), args.Error(1)
}

// stubBudgetRepo backs a real BudgetTracker in handler tests.
type stubBudgetRepo struct {
	used int
}

func (s *stubBudgetRepo) UsedToday(ctx context.Context, provider string) (int, error) {
	return s.used, nil
}

func (s *stubBudgetRepo) Increment(ctx context.Context, provider string, calls int) error {
	return nil
}

func setupPipelineRouter(svc services.PipelineService, usedCalls int) *gin.Engine {
	gin.SetMode(gin.TestMode)

	budget := services.NewBudgetTracker(&stubBudgetRepo{used: usedCalls}, "rentcast", 40, logger.New("production"))
	handler := NewPipelineHandler(svc, budget)

	router := gin.New()
	v1 := router.Group("/api/v1")
	pipeline := v1.Group("/pipeline")
	pipeline.POST("/enrich", handler.Enrich)
	pipeline.POST("/explain", handler.Explain)
	pipeline.POST("/evaluate", handler.Evaluate)
	v1.GET("/results", handler.Results)
	v1.GET("/survivors", handler.Survivors)
	v1.GET("/budget/:provider", handler.Budget)
	return router
}

func postJSON(router *gin.Engine, path string, body interface{}) *httptest.ResponseRecorder {
	payload, _ := json.Marshal(body)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestPipelineHandler_Enrich(t *testing.T) {
	svc := new(mockPipelineService)
	svc.On("EnrichSnapshot", mock.Anything, uint(1), 0).Return(&services.EnrichReport{
		Requested:    5,
		Enriched:     3,
		StoppedEarly: true,
		StopReason:   services.StopReasonBudget,
	}, nil)

	router := setupPipelineRouter(svc, 0)
	w := postJSON(router, "/api/v1/pipeline/enrich", gin.H{"snapshot_id": 1})

	require.Equal(t, http.StatusOK, w.Code)

	var report services.EnrichReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 3, report.Enriched)
	assert.True(t, report.StoppedEarly)
	assert.Equal(t, services.StopReasonBudget, report.StopReason)
}

func TestPipelineHandler_Enrich_MissingSnapshotID(t *testing.T) {
	svc := new(mockPipelineService)
	router := setupPipelineRouter(svc, 0)

	w := postJSON(router, "/api/v1/pipeline/enrich", gin.H{"limit": 10})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "EnrichSnapshot", mock.Anything, mock.Anything, mock.Anything)
}

func TestPipelineHandler_Enrich_UnknownSnapshot(t *testing.T) {
	svc := new(mockPipelineService)
	svc.On("EnrichSnapshot", mock.Anything, uint(99), 0).Return(nil, services.ErrNoDeals)

	router := setupPipelineRouter(svc, 0)
	w := postJSON(router, "/api/v1/pipeline/enrich", gin.H{"snapshot_id": 99})

	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPipelineHandler_Explain_PassesPersistFlag(t *testing.T) {
	svc := new(mockPipelineService)
	svc.On("ExplainSnapshot", mock.Anything, uint(1), "", 0, true).Return(&services.ExplainReport{
		Persisted: true,
		Rows:      []services.ExplainRow{},
	}, nil)

	router := setupPipelineRouter(svc, 0)
	w := postJSON(router, "/api/v1/pipeline/explain", gin.H{"snapshot_id": 1, "persist": true})

	require.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestPipelineHandler_Evaluate(t *testing.T) {
	svc := new(mockPipelineService)
	svc.On("EvaluateSnapshot", mock.Anything, uint(1), "", 0).Return(&services.EvaluateReport{
		Evaluated: 9,
		Passed:    2,
		Review:    3,
		Rejected:  4,
		Failed:    1,
		Errors:    []services.RowError{{DealID: 5, Error: "invalid asking price for deal 5"}},
	}, nil)

	router := setupPipelineRouter(svc, 0)
	w := postJSON(router, "/api/v1/pipeline/evaluate", gin.H{"snapshot_id": 1})

	require.Equal(t, http.StatusOK, w.Code)

	var report services.EvaluateReport
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &report))
	assert.Equal(t, 9, report.Evaluated)
	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, uint(5), report.Errors[0].DealID)
}

func TestPipelineHandler_Results_DecisionFilter(t *testing.T) {
	svc := new(mockPipelineService)
	pass := "PASS"
	svc.On("Results", mock.Anything, uint(1), &pass, 0).Return([]models.UnderwritingResult{}, nil)

	router := setupPipelineRouter(svc, 0)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/results?snapshot_id=1&decision=PASS", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	svc.AssertExpectations(t)
}

func TestPipelineHandler_Results_UnboundedRatiosEncodeAsNull(t *testing.T) {
	svc := new(mockPipelineService)
	svc.On("Results", mock.Anything, uint(1), (*string)(nil), 0).Return([]models.UnderwritingResult{
		{
			DealID:              4,
			Decision:            "REVIEW",
			Score:               60,
			Reasons:             []string{"no debt service"},
			DSCR:                models.UnboundedRatio(),
			CashOnCash:          models.UnboundedRatio(),
			BreakEvenRent:       models.Ratio(812.50),
			MinRentForTargetROI: models.UnboundedRatio(),
		},
	}, nil)

	router := setupPipelineRouter(svc, 0)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/results?snapshot_id=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	// An all-cash deal must not break the JSON response.
	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.Bytes())

	var body struct {
		Results []map[string]interface{} `json:"results"`
		Count   int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Equal(t, 1, body.Count)
	assert.Nil(t, body.Results[0]["dscr"])
	assert.Nil(t, body.Results[0]["cash_on_cash"])
	assert.Nil(t, body.Results[0]["min_rent_for_target_roi"])
	assert.Equal(t, 812.50, body.Results[0]["break_even_rent"])
}

func TestPipelineHandler_Survivors_UnboundedDSCREncodesAsNull(t *testing.T) {
	svc := new(mockPipelineService)
	svc.On("Survivors", mock.Anything, mock.Anything).Return([]repository.SurvivorRow{
		{DealID: 8, Decision: "PASS", Score: 75, DSCR: models.UnboundedRatio(), CashFlow: 520},
	}, nil)

	router := setupPipelineRouter(svc, 0)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/survivors?snapshot_id=1", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.NotEmpty(t, w.Body.Bytes())

	var body struct {
		Survivors []map[string]interface{} `json:"survivors"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.Len(t, body.Survivors, 1)
	assert.Nil(t, body.Survivors[0]["dscr"])
	assert.Equal(t, 520.0, body.Survivors[0]["cash_flow"])
}

func TestPipelineHandler_Results_InvalidDecision(t *testing.T) {
	svc := new(mockPipelineService)
	router := setupPipelineRouter(svc, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/results?snapshot_id=1&decision=MAYBE", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	svc.AssertNotCalled(t, "Results", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestPipelineHandler_Survivors(t *testing.T) {
	svc := new(mockPipelineService)
	svc.On("Survivors", mock.Anything, repository.SurvivorFilter{
		SnapshotID:  1,
		MinDSCR:     1.2,
		MinCashFlow: 200,
		Limit:       10,
	}).Return([]repository.SurvivorRow{
		{DealID: 3, Address: "123 Main St", Decision: "PASS", Score: 78, DSCR: 1.5, CashFlow: 420},
	}, nil)

	router := setupPipelineRouter(svc, 0)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/survivors?snapshot_id=1&min_dscr=1.2&min_cashflow=200&limit=10", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body struct {
		Survivors []repository.SurvivorRow `json:"survivors"`
		Count     int                      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
	assert.Equal(t, uint(3), body.Survivors[0].DealID)
}

func TestPipelineHandler_Budget(t *testing.T) {
	svc := new(mockPipelineService)
	router := setupPipelineRouter(svc, 12)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/budget/rentcast", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)

	var body BudgetResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rentcast", body.Provider)
	assert.Equal(t, 12, body.Used)
	assert.Equal(t, 40, body.Quota)
}

func TestPipelineHandler_Budget_UnknownProvider(t *testing.T) {
	svc := new(mockPipelineService)
	router := setupPipelineRouter(svc, 0)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/budget/zillow", nil)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotFound, w.Code)
}
