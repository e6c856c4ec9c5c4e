package handlers

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"github.com/onehaven/haven/api/internal/errors"
	"github.com/onehaven/haven/api/internal/repository"
	"github.com/onehaven/haven/api/internal/services"
)

// PipelineHandler exposes the batch pipeline stages and their read views
// over HTTP.
type PipelineHandler struct {
	service services.PipelineService
	budget  *services.BudgetTracker
}

// NewPipelineHandler creates a new PipelineHandler instance.
func NewPipelineHandler(service services.PipelineService, budget *services.BudgetTracker) *PipelineHandler {
	return &PipelineHandler{
		service: service,
		budget:  budget,
	}
}

// EnrichRequest is the body for POST /api/v1/pipeline/enrich.
type EnrichRequest struct {
	SnapshotID uint `json:"snapshot_id" binding:"required,gt=0"`
	Limit      int  `json:"limit" binding:"omitempty,gt=0"`
}

// ExplainRequest is the body for POST /api/v1/pipeline/explain. Strategy,
// when set, overrides each deal's stored strategy for the whole batch.
type ExplainRequest struct {
	SnapshotID uint   `json:"snapshot_id" binding:"required,gt=0"`
	Strategy   string `json:"strategy" binding:"omitempty,oneof=section8 market"`
	Limit      int    `json:"limit" binding:"omitempty,gt=0"`
	Persist    bool   `json:"persist"`
}

// EvaluateRequest is the body for POST /api/v1/pipeline/evaluate.
type EvaluateRequest struct {
	SnapshotID uint   `json:"snapshot_id" binding:"required,gt=0"`
	Strategy   string `json:"strategy" binding:"omitempty,oneof=section8 market"`
	Limit      int    `json:"limit" binding:"omitempty,gt=0"`
}

// ResultsQuery is the query string for GET /api/v1/results.
type ResultsQuery struct {
	SnapshotID uint   `form:"snapshot_id" binding:"required,gt=0"`
	Decision   string `form:"decision" binding:"omitempty,oneof=PASS REVIEW REJECT"`
	Limit      int    `form:"limit" binding:"omitempty,gt=0,lte=500"`
}

// SurvivorsQuery is the query string for GET /api/v1/survivors.
type SurvivorsQuery struct {
	SnapshotID  uint    `form:"snapshot_id" binding:"required,gt=0"`
	MinDSCR     float64 `form:"min_dscr" binding:"omitempty,gt=0"`
	MinCashFlow float64 `form:"min_cashflow"`
	Limit       int     `form:"limit" binding:"omitempty,gt=0,lte=500"`
}

// BudgetResponse reports provider budget consumption.
type BudgetResponse struct {
	Provider string `json:"provider"`
	Used     int    `json:"used"`
	Quota    int    `json:"quota"`
}

// Enrich handles POST /api/v1/pipeline/enrich.
// Fetches missing rent signals for a snapshot's properties, stopping cleanly
// when the daily provider budget runs out.
func (h *PipelineHandler) Enrich(c *gin.Context) {
	var req EnrichRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindingError(c, err)
		return
	}

	report, err := h.service.EnrichSnapshot(c.Request.Context(), req.SnapshotID, req.Limit)
	if err != nil {
		if stderrors.Is(err, services.ErrNoDeals) {
			errors.NotFound(c, "No deals found for snapshot")
			return
		}
		errors.InternalServerError(c, "Failed to enrich snapshot", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Explain handles POST /api/v1/pipeline/explain.
// Returns the rent resolution trace for every deal of a snapshot; with
// persist set each row also appends an audit record.
func (h *PipelineHandler) Explain(c *gin.Context) {
	var req ExplainRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindingError(c, err)
		return
	}

	report, err := h.service.ExplainSnapshot(c.Request.Context(), req.SnapshotID, req.Strategy, req.Limit, req.Persist)
	if err != nil {
		if stderrors.Is(err, services.ErrNoDeals) {
			errors.NotFound(c, "No deals found for snapshot")
			return
		}
		errors.InternalServerError(c, "Failed to explain snapshot", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Evaluate handles POST /api/v1/pipeline/evaluate.
// Underwrites and classifies every deal of a snapshot, appending one result
// row per deal.
func (h *PipelineHandler) Evaluate(c *gin.Context) {
	var req EvaluateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		handleBindingError(c, err)
		return
	}

	report, err := h.service.EvaluateSnapshot(c.Request.Context(), req.SnapshotID, req.Strategy, req.Limit)
	if err != nil {
		if stderrors.Is(err, services.ErrNoDeals) {
			errors.NotFound(c, "No deals found for snapshot")
			return
		}
		errors.InternalServerError(c, "Failed to evaluate snapshot", err)
		return
	}

	c.JSON(http.StatusOK, report)
}

// Results handles GET /api/v1/results.
// Returns the latest underwriting result per deal of a snapshot, optionally
// filtered by decision.
func (h *PipelineHandler) Results(c *gin.Context) {
	var q ResultsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handleBindingError(c, err)
		return
	}

	var decisionFilter *string
	if q.Decision != "" {
		decisionFilter = &q.Decision
	}

	results, err := h.service.Results(c.Request.Context(), q.SnapshotID, decisionFilter, q.Limit)
	if err != nil {
		errors.InternalServerError(c, "Failed to list results", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"results": results, "count": len(results)})
}

// Survivors handles GET /api/v1/survivors.
// Returns passing deals above the DSCR and cash-flow thresholds, ranked best
// first.
func (h *PipelineHandler) Survivors(c *gin.Context) {
	var q SurvivorsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		handleBindingError(c, err)
		return
	}

	survivors, err := h.service.Survivors(c.Request.Context(), repository.SurvivorFilter{
		SnapshotID:  q.SnapshotID,
		MinDSCR:     q.MinDSCR,
		MinCashFlow: q.MinCashFlow,
		Limit:       q.Limit,
	})
	if err != nil {
		errors.InternalServerError(c, "Failed to list survivors", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"survivors": survivors, "count": len(survivors)})
}

// Budget handles GET /api/v1/budget/:provider.
// Reports today's consumed calls against the provider's daily quota.
func (h *PipelineHandler) Budget(c *gin.Context) {
	provider := c.Param("provider")
	if provider != "rentcast" {
		errors.NotFound(c, "Unknown provider")
		return
	}

	used, quota, err := h.budget.Usage(c.Request.Context())
	if err != nil {
		errors.InternalServerError(c, "Failed to read budget usage", err)
		return
	}

	c.JSON(http.StatusOK, BudgetResponse{
		Provider: provider,
		Used:     used,
		Quota:    quota,
	})
}

// handleBindingError routes gin binding failures to the validation or
// bad-request response.
func handleBindingError(c *gin.Context, err error) {
	var validationErrors validator.ValidationErrors
	if stderrors.As(err, &validationErrors) {
		errors.ValidationError(c, validationErrors)
		return
	}
	errors.BadRequest(c, "Invalid request payload", map[string]interface{}{
		"error": err.Error(),
	})
}
