package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onehaven/haven/api/internal/config"
	"github.com/onehaven/haven/api/internal/models"
	"github.com/onehaven/haven/api/internal/providers"
	"github.com/onehaven/haven/api/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockDealRepo is a mock implementation of repository.DealRepository.
type mockDealRepo struct {
	mock.Mock
}

func (m *mockDealRepo) ListBySnapshot(ctx context.Context, snapshotID uint, limit int) ([]repository.DealRow, error) {
	args := m.Called(ctx, snapshotID, limit)
	return args.Get(0).([]repository.DealRow), args.Error(1)
}

// mockRentRepo is a mock implementation of repository.RentAssumptionRepository.
type mockRentRepo struct {
	mock.Mock
}

func (m *mockRentRepo) GetByProperty(ctx context.Context, propertyID uint) (*models.RentAssumption, error) {
	args := m.Called(ctx, propertyID)
	if ra := args.Get(0); ra != nil {
		return ra.(*models.RentAssumption), args.Error(1)
	}
	return nil, args.Error(1)
}

func (m *mockRentRepo) Upsert(ctx context.Context, ra *models.RentAssumption) error {
	args := m.Called(ctx, ra)
	return args.Error(0)
}

func (m *mockRentRepo) InsertExplainRun(ctx context.Context, run *models.RentExplainRun) error {
	args := m.Called(ctx, run)
	return args.Error(0)
}

// mockJurisdictionRepo is a mock implementation of repository.JurisdictionRepository.
type mockJurisdictionRepo struct {
	mock.Mock
}

func (m *mockJurisdictionRepo) FindForCityState(ctx context.Context, city, state string) (*models.JurisdictionRule, error) {
	args := m.Called(ctx, city, state)
	if rule := args.Get(0); rule != nil {
		return rule.(*models.JurisdictionRule), args.Error(1)
	}
	return nil, args.Error(1)
}

// mockResultRepo is a mock implementation of repository.ResultRepository.
type mockResultRepo struct {
	mock.Mock
}

func (m *mockResultRepo) Insert(ctx context.Context, res *models.UnderwritingResult) error {
	args := m.Called(ctx, res)
	return args.Error(0)
}

func (m *mockResultRepo) ListBySnapshot(ctx context.Context, snapshotID uint, decision *string, limit int) ([]models.UnderwritingResult, error) {
	args := m.Called(ctx, snapshotID, decision, limit)
	return args.Get(0).([]models.UnderwritingResult), args.Error(1)
}

func (m *mockResultRepo) Survivors(ctx context.Context, f repository.SurvivorFilter) ([]repository.SurvivorRow, error) {
	args := m.Called(ctx, f)
	return args.Get(0).([]repository.SurvivorRow), args.Error(1)
}

// mockProvider is a mock implementation of providers.RentDataProvider.
type mockProvider struct {
	mock.Mock
}

func (m *mockProvider) Name() string { return "rentcast" }

func (m *mockProvider) FetchRentData(ctx context.Context, property models.Property) (providers.RentData, error) {
	args := m.Called(ctx, property)
	return args.Get(0).(providers.RentData), args.Error(1)
}

func fp(v float64) *float64 { return &v }
func ip(i int) *int         { return &i }

func testPolicy() config.PolicyConfig {
	return config.PolicyConfig{
		MaxPrice:              150000,
		MinBedrooms:           2,
		RentRuleMinPct:        0.013,
		RentRuleTargetPct:     0.015,
		MinDSCR:               1.20,
		TargetCashFlow:        400,
		TargetROI:             0.15,
		VacancyRate:           0.05,
		MaintenanceRate:       0.10,
		ManagementRate:        0.08,
		CapexRate:             0.05,
		InsuranceMonthly:      150,
		TaxesMonthly:          300,
		PaymentStandardPct:    1.10,
		DefaultInterestRate:   0.07,
		DefaultTermYears:      30,
		DefaultDownPaymentPct: 0.20,
		DecisionVersion:       "test.v1",
	}
}

type pipelineFixture struct {
	deals    *mockDealRepo
	rents    *mockRentRepo
	rules    *mockJurisdictionRepo
	results  *mockResultRepo
	budget   *mockBudgetRepo
	provider *mockProvider
	service  PipelineService
}

func newPipelineFixture(t *testing.T, quota int) *pipelineFixture {
	t.Helper()
	f := &pipelineFixture{
		deals:    new(mockDealRepo),
		rents:    new(mockRentRepo),
		rules:    new(mockJurisdictionRepo),
		results:  new(mockResultRepo),
		budget:   new(mockBudgetRepo),
		provider: new(mockProvider),
	}
	tracker := NewBudgetTracker(f.budget, "rentcast", quota, testLogger())
	f.service = NewPipelineService(
		f.deals, f.rents, f.rules, f.results,
		tracker, f.provider, testPolicy(), 2, testLogger(),
	)
	return f
}

func dealRow(dealID, propertyID uint, price float64) repository.DealRow {
	return repository.DealRow{
		Deal: models.Deal{
			ID:          dealID,
			PropertyID:  propertyID,
			SnapshotID:  1,
			AskingPrice: price,
			Strategy:    models.StrategySection8,
		},
		Property: models.Property{
			ID:       propertyID,
			Address:  "123 Main St",
			City:     "Dayton",
			State:    "OH",
			Zip:      "45402",
			Bedrooms: 3,
		},
	}
}

func TestEvaluateSnapshot_RowFailureDoesNotAbortBatch(t *testing.T) {
	f := newPipelineFixture(t, 40)

	rows := make([]repository.DealRow, 0, 10)
	for i := uint(1); i <= 10; i++ {
		price := 100000.0
		if i == 5 {
			price = -1 // malformed import row
		}
		rows = append(rows, dealRow(i, i, price))
	}

	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).Return(rows, nil)
	f.rents.On("GetByProperty", mock.Anything, mock.Anything).Return(nil, nil)
	f.rules.On("FindForCityState", mock.Anything, "Dayton", "OH").Return(nil, nil)
	f.results.On("Insert", mock.Anything, mock.Anything).Return(nil)

	report, err := f.service.EvaluateSnapshot(context.Background(), 1, "", 0)
	require.NoError(t, err)

	assert.Equal(t, 9, report.Evaluated)
	assert.Equal(t, 1, report.Failed)
	// No rent signals at all, so every surviving row rejects.
	assert.Equal(t, 9, report.Rejected)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, uint(5), report.Errors[0].DealID)

	f.results.AssertNumberOfCalls(t, "Insert", 9)
}

func TestEvaluateSnapshot_PassingDeal(t *testing.T) {
	f := newPipelineFixture(t, 40)

	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).
		Return([]repository.DealRow{dealRow(1, 7, 100000)}, nil)
	f.rents.On("GetByProperty", mock.Anything, uint(7)).Return(&models.RentAssumption{
		PropertyID:             7,
		MarketRentEstimate:     fp(2000),
		Section8FMR:            fp(2000),
		RentReasonablenessComp: fp(2100),
		WalkMinutes:            ip(5),
	}, nil)
	f.rules.On("FindForCityState", mock.Anything, "Dayton", "OH").Return(nil, nil)

	var inserted *models.UnderwritingResult
	f.results.On("Insert", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(*models.UnderwritingResult)
		}).Return(nil)

	report, err := f.service.EvaluateSnapshot(context.Background(), 1, "", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Evaluated)
	assert.Equal(t, 1, report.Passed)

	require.NotNil(t, inserted)
	assert.Equal(t, "PASS", inserted.Decision)
	assert.Equal(t, 75, inserted.Score)
	assert.Equal(t, 2000.0, inserted.GrossRentUsed)
	assert.Equal(t, "none", inserted.RentCapReason)
	assert.False(t, inserted.RentIsEstimated)
	assert.Equal(t, "test.v1", inserted.DecisionVersion)
	require.NotNil(t, inserted.JurisdictionMultiplier)
	assert.Equal(t, 1.0, *inserted.JurisdictionMultiplier)
	assert.NotEmpty(t, inserted.Reasons)
	assert.InDelta(t, 1.86, float64(inserted.DSCR), 0.01)
	assert.True(t, inserted.CashFlow >= 400)
}

func TestEvaluateSnapshot_EstimatedRentCapsAtReview(t *testing.T) {
	f := newPipelineFixture(t, 40)

	// Market estimate with no confirming comp counts as estimated.
	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).
		Return([]repository.DealRow{dealRow(1, 7, 100000)}, nil)
	f.rents.On("GetByProperty", mock.Anything, uint(7)).Return(&models.RentAssumption{
		PropertyID:         7,
		MarketRentEstimate: fp(2000),
		Section8FMR:        fp(2000),
		WalkMinutes:        ip(5),
	}, nil)
	f.rules.On("FindForCityState", mock.Anything, "Dayton", "OH").Return(nil, nil)

	var inserted *models.UnderwritingResult
	f.results.On("Insert", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			inserted = args.Get(1).(*models.UnderwritingResult)
		}).Return(nil)

	report, err := f.service.EvaluateSnapshot(context.Background(), 1, "", 0)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Review)
	require.NotNil(t, inserted)
	assert.Equal(t, "REVIEW", inserted.Decision)
	assert.True(t, inserted.RentIsEstimated)
}

func TestEvaluateSnapshot_EmptySnapshot(t *testing.T) {
	f := newPipelineFixture(t, 40)
	f.deals.On("ListBySnapshot", mock.Anything, uint(9), 0).Return([]repository.DealRow{}, nil)

	_, err := f.service.EvaluateSnapshot(context.Background(), 9, "", 0)
	assert.ErrorIs(t, err, ErrNoDeals)
}

func TestEnrichSnapshot_BudgetStopsAdmission(t *testing.T) {
	f := newPipelineFixture(t, 3)

	rows := make([]repository.DealRow, 0, 5)
	for i := uint(1); i <= 5; i++ {
		rows = append(rows, dealRow(i, i, 100000))
	}
	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).Return(rows, nil)
	f.rents.On("GetByProperty", mock.Anything, mock.Anything).Return(nil, nil)
	f.budget.On("UsedToday", mock.Anything, "rentcast").Return(0, nil)
	f.budget.On("Increment", mock.Anything, "rentcast", 1).Return(nil)
	f.provider.On("FetchRentData", mock.Anything, mock.Anything).
		Return(providers.RentData{MarketRent: fp(1500), FMR: fp(1400)}, nil)
	f.rents.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	report, err := f.service.EnrichSnapshot(context.Background(), 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 5, report.Requested)
	assert.Equal(t, 3, report.Enriched)
	assert.True(t, report.StoppedEarly)
	assert.Equal(t, StopReasonBudget, report.StopReason)

	f.provider.AssertNumberOfCalls(t, "FetchRentData", 3)
}

func TestEnrichSnapshot_DedupesProperties(t *testing.T) {
	f := newPipelineFixture(t, 40)

	// Three deals share one property; it is fetched exactly once.
	rows := []repository.DealRow{
		dealRow(1, 7, 100000),
		dealRow(2, 7, 110000),
		dealRow(3, 7, 120000),
	}
	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).Return(rows, nil)
	f.rents.On("GetByProperty", mock.Anything, uint(7)).Return(nil, nil)
	f.budget.On("UsedToday", mock.Anything, "rentcast").Return(0, nil)
	f.budget.On("Increment", mock.Anything, "rentcast", 1).Return(nil)
	f.provider.On("FetchRentData", mock.Anything, mock.Anything).
		Return(providers.RentData{MarketRent: fp(1500)}, nil)
	f.rents.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	report, err := f.service.EnrichSnapshot(context.Background(), 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Requested)
	assert.Equal(t, 1, report.Enriched)
	f.provider.AssertNumberOfCalls(t, "FetchRentData", 1)
}

func TestEnrichSnapshot_SkipsRowsWithSignals(t *testing.T) {
	f := newPipelineFixture(t, 40)

	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).
		Return([]repository.DealRow{dealRow(1, 7, 100000)}, nil)
	f.rents.On("GetByProperty", mock.Anything, uint(7)).Return(&models.RentAssumption{
		PropertyID:         7,
		MarketRentEstimate: fp(1500),
		Section8FMR:        fp(1400),
	}, nil)

	report, err := f.service.EnrichSnapshot(context.Background(), 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Skipped)
	assert.Equal(t, 0, report.Enriched)
	// No budget consumed, no provider call.
	f.budget.AssertNotCalled(t, "Increment", mock.Anything, mock.Anything, mock.Anything)
	f.provider.AssertNotCalled(t, "FetchRentData", mock.Anything, mock.Anything)
}

func TestEnrichSnapshot_FetchFailureRecorded(t *testing.T) {
	f := newPipelineFixture(t, 40)

	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).
		Return([]repository.DealRow{dealRow(1, 7, 100000)}, nil)
	f.rents.On("GetByProperty", mock.Anything, uint(7)).Return(nil, nil)
	f.budget.On("UsedToday", mock.Anything, "rentcast").Return(0, nil)
	f.budget.On("Increment", mock.Anything, "rentcast", 1).Return(nil)
	f.provider.On("FetchRentData", mock.Anything, mock.Anything).
		Return(providers.RentData{}, errors.New("upstream 502"))

	report, err := f.service.EnrichSnapshot(context.Background(), 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 1, report.Failed)
	require.Len(t, report.Errors, 1)
	assert.Equal(t, uint(7), report.Errors[0].PropertyID)
	f.rents.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestEnrichSnapshot_ConcurrentFailureTally(t *testing.T) {
	f := &pipelineFixture{
		deals:    new(mockDealRepo),
		rents:    new(mockRentRepo),
		rules:    new(mockJurisdictionRepo),
		results:  new(mockResultRepo),
		budget:   new(mockBudgetRepo),
		provider: new(mockProvider),
	}
	tracker := NewBudgetTracker(f.budget, "rentcast", 40, testLogger())
	f.service = NewPipelineService(
		f.deals, f.rents, f.rules, f.results,
		tracker, f.provider, testPolicy(), 4, testLogger(),
	)

	// Odd properties fail in the provider while dispatched fetches are still
	// in flight; even properties fail at assumption lookup in the admission
	// loop. Both paths mutate the shared report concurrently.
	rows := make([]repository.DealRow, 0, 6)
	for i := uint(1); i <= 6; i++ {
		rows = append(rows, dealRow(i, i, 100000))
	}
	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).Return(rows, nil)
	for i := uint(1); i <= 6; i += 2 {
		f.rents.On("GetByProperty", mock.Anything, i).Return(nil, nil)
	}
	for i := uint(2); i <= 6; i += 2 {
		f.rents.On("GetByProperty", mock.Anything, i).Return(nil, errors.New("lookup failed"))
	}
	f.budget.On("UsedToday", mock.Anything, "rentcast").Return(0, nil)
	f.budget.On("Increment", mock.Anything, "rentcast", 1).Return(nil)
	f.provider.On("FetchRentData", mock.Anything, mock.Anything).
		After(5*time.Millisecond).
		Return(providers.RentData{}, errors.New("upstream 502"))

	report, err := f.service.EnrichSnapshot(context.Background(), 1, 0)
	require.NoError(t, err)

	assert.Equal(t, 0, report.Enriched)
	assert.Equal(t, 6, report.Failed)
	assert.Len(t, report.Errors, 6)
}

func TestExplainSnapshot_TraceWithoutPersist(t *testing.T) {
	f := newPipelineFixture(t, 40)

	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).
		Return([]repository.DealRow{dealRow(1, 7, 100000)}, nil)
	f.rents.On("GetByProperty", mock.Anything, uint(7)).Return(&models.RentAssumption{
		PropertyID:         7,
		MarketRentEstimate: fp(1600),
		Section8FMR:        fp(1200),
	}, nil)

	report, err := f.service.ExplainSnapshot(context.Background(), 1, "", 0, false)
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)

	row := report.Rows[0]
	// FMR 1200 at 110% payment standard caps market 1600 at 1320.
	require.NotNil(t, row.RentUsed)
	assert.InDelta(t, 1320.0, *row.RentUsed, 0.001)
	assert.Equal(t, "fmr", row.CapReason)
	require.NotNil(t, row.ApprovedCeiling)
	assert.InDelta(t, 1320.0, *row.ApprovedCeiling, 0.001)
	assert.True(t, row.IsEstimated)
	assert.NotEmpty(t, row.Candidates)

	f.rents.AssertNotCalled(t, "InsertExplainRun", mock.Anything, mock.Anything)
	f.rents.AssertNotCalled(t, "Upsert", mock.Anything, mock.Anything)
}

func TestExplainSnapshot_StrategyOverride(t *testing.T) {
	f := newPipelineFixture(t, 40)

	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).
		Return([]repository.DealRow{dealRow(1, 7, 100000)}, nil)
	f.rents.On("GetByProperty", mock.Anything, uint(7)).Return(&models.RentAssumption{
		PropertyID:         7,
		MarketRentEstimate: fp(1600),
		Section8FMR:        fp(1200),
	}, nil)

	// The deal is stored as section8; a market override bypasses the ceiling.
	report, err := f.service.ExplainSnapshot(context.Background(), 1, models.StrategyMarket, 0, false)
	require.NoError(t, err)
	require.Len(t, report.Rows, 1)

	row := report.Rows[0]
	assert.Equal(t, models.StrategyMarket, row.Strategy)
	require.NotNil(t, row.RentUsed)
	assert.InDelta(t, 1600.0, *row.RentUsed, 0.001)
	assert.Equal(t, "none", row.CapReason)
}

func TestExplainSnapshot_PersistAppendsAuditRun(t *testing.T) {
	f := newPipelineFixture(t, 40)

	f.deals.On("ListBySnapshot", mock.Anything, uint(1), 0).
		Return([]repository.DealRow{dealRow(1, 7, 100000)}, nil)
	f.rents.On("GetByProperty", mock.Anything, uint(7)).Return(&models.RentAssumption{
		PropertyID:         7,
		MarketRentEstimate: fp(1600),
		Section8FMR:        fp(1200),
	}, nil)

	var run *models.RentExplainRun
	f.rents.On("InsertExplainRun", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			run = args.Get(1).(*models.RentExplainRun)
		}).Return(nil)
	f.rents.On("Upsert", mock.Anything, mock.Anything).Return(nil)

	report, err := f.service.ExplainSnapshot(context.Background(), 1, "", 0, true)
	require.NoError(t, err)
	assert.True(t, report.Persisted)

	require.NotNil(t, run)
	assert.Equal(t, uint(7), run.PropertyID)
	assert.Equal(t, "fmr", run.CapReason)
	assert.Equal(t, 1.10, run.PaymentStandardPct)
	assert.Equal(t, "test.v1", run.DecisionVersion)

	f.rents.AssertNumberOfCalls(t, "Upsert", 1)
}
