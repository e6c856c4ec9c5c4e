package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/onehaven/haven/api/internal/config"
	"github.com/onehaven/haven/api/internal/decision"
	"github.com/onehaven/haven/api/internal/jurisdiction"
	"github.com/onehaven/haven/api/internal/logger"
	"github.com/onehaven/haven/api/internal/models"
	"github.com/onehaven/haven/api/internal/providers"
	"github.com/onehaven/haven/api/internal/rentpolicy"
	"github.com/onehaven/haven/api/internal/repository"
	"github.com/onehaven/haven/api/internal/underwriting"
)

// ErrNoDeals is returned when a snapshot has no deal rows to process.
var ErrNoDeals = errors.New("no deals found for snapshot")

// StopReasonBudget is the stop_reason reported when enrichment halted
// because the daily provider budget ran out.
const StopReasonBudget = "budget_exceeded"

// RowError records one failed row of a batch. Batches never abort on row
// failures; they report them.
type RowError struct {
	PropertyID uint   `json:"property_id,omitempty"`
	DealID     uint   `json:"deal_id,omitempty"`
	Error      string `json:"error"`
}

// EnrichReport summarizes one enrichment run.
type EnrichReport struct {
	Requested    int        `json:"requested"`
	Enriched     int        `json:"enriched"`
	Skipped      int        `json:"skipped"`
	Failed       int        `json:"failed"`
	StoppedEarly bool       `json:"stopped_early"`
	StopReason   string     `json:"stop_reason,omitempty"`
	Errors       []RowError `json:"errors,omitempty"`
}

// ExplainRow is the rent resolution trace for one deal.
type ExplainRow struct {
	DealID          uint                   `json:"deal_id"`
	PropertyID      uint                   `json:"property_id"`
	Address         string                 `json:"address"`
	Strategy        string                 `json:"strategy"`
	MarketRent      *float64               `json:"market_rent,omitempty"`
	RentUsed        *float64               `json:"rent_used,omitempty"`
	ApprovedCeiling *float64               `json:"approved_ceiling,omitempty"`
	CeilingSource   *string                `json:"ceiling_source,omitempty"`
	CapReason       string                 `json:"cap_reason"`
	IsEstimated     bool                   `json:"is_estimated"`
	Candidates      []rentpolicy.Candidate `json:"candidates,omitempty"`
}

// ExplainReport summarizes one explain run.
type ExplainReport struct {
	Persisted bool         `json:"persisted"`
	Rows      []ExplainRow `json:"rows"`
	Errors    []RowError   `json:"errors,omitempty"`
}

// EvaluateReport summarizes one evaluation run over a snapshot.
type EvaluateReport struct {
	Evaluated int        `json:"evaluated"`
	Passed    int        `json:"passed"`
	Review    int        `json:"review"`
	Rejected  int        `json:"rejected"`
	Failed    int        `json:"failed"`
	Errors    []RowError `json:"errors,omitempty"`
}

// PipelineService runs the batch stages over a snapshot: enrich rent
// signals, explain rent resolution, and evaluate deals into the append-only
// result history.
type PipelineService interface {
	EnrichSnapshot(ctx context.Context, snapshotID uint, limit int) (*EnrichReport, error)
	ExplainSnapshot(ctx context.Context, snapshotID uint, strategy string, limit int, persist bool) (*ExplainReport, error)
	EvaluateSnapshot(ctx context.Context, snapshotID uint, strategy string, limit int) (*EvaluateReport, error)
	Results(ctx context.Context, snapshotID uint, decisionFilter *string, limit int) ([]models.UnderwritingResult, error)
	Survivors(ctx context.Context, f repository.SurvivorFilter) ([]repository.SurvivorRow, error)
}

type pipelineService struct {
	deals    repository.DealRepository
	rents    repository.RentAssumptionRepository
	rules    repository.JurisdictionRepository
	results  repository.ResultRepository
	budget   *BudgetTracker
	provider providers.RentDataProvider
	policy   config.PolicyConfig
	enrichN  int
	bands    jurisdiction.Bands
	logger   *logger.Logger
}

// NewPipelineService creates a new instance of PipelineService.
func NewPipelineService(
	deals repository.DealRepository,
	rents repository.RentAssumptionRepository,
	rules repository.JurisdictionRepository,
	results repository.ResultRepository,
	budget *BudgetTracker,
	provider providers.RentDataProvider,
	policy config.PolicyConfig,
	enrichConcurrency int,
	log *logger.Logger,
) PipelineService {
	if enrichConcurrency < 1 {
		enrichConcurrency = 1
	}
	return &pipelineService{
		deals:    deals,
		rents:    rents,
		rules:    rules,
		results:  results,
		budget:   budget,
		provider: provider,
		policy:   policy,
		enrichN:  enrichConcurrency,
		bands:    jurisdiction.DefaultBands(),
		logger:   log,
	}
}

// EnrichSnapshot fetches missing rent signals for the snapshot's properties.
// Each property is fetched at most once per run regardless of how many deals
// reference it, each fetch consumes one budget unit reserved before
// dispatch, and admission stops cleanly once the budget runs out.
func (s *pipelineService) EnrichSnapshot(ctx context.Context, snapshotID uint, limit int) (*EnrichReport, error) {
	rows, err := s.deals.ListBySnapshot(ctx, snapshotID, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoDeals
	}

	// Dedupe properties in first-seen order so budget admission is
	// deterministic for a given snapshot.
	seen := make(map[uint]bool)
	var props []models.Property
	for _, row := range rows {
		if !seen[row.Property.ID] {
			seen[row.Property.ID] = true
			props = append(props, row.Property)
		}
	}

	report := &EnrichReport{Requested: len(props)}
	var mu sync.Mutex

	var g errgroup.Group
	g.SetLimit(s.enrichN)

	for _, prop := range props {
		existing, err := s.rents.GetByProperty(ctx, prop.ID)
		if err != nil {
			// Already-dispatched fetches share the report; every mutation
			// holds mu, including the admission loop's.
			mu.Lock()
			report.Failed++
			report.Errors = append(report.Errors, RowError{PropertyID: prop.ID, Error: err.Error()})
			mu.Unlock()
			continue
		}
		if hasRentSignals(existing) {
			mu.Lock()
			report.Skipped++
			mu.Unlock()
			continue
		}

		// Budget admission happens here, serially, before the fetch is
		// dispatched. Reservations already granted still complete after the
		// budget runs out; no new work is admitted.
		if err := s.budget.Reserve(ctx); err != nil {
			if errors.Is(err, ErrBudgetExceeded) {
				report.StoppedEarly = true
				report.StopReason = StopReasonBudget
				s.logger.Warn("enrichment stopped early", map[string]interface{}{
					"snapshot_id": snapshotID,
					"stop_reason": StopReasonBudget,
				})
				break
			}
			_ = g.Wait()
			return nil, err
		}

		prop, existing := prop, existing
		g.Go(func() error {
			data, err := s.provider.FetchRentData(ctx, prop)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				report.Failed++
				report.Errors = append(report.Errors, RowError{PropertyID: prop.ID, Error: err.Error()})
				return nil
			}

			ra := mergeRentData(prop.ID, existing, data)
			if err := s.rents.Upsert(ctx, ra); err != nil {
				report.Failed++
				report.Errors = append(report.Errors, RowError{PropertyID: prop.ID, Error: err.Error()})
				return nil
			}
			report.Enriched++
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	s.logger.Info("enrichment run complete", map[string]interface{}{
		"snapshot_id":   snapshotID,
		"requested":     report.Requested,
		"enriched":      report.Enriched,
		"skipped":       report.Skipped,
		"failed":        report.Failed,
		"stopped_early": report.StoppedEarly,
	})
	return report, nil
}

// ExplainSnapshot resolves rent for every deal of the snapshot and returns
// the full trace. With persist set, each row also appends an explain-run
// audit record and writes the resolved rent back to the assumption.
func (s *pipelineService) ExplainSnapshot(ctx context.Context, snapshotID uint, strategy string, limit int, persist bool) (*ExplainReport, error) {
	rows, err := s.deals.ListBySnapshot(ctx, snapshotID, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoDeals
	}

	report := &ExplainReport{Persisted: persist, Rows: []ExplainRow{}}

	for _, row := range rows {
		assumption, err := s.rents.GetByProperty(ctx, row.Property.ID)
		if err != nil {
			report.Errors = append(report.Errors, RowError{DealID: row.Deal.ID, PropertyID: row.Property.ID, Error: err.Error()})
			continue
		}

		res := rentpolicy.Resolve(s.resolverInputs(row.Deal, strategy, assumption))

		explain := ExplainRow{
			DealID:      row.Deal.ID,
			PropertyID:  row.Property.ID,
			Address:     row.Property.Address,
			Strategy:    res.Strategy,
			MarketRent:  res.MarketRent,
			RentUsed:    res.RentUsed,
			CapReason:   res.CapReason,
			IsEstimated: res.IsEstimated,
			Candidates:  res.Candidates,
		}
		if res.ApprovedCeiling != nil {
			v, src := res.ApprovedCeiling.Value, res.ApprovedCeiling.Source
			explain.ApprovedCeiling = &v
			explain.CeilingSource = &src
		}
		report.Rows = append(report.Rows, explain)

		if !persist {
			continue
		}

		run := &models.RentExplainRun{
			PropertyID:         row.Property.ID,
			Strategy:           res.Strategy,
			CapReason:          res.CapReason,
			RentUsed:           res.RentUsed,
			ApprovedCeiling:    explain.ApprovedCeiling,
			CeilingSource:      explain.CeilingSource,
			PaymentStandardPct: s.policy.PaymentStandardPct,
			DecisionVersion:    s.policy.DecisionVersion,
		}
		if err := s.rents.InsertExplainRun(ctx, run); err != nil {
			report.Errors = append(report.Errors, RowError{DealID: row.Deal.ID, PropertyID: row.Property.ID, Error: err.Error()})
			continue
		}

		if assumption != nil {
			assumption.RentUsed = res.RentUsed
			if explain.ApprovedCeiling != nil && !assumption.CeilingOverride {
				assumption.ApprovedRentCeiling = explain.ApprovedCeiling
			}
			if err := s.rents.Upsert(ctx, assumption); err != nil {
				report.Errors = append(report.Errors, RowError{DealID: row.Deal.ID, PropertyID: row.Property.ID, Error: err.Error()})
			}
		}
	}

	return report, nil
}

// EvaluateSnapshot underwrites and classifies every deal of the snapshot,
// appending one UnderwritingResult per deal. Row failures are reported and
// never abort the batch.
func (s *pipelineService) EvaluateSnapshot(ctx context.Context, snapshotID uint, strategy string, limit int) (*EvaluateReport, error) {
	rows, err := s.deals.ListBySnapshot(ctx, snapshotID, limit)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoDeals
	}

	report := &EvaluateReport{}

	for _, row := range rows {
		result, err := s.evaluateDeal(ctx, row, strategy)
		if err != nil {
			report.Failed++
			report.Errors = append(report.Errors, RowError{DealID: row.Deal.ID, PropertyID: row.Property.ID, Error: err.Error()})
			continue
		}

		report.Evaluated++
		switch result.Decision {
		case decision.Pass:
			report.Passed++
		case decision.Review:
			report.Review++
		default:
			report.Rejected++
		}
	}

	s.logger.Info("evaluation run complete", map[string]interface{}{
		"snapshot_id": snapshotID,
		"evaluated":   report.Evaluated,
		"passed":      report.Passed,
		"review":      report.Review,
		"rejected":    report.Rejected,
		"failed":      report.Failed,
	})
	return report, nil
}

func (s *pipelineService) evaluateDeal(ctx context.Context, row repository.DealRow, strategy string) (*models.UnderwritingResult, error) {
	deal, prop := row.Deal, row.Property

	if math.IsNaN(deal.AskingPrice) || deal.AskingPrice <= 0 {
		return nil, fmt.Errorf("invalid asking price for deal %d", deal.ID)
	}

	assumption, err := s.rents.GetByProperty(ctx, prop.ID)
	if err != nil {
		return nil, err
	}
	res := rentpolicy.Resolve(s.resolverInputs(deal, strategy, assumption))

	// An unknown jurisdiction degrades to neutral friction with the
	// unknown-rules reason; a lookup failure fails the row.
	rule, err := s.rules.FindForCityState(ctx, prop.City, prop.State)
	if err != nil {
		return nil, err
	}
	friction := jurisdiction.Compute(rule, s.bands)

	var uw *underwriting.Outputs
	if res.RentUsed != nil {
		price := deal.AskingPrice
		if deal.EstimatedPurchasePrice != nil && *deal.EstimatedPurchasePrice > 0 {
			price = *deal.EstimatedPurchasePrice
		}
		out := underwriting.Run(underwriting.Inputs{
			PurchasePrice:    price,
			Rehab:            deal.RehabEstimate,
			DownPaymentPct:   valueOr(deal.DownPaymentPct, s.policy.DefaultDownPaymentPct),
			InterestRate:     valueOr(deal.InterestRate, s.policy.DefaultInterestRate),
			TermYears:        intOr(deal.TermYears, s.policy.DefaultTermYears),
			GrossRent:        *res.RentUsed,
			VacancyRate:      s.policy.VacancyRate,
			MaintenanceRate:  s.policy.MaintenanceRate,
			ManagementRate:   s.policy.ManagementRate,
			CapexRate:        s.policy.CapexRate,
			InsuranceMonthly: s.policy.InsuranceMonthly,
			TaxesMonthly:     s.policy.TaxesMonthly,
			UtilitiesMonthly: s.policy.UtilitiesMonthly,
		}, s.policy.TargetROI)
		uw = &out
	}

	in := decision.Input{
		AskingPrice:  deal.AskingPrice,
		Bedrooms:     prop.Bedrooms,
		HasGarage:    prop.HasGarage,
		Rent:         res,
		Underwriting: uw,
		Friction:     friction,
	}
	if assumption != nil {
		in.InventoryCount = assumption.InventoryCount
		in.WalkMinutes = assumption.WalkMinutes
	}
	verdict := decision.Evaluate(in, decision.Rules{
		MaxPrice:          s.policy.MaxPrice,
		MinBedrooms:       s.policy.MinBedrooms,
		RentRuleMinPct:    s.policy.RentRuleMinPct,
		RentRuleTargetPct: s.policy.RentRuleTargetPct,
		MinDSCR:           s.policy.MinDSCR,
		TargetCashFlow:    s.policy.TargetCashFlow,
	})

	mult := friction.Multiplier
	pct := s.policy.PaymentStandardPct
	result := &models.UnderwritingResult{
		DealID:                 deal.ID,
		Decision:               verdict.Decision,
		Score:                  verdict.Score,
		Reasons:                verdict.Reasons,
		RentCapReason:          res.CapReason,
		RentIsEstimated:        res.IsEstimated,
		JurisdictionMultiplier: &mult,
		JurisdictionReasons:    friction.Reasons,
		DecisionVersion:        s.policy.DecisionVersion,
		PaymentStandardPctUsed: &pct,
	}
	if res.RentUsed != nil {
		result.GrossRentUsed = *res.RentUsed
	}
	if uw != nil {
		result.MortgagePayment = uw.MortgagePayment
		result.OperatingExpenses = uw.OperatingExpenses
		result.NOI = uw.NOI
		result.CashFlow = uw.CashFlow
		result.DSCR = models.Ratio(uw.DSCR)
		result.CashOnCash = models.Ratio(uw.CashOnCash)
		result.BreakEvenRent = models.Ratio(uw.BreakEvenRent)
		result.MinRentForTargetROI = models.Ratio(uw.MinRentForTargetROI)
	}

	if err := s.results.Insert(ctx, result); err != nil {
		return nil, err
	}
	return result, nil
}

func (s *pipelineService) Results(ctx context.Context, snapshotID uint, decisionFilter *string, limit int) ([]models.UnderwritingResult, error) {
	return s.results.ListBySnapshot(ctx, snapshotID, decisionFilter, limit)
}

func (s *pipelineService) Survivors(ctx context.Context, f repository.SurvivorFilter) ([]repository.SurvivorRow, error) {
	if f.Decision == "" {
		f.Decision = decision.Pass
	}
	return s.results.Survivors(ctx, f)
}

// resolverInputs maps a deal and its property's assumption onto the rent
// resolver's inputs. A non-empty strategy overrides the deal's stored one
// for the whole batch. A market estimate is treated as estimated until a
// rent-reasonableness comp confirms it.
func (s *pipelineService) resolverInputs(deal models.Deal, strategy string, ra *models.RentAssumption) rentpolicy.Inputs {
	if strategy == "" {
		strategy = deal.Strategy
	}
	if strategy == "" {
		strategy = models.StrategySection8
	}
	in := rentpolicy.Inputs{
		Strategy:           strategy,
		PaymentStandardPct: s.policy.PaymentStandardPct,
	}
	if ra == nil {
		return in
	}
	in.MarketRent = ra.MarketRentEstimate
	in.FMR = ra.Section8FMR
	in.Comp = ra.RentReasonablenessComp
	in.ManualOverride = ra.ApprovedRentCeiling
	in.OverrideMarked = ra.CeilingOverride
	in.IsEstimated = ra.MarketRentEstimate != nil && ra.RentReasonablenessComp == nil
	return in
}

// hasRentSignals reports whether an assumption already carries both primary
// signals and can skip a provider call.
func hasRentSignals(ra *models.RentAssumption) bool {
	return ra != nil && ra.MarketRentEstimate != nil && ra.Section8FMR != nil
}

// mergeRentData overlays freshly fetched signals onto the existing
// assumption, never discarding a signal the provider did not return.
func mergeRentData(propertyID uint, existing *models.RentAssumption, data providers.RentData) *models.RentAssumption {
	ra := &models.RentAssumption{PropertyID: propertyID}
	if existing != nil {
		*ra = *existing
	}
	if data.MarketRent != nil {
		ra.MarketRentEstimate = data.MarketRent
	}
	if data.FMR != nil {
		ra.Section8FMR = data.FMR
	}
	if data.Comp != nil {
		ra.RentReasonablenessComp = data.Comp
	}
	return ra
}

func valueOr(v, fallback float64) float64 {
	if v > 0 {
		return v
	}
	return fallback
}

func intOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
