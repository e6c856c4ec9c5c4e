package repository

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/onehaven/haven/api/internal/database"
	"github.com/onehaven/haven/api/internal/models"
)

// Maximum number of survivors to return when no limit is given.
const defaultSurvivorLimit = 25

// SurvivorRow is one evaluated deal that cleared the operator's thresholds,
// joined with enough property context to act on.
type SurvivorRow struct {
	DealID        uint         `json:"deal_id"`
	PropertyID    uint         `json:"property_id"`
	Address       string       `json:"address"`
	City          string       `json:"city"`
	Zip           string       `json:"zip"`
	Decision      string       `json:"decision"`
	Score         int          `json:"score"`
	Reasons       []string     `json:"reasons"`
	DSCR          models.Ratio `json:"dscr"`
	CashFlow      float64      `json:"cash_flow"`
	GrossRentUsed float64      `json:"gross_rent_used"`
}

// SurvivorFilter carries the operator-chosen thresholds for the survivors
// query.
type SurvivorFilter struct {
	SnapshotID  uint
	Decision    string
	MinDSCR     float64
	MinCashFlow float64
	Limit       int
}

// ResultRepository defines data access for the append-only underwriting
// result history.
type ResultRepository interface {
	// Insert appends one result row. Evaluation never updates in place.
	Insert(ctx context.Context, res *models.UnderwritingResult) error

	// ListBySnapshot returns the latest result per deal of a snapshot,
	// optionally filtered by decision, newest first.
	ListBySnapshot(ctx context.Context, snapshotID uint, decision *string, limit int) ([]models.UnderwritingResult, error)

	// Survivors returns evaluated deals meeting the filter thresholds,
	// ranked by score, DSCR, then cash flow, all descending.
	Survivors(ctx context.Context, f SurvivorFilter) ([]SurvivorRow, error)
}

type resultRepository struct {
	db *database.Database
}

// NewResultRepository creates a new instance of ResultRepository.
func NewResultRepository(db *database.Database) ResultRepository {
	return &resultRepository{db: db}
}

func (r *resultRepository) Insert(ctx context.Context, res *models.UnderwritingResult) error {
	reasonsJSON, err := json.Marshal(res.Reasons)
	if err != nil {
		return fmt.Errorf("failed to encode reasons for deal %d: %w", res.DealID, err)
	}
	var jurReasonsJSON []byte
	if res.JurisdictionReasons != nil {
		jurReasonsJSON, err = json.Marshal(res.JurisdictionReasons)
		if err != nil {
			return fmt.Errorf("failed to encode jurisdiction reasons for deal %d: %w", res.DealID, err)
		}
	}

	query := `
		INSERT INTO underwriting_results (
			deal_id, decision, score, reasons_json,
			gross_rent_used, mortgage_payment, operating_expenses, noi,
			cash_flow, dscr, cash_on_cash, break_even_rent,
			min_rent_for_target_roi, rent_cap_reason, rent_is_estimated,
			jurisdiction_multiplier, jurisdiction_reasons_json,
			decision_version, payment_standard_pct_used, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14,
		        $15, $16, $17, $18, $19, now())
		RETURNING id, created_at
	`

	err = r.db.Pool.QueryRow(ctx, query,
		res.DealID,
		res.Decision,
		res.Score,
		reasonsJSON,
		res.GrossRentUsed,
		res.MortgagePayment,
		res.OperatingExpenses,
		res.NOI,
		res.CashFlow,
		res.DSCR,
		res.CashOnCash,
		res.BreakEvenRent,
		res.MinRentForTargetROI,
		res.RentCapReason,
		res.RentIsEstimated,
		res.JurisdictionMultiplier,
		jurReasonsJSON,
		res.DecisionVersion,
		res.PaymentStandardPctUsed,
	).Scan(&res.ID, &res.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert underwriting result for deal %d: %w", res.DealID, err)
	}

	return nil
}

func (r *resultRepository) ListBySnapshot(ctx context.Context, snapshotID uint, decision *string, limit int) ([]models.UnderwritingResult, error) {
	// DISTINCT ON keeps only the newest run per deal; the full history stays
	// in the table for auditing.
	query := `
		SELECT * FROM (
			SELECT DISTINCT ON (ur.deal_id)
				ur.id, ur.deal_id, ur.decision, ur.score, ur.reasons_json,
				ur.gross_rent_used, ur.mortgage_payment, ur.operating_expenses,
				ur.noi, ur.cash_flow, ur.dscr, ur.cash_on_cash,
				ur.break_even_rent, ur.min_rent_for_target_roi,
				ur.rent_cap_reason, ur.rent_is_estimated,
				ur.jurisdiction_multiplier, ur.jurisdiction_reasons_json,
				ur.decision_version, ur.payment_standard_pct_used, ur.created_at
			FROM underwriting_results ur
			JOIN deals d ON d.id = ur.deal_id
			WHERE d.snapshot_id = $1
			ORDER BY ur.deal_id, ur.created_at DESC
		) latest
		WHERE ($2::text IS NULL OR latest.decision = $2)
		ORDER BY latest.score DESC
		LIMIT $3
	`
	if limit <= 0 {
		limit = 50
	}

	rows, err := r.db.Pool.Query(ctx, query, snapshotID, decision, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results for snapshot %d: %w", snapshotID, err)
	}
	defer rows.Close()

	var results []models.UnderwritingResult
	for rows.Next() {
		var res models.UnderwritingResult
		var reasonsJSON []byte
		var jurReasonsJSON []byte
		err := rows.Scan(
			&res.ID,
			&res.DealID,
			&res.Decision,
			&res.Score,
			&reasonsJSON,
			&res.GrossRentUsed,
			&res.MortgagePayment,
			&res.OperatingExpenses,
			&res.NOI,
			&res.CashFlow,
			&res.DSCR,
			&res.CashOnCash,
			&res.BreakEvenRent,
			&res.MinRentForTargetROI,
			&res.RentCapReason,
			&res.RentIsEstimated,
			&res.JurisdictionMultiplier,
			&jurReasonsJSON,
			&res.DecisionVersion,
			&res.PaymentStandardPctUsed,
			&res.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan result row: %w", err)
		}
		if err := json.Unmarshal(reasonsJSON, &res.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode reasons for result %d: %w", res.ID, err)
		}
		if len(jurReasonsJSON) > 0 {
			if err := json.Unmarshal(jurReasonsJSON, &res.JurisdictionReasons); err != nil {
				return nil, fmt.Errorf("failed to decode jurisdiction reasons for result %d: %w", res.ID, err)
			}
		}
		results = append(results, res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating result rows: %w", err)
	}

	if results == nil {
		results = []models.UnderwritingResult{}
	}
	return results, nil
}

func (r *resultRepository) Survivors(ctx context.Context, f SurvivorFilter) ([]SurvivorRow, error) {
	if f.Limit <= 0 {
		f.Limit = defaultSurvivorLimit
	}

	query := `
		SELECT
			d.id, p.id, p.address, p.city, p.zip,
			latest.decision, latest.score, latest.reasons_json,
			latest.dscr, latest.cash_flow, latest.gross_rent_used
		FROM (
			SELECT DISTINCT ON (ur.deal_id)
				ur.deal_id, ur.decision, ur.score, ur.reasons_json,
				ur.dscr, ur.cash_flow, ur.gross_rent_used
			FROM underwriting_results ur
			ORDER BY ur.deal_id, ur.created_at DESC
		) latest
		JOIN deals d ON d.id = latest.deal_id
		JOIN properties p ON p.id = d.property_id
		WHERE d.snapshot_id = $1
		  AND latest.decision = $2
		  AND latest.dscr >= $3
		  AND latest.cash_flow >= $4
		ORDER BY latest.score DESC, latest.dscr DESC, latest.cash_flow DESC
		LIMIT $5
	`

	rows, err := r.db.Pool.Query(ctx, query,
		f.SnapshotID, f.Decision, f.MinDSCR, f.MinCashFlow, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query survivors for snapshot %d: %w", f.SnapshotID, err)
	}
	defer rows.Close()

	var results []SurvivorRow
	for rows.Next() {
		var row SurvivorRow
		var reasonsJSON []byte
		err := rows.Scan(
			&row.DealID,
			&row.PropertyID,
			&row.Address,
			&row.City,
			&row.Zip,
			&row.Decision,
			&row.Score,
			&reasonsJSON,
			&row.DSCR,
			&row.CashFlow,
			&row.GrossRentUsed,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan survivor row: %w", err)
		}
		if err := json.Unmarshal(reasonsJSON, &row.Reasons); err != nil {
			return nil, fmt.Errorf("failed to decode reasons for deal %d: %w", row.DealID, err)
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating survivor rows: %w", err)
	}

	if results == nil {
		results = []SurvivorRow{}
	}
	return results, nil
}
