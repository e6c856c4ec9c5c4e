package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/onehaven/haven/api/internal/database"
	"github.com/onehaven/haven/api/internal/models"
)

// RentAssumptionRepository defines data access for per-property rent
// assumptions and the append-only explain-run audit log.
type RentAssumptionRepository interface {
	// GetByProperty returns the property's rent assumption.
	// Returns nil, nil when the property has none yet (not an error).
	GetByProperty(ctx context.Context, propertyID uint) (*models.RentAssumption, error)

	// Upsert inserts or updates the assumption keyed by property_id. The
	// ceiling-override flag and a marked override's ceiling value are left
	// untouched on update so an override is never silently replaced.
	Upsert(ctx context.Context, ra *models.RentAssumption) error

	// InsertExplainRun appends one rent-resolution audit record.
	InsertExplainRun(ctx context.Context, run *models.RentExplainRun) error
}

type rentAssumptionRepository struct {
	db *database.Database
}

// NewRentAssumptionRepository creates a new instance of RentAssumptionRepository.
func NewRentAssumptionRepository(db *database.Database) RentAssumptionRepository {
	return &rentAssumptionRepository{db: db}
}

func (r *rentAssumptionRepository) GetByProperty(ctx context.Context, propertyID uint) (*models.RentAssumption, error) {
	query := `
		SELECT
			id, property_id, market_rent_estimate, section8_fmr,
			rent_reasonableness_comp, approved_rent_ceiling, ceiling_override,
			rent_used, inventory_count, walk_minutes, created_at, updated_at
		FROM rent_assumptions
		WHERE property_id = $1
	`

	var ra models.RentAssumption
	err := r.db.Pool.QueryRow(ctx, query, propertyID).Scan(
		&ra.ID,
		&ra.PropertyID,
		&ra.MarketRentEstimate,
		&ra.Section8FMR,
		&ra.RentReasonablenessComp,
		&ra.ApprovedRentCeiling,
		&ra.CeilingOverride,
		&ra.RentUsed,
		&ra.InventoryCount,
		&ra.WalkMinutes,
		&ra.CreatedAt,
		&ra.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query rent assumption for property %d: %w", propertyID, err)
	}

	return &ra, nil
}

func (r *rentAssumptionRepository) Upsert(ctx context.Context, ra *models.RentAssumption) error {
	// On conflict, the observed signals are overwritten in place; the
	// approved ceiling only changes when no override is marked.
	query := `
		INSERT INTO rent_assumptions (
			property_id, market_rent_estimate, section8_fmr,
			rent_reasonableness_comp, approved_rent_ceiling, ceiling_override,
			rent_used, inventory_count, walk_minutes, created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, now(), now())
		ON CONFLICT (property_id) DO UPDATE SET
			market_rent_estimate     = EXCLUDED.market_rent_estimate,
			section8_fmr             = EXCLUDED.section8_fmr,
			rent_reasonableness_comp = EXCLUDED.rent_reasonableness_comp,
			approved_rent_ceiling    = CASE
				WHEN rent_assumptions.ceiling_override THEN rent_assumptions.approved_rent_ceiling
				ELSE EXCLUDED.approved_rent_ceiling
			END,
			rent_used      = EXCLUDED.rent_used,
			inventory_count = COALESCE(EXCLUDED.inventory_count, rent_assumptions.inventory_count),
			walk_minutes    = COALESCE(EXCLUDED.walk_minutes, rent_assumptions.walk_minutes),
			updated_at     = now()
		RETURNING id, ceiling_override, approved_rent_ceiling
	`

	err := r.db.Pool.QueryRow(ctx, query,
		ra.PropertyID,
		ra.MarketRentEstimate,
		ra.Section8FMR,
		ra.RentReasonablenessComp,
		ra.ApprovedRentCeiling,
		ra.CeilingOverride,
		ra.RentUsed,
		ra.InventoryCount,
		ra.WalkMinutes,
	).Scan(&ra.ID, &ra.CeilingOverride, &ra.ApprovedRentCeiling)
	if err != nil {
		return fmt.Errorf("failed to upsert rent assumption for property %d: %w", ra.PropertyID, err)
	}

	return nil
}

func (r *rentAssumptionRepository) InsertExplainRun(ctx context.Context, run *models.RentExplainRun) error {
	query := `
		INSERT INTO rent_explain_runs (
			property_id, strategy, cap_reason, rent_used, approved_ceiling,
			ceiling_source, payment_standard_pct, decision_version, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		RETURNING id, created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		run.PropertyID,
		run.Strategy,
		run.CapReason,
		run.RentUsed,
		run.ApprovedCeiling,
		run.CeilingSource,
		run.PaymentStandardPct,
		run.DecisionVersion,
	).Scan(&run.ID, &run.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert rent explain run for property %d: %w", run.PropertyID, err)
	}

	return nil
}
