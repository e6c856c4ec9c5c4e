package repository

import (
	"context"
	"fmt"

	"github.com/onehaven/haven/api/internal/database"
	"github.com/onehaven/haven/api/internal/models"
)

// DealRow is a deal joined with its property, the unit the pipeline works
// in. Snapshots guarantee every deal references a valid property row.
type DealRow struct {
	Deal     models.Deal
	Property models.Property
}

// DealRepository defines data access for snapshot deal rows.
type DealRepository interface {
	// ListBySnapshot returns the deals of one snapshot joined with their
	// properties, in insertion order. limit <= 0 means no limit.
	// Returns an empty slice if the snapshot has no deals (not an error).
	ListBySnapshot(ctx context.Context, snapshotID uint, limit int) ([]DealRow, error)
}

type dealRepository struct {
	db *database.Database
}

// NewDealRepository creates a new instance of DealRepository.
func NewDealRepository(db *database.Database) DealRepository {
	return &dealRepository{db: db}
}

func (r *dealRepository) ListBySnapshot(ctx context.Context, snapshotID uint, limit int) ([]DealRow, error) {
	query := `
		SELECT
			d.id, d.property_id, d.snapshot_id, d.source,
			d.asking_price, d.estimated_purchase_price, d.rehab_estimate,
			d.strategy, d.interest_rate, d.term_years, d.down_payment_pct,
			d.created_at,
			p.id, p.address, p.city, p.state, p.zip,
			p.bedrooms, p.bathrooms, p.square_feet, p.year_built,
			p.has_garage, p.property_type, p.created_at
		FROM deals d
		JOIN properties p ON p.id = d.property_id
		WHERE d.snapshot_id = $1
		ORDER BY d.id
	`
	args := []interface{}{snapshotID}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query deals for snapshot %d: %w", snapshotID, err)
	}
	defer rows.Close()

	var results []DealRow
	for rows.Next() {
		var row DealRow
		err := rows.Scan(
			&row.Deal.ID,
			&row.Deal.PropertyID,
			&row.Deal.SnapshotID,
			&row.Deal.Source,
			&row.Deal.AskingPrice,
			&row.Deal.EstimatedPurchasePrice,
			&row.Deal.RehabEstimate,
			&row.Deal.Strategy,
			&row.Deal.InterestRate,
			&row.Deal.TermYears,
			&row.Deal.DownPaymentPct,
			&row.Deal.CreatedAt,
			&row.Property.ID,
			&row.Property.Address,
			&row.Property.City,
			&row.Property.State,
			&row.Property.Zip,
			&row.Property.Bedrooms,
			&row.Property.Bathrooms,
			&row.Property.SquareFeet,
			&row.Property.YearBuilt,
			&row.Property.HasGarage,
			&row.Property.PropertyType,
			&row.Property.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan deal row: %w", err)
		}
		results = append(results, row)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deal rows: %w", err)
	}

	if results == nil {
		results = []DealRow{}
	}
	return results, nil
}
