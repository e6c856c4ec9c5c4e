package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/onehaven/haven/api/internal/database"
	"github.com/onehaven/haven/api/internal/models"
)

// JurisdictionRepository defines data access for jurisdiction rules.
type JurisdictionRepository interface {
	// FindForCityState returns the rule for (city, state), preferring an
	// org-scoped override row over the global default when both exist.
	// Returns nil, nil when the jurisdiction is unknown (not an error).
	FindForCityState(ctx context.Context, city, state string) (*models.JurisdictionRule, error)
}

type jurisdictionRepository struct {
	db *database.Database
}

// NewJurisdictionRepository creates a new instance of JurisdictionRepository.
func NewJurisdictionRepository(db *database.Database) JurisdictionRepository {
	return &jurisdictionRepository{db: db}
}

func (r *jurisdictionRepository) FindForCityState(ctx context.Context, city, state string) (*models.JurisdictionRule, error) {
	// org_id IS NULL marks the global default; NULLS LAST prefers the
	// org-scoped override.
	query := `
		SELECT
			id, org_id, city, state, rental_license_required,
			inspection_authority, inspection_frequency, typical_fail_points_json,
			registration_fee, processing_days, tenant_waitlist_depth, notes,
			created_at, updated_at
		FROM jurisdiction_rules
		WHERE lower(city) = lower($1) AND upper(state) = upper($2)
		ORDER BY org_id NULLS LAST
		LIMIT 1
	`

	var rule models.JurisdictionRule
	var failPointsJSON *string
	err := r.db.Pool.QueryRow(ctx, query, city, state).Scan(
		&rule.ID,
		&rule.OrgID,
		&rule.City,
		&rule.State,
		&rule.RentalLicenseRequired,
		&rule.InspectionAuthority,
		&rule.InspectionFrequency,
		&failPointsJSON,
		&rule.RegistrationFee,
		&rule.ProcessingDays,
		&rule.TenantWaitlistDepth,
		&rule.Notes,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query jurisdiction rule for %s, %s: %w", city, state, err)
	}

	if failPointsJSON != nil && *failPointsJSON != "" {
		if err := json.Unmarshal([]byte(*failPointsJSON), &rule.TypicalFailPoints); err != nil {
			return nil, fmt.Errorf("failed to parse fail points for jurisdiction %d: %w", rule.ID, err)
		}
	}

	return &rule, nil
}
