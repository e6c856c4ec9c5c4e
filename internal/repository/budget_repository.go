package repository

import (
	"context"
	"fmt"

	"github.com/onehaven/haven/api/internal/database"
)

// BudgetRepository persists the external-provider call ledger. One row per
// (provider, day); the tracker seeds from and writes through it.
type BudgetRepository interface {
	// UsedToday returns the calls consumed for the provider today.
	UsedToday(ctx context.Context, provider string) (int, error)

	// Increment adds calls to today's ledger row, creating it if needed.
	Increment(ctx context.Context, provider string, calls int) error
}

type budgetRepository struct {
	db *database.Database
}

// NewBudgetRepository creates a new instance of BudgetRepository.
func NewBudgetRepository(db *database.Database) BudgetRepository {
	return &budgetRepository{db: db}
}

func (r *budgetRepository) UsedToday(ctx context.Context, provider string) (int, error) {
	query := `
		SELECT COALESCE(SUM(calls), 0)
		FROM api_usage
		WHERE provider = $1 AND day = CURRENT_DATE
	`

	var used int
	if err := r.db.Pool.QueryRow(ctx, query, provider).Scan(&used); err != nil {
		return 0, fmt.Errorf("failed to query budget usage for provider %s: %w", provider, err)
	}
	return used, nil
}

func (r *budgetRepository) Increment(ctx context.Context, provider string, calls int) error {
	query := `
		INSERT INTO api_usage (provider, day, calls, updated_at)
		VALUES ($1, CURRENT_DATE, $2, now())
		ON CONFLICT (provider, day) DO UPDATE SET
			calls      = api_usage.calls + EXCLUDED.calls,
			updated_at = now()
	`

	if _, err := r.db.Pool.Exec(ctx, query, provider, calls); err != nil {
		return fmt.Errorf("failed to increment budget usage for provider %s: %w", provider, err)
	}
	return nil
}
