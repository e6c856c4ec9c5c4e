package services

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/onehaven/haven/api/internal/logger"
	"github.com/onehaven/haven/api/internal/repository"
)

// ErrBudgetExceeded is returned by Reserve when the provider's daily call
// quota is spent.
var ErrBudgetExceeded = errors.New("daily provider call budget exceeded")

// BudgetTracker serializes call-budget admission for one provider. The
// in-memory counter is the concurrency guard; the api_usage ledger is the
// durable record that survives restarts. Check and increment happen under
// one lock so concurrent enrichment can never overshoot the quota.
type BudgetTracker struct {
	mu       sync.Mutex
	provider string
	quota    int
	used     int
	day      string
	repo     repository.BudgetRepository
	logger   *logger.Logger
}

// NewBudgetTracker creates a tracker for the provider with the given daily
// quota. The counter seeds from the ledger on first use.
func NewBudgetTracker(repo repository.BudgetRepository, provider string, quota int, log *logger.Logger) *BudgetTracker {
	return &BudgetTracker{
		provider: provider,
		quota:    quota,
		repo:     repo,
		logger:   log,
	}
}

// Reserve claims one call against today's budget, persisting the claim
// before returning. Returns ErrBudgetExceeded once the quota is spent; the
// claim is released if persisting it fails.
func (t *BudgetTracker) Reserve(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.seedLocked(ctx); err != nil {
		return err
	}

	if t.used >= t.quota {
		return ErrBudgetExceeded
	}

	t.used++
	if err := t.repo.Increment(ctx, t.provider, 1); err != nil {
		t.used--
		return fmt.Errorf("failed to persist budget claim: %w", err)
	}

	return nil
}

// Usage returns today's consumed calls and the configured quota.
func (t *BudgetTracker) Usage(ctx context.Context) (used, quota int, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if err := t.seedLocked(ctx); err != nil {
		return 0, 0, err
	}
	return t.used, t.quota, nil
}

// seedLocked loads today's usage from the ledger on first use and whenever
// the calendar day rolls over. Caller holds the lock.
func (t *BudgetTracker) seedLocked(ctx context.Context) error {
	today := time.Now().UTC().Format("2006-01-02")
	if t.day == today {
		return nil
	}

	used, err := t.repo.UsedToday(ctx, t.provider)
	if err != nil {
		return fmt.Errorf("failed to seed budget tracker: %w", err)
	}

	t.day = today
	t.used = used
	t.logger.Debug("budget tracker seeded", map[string]interface{}{
		"provider": t.provider,
		"used":     used,
		"quota":    t.quota,
	})
	return nil
}
