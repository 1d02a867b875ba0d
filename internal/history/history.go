// Package history supplies per-customer historical aggregates to the scorer.
package history

import (
	"context"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Service computes historical statistics and velocity counts for customers.
// The repository is the source of truth; the cache keeps hot velocity
// counters so the scoring path rarely touches the database twice.
type Service struct {
	repo  domain.Repository
	cache domain.Cache
}

// NewService creates a new history service.
func NewService(repo domain.Repository, cache domain.Cache) *Service {
	return &Service{repo: repo, cache: cache}
}

// Stats returns the customer's historical aggregates as of the given time.
// A customer with no history yields nil, which downstream consumers treat as
// neutral defaults; it is never an error.
func (s *Service) Stats(ctx context.Context, customerID string, asOf time.Time) (*domain.HistoricalStats, error) {
	if customerID == "" || s.repo == nil {
		return nil, nil
	}
	stats, err := s.repo.GetHistoricalStats(ctx, customerID, asOf)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate customer history: %w", err)
	}
	return stats, nil
}

// RecordArrival bumps the customer's rolling velocity counter. Called once
// per ingested transaction; the returned count reflects the window so far.
func (s *Service) RecordArrival(ctx context.Context, customerID string, window time.Duration) (int64, error) {
	if customerID == "" {
		return 0, fmt.Errorf("%w: customerID is required", domain.ErrInvalidInput)
	}
	if s.cache == nil {
		return 0, nil
	}
	return s.cache.IncrementCounter(ctx, "velocity:"+customerID, window)
}

// TransactionCount returns the number of transactions for the customer since
// the given time, straight from the repository.
func (s *Service) TransactionCount(ctx context.Context, customerID string, since time.Time) (int64, error) {
	if customerID == "" {
		return 0, fmt.Errorf("%w: customerID is required", domain.ErrInvalidInput)
	}
	return s.repo.CountTransactionsByCustomer(ctx, customerID, since)
}
