// Package compliance provides the rule checks run alongside model scoring.
package compliance

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Engine runs the built-in compliance checks and any loaded custom rules.
// Each check is stateless per call and safe to run in any order; none mutates
// shared state.
type Engine struct {
	cfg  domain.ComplianceConfig
	repo domain.Repository

	restricted map[string]struct{}
	sanctioned map[string]struct{}

	rules *RuleSet
}

// NewEngine creates a compliance engine. repo backs the velocity and
// geographic checks; the restricted and sanctioned sets come from cfg.
func NewEngine(cfg domain.ComplianceConfig, repo domain.Repository) (*Engine, error) {
	if cfg.VelocityWindowHours <= 0 {
		cfg.VelocityWindowHours = 24
	}
	if cfg.VelocityMaxCount <= 0 {
		cfg.VelocityMaxCount = 50
	}
	if cfg.ImpossibleTravelHours <= 0 {
		cfg.ImpossibleTravelHours = 2
	}

	restricted := make(map[string]struct{}, len(cfg.RestrictedCategories))
	for _, c := range cfg.RestrictedCategories {
		restricted[strings.ToLower(c)] = struct{}{}
	}
	sanctioned := make(map[string]struct{}, len(cfg.SanctionedEntities))
	for _, e := range cfg.SanctionedEntities {
		sanctioned[e] = struct{}{}
	}

	rules, err := NewRuleSet()
	if err != nil {
		return nil, err
	}

	return &Engine{
		cfg:        cfg,
		repo:       repo,
		restricted: restricted,
		sanctioned: sanctioned,
		rules:      rules,
	}, nil
}

// Rules returns the custom rule set for loading and reloading.
func (e *Engine) Rules() *RuleSet {
	return e.rules
}

// CheckVelocity fails when the customer's transaction count inside the
// rolling window exceeds the configured limit. cachedCount > 0 is taken as
// the count from the ingest-path counter, skipping the repository query;
// cachedCount <= 0 falls back to counting in the repository.
func (e *Engine) CheckVelocity(ctx context.Context, tx *domain.Transaction, cachedCount int64) (domain.ComplianceCheckResult, error) {
	result := domain.ComplianceCheckResult{
		Check:       domain.CheckVelocity,
		Passed:      true,
		WindowHours: e.cfg.VelocityWindowHours,
	}

	if tx.CustomerID == "" {
		result.Reason = "insufficient data: no customer id"
		return result, nil
	}

	count := cachedCount
	if count <= 0 {
		if e.repo == nil {
			result.Reason = "insufficient data: no transaction history"
			return result, nil
		}

		since := tx.Timestamp.Add(-hoursToDuration(e.cfg.VelocityWindowHours))
		repoCount, err := e.repo.CountTransactionsByCustomer(ctx, tx.CustomerID, since)
		if err != nil {
			return result, fmt.Errorf("velocity count failed: %w", err)
		}
		count = repoCount
	}

	result.TransactionCount = int(count)
	if count > e.cfg.VelocityMaxCount {
		result.Passed = false
		result.Violations = append(result.Violations,
			fmt.Sprintf("high transaction count (%d) in %gh", count, e.cfg.VelocityWindowHours))
	}
	return result, nil
}

// CheckGeographic flags impossible travel: the previous transaction for the
// same customer in a different country, closer in time than the configured
// bound. Missing customer id, country, or prior transaction is a pass with an
// explicit insufficient-data reason.
func (e *Engine) CheckGeographic(ctx context.Context, tx *domain.Transaction) (domain.ComplianceCheckResult, error) {
	result := domain.ComplianceCheckResult{
		Check:  domain.CheckGeographic,
		Passed: true,
	}

	if tx.CustomerID == "" || tx.GeoCountry == "" {
		result.Reason = "insufficient data"
		return result, nil
	}
	if e.repo == nil {
		result.Reason = "no previous transaction"
		return result, nil
	}

	prev, err := e.repo.GetPreviousTransaction(ctx, tx.CustomerID, tx.Timestamp)
	if errors.Is(err, domain.ErrNotFound) {
		result.Reason = "no previous transaction"
		return result, nil
	}
	if err != nil {
		return result, fmt.Errorf("previous transaction lookup failed: %w", err)
	}
	if prev.GeoCountry == "" {
		result.Reason = "no previous transaction"
		return result, nil
	}

	if prev.GeoCountry != tx.GeoCountry {
		diff := tx.Timestamp.Sub(prev.Timestamp).Hours()
		if diff < e.cfg.ImpossibleTravelHours {
			result.Passed = false
			result.PreviousCountry = prev.GeoCountry
			result.CurrentCountry = tx.GeoCountry
			result.TimeDiffHours = &diff
			result.Violations = append(result.Violations,
				fmt.Sprintf("impossible travel: %s -> %s in %.1fh", prev.GeoCountry, tx.GeoCountry, diff))
		}
	}
	return result, nil
}

// CheckMerchant fails for merchant categories in the configured restricted
// set, case-insensitively.
func (e *Engine) CheckMerchant(tx *domain.Transaction) domain.ComplianceCheckResult {
	result := domain.ComplianceCheckResult{
		Check:            domain.CheckMerchant,
		Passed:           true,
		MerchantCategory: tx.MerchantCategory,
	}

	if _, restricted := e.restricted[strings.ToLower(tx.MerchantCategory)]; restricted {
		result.Passed = false
		result.Violations = append(result.Violations,
			fmt.Sprintf("restricted merchant category: %s", tx.MerchantCategory))
	}
	return result
}

// CheckSanctions looks the entity up in the configured blocklist.
func (e *Engine) CheckSanctions(entityID string) domain.ComplianceCheckResult {
	result := domain.ComplianceCheckResult{
		Check:    domain.CheckSanctions,
		Passed:   true,
		EntityID: entityID,
	}

	if _, hit := e.sanctioned[entityID]; hit {
		result.Passed = false
		result.Violations = append(result.Violations,
			fmt.Sprintf("entity %s is on the sanctions list", entityID))
	}
	return result
}

// RunAll runs every built-in check plus the loaded custom rules and
// aggregates the results. velocityCount carries the ingest-path counter when
// the caller maintains one (see CheckVelocity). The report's Reasons
// concatenate all failing checks' violations, ready for audit logging.
func (e *Engine) RunAll(ctx context.Context, tx *domain.Transaction, velocityCount int64) (*domain.ComplianceReport, error) {
	report := &domain.ComplianceReport{
		TxID:   tx.ID,
		Passed: true,
	}

	velocity, err := e.CheckVelocity(ctx, tx, velocityCount)
	if err != nil {
		return nil, err
	}
	geo, err := e.CheckGeographic(ctx, tx)
	if err != nil {
		return nil, err
	}

	checks := []domain.ComplianceCheckResult{
		velocity,
		geo,
		e.CheckMerchant(tx),
		e.CheckSanctions(tx.CustomerID),
	}

	custom, err := e.rules.Evaluate(ctx, tx, int64(velocity.TransactionCount))
	if err != nil {
		return nil, err
	}
	checks = append(checks, custom...)

	for _, check := range checks {
		report.Checks = append(report.Checks, check)
		if !check.Passed {
			report.Passed = false
			report.Reasons = append(report.Reasons, check.Violations...)
		}
	}
	return report, nil
}

func hoursToDuration(hours float64) time.Duration {
	return time.Duration(hours * float64(time.Hour))
}
