package compliance

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/opensource-finance/kestrel/internal/domain"
)

// RuleSet holds compiled custom compliance rules. Rules are CEL expressions
// over transaction fields; an expression evaluating to true means the rule is
// violated. Supports hot reload from the repository.
type RuleSet struct {
	mu       sync.RWMutex
	env      *cel.Env
	compiled map[string]*compiledRule
}

type compiledRule struct {
	config  *domain.RuleConfig
	program cel.Program
}

// NewRuleSet creates an empty rule set with the scoring CEL environment.
func NewRuleSet() (*RuleSet, error) {
	env, err := cel.NewEnv(
		cel.Variable("amount", cel.DoubleType),
		cel.Variable("currency", cel.StringType),
		cel.Variable("merchant_category", cel.StringType),
		cel.Variable("merchant_id", cel.StringType),
		cel.Variable("channel", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
		cel.Variable("geo_country", cel.StringType),
		cel.Variable("hour", cel.IntType),
		cel.Variable("velocity_count", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &RuleSet{
		env:      env,
		compiled: make(map[string]*compiledRule),
	}, nil
}

// Load compiles and loads a rule.
func (rs *RuleSet) Load(cfg *domain.RuleConfig) error {
	compiled, err := rs.compile(cfg)
	if err != nil {
		return err
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.compiled[cfg.ID] = compiled
	return nil
}

// Reload replaces all loaded rules with the given enabled configs.
func (rs *RuleSet) Reload(configs []*domain.RuleConfig) error {
	next := make(map[string]*compiledRule)
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := rs.compile(cfg)
		if err != nil {
			return err
		}
		next[cfg.ID] = compiled
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	rs.compiled = next
	return nil
}

// Count returns the number of loaded rules.
func (rs *RuleSet) Count() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.compiled)
}

// Evaluate runs every loaded rule against the transaction and returns one
// check result per rule.
func (rs *RuleSet) Evaluate(ctx context.Context, tx *domain.Transaction, velocityCount int64) ([]domain.ComplianceCheckResult, error) {
	rs.mu.RLock()
	rules := make([]*compiledRule, 0, len(rs.compiled))
	for _, r := range rs.compiled {
		rules = append(rules, r)
	}
	rs.mu.RUnlock()

	if len(rules) == 0 {
		return nil, nil
	}

	activation := map[string]any{
		"amount":            tx.Amount,
		"currency":          tx.Currency,
		"merchant_category": tx.MerchantCategory,
		"merchant_id":       tx.MerchantID,
		"channel":           tx.Channel,
		"customer_id":       tx.CustomerID,
		"geo_country":       tx.GeoCountry,
		"hour":              int64(tx.Timestamp.Hour()),
		"velocity_count":    velocityCount,
	}

	results := make([]domain.ComplianceCheckResult, 0, len(rules))
	for _, rule := range rules {
		result := domain.ComplianceCheckResult{
			Check:  domain.CheckCustomRule + ":" + rule.config.ID,
			Passed: true,
		}

		out, _, err := rule.program.ContextEval(ctx, activation)
		if err != nil {
			return nil, fmt.Errorf("rule %s evaluation failed: %w", rule.config.ID, err)
		}

		if violated, ok := out.(types.Bool); ok && bool(violated) {
			result.Passed = false
			reason := rule.config.Reason
			if reason == "" {
				reason = fmt.Sprintf("custom rule %s triggered", rule.config.Name)
			}
			result.Violations = append(result.Violations, reason)
		}
		results = append(results, result)
	}
	return results, nil
}

func (rs *RuleSet) compile(cfg *domain.RuleConfig) (*compiledRule, error) {
	if cfg == nil || cfg.Expression == "" {
		return nil, fmt.Errorf("%w: rule expression is required", domain.ErrInvalidInput)
	}

	ast, issues := rs.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if ast.OutputType() != cel.BoolType {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := rs.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &compiledRule{config: cfg, program: program}, nil
}
