// Package repository provides data persistence implementations.
package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// SQLRepository implements domain.Repository using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (domain.Repository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveTransaction stores a transaction.
func (r *SQLRepository) SaveTransaction(ctx context.Context, tx *domain.Transaction) error {
	if tx.ID == "" {
		return fmt.Errorf("%w: transaction id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO transactions (
			id, amount, currency, merchant_id, merchant_name, merchant_category,
			channel, customer_id, account_id, device_id, ip_address,
			geo_country, geo_city, timestamp, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		tx.ID, tx.Amount, tx.Currency,
		tx.MerchantID, tx.MerchantName, tx.MerchantCategory,
		tx.Channel, tx.CustomerID, tx.AccountID, tx.DeviceID, tx.IPAddress,
		tx.GeoCountry, tx.GeoCity, tx.Timestamp, tx.CreatedAt,
	)
	return err
}

const transactionColumns = `
	id, amount, currency, merchant_id, merchant_name, merchant_category,
	channel, customer_id, account_id, device_id, ip_address,
	geo_country, geo_city, timestamp, created_at`

func scanTransaction(row *sql.Row) (*domain.Transaction, error) {
	var tx domain.Transaction
	err := row.Scan(
		&tx.ID, &tx.Amount, &tx.Currency,
		&tx.MerchantID, &tx.MerchantName, &tx.MerchantCategory,
		&tx.Channel, &tx.CustomerID, &tx.AccountID, &tx.DeviceID, &tx.IPAddress,
		&tx.GeoCountry, &tx.GeoCity, &tx.Timestamp, &tx.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tx, nil
}

// GetTransaction retrieves a transaction by ID.
func (r *SQLRepository) GetTransaction(ctx context.Context, txID string) (*domain.Transaction, error) {
	query := `SELECT` + transactionColumns + ` FROM transactions WHERE id = ?`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tx, err
}

// CountTransactionsByCustomer counts a customer's transactions since a time.
// Backs the velocity compliance check.
func (r *SQLRepository) CountTransactionsByCustomer(ctx context.Context, customerID string, since time.Time) (int64, error) {
	query := `SELECT COUNT(*) FROM transactions WHERE customer_id = ? AND timestamp >= ?`

	var count int64
	err := r.db.QueryRowContext(ctx, r.rebind(query), customerID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count transactions: %w", err)
	}
	return count, nil
}

// GetPreviousTransaction returns the customer's most recent transaction
// strictly before the given time. Backs the geographic consistency check.
func (r *SQLRepository) GetPreviousTransaction(ctx context.Context, customerID string, before time.Time) (*domain.Transaction, error) {
	query := `SELECT` + transactionColumns + `
		FROM transactions
		WHERE customer_id = ? AND timestamp < ?
		ORDER BY timestamp DESC
		LIMIT 1`

	tx, err := scanTransaction(r.db.QueryRowContext(ctx, r.rebind(query), customerID, before))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	return tx, err
}

// GetHistoricalStats aggregates per-customer statistics as of a time.
// Returns nil, nil when the customer has no prior transactions.
func (r *SQLRepository) GetHistoricalStats(ctx context.Context, customerID string, asOf time.Time) (*domain.HistoricalStats, error) {
	query := `
		SELECT COUNT(*), COALESCE(AVG(amount), 0), COALESCE(AVG(amount * amount), 0), COALESCE(MAX(timestamp), ?)
		FROM transactions
		WHERE customer_id = ? AND timestamp < ?
	`

	var count int64
	var avg, avgSq float64
	var last time.Time
	err := r.db.QueryRowContext(ctx, r.rebind(query), asOf, customerID, asOf).Scan(&count, &avg, &avgSq, &last)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate history: %w", err)
	}
	if count == 0 {
		return nil, nil
	}

	// Population variance via E[X^2] - E[X]^2; clamp tiny negatives from
	// floating point cancellation.
	variance := avgSq - avg*avg
	if variance < 0 {
		variance = 0
	}

	count24h, err := r.CountTransactionsByCustomer(ctx, customerID, asOf.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}
	count7d, err := r.CountTransactionsByCustomer(ctx, customerID, asOf.Add(-7*24*time.Hour))
	if err != nil {
		return nil, err
	}

	return &domain.HistoricalStats{
		AvgAmount:            avg,
		StdAmount:            math.Sqrt(variance),
		LastTransactionHours: asOf.Sub(last).Hours(),
		TxCount24h:           int(count24h),
		TxCount7d:            int(count7d),
	}, nil
}

// SaveScore stores a score result.
func (r *SQLRepository) SaveScore(ctx context.Context, score *domain.ScoreResult) error {
	if score.ID == "" {
		return fmt.Errorf("%w: score id is required", domain.ErrInvalidInput)
	}

	contributions, _ := json.Marshal(score.FeatureContributions)
	violations, _ := json.Marshal(score.ComplianceViolations)

	isAnomaly := 0
	if score.IsAnomaly {
		isAnomaly = 1
	}

	query := `
		INSERT INTO scores (
			id, tx_id, anomaly_score, reconstruction_error, classifier_score,
			risk_level, decision, is_anomaly, feature_contributions,
			compliance_violations, timestamp, scored_in_ms
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		score.ID, score.TxID, score.AnomalyScore, score.ReconstructionError, score.ClassifierScore,
		string(score.RiskLevel), string(score.Decision), isAnomaly, string(contributions),
		string(violations), score.Timestamp, score.ScoredIn,
	)
	return err
}

// GetScore retrieves a score result by ID.
func (r *SQLRepository) GetScore(ctx context.Context, scoreID string) (*domain.ScoreResult, error) {
	query := `
		SELECT id, tx_id, anomaly_score, reconstruction_error, classifier_score,
			   risk_level, decision, is_anomaly, feature_contributions,
			   compliance_violations, timestamp, scored_in_ms
		FROM scores
		WHERE id = ?
	`

	var score domain.ScoreResult
	var riskLevel, decision, contributions, violations string
	var isAnomaly int

	err := r.db.QueryRowContext(ctx, r.rebind(query), scoreID).Scan(
		&score.ID, &score.TxID, &score.AnomalyScore, &score.ReconstructionError, &score.ClassifierScore,
		&riskLevel, &decision, &isAnomaly, &contributions,
		&violations, &score.Timestamp, &score.ScoredIn,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	score.RiskLevel = domain.RiskLevel(riskLevel)
	score.Decision = domain.Decision(decision)
	score.IsAnomaly = isAnomaly == 1
	json.Unmarshal([]byte(contributions), &score.FeatureContributions)
	json.Unmarshal([]byte(violations), &score.ComplianceViolations)

	return &score, nil
}

// SaveCase stores an investigation case.
func (r *SQLRepository) SaveCase(ctx context.Context, c *domain.Case) error {
	if c.ID == "" || c.CaseID == "" {
		return fmt.Errorf("%w: case id is required", domain.ErrInvalidInput)
	}

	query := `
		INSERT INTO cases (
			id, case_id, title, description, status, priority, tx_id, score_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		c.ID, c.CaseID, c.Title, c.Description, c.Status, string(c.Priority),
		c.TxID, c.ScoreID, c.CreatedAt,
	)
	return err
}

// GetCase retrieves a case by its human-readable case id.
func (r *SQLRepository) GetCase(ctx context.Context, caseID string) (*domain.Case, error) {
	query := `
		SELECT id, case_id, title, description, status, priority, tx_id, score_id, created_at
		FROM cases
		WHERE case_id = ?
	`

	var c domain.Case
	var priority string

	err := r.db.QueryRowContext(ctx, r.rebind(query), caseID).Scan(
		&c.ID, &c.CaseID, &c.Title, &c.Description, &c.Status, &priority,
		&c.TxID, &c.ScoreID, &c.CreatedAt,
	)

	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	c.Priority = domain.EscalationPriority(priority)
	return &c, nil
}

// SaveRuleConfig stores a custom compliance rule.
func (r *SQLRepository) SaveRuleConfig(ctx context.Context, rule *domain.RuleConfig) error {
	if rule.ID == "" {
		return fmt.Errorf("%w: rule id is required", domain.ErrInvalidInput)
	}

	enabled := 0
	if rule.Enabled {
		enabled = 1
	}
	now := time.Now().UTC()

	query := `
		INSERT INTO rule_configs (
			id, name, description, expression, reason, enabled, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			expression = excluded.expression,
			reason = excluded.reason,
			enabled = excluded.enabled,
			updated_at = excluded.updated_at
	`

	_, err := r.db.ExecContext(ctx, r.rebind(query),
		rule.ID, rule.Name, rule.Description, rule.Expression, rule.Reason, enabled, now, now,
	)
	return err
}

// ListRuleConfigs retrieves all enabled custom compliance rules.
func (r *SQLRepository) ListRuleConfigs(ctx context.Context) ([]*domain.RuleConfig, error) {
	query := `
		SELECT id, name, description, expression, reason, enabled
		FROM rule_configs
		WHERE enabled = 1
		ORDER BY name
	`

	rows, err := r.db.QueryContext(ctx, r.rebind(query))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []*domain.RuleConfig
	for rows.Next() {
		var cfg domain.RuleConfig
		var enabled int

		if err := rows.Scan(&cfg.ID, &cfg.Name, &cfg.Description, &cfg.Expression, &cfg.Reason, &enabled); err != nil {
			return nil, err
		}

		cfg.Enabled = enabled == 1
		configs = append(configs, &cfg)
	}

	return configs, rows.Err()
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
