package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction operations
	SaveTransaction(ctx context.Context, tx *Transaction) error
	GetTransaction(ctx context.Context, txID string) (*Transaction, error)

	// CountTransactionsByCustomer returns the number of transactions for a
	// customer since the given time. Backs the velocity check.
	CountTransactionsByCustomer(ctx context.Context, customerID string, since time.Time) (int64, error)

	// GetPreviousTransaction returns the customer's most recent transaction
	// strictly before the given time, or ErrNotFound. Backs the geographic
	// consistency check.
	GetPreviousTransaction(ctx context.Context, customerID string, before time.Time) (*Transaction, error)

	// GetHistoricalStats aggregates per-customer statistics as of the given
	// time. Returns nil (not an error) when the customer has no history.
	GetHistoricalStats(ctx context.Context, customerID string, asOf time.Time) (*HistoricalStats, error)

	// Score results
	SaveScore(ctx context.Context, score *ScoreResult) error
	GetScore(ctx context.Context, scoreID string) (*ScoreResult, error)

	// Cases
	SaveCase(ctx context.Context, c *Case) error
	GetCase(ctx context.Context, caseID string) (*Case, error)

	// Custom compliance rules
	SaveRuleConfig(ctx context.Context, rule *RuleConfig) error
	ListRuleConfigs(ctx context.Context) ([]*RuleConfig, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string

	// SQLite specific
	SQLitePath string

	// PostgreSQL specific
	PostgresHost     string
	PostgresPort     int
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
