// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// Transaction dataset operations
	SaveTransactions(ctx context.Context, txs []Transaction) error
	ListTransactions(ctx context.Context) ([]Transaction, error)
	GetTransactionsByUser(ctx context.Context, userID string) ([]Transaction, error)

	// Rule configuration operations
	SaveRuleConfiguration(ctx context.Context, cfg *RuleConfiguration) error
	GetRuleConfiguration(ctx context.Context, name string) (*RuleConfiguration, error)
	ListRuleConfigurations(ctx context.Context) ([]*RuleConfiguration, error)

	// Detection runs and their per-transaction results
	SaveRun(ctx context.Context, run *DetectionRun) error
	GetRun(ctx context.Context, runID string) (*DetectionRun, error)
	GetRunResults(ctx context.Context, runID string) ([]AnnotatedTransaction, error)
	ListRuns(ctx context.Context, limit int) ([]*DetectionRun, error)

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
