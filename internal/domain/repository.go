// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// Repository is the Record Store: durable storage for fraud cases, the
// append-only lead log, and qualifier configurations.
type Repository interface {
	// Fraud case operations
	CreateCase(ctx context.Context, c *FraudCase) (int64, error)
	GetCase(ctx context.Context, id int64) (*FraudCase, error)
	ListCases(ctx context.Context, status CaseStatus, limit int) ([]*FraudCase, error)

	// LoadPendingCase returns at most one case whose status is exactly
	// pending_review and whose customer name matches case-insensitively.
	// Ties are broken deterministically by lowest id.
	LoadPendingCase(ctx context.Context, customerName string) (*FraudCase, error)

	// UpdateCaseStatus transitions a case and stamps updated_at in a single
	// atomic statement. Statuses outside the enumeration, and pending_review
	// as a target, are rejected at this boundary.
	UpdateCaseStatus(ctx context.Context, id int64, status CaseStatus, outcomeNote string) error

	// Lead log operations. AppendLead never overwrites or merges entries.
	AppendLead(ctx context.Context, lead *Lead) error
	ListLeads(ctx context.Context) ([]*Lead, error)

	// Qualifier configuration operations
	SaveQualifier(ctx context.Context, q *QualifierConfig) error
	ListQualifiers(ctx context.Context) ([]*QualifierConfig, error)

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

	// LeadLogPath is the JSON document holding the append-only lead log.
	LeadLogPath string

	// Connection pool settings
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}
