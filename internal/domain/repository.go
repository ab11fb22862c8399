// Package domain defines the core interfaces and types for Harrier.
package domain

import (
	"context"
	"time"
)

// Repository defines the interface for data persistence.
type Repository interface {
	// ReplaceDataset atomically wipes all collections (including derived
	// scores and alerts) and writes the new canonical entity set. On error
	// the store is left fully rolled back.
	ReplaceDataset(ctx context.Context, ds *Dataset) error

	// User reads
	ListUsers(ctx context.Context, skip, limit int) ([]*User, error)
	GetUser(ctx context.Context, userID int64) (*User, error)
	AllUserIDs(ctx context.Context) ([]int64, error)

	// Transaction reads
	ListTransactions(ctx context.Context, skip, limit int) ([]*Transaction, error)
	TransactionsByUserSince(ctx context.Context, userID int64, since time.Time) ([]*Transaction, error)
	CountTransactions(ctx context.Context) (int64, error)
	SumTransactionAmounts(ctx context.Context) (float64, error)

	// Item reads
	GetItem(ctx context.Context, itemID string) (*Item, error)
	CountItemsByTransactions(ctx context.Context, txnIDs []string) (int64, error)

	// Return reads
	ReturnsByUserSince(ctx context.Context, userID int64, since time.Time) ([]*Return, error)

	// Behavior scores: one current record per user, upserted each run.
	UpsertBehaviorScore(ctx context.Context, score *BehaviorScore) error
	GetBehaviorScore(ctx context.Context, userID int64) (*BehaviorScore, error)
	ListBehaviorScores(ctx context.Context, limit int) ([]*BehaviorScore, error)
	HighRiskUserIDs(ctx context.Context, minScore float64) ([]int64, error)

	// Refund aggregates for the analytics summary. include selects whether
	// userIDs is a membership or an exclusion filter.
	SumRefundsByUserSet(ctx context.Context, userIDs []int64, include bool) (total float64, count int64, err error)

	// Alerts are append-only.
	InsertAlert(ctx context.Context, alert *FraudAlert) error
	GetActiveAlert(ctx context.Context, userID int64) (*FraudAlert, error)
	AlertsByUser(ctx context.Context, userID int64) ([]*FraudAlert, error)
	ListAlerts(ctx context.Context, limit int) ([]*FraudAlert, error)

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
