// Package domain defines the core interfaces and types for SentinelShield.
package domain

import (
	"context"
	"time"
)

// Store holds the keyed entities and the global state row.
// Get methods return ErrNotFound when the key is absent.
type Store interface {
	GetTraderProfile(ctx context.Context, trader string) (*TraderProfile, error)
	SaveTraderProfile(ctx context.Context, p *TraderProfile) error

	GetAlert(ctx context.Context, id uint64) (*FraudAlert, error)
	SaveAlert(ctx context.Context, a *FraudAlert) error
	ListAlerts(ctx context.Context, filter AlertFilter) ([]*FraudAlert, error)

	GetModelWeight(ctx context.Context, featureID string) (*ModelWeight, error)
	SaveModelWeight(ctx context.Context, w *ModelWeight) error
	ListModelWeights(ctx context.Context) ([]*ModelWeight, error)

	GetAnomaly(ctx context.Context, trader string, windowID uint64) (*TradingAnomaly, error)
	SaveAnomaly(ctx context.Context, a *TradingAnomaly) error
	ListAnomalies(ctx context.Context, trader string) ([]*TradingAnomaly, error)

	GetSystemState(ctx context.Context) (*SystemState, error)
	SaveSystemState(ctx context.Context, s *SystemState) error
}

// Repository is the durable state store.
type Repository interface {
	Store

	// Atomic runs fn inside one transaction. Every write made through the
	// Store passed to fn commits together, or none does when fn fails.
	Atomic(ctx context.Context, fn func(tx Store) error) error

	// Detection rule configuration
	SaveDetectionRule(ctx context.Context, rule *DetectionRule) error
	ListDetectionRules(ctx context.Context) ([]*DetectionRule, error)

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
