// Package domain defines the core interfaces and types for the cotation service.
package domain

import (
	"context"
	"time"
)

// Repository stores the local ledger of save attempts.
// The upstream web application remains the system of record for cotations.
type Repository interface {
	// Save attempts
	SaveAttempt(ctx context.Context, rec *SaveRecord) error
	GetAttempt(ctx context.Context, id string) (*SaveRecord, error)
	ListAttempts(ctx context.Context, seanceID int64) ([]*SaveRecord, error)
	LatestSuccess(ctx context.Context, practitionerID string, seanceID, grilleID int64) (*SaveRecord, error)

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `yaml:"driver" json:"driver"`

	// SQLite specific
	SQLitePath string `yaml:"sqlitePath" json:"sqlitePath"`

	// PostgreSQL specific
	PostgresHost     string `yaml:"postgresHost" json:"postgresHost"`
	PostgresPort     int    `yaml:"postgresPort" json:"postgresPort"`
	PostgresUser     string `yaml:"postgresUser" json:"postgresUser"`
	PostgresPassword string `yaml:"postgresPassword" json:"-"`
	PostgresDB       string `yaml:"postgresDb" json:"postgresDb"`
	PostgresSSLMode  string `yaml:"postgresSslMode" json:"postgresSslMode"`

	// Connection pool settings
	MaxOpenConns    int           `yaml:"maxOpenConns" json:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns" json:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime" json:"connMaxLifetime"`
}
