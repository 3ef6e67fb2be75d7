package store

import (
	"context"
	"errors"
	"time"

	"github.com/psantana5/physician/pkg/models"
)

// Store is the verification audit ledger.
// Memory, SQLite and PostgreSQL implement it.
type Store interface {
	SaveVerification(ctx context.Context, rec *models.VerificationRecord) error
	GetVerification(ctx context.Context, id string) (*models.VerificationRecord, error)
	ListVerifications(ctx context.Context, filter ListFilter) ([]*models.VerificationRecord, error)
	GetStats(ctx context.Context) (*Stats, error)

	// DeleteVerificationsBefore removes records created before cutoff, at most
	// limit per call (0 means no limit), and returns how many were removed.
	DeleteVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error)

	// Lifecycle
	Close() error
	HealthCheck() error
}

// ListFilter narrows ListVerifications. Results are newest first.
type ListFilter struct {
	Verdict models.VerdictStatus // empty for all
	Since   time.Time            // zero for all
	Limit   int                  // <= 0 means DefaultListLimit
}

// DefaultListLimit caps list queries without an explicit limit
const DefaultListLimit = 50

func (f ListFilter) limit() int {
	if f.Limit <= 0 {
		return DefaultListLimit
	}
	return f.Limit
}

// Stats aggregates the ledger
type Stats struct {
	Total             int     `json:"total" yaml:"total"`
	Go                int     `json:"go" yaml:"go"`
	Blocked           int     `json:"blocked" yaml:"blocked"`
	Crashes           int     `json:"crashes" yaml:"crashes"`
	DangerousIntent   int     `json:"dangerous_intent" yaml:"dangerous_intent"`
	GovernorActive    int     `json:"governor_active" yaml:"governor_active"`
	ForensicsDegraded int     `json:"forensics_degraded" yaml:"forensics_degraded"`
	AvgDurationMs     float64 `json:"avg_duration_ms" yaml:"avg_duration_ms"`
}

// Config holds database configuration
type Config struct {
	Type string `mapstructure:"type" yaml:"type"` // "memory", "sqlite" or "postgres"
	DSN  string `mapstructure:"dsn" yaml:"dsn"`   // Connection string

	// PostgreSQL specific
	MaxOpenConns    int           `mapstructure:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime" yaml:"conn_max_lifetime"`

	// SQLite specific
	Path string `mapstructure:"path" yaml:"path"`
}

var (
	ErrNotFound            = errors.New("verification not found")
	ErrUnsupportedDatabase = errors.New("unsupported database type")
)

// NewStore creates a store based on configuration
func NewStore(config Config) (Store, error) {
	switch config.Type {
	case "memory", "":
		return NewMemoryStore(), nil
	case "sqlite", "sqlite3":
		path := config.Path
		if path == "" {
			path = config.DSN
		}
		if path == "" {
			path = "physician.db"
		}
		return NewSQLiteStore(path)
	case "postgres", "postgresql":
		return NewPostgreSQLStore(config)
	default:
		return nil, ErrUnsupportedDatabase
	}
}
