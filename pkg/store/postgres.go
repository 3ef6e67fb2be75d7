package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgreSQLStore is a PostgreSQL-backed ledger
type PostgreSQLStore struct {
	*sqlStore
}

const postgresUpsert = `INSERT INTO verifications
	(id, command, material, friction_mu, mass_kg, verdict, is_crash, dangerous_intent,
	 governor_active, forensics_degraded, steps, created_at, duration_ms)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		verdict = EXCLUDED.verdict,
		is_crash = EXCLUDED.is_crash,
		forensics_degraded = EXCLUDED.forensics_degraded,
		duration_ms = EXCLUDED.duration_ms`

// NewPostgreSQLStore connects and ensures the schema exists
func NewPostgreSQLStore(config Config) (*PostgreSQLStore, error) {
	if config.DSN == "" {
		return nil, fmt.Errorf("PostgreSQL DSN is required")
	}

	db, err := sql.Open("postgres", config.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if config.MaxOpenConns > 0 {
		db.SetMaxOpenConns(config.MaxOpenConns)
	} else {
		db.SetMaxOpenConns(10)
	}
	if config.MaxIdleConns > 0 {
		db.SetMaxIdleConns(config.MaxIdleConns)
	} else {
		db.SetMaxIdleConns(2)
	}
	if config.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.ConnMaxLifetime)
	} else {
		db.SetConnMaxLifetime(5 * time.Minute)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := newPostgreSQLStore(db)
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func newPostgreSQLStore(db *sql.DB) *PostgreSQLStore {
	return &PostgreSQLStore{&sqlStore{
		db:          db,
		placeholder: dollar,
		upsert:      postgresUpsert,
	}}
}
