package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/psantana5/physician/pkg/models"
)

// sqlStore holds the queries shared by the SQLite and PostgreSQL backends.
// Queries are written with ? placeholders and rebound for postgres.
type sqlStore struct {
	db          *sql.DB
	placeholder func(n int) string
	upsert      string
}

const schema = `
	CREATE TABLE IF NOT EXISTS verifications (
		id TEXT PRIMARY KEY,
		command TEXT NOT NULL,
		material TEXT NOT NULL,
		friction_mu DOUBLE PRECISION NOT NULL,
		mass_kg DOUBLE PRECISION NOT NULL,
		verdict TEXT NOT NULL,
		is_crash BOOLEAN NOT NULL,
		dangerous_intent BOOLEAN NOT NULL,
		governor_active BOOLEAN NOT NULL,
		forensics_degraded BOOLEAN NOT NULL,
		steps INTEGER NOT NULL,
		created_at TIMESTAMP NOT NULL,
		duration_ms BIGINT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_verifications_created ON verifications(created_at);
	CREATE INDEX IF NOT EXISTS idx_verifications_verdict ON verifications(verdict);
	`

const selectColumns = `id, command, material, friction_mu, mass_kg, verdict, is_crash,
	dangerous_intent, governor_active, forensics_degraded, steps, created_at, duration_ms`

func dollar(n int) string { return "$" + strconv.Itoa(n) }

// bind rewrites ? placeholders with the backend's syntax
func (s *sqlStore) bind(query string) string {
	if s.placeholder == nil {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteString(s.placeholder(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

func (s *sqlStore) initSchema() error {
	_, err := s.db.Exec(schema)
	return err
}

func (s *sqlStore) SaveVerification(ctx context.Context, rec *models.VerificationRecord) error {
	_, err := s.db.ExecContext(ctx, s.bind(s.upsert),
		rec.ID, rec.Command, rec.Material, rec.FrictionMu, rec.MassKg, string(rec.Verdict),
		rec.IsCrash, rec.DangerousIntent, rec.GovernorActive, rec.ForensicsDegraded,
		rec.Steps, rec.CreatedAt.UTC(), rec.DurationMs)
	if err != nil {
		return fmt.Errorf("failed to save verification %s: %w", rec.ID, err)
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.VerificationRecord, error) {
	var rec models.VerificationRecord
	var verdict string
	if err := row.Scan(&rec.ID, &rec.Command, &rec.Material, &rec.FrictionMu, &rec.MassKg, &verdict,
		&rec.IsCrash, &rec.DangerousIntent, &rec.GovernorActive, &rec.ForensicsDegraded,
		&rec.Steps, &rec.CreatedAt, &rec.DurationMs); err != nil {
		return nil, err
	}
	rec.Verdict = models.VerdictStatus(verdict)
	return &rec, nil
}

func (s *sqlStore) GetVerification(ctx context.Context, id string) (*models.VerificationRecord, error) {
	row := s.db.QueryRowContext(ctx, s.bind("SELECT "+selectColumns+" FROM verifications WHERE id = ?"), id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get verification %s: %w", id, err)
	}
	return rec, nil
}

func (s *sqlStore) ListVerifications(ctx context.Context, filter ListFilter) ([]*models.VerificationRecord, error) {
	query := "SELECT " + selectColumns + " FROM verifications"
	var conds []string
	var args []any
	if filter.Verdict != "" {
		conds = append(conds, "verdict = ?")
		args = append(args, string(filter.Verdict))
	}
	if !filter.Since.IsZero() {
		conds = append(conds, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC LIMIT ?"
	args = append(args, filter.limit())

	rows, err := s.db.QueryContext(ctx, s.bind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list verifications: %w", err)
	}
	defer rows.Close()

	var out []*models.VerificationRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan verification: %w", err)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

const statsQuery = `
	SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN verdict = 'GO' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN verdict = 'BLOCKED' THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN is_crash THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN dangerous_intent THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN governor_active THEN 1 ELSE 0 END), 0),
		COALESCE(SUM(CASE WHEN forensics_degraded THEN 1 ELSE 0 END), 0),
		COALESCE(AVG(duration_ms), 0)
	FROM verifications`

func (s *sqlStore) GetStats(ctx context.Context) (*Stats, error) {
	var st Stats
	err := s.db.QueryRowContext(ctx, statsQuery).Scan(
		&st.Total, &st.Go, &st.Blocked, &st.Crashes,
		&st.DangerousIntent, &st.GovernorActive, &st.ForensicsDegraded, &st.AvgDurationMs)
	if err != nil {
		return nil, fmt.Errorf("failed to compute stats: %w", err)
	}
	return &st, nil
}

func (s *sqlStore) DeleteVerificationsBefore(ctx context.Context, cutoff time.Time, limit int) (int64, error) {
	query := "DELETE FROM verifications WHERE created_at < ?"
	args := []any{cutoff.UTC()}
	if limit > 0 {
		query = "DELETE FROM verifications WHERE id IN (SELECT id FROM verifications WHERE created_at < ? ORDER BY created_at LIMIT ?)"
		args = append(args, limit)
	}

	res, err := s.db.ExecContext(ctx, s.bind(query), args...)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old verifications: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count deleted verifications: %w", err)
	}
	return n, nil
}

func (s *sqlStore) Close() error {
	return s.db.Close()
}

func (s *sqlStore) HealthCheck() error {
	return s.db.Ping()
}
