package matchhistory

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/ttbverify/labelverify/pkg/models"
)

// PostgresStore writes through a caller-supplied database/sql handle;
// the executor opens one for it separately from the beveragestore's
// own handle. The history table has no write contention with either.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore wraps an already-open *sql.DB and migrates the
// match_history table.
func NewPostgresStore(ctx context.Context, db *sql.DB) (*PostgresStore, error) {
	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		return nil, fmt.Errorf("matchhistory: migrate: %w", err)
	}
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS match_history (
			id               TEXT PRIMARY KEY,
			job_id           TEXT NOT NULL,
			beverage_id      TEXT,
			match_type       TEXT NOT NULL,
			match_confidence DOUBLE PRECISION,
			abv_deviation    DOUBLE PRECISION NOT NULL DEFAULT 0,
			created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE INDEX IF NOT EXISTS idx_match_history_job_id ON match_history (job_id);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, entry *models.MatchHistory) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	const q = `
		INSERT INTO match_history (id, job_id, beverage_id, match_type, match_confidence, abv_deviation, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err := s.db.ExecContext(ctx, q, entry.ID, entry.JobID, entry.BeverageID, entry.MatchType, entry.MatchConfidence, entry.ABVDeviation, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("matchhistory: append: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListForJob(ctx context.Context, jobID string) ([]models.MatchHistory, error) {
	const q = `
		SELECT id, job_id, beverage_id, match_type, match_confidence, abv_deviation, created_at
		FROM match_history WHERE job_id = $1 ORDER BY created_at ASC
	`
	rows, err := s.db.QueryContext(ctx, q, jobID)
	if err != nil {
		return nil, fmt.Errorf("matchhistory: list for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var out []models.MatchHistory
	for rows.Next() {
		var e models.MatchHistory
		if err := rows.Scan(&e.ID, &e.JobID, &e.BeverageID, &e.MatchType, &e.MatchConfidence, &e.ABVDeviation, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("matchhistory: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
