package jobstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/ttbverify/labelverify/pkg/models"
)

// PostgresStore persists jobs in Postgres via a pooled connection,
// grounded on the teacher's pgxpool connect/ping/migrate/Close shape.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects, pings, and migrates the jobs table.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connURL)
	if err != nil {
		return nil, fmt.Errorf("jobstore: connect: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("jobstore: ping: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("jobstore: migrate: %w", err)
	}
	log.Info().Msg("jobstore initialized")
	return s, nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS verify_jobs (
			id                  TEXT PRIMARY KEY,
			state               TEXT NOT NULL,
			blob_key            TEXT NOT NULL,
			expected_fields     JSONB,
			extracted_fields    JSONB,
			result              JSONB,
			retry_count         INT NOT NULL DEFAULT 0,
			error               TEXT,
			created_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			processing_start_at TIMESTAMPTZ,
			processing_end_at   TIMESTAMPTZ
		);

		CREATE INDEX IF NOT EXISTS idx_verify_jobs_state ON verify_jobs (state);
	`
	_, err := s.pool.Exec(ctx, ddl)
	return err
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Create(ctx context.Context, job *models.Job) error {
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now

	expected, err := json.Marshal(job.Expected)
	if err != nil {
		return fmt.Errorf("jobstore: marshal expected: %w", err)
	}

	const q = `
		INSERT INTO verify_jobs (id, state, blob_key, expected_fields, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`
	_, err = s.pool.Exec(ctx, q, job.ID, job.State, job.BlobKey, expected, job.RetryCount, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("jobstore: create %s: %w", job.ID, err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*models.Job, error) {
	const q = `
		SELECT id, state, blob_key, expected_fields, extracted_fields, result,
		       retry_count, error, created_at, updated_at, processing_start_at, processing_end_at
		FROM verify_jobs WHERE id = $1
	`
	row := s.pool.QueryRow(ctx, q, id)
	job, err := scanJob(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("jobstore: get %s: %w", id, err)
	}
	return job, nil
}

// TransitionState applies the CAS update described by the Store
// contract. mutate is called (on a detached copy of the current
// values relevant to the update) to let the caller set fields such as
// Extracted, Result, Error, or retry count alongside the state change.
func (s *PostgresStore) TransitionState(ctx context.Context, id string, from, to models.JobState, mutate func(*models.Job)) error {
	current, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if current.State != from {
		return ErrCASFailed
	}

	patch := *current
	patch.State = to
	if mutate != nil {
		mutate(&patch)
	}
	patch.UpdatedAt = time.Now().UTC()

	extracted, err := json.Marshal(patch.Extracted)
	if err != nil {
		return fmt.Errorf("jobstore: marshal extracted: %w", err)
	}
	result, err := json.Marshal(patch.Result)
	if err != nil {
		return fmt.Errorf("jobstore: marshal result: %w", err)
	}

	const q = `
		UPDATE verify_jobs
		SET state = $1, extracted_fields = $2, result = $3, retry_count = $4,
		    error = $5, updated_at = $6, processing_start_at = $7, processing_end_at = $8
		WHERE id = $9 AND state = $10
	`
	tag, err := s.pool.Exec(ctx, q,
		patch.State, extracted, result, patch.RetryCount, patch.Error, patch.UpdatedAt,
		patch.ProcessingStartAt, patch.ProcessingEndAt, id, from,
	)
	if err != nil {
		return fmt.Errorf("jobstore: transition %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrCASFailed
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*models.Job, error) {
	var job models.Job
	var expected, extracted, result []byte

	if err := row.Scan(
		&job.ID, &job.State, &job.BlobKey, &expected, &extracted, &result,
		&job.RetryCount, &job.Error, &job.CreatedAt, &job.UpdatedAt,
		&job.ProcessingStartAt, &job.ProcessingEndAt,
	); err != nil {
		return nil, err
	}

	if len(expected) > 0 {
		if err := json.Unmarshal(expected, &job.Expected); err != nil {
			return nil, fmt.Errorf("unmarshal expected_fields: %w", err)
		}
	}
	if len(extracted) > 0 {
		if err := json.Unmarshal(extracted, &job.Extracted); err != nil {
			return nil, fmt.Errorf("unmarshal extracted_fields: %w", err)
		}
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("unmarshal result: %w", err)
		}
	}
	return &job, nil
}
