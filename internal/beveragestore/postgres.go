package beveragestore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/ttbverify/labelverify/pkg/models"
)

// PostgresStore persists KnownBeverage rows over database/sql, using
// the pgx/v5 stdlib driver so the store's SQL can be unit-tested with
// go-sqlmock — unlike jobstore's pgxpool, database/sql's driver
// interface is what sqlmock intercepts.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore opens a database/sql handle against connURL using
// the registered "pgx" driver and migrates the beverage tables.
func NewPostgresStore(ctx context.Context, connURL string) (*PostgresStore, error) {
	db, err := sql.Open("pgx", connURL)
	if err != nil {
		return nil, fmt.Errorf("beveragestore: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("beveragestore: ping: %w", err)
	}
	s := &PostgresStore{db: db}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("beveragestore: migrate: %w", err)
	}
	log.Info().Msg("beveragestore initialized")
	return s, nil
}

// NewPostgresStoreFromDB wraps an already-open *sql.DB — used by tests
// to inject a sqlmock-backed handle.
func NewPostgresStoreFromDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	const ddl = `
		CREATE TABLE IF NOT EXISTS known_beverages (
			id           TEXT PRIMARY KEY,
			brand        TEXT NOT NULL,
			product_name TEXT,
			class_type   TEXT NOT NULL,
			category     TEXT NOT NULL,
			abv_percent  DOUBLE PRECISION NOT NULL,
			country      TEXT,
			producer     TEXT,
			verified     BOOLEAN NOT NULL DEFAULT FALSE,
			source_tag   TEXT NOT NULL,
			source_url   TEXT,
			notes        TEXT NOT NULL DEFAULT '',
			created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			updated_at   TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (brand, product_name, abv_percent)
		);

		CREATE INDEX IF NOT EXISTS idx_known_beverages_brand_class
			ON known_beverages (lower(brand), lower(class_type));

		CREATE TABLE IF NOT EXISTS beverage_revisions (
			id          TEXT PRIMARY KEY,
			beverage_id TEXT NOT NULL,
			snapshot    JSONB NOT NULL,
			replaced_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS category_rules (
			category     TEXT PRIMARY KEY,
			min_abv      DOUBLE PRECISION NOT NULL,
			max_abv      DOUBLE PRECISION NOT NULL,
			typical_min  DOUBLE PRECISION NOT NULL,
			typical_max  DOUBLE PRECISION NOT NULL,
			citation     TEXT NOT NULL,
			description  TEXT NOT NULL
		);
	`
	_, err := s.db.ExecContext(ctx, ddl)
	return err
}

// Close releases the underlying *sql.DB.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

func (s *PostgresStore) FindExact(ctx context.Context, brand, class string) ([]models.KnownBeverage, error) {
	const q = `
		SELECT id, brand, product_name, class_type, category, abv_percent,
		       country, producer, verified, source_tag, source_url, notes,
		       created_at, updated_at
		FROM known_beverages
		WHERE lower(brand) = lower($1) AND lower(class_type) = lower($2)
		ORDER BY updated_at DESC
	`
	rows, err := s.db.QueryContext(ctx, q, brand, class)
	if err != nil {
		return nil, fmt.Errorf("beveragestore: find exact: %w", err)
	}
	defer rows.Close()
	return scanBeverages(rows)
}

func (s *PostgresStore) FindByBrandToken(ctx context.Context, token string) ([]models.KnownBeverage, error) {
	const q = `
		SELECT id, brand, product_name, class_type, category, abv_percent,
		       country, producer, verified, source_tag, source_url, notes,
		       created_at, updated_at
		FROM known_beverages
		WHERE lower(brand) LIKE lower($1) || '%'
	`
	rows, err := s.db.QueryContext(ctx, q, token)
	if err != nil {
		return nil, fmt.Errorf("beveragestore: find by brand token: %w", err)
	}
	defer rows.Close()
	return scanBeverages(rows)
}

func (s *PostgresStore) Upsert(ctx context.Context, beverage *models.KnownBeverage) error {
	existing, err := s.findByUniqueKey(ctx, beverage.Brand, productNameOrEmpty(beverage), beverage.ABVPercent)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return err
	}

	now := time.Now().UTC()
	if err == nil {
		// Overwrite the row found under the case-insensitive key in place.
		beverage.ID = existing.ID
		beverage.CreatedAt = existing.CreatedAt
	} else if beverage.ID == "" {
		beverage.ID = uuid.NewString()
	}
	beverage.UpdatedAt = now
	if beverage.CreatedAt.IsZero() {
		beverage.CreatedAt = now
	}

	if err == nil && beverageChanged(existing, beverage) {
		if revErr := s.recordRevision(ctx, existing); revErr != nil {
			return revErr
		}
	}

	const q = `
		INSERT INTO known_beverages
			(id, brand, product_name, class_type, category, abv_percent, country,
			 producer, verified, source_tag, source_url, notes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (id) DO UPDATE SET
			class_type = EXCLUDED.class_type,
			category   = EXCLUDED.category,
			country    = EXCLUDED.country,
			producer   = EXCLUDED.producer,
			verified   = EXCLUDED.verified,
			source_tag = EXCLUDED.source_tag,
			source_url = EXCLUDED.source_url,
			notes      = EXCLUDED.notes,
			updated_at = EXCLUDED.updated_at
	`
	_, err = s.db.ExecContext(ctx, q,
		beverage.ID, beverage.Brand, beverage.ProductName, beverage.ClassType, beverage.Category,
		beverage.ABVPercent, beverage.Country, beverage.Producer, beverage.Verified,
		beverage.SourceTag, beverage.SourceURL, beverage.Notes, beverage.CreatedAt, beverage.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("beveragestore: upsert: %w", err)
	}
	return nil
}

func (s *PostgresStore) findByUniqueKey(ctx context.Context, brand, product string, abv float64) (*models.KnownBeverage, error) {
	const q = `
		SELECT id, brand, product_name, class_type, category, abv_percent,
		       country, producer, verified, source_tag, source_url, notes,
		       created_at, updated_at
		FROM known_beverages
		WHERE lower(brand) = lower($1) AND lower(coalesce(product_name, '')) = lower($2) AND abv_percent = $3
	`
	row := s.db.QueryRowContext(ctx, q, brand, product, abv)
	b, err := scanBeverage(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("beveragestore: find by unique key: %w", err)
	}
	return b, nil
}

func (s *PostgresStore) recordRevision(ctx context.Context, snapshot *models.KnownBeverage) error {
	blob, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("beveragestore: marshal revision snapshot: %w", err)
	}
	const q = `INSERT INTO beverage_revisions (id, beverage_id, snapshot, replaced_at) VALUES ($1, $2, $3, $4)`
	if _, err := s.db.ExecContext(ctx, q, uuid.NewString(), snapshot.ID, blob, time.Now().UTC()); err != nil {
		return fmt.Errorf("beveragestore: record revision: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetCategoryRule(ctx context.Context, category models.BeverageCategory) (*models.CategoryRule, error) {
	const q = `
		SELECT category, min_abv, max_abv, typical_min, typical_max, citation, description
		FROM category_rules WHERE category = $1
	`
	row := s.db.QueryRowContext(ctx, q, category)
	var rule models.CategoryRule
	err := row.Scan(&rule.Category, &rule.MinABV, &rule.MaxABV, &rule.TypicalMin, &rule.TypicalMax, &rule.Citation, &rule.Description)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("beveragestore: get category rule: %w", err)
	}
	return &rule, nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func productNameOrEmpty(b *models.KnownBeverage) string {
	if b.ProductName == nil {
		return ""
	}
	return *b.ProductName
}

func beverageChanged(existing, incoming *models.KnownBeverage) bool {
	return existing.ClassType != incoming.ClassType ||
		existing.Category != incoming.Category ||
		strPtrDiffers(existing.Country, incoming.Country) ||
		strPtrDiffers(existing.Producer, incoming.Producer) ||
		existing.Verified != incoming.Verified ||
		existing.Notes != incoming.Notes
}

func strPtrDiffers(a, b *string) bool {
	if a == nil && b == nil {
		return false
	}
	if a == nil || b == nil {
		return true
	}
	return *a != *b
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBeverage(row rowScanner) (*models.KnownBeverage, error) {
	var b models.KnownBeverage
	if err := row.Scan(
		&b.ID, &b.Brand, &b.ProductName, &b.ClassType, &b.Category, &b.ABVPercent,
		&b.Country, &b.Producer, &b.Verified, &b.SourceTag, &b.SourceURL, &b.Notes,
		&b.CreatedAt, &b.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBeverages(rows *sql.Rows) ([]models.KnownBeverage, error) {
	var out []models.KnownBeverage
	for rows.Next() {
		b, err := scanBeverage(rows)
		if err != nil {
			return nil, fmt.Errorf("beveragestore: scan: %w", err)
		}
		out = append(out, *b)
	}
	return out, rows.Err()
}
