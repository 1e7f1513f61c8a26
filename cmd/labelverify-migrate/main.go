// Command labelverify-migrate applies the schema migrations for every
// store backing the label verifier: jobs, known beverages (plus their
// revision audit table), and match history. Each store's constructor
// runs its own idempotent CREATE TABLE IF NOT EXISTS migration, so
// this binary's only job is to connect every store once and exit.
package main

import (
	"context"
	"database/sql"
	"os"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ttbverify/labelverify/internal/beveragestore"
	"github.com/ttbverify/labelverify/internal/config"
	"github.com/ttbverify/labelverify/internal/jobstore"
	"github.com/ttbverify/labelverify/internal/matchhistory"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()
	ctx := context.Background()

	jobs, err := jobstore.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("job store migration failed")
	}
	defer jobs.Close()
	log.Info().Msg("jobs table migrated")

	beverages, err := beveragestore.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("beverage store migration failed")
	}
	defer beverages.Close()
	log.Info().Msg("known_beverages and beverage_revisions tables migrated")

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database/sql handle for match history migration")
	}
	defer db.Close()

	if _, err := matchhistory.NewPostgresStore(ctx, db); err != nil {
		log.Fatal().Err(err).Msg("match history migration failed")
	}
	log.Info().Msg("match_history table migrated")

	log.Info().Msg("all migrations applied")
}
