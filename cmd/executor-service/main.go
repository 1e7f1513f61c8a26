// Command executor-service runs the C12 worker pool: drains the
// verification queue, extracts structured label fields, resolves the
// beverage cache, validates, and persists each job to a terminal
// state.
package main

import (
	"context"
	"database/sql"
	"encoding/base64"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ttbverify/labelverify/internal/beveragestore"
	"github.com/ttbverify/labelverify/internal/blobstore"
	"github.com/ttbverify/labelverify/internal/cache"
	"github.com/ttbverify/labelverify/internal/config"
	"github.com/ttbverify/labelverify/internal/cryptobox"
	"github.com/ttbverify/labelverify/internal/executor"
	"github.com/ttbverify/labelverify/internal/extractor"
	"github.com/ttbverify/labelverify/internal/jobstore"
	"github.com/ttbverify/labelverify/internal/matchhistory"
	"github.com/ttbverify/labelverify/internal/queue"
	"github.com/ttbverify/labelverify/internal/registry"
	"github.com/ttbverify/labelverify/internal/ruletables"
	"github.com/ttbverify/labelverify/internal/telemetry"
)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	ctx := context.Background()

	key, err := decodeKey(cfg.Crypto.KeyBase64)
	if err != nil {
		log.Fatal().Err(err).Msg("CRYPTO_KEY must be a base64-encoded 32-byte key")
	}
	box, err := cryptobox.New(key)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize cryptobox")
	}

	jobs, err := jobstore.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect job store")
	}
	defer jobs.Close()

	blobs, err := blobstore.NewS3Store(ctx, cfg.Blob.Bucket, cfg.Blob.Region, cfg.Blob.Endpoint)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize blob store")
	}

	db, err := sql.Open("pgx", cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open database/sql handle")
	}
	defer db.Close()

	beverages, err := beveragestore.NewPostgresStore(ctx, cfg.Database.URL)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect beverage store")
	}

	history, err := matchhistory.NewPostgresStore(ctx, db)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect match history store")
	}

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpts)
	q := queue.NewRedisQueue(redisClient, cfg.Queue.VisibilityTimeout)
	go queue.NewReaper(q, cfg.Queue.VisibilityTimeout/4).Start(ctx)

	reg := registry.New(cfg.Registry.Endpoint, cfg.Registry.Timeout)
	c := cache.New(beverages, reg)
	extract := extractor.New(cfg.Extractor.Endpoint, cfg.Extractor.Token, cfg.Extractor.Timeout)
	rules := ruletables.Load()

	svc := executor.New(jobs, blobs, box, extract, c, history, rules, q, executor.Config{
		Concurrency: cfg.Executor.Concurrency,
		MaxRetries:  uint64(cfg.Executor.MaxRetries),
	})

	svc.Start()
	log.Info().Int("concurrency", cfg.Executor.Concurrency).Msg("executor service ready")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Info().Msg("shutting down executor service")
	svc.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("telemetry shutdown error")
	}
	redisClient.Close()
}

func decodeKey(keyBase64 string) ([]byte, error) {
	key, err := base64.StdEncoding.DecodeString(keyBase64)
	if err != nil {
		return nil, fmt.Errorf("decode CRYPTO_KEY: %w", err)
	}
	if len(key) != cryptobox.KeySize {
		return nil, fmt.Errorf("CRYPTO_KEY must decode to %d bytes, got %d", cryptobox.KeySize, len(key))
	}
	return key, nil
}
