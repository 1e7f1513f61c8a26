// Command ingress-service runs the C11 HTTP entrypoint: accepts label
// image submissions, stages them through encryption and blob storage,
// and enqueues them for the executor service to process.
package main

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ttbverify/labelverify/internal/blobstore"
	"github.com/ttbverify/labelverify/internal/config"
	"github.com/ttbverify/labelverify/internal/cryptobox"
	"github.com/ttbverify/labelverify/internal/ingress"
	"github.com/ttbverify/labelverify/internal/jobstore"
	"github.com/ttbverify/labelverify/internal/queue"
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

	key, err := base64.StdEncoding.DecodeString(cfg.Crypto.KeyBase64)
	if err != nil || len(key) != cryptobox.KeySize {
		log.Fatal().Err(err).Int("key_bytes", len(key)).Msg("CRYPTO_KEY must be a base64-encoded 32-byte key")
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

	redisOpts, err := redis.ParseURL(cfg.Queue.RedisURL)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid REDIS_URL")
	}
	redisClient := redis.NewClient(redisOpts)
	q := queue.NewRedisQueue(redisClient, cfg.Queue.VisibilityTimeout)

	handlers := ingress.NewHandlers(box, blobs, jobs, q)
	router := ingress.NewRouter(cfg, handlers)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down ingress service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("ingress http shutdown error")
		}
		if err := shutdownTelemetry(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("telemetry shutdown error")
		}
		redisClient.Close()
	}()

	log.Info().Int("port", cfg.Port).Msg("ingress service ready")

	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("ingress server failed")
	}
}
