// Package executor implements C12: the long-running worker pool that
// drains the verification queue. Per job it dequeues, fetches the
// encrypted label image from blob storage, decrypts it, extracts structured
// fields via the vision model, resolves a cache match, validates, and
// persists the result — spec §4.2 steps 1-7.
package executor

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"github.com/ttbverify/labelverify/internal/blobstore"
	"github.com/ttbverify/labelverify/internal/cache"
	"github.com/ttbverify/labelverify/internal/cryptobox"
	"github.com/ttbverify/labelverify/internal/extractor"
	"github.com/ttbverify/labelverify/internal/jobstore"
	"github.com/ttbverify/labelverify/internal/matchhistory"
	"github.com/ttbverify/labelverify/internal/queue"
	"github.com/ttbverify/labelverify/internal/ruletables"
	"github.com/ttbverify/labelverify/internal/validation"
	"github.com/ttbverify/labelverify/pkg/models"
)

// DequeueTimeout bounds how long a worker blocks waiting for a job
// before checking for shutdown.
const DequeueTimeout = 5 * time.Second

// Config tunes the worker pool.
type Config struct {
	Concurrency int
	MaxRetries  uint64
}

// Service owns the worker pool draining the verification queue.
type Service struct {
	jobs    jobstore.Store
	blobs   blobstore.Store
	box     *cryptobox.Box
	extract *extractor.Client
	cache   *cache.Cache
	history matchhistory.Store
	rules   *ruletables.Tables
	engine  *validation.Engine
	q       queue.Queue

	cfg Config

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

// New builds an executor Service. Workers are not started until Start
// is called.
func New(jobs jobstore.Store, blobs blobstore.Store, box *cryptobox.Box, extract *extractor.Client, c *cache.Cache, history matchhistory.Store, rules *ruletables.Tables, q queue.Queue, cfg Config) *Service {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		jobs: jobs, blobs: blobs, box: box, extract: extract,
		cache: c, history: history, rules: rules, engine: validation.New(),
		q: q, cfg: cfg, ctx: ctx, cancel: cancel,
	}
}

// Start launches the worker pool. Each worker loops until Stop cancels
// the service's context.
func (s *Service) Start() {
	for i := 0; i < s.cfg.Concurrency; i++ {
		s.wg.Add(1)
		go s.worker(i)
	}
}

// Stop cancels the service context and waits for in-flight jobs to
// finish their current iteration.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
}

func (s *Service) worker(id int) {
	defer s.wg.Done()
	l := log.With().Int("worker_id", id).Logger()

	for {
		select {
		case <-s.ctx.Done():
			return
		default:
		}

		jobID, ok, err := s.q.Dequeue(s.ctx, DequeueTimeout)
		if err != nil {
			if s.ctx.Err() != nil {
				return
			}
			l.Warn().Err(err).Msg("dequeue failed")
			continue
		}
		if !ok {
			continue
		}

		l.Info().Str("job_id", jobID).Msg("processing job")
		if err := s.processJob(s.ctx, jobID); err != nil {
			l.Error().Err(err).Str("job_id", jobID).Msg("job failed")
			if failErr := s.q.Fail(s.ctx, jobID); failErr != nil {
				l.Error().Err(failErr).Str("job_id", jobID).Msg("requeue on failure also failed")
			}
			continue
		}

		if err := s.q.Ack(s.ctx, jobID); err != nil {
			l.Error().Err(err).Str("job_id", jobID).Msg("ack failed")
		}
	}
}

// processJob runs one job through steps 1-7. An error from the blob
// fetch, decrypt, extract or cache-resolve step transitions the job to
// Failed with the error recorded; an error loading, claiming or
// completing the job is returned with the job left in its prior state.
// For any returned error the caller requeues the queue entry so the
// visibility-timeout reaper doesn't have to reclaim it blind.
func (s *Service) processJob(ctx context.Context, jobID string) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("executor: load job: %w", err)
	}

	if err := s.jobs.TransitionState(ctx, jobID, models.JobPending, models.JobProcessing, func(j *models.Job) {
		now := time.Now()
		j.ProcessingStartAt = &now
	}); err != nil {
		if errors.Is(err, jobstore.ErrCASFailed) {
			// Another worker already claimed it; nothing to do.
			return nil
		}
		return fmt.Errorf("executor: claim job: %w", err)
	}

	ciphertext, err := s.fetchBlobWithRetry(ctx, job.BlobKey)
	if err != nil {
		if errors.Is(err, blobstore.ErrNotFound) {
			return s.fail(ctx, jobID, fmt.Errorf("blob missing: %w", err))
		}
		return s.fail(ctx, jobID, fmt.Errorf("fetch blob: %w", err))
	}

	// Decrypt failures are fatal per spec §4.2 step 3 — never retried.
	plaintext, err := s.box.Decrypt(ciphertext)
	if err != nil {
		return s.fail(ctx, jobID, fmt.Errorf("decrypt: %w", err))
	}

	extracted, err := s.extractWithRetry(ctx, plaintext)
	if err != nil {
		return s.fail(ctx, jobID, fmt.Errorf("extract: %w", err))
	}

	var resolution cache.Resolution
	if extracted.Brand != nil && extracted.ClassType != nil {
		resolution, err = s.cache.Resolve(ctx, *extracted.Brand, *extracted.ClassType)
		if err != nil {
			return s.fail(ctx, jobID, fmt.Errorf("cache resolve: %w", err))
		}
	} else {
		resolution = cache.Resolution{MatchType: models.MatchNone}
	}

	result := s.engine.Validate(ctx, extracted, job.Expected, resolution.Beverage, resolution.MatchType, resolution.Confidence, s.rules)
	result.Warnings = append(result.Warnings, resolution.Warnings...)

	historyEntry := &models.MatchHistory{
		JobID:           jobID,
		MatchType:       result.MatchType,
		MatchConfidence: &result.MatchConfidence,
		ABVDeviation:    result.ABVDeviation,
	}
	if resolution.Beverage != nil {
		historyEntry.BeverageID = &resolution.Beverage.ID
	}
	if err := s.history.Append(ctx, historyEntry); err != nil {
		l := log.With().Str("job_id", jobID).Logger()
		l.Warn().Err(err).Msg("failed to append match history; continuing")
	}

	if err := s.jobs.TransitionState(ctx, jobID, models.JobProcessing, models.JobCompleted, func(j *models.Job) {
		now := time.Now()
		j.ProcessingEndAt = &now
		j.Extracted = extracted
		j.Result = result
	}); err != nil {
		return fmt.Errorf("executor: complete job: %w", err)
	}

	return nil
}

func (s *Service) fail(ctx context.Context, jobID string, cause error) error {
	msg := cause.Error()
	if err := s.jobs.TransitionState(ctx, jobID, models.JobProcessing, models.JobFailed, func(j *models.Job) {
		now := time.Now()
		j.ProcessingEndAt = &now
		j.Error = &msg
	}); err != nil && !errors.Is(err, jobstore.ErrCASFailed) {
		log.Error().Err(err).Str("job_id", jobID).Msg("failed to record job failure")
	}
	return cause
}

// fetchBlobWithRetry retries only the blob fetch, per spec §4.2 step 3:
// transient storage errors are retried, a missing blob and
// decrypt/parse failures are not.
func (s *Service) fetchBlobWithRetry(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	op := func() error {
		d, err := s.blobs.Get(ctx, key)
		if err != nil {
			if errors.Is(err, blobstore.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		data = d
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.MaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return data, nil
}

// extractWithRetry retries the extractor HTTP call on transient
// failure; a clean ErrExtractionFailed (model genuinely found nothing
// parseable) is not worth retrying and is returned immediately.
func (s *Service) extractWithRetry(ctx context.Context, imageBytes []byte) (*models.ExtractedFields, error) {
	var result *models.ExtractedFields
	contentType := http.DetectContentType(imageBytes)
	op := func() error {
		f, err := s.extract.Extract(ctx, imageBytes, contentType)
		if err != nil {
			if errors.Is(err, extractor.ErrExtractionFailed) {
				return backoff.Permanent(err)
			}
			return err
		}
		result = f
		return nil
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.cfg.MaxRetries), ctx)
	if err := backoff.Retry(op, policy); err != nil {
		return nil, err
	}
	return result, nil
}
