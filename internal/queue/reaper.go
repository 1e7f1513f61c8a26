package queue

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
)

// Reaper periodically requeues claimed jobs whose visibility timeout
// has expired — the mechanism that bounds how long a crashed executor
// can hold a job, per spec §5.
type Reaper struct {
	queue    *RedisQueue
	interval time.Duration
}

// NewReaper builds a Reaper that sweeps on the given interval. A
// sensible interval is a fraction of the visibility timeout.
func NewReaper(queue *RedisQueue, interval time.Duration) *Reaper {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Reaper{queue: queue, interval: interval}
}

// Start runs the reaper loop until ctx is canceled.
func (r *Reaper) Start(ctx context.Context) {
	log.Info().Dur("interval", r.interval).Msg("queue reaper started")

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("queue reaper stopped")
			return
		case <-ticker.C:
			requeued, err := r.queue.reapExpired(ctx)
			if err != nil {
				log.Warn().Err(err).Msg("queue reaper sweep failed")
				continue
			}
			if requeued > 0 {
				log.Info().Int("requeued", requeued).Msg("queue reaper requeued expired claims")
			}
		}
	}
}
