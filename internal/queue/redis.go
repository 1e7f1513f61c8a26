package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	pendingKey  = "verify:jobs"
	claimedKey  = "verify:in_flight"
	reapBatch   = 100
)

// RedisQueue implements Queue on top of a Redis list (pending, FIFO)
// and a Redis sorted set (claimed, scored by claim time) so a Reaper
// can requeue claims that outlive the visibility timeout.
type RedisQueue struct {
	client            *redis.Client
	visibilityTimeout time.Duration
}

// NewRedisQueue builds a Redis-backed queue.
func NewRedisQueue(client *redis.Client, visibilityTimeout time.Duration) *RedisQueue {
	return &RedisQueue{client: client, visibilityTimeout: visibilityTimeout}
}

func (q *RedisQueue) Enqueue(ctx context.Context, id string) error {
	if err := q.client.RPush(ctx, pendingKey, id).Err(); err != nil {
		return fmt.Errorf("queue: enqueue %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context, timeout time.Duration) (string, bool, error) {
	result, err := q.client.BLPop(ctx, timeout, pendingKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queue: dequeue: %w", err)
	}
	// BLPop returns [key, value].
	id := result[1]

	claimedAt := float64(time.Now().Unix())
	if err := q.client.ZAdd(ctx, claimedKey, redis.Z{Score: claimedAt, Member: id}).Err(); err != nil {
		return "", false, fmt.Errorf("queue: claim %s: %w", id, err)
	}
	return id, true, nil
}

func (q *RedisQueue) Ack(ctx context.Context, id string) error {
	if err := q.client.ZRem(ctx, claimedKey, id).Err(); err != nil {
		return fmt.Errorf("queue: ack %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, id string) error {
	pipe := q.client.TxPipeline()
	pipe.ZRem(ctx, claimedKey, id)
	pipe.RPush(ctx, pendingKey, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue: fail %s: %w", id, err)
	}
	return nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	if err := q.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("queue: ping: %w", err)
	}
	return nil
}

// reapExpired requeues claimed entries whose claim timestamp is older
// than the visibility timeout. Returns the number requeued.
func (q *RedisQueue) reapExpired(ctx context.Context) (int, error) {
	cutoff := float64(time.Now().Add(-q.visibilityTimeout).Unix())

	expired, err := q.client.ZRangeByScore(ctx, claimedKey, &redis.ZRangeBy{
		Min:   "-inf",
		Max:   fmt.Sprintf("%f", cutoff),
		Count: reapBatch,
	}).Result()
	if err != nil {
		return 0, fmt.Errorf("queue: reap scan: %w", err)
	}
	if len(expired) == 0 {
		return 0, nil
	}

	requeued := 0
	for _, id := range expired {
		removed, err := q.client.ZRem(ctx, claimedKey, id).Result()
		if err != nil {
			return requeued, fmt.Errorf("queue: reap claim %s: %w", id, err)
		}
		if removed == 0 {
			// Another reaper or an Ack won the race; skip.
			continue
		}
		if err := q.client.RPush(ctx, pendingKey, id).Err(); err != nil {
			return requeued, fmt.Errorf("queue: reap requeue %s: %w", id, err)
		}
		requeued++
	}
	return requeued, nil
}
