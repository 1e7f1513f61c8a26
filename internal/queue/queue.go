// Package queue implements C3: the FIFO, at-least-once job queue
// between Ingress and Executor. A pending list and a claimed set are
// maintained; claimed entries not acked within a visibility timeout
// are returned to pending by a Reaper.
package queue

import (
	"context"
	"time"
)

// Queue is the C3 contract.
type Queue interface {
	// Enqueue appends id to the tail of the pending list.
	Enqueue(ctx context.Context, id string) error
	// Dequeue claims and returns the head of the pending list, blocking
	// up to timeout if the queue is empty. Returns "", false on timeout.
	Dequeue(ctx context.Context, timeout time.Duration) (string, bool, error)
	// Ack removes id from the claimed set permanently.
	Ack(ctx context.Context, id string) error
	// Fail returns id to the tail of the pending list immediately.
	Fail(ctx context.Context, id string) error
	// Ping verifies connectivity to the underlying broker.
	Ping(ctx context.Context) error
}
