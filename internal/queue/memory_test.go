package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryQueue_EnqueueDequeueAck(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	require.NoError(t, q.Enqueue(ctx, "job-1"))

	id, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "job-1", id)

	require.NoError(t, q.Ack(ctx, id))
	assert.Empty(t, q.claimed)
}

func TestMemoryQueue_Dequeue_EmptyQueueTimesOut(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	start := time.Now()
	_, ok, err := q.Dequeue(ctx, 30*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.GreaterOrEqual(t, time.Since(start), 25*time.Millisecond)
}

func TestMemoryQueue_Fail_ReturnsJobToPending(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()
	require.NoError(t, q.Enqueue(ctx, "job-1"))

	id, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, q.Fail(ctx, id))

	id2, ok, err := q.Dequeue(ctx, time.Second)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "job-1", id2)
}

func TestMemoryQueue_Dequeue_UnblocksOnEnqueue(t *testing.T) {
	q := NewMemoryQueue()
	ctx := context.Background()

	result := make(chan string, 1)
	go func() {
		id, ok, err := q.Dequeue(ctx, 2*time.Second)
		if err == nil && ok {
			result <- id
		} else {
			result <- ""
		}
	}()

	time.Sleep(20 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, "job-2"))

	select {
	case id := <-result:
		assert.Equal(t, "job-2", id)
	case <-time.After(2 * time.Second):
		t.Fatal("dequeue did not unblock after enqueue")
	}
}

func TestMemoryQueue_Dequeue_RespectsContextCancellation(t *testing.T) {
	q := NewMemoryQueue()
	ctx, cancel := context.WithCancel(context.Background())

	result := make(chan error, 1)
	go func() {
		_, _, err := q.Dequeue(ctx, 5*time.Second)
		result <- err
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("dequeue did not return after context cancellation")
	}
}

func TestMemoryQueue_Ping_AlwaysOK(t *testing.T) {
	q := NewMemoryQueue()
	assert.NoError(t, q.Ping(context.Background()))
}
