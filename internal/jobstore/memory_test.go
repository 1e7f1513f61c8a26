package jobstore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttbverify/labelverify/pkg/models"
)

func TestMemoryStore_CreateGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	job := &models.Job{ID: "job-1", State: models.JobPending, BlobKey: "deadbeef"}
	require.NoError(t, store.Create(ctx, job))

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobPending, got.State)
	assert.False(t, got.CreatedAt.IsZero())
}

func TestMemoryStore_GetMissing(t *testing.T) {
	_, err := NewMemoryStore().Get(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_TransitionState_Succeeds(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &models.Job{ID: "job-1", State: models.JobPending}))

	err := store.TransitionState(ctx, "job-1", models.JobPending, models.JobProcessing, func(j *models.Job) {
		j.RetryCount = 1
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, models.JobProcessing, got.State)
	assert.Equal(t, 1, got.RetryCount)
}

func TestMemoryStore_TransitionState_CASFailsOnStaleFrom(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Create(ctx, &models.Job{ID: "job-1", State: models.JobPending}))
	require.NoError(t, store.TransitionState(ctx, "job-1", models.JobPending, models.JobProcessing, nil))

	// A second claimant racing on the same Pending->Processing CAS must fail.
	err := store.TransitionState(ctx, "job-1", models.JobPending, models.JobProcessing, nil)
	assert.ErrorIs(t, err, ErrCASFailed)
}

func TestMemoryStore_TransitionState_MissingJob(t *testing.T) {
	err := NewMemoryStore().TransitionState(context.Background(), "nope", models.JobPending, models.JobProcessing, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}
