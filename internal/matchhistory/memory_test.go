package matchhistory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttbverify/labelverify/pkg/models"
)

func TestMemoryStore_AppendAndListForJob(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Append(ctx, &models.MatchHistory{JobID: "job-1", MatchType: models.MatchExact}))
	require.NoError(t, store.Append(ctx, &models.MatchHistory{JobID: "job-2", MatchType: models.MatchNone}))
	require.NoError(t, store.Append(ctx, &models.MatchHistory{JobID: "job-1", MatchType: models.MatchFuzzy}))

	entries, err := store.ListForJob(ctx, "job-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.NotEmpty(t, entries[0].ID)
	assert.False(t, entries[0].CreatedAt.IsZero())
}

func TestMemoryStore_ListForJobNoMatches(t *testing.T) {
	entries, err := NewMemoryStore().ListForJob(context.Background(), "nope")
	require.NoError(t, err)
	assert.Empty(t, entries)
}
