package beveragestore

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ttbverify/labelverify/pkg/models"
)

func TestMemoryStore_UpsertThenFindExact(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Upsert(ctx, &models.KnownBeverage{
		Brand: "Stone Creek", ClassType: "TABLE WINE", Category: models.CategoryWine,
		ABVPercent: 13.5, SourceTag: "seed",
	})
	require.NoError(t, err)

	found, err := store.FindExact(ctx, "stone creek", "table wine")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, 13.5, found[0].ABVPercent)
}

func TestMemoryStore_UpsertRecordsRevisionOnChange(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	original := &models.KnownBeverage{
		Brand: "Stone Creek", ClassType: "TABLE WINE", Category: models.CategoryWine,
		ABVPercent: 13.5, SourceTag: "seed",
	}
	require.NoError(t, store.Upsert(ctx, original))

	updated := &models.KnownBeverage{
		Brand: "Stone Creek", ClassType: "RED WINE", Category: models.CategoryWine,
		ABVPercent: 13.5, SourceTag: "registry",
	}
	require.NoError(t, store.Upsert(ctx, updated))

	require.Len(t, store.revisions, 1)
	assert.Equal(t, "TABLE WINE", store.revisions[0].Snapshot.ClassType)
	assert.Equal(t, updated.ID, original.ID, "upsert on the same unique key must reuse the row id")
}

func TestMemoryStore_UpsertNoRevisionWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	b := &models.KnownBeverage{
		Brand: "Stone Creek", ClassType: "TABLE WINE", Category: models.CategoryWine,
		ABVPercent: 13.5, SourceTag: "seed",
	}
	require.NoError(t, store.Upsert(ctx, b))
	require.NoError(t, store.Upsert(ctx, &models.KnownBeverage{
		Brand: "Stone Creek", ClassType: "TABLE WINE", Category: models.CategoryWine,
		ABVPercent: 13.5, SourceTag: "seed",
	}))

	assert.Empty(t, store.revisions)
}

func TestMemoryStore_FindByBrandToken(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Upsert(ctx, &models.KnownBeverage{
		Brand: "Stone Creek", ClassType: "TABLE WINE", Category: models.CategoryWine, ABVPercent: 13.5,
	}))
	require.NoError(t, store.Upsert(ctx, &models.KnownBeverage{
		Brand: "Stonewood", ClassType: "LAGER", Category: models.CategoryMalt, ABVPercent: 5.0,
	}))

	found, err := store.FindByBrandToken(ctx, "stone")
	require.NoError(t, err)
	assert.Len(t, found, 2)
}

func TestMemoryStore_GetCategoryRuleMissing(t *testing.T) {
	_, err := NewMemoryStore().GetCategoryRule(context.Background(), models.CategoryWine)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStore_SeedAndGetCategoryRule(t *testing.T) {
	store := NewMemoryStore()
	store.SeedCategoryRule(models.CategoryRule{Category: models.CategoryWine, MinABV: 5, MaxABV: 24})

	rule, err := store.GetCategoryRule(context.Background(), models.CategoryWine)
	require.NoError(t, err)
	assert.Equal(t, 24.0, rule.MaxABV)
}
