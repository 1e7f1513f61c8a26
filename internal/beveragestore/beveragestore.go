// Package beveragestore implements C5: CRUD over KnownBeverage rows
// plus the lookups the read-through cache needs (exact brand+class,
// fuzzy-candidate prefix scan) and the regulatory CategoryRule table.
package beveragestore

import (
	"context"
	"errors"

	"github.com/ttbverify/labelverify/pkg/models"
)

// ErrNotFound is returned when no row matches a lookup.
var ErrNotFound = errors.New("beveragestore: not found")

// Store is the C5 contract.
type Store interface {
	// FindExact does a case-insensitive match on brand AND class.
	FindExact(ctx context.Context, brand, class string) ([]models.KnownBeverage, error)
	// FindByBrandToken returns candidates whose brand begins with the
	// given token, compared case-insensitively (a prefix match, so
	// "stone" also returns "Stonewood"), for the cache's fuzzy tier.
	FindByBrandToken(ctx context.Context, token string) ([]models.KnownBeverage, error)
	// Upsert inserts or updates on the unique key
	// (lower(brand), lower(product_or_empty), abv_percent). If an
	// existing row's non-key fields differ, a BeverageRevision
	// snapshot of the prior row is recorded before the overwrite.
	Upsert(ctx context.Context, beverage *models.KnownBeverage) error
	GetCategoryRule(ctx context.Context, category models.BeverageCategory) (*models.CategoryRule, error)
	Ping(ctx context.Context) error
}
