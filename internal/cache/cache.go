// Package cache implements C8: the read-through cache that resolves a
// queried brand+class to a KnownBeverage, per spec §4.5's four-step
// order: local exact, local fuzzy, registry lookup (with upsert into
// C5), then no match.
package cache

import (
	"context"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/ttbverify/labelverify/internal/beveragestore"
	"github.com/ttbverify/labelverify/internal/matcher"
	"github.com/ttbverify/labelverify/internal/normalize"
	"github.com/ttbverify/labelverify/internal/registry"
	"github.com/ttbverify/labelverify/pkg/models"
)

// StaleAfter is the age past which a served KnownBeverage carries a
// staleness warning, per spec §4.5.
const StaleAfter = 30 * 24 * time.Hour

// Resolution is the outcome of a Resolve call.
type Resolution struct {
	Beverage   *models.KnownBeverage
	MatchType  models.MatchType
	Confidence float64
	Warnings   []string
}

// Cache resolves brand/class queries through beveragestore and, on
// miss, the external registry.
type Cache struct {
	beverages beveragestore.Store
	registry  *registry.Client
}

// New builds a Cache.
func New(beverages beveragestore.Store, reg *registry.Client) *Cache {
	return &Cache{beverages: beverages, registry: reg}
}

// Resolve implements the four-step resolution order.
func (c *Cache) Resolve(ctx context.Context, brand, class string) (Resolution, error) {
	if res, ok, err := c.localExact(ctx, brand, class); err != nil {
		return Resolution{}, err
	} else if ok {
		return res, nil
	}

	if res, ok, err := c.localFuzzy(ctx, brand); err != nil {
		return Resolution{}, err
	} else if ok {
		return res, nil
	}

	if res, ok := c.registryLookup(ctx, brand, class); ok {
		return res, nil
	}

	return Resolution{MatchType: models.MatchNone}, nil
}

// localExact is step 1: case-insensitive match on brand AND class. If
// multiple rows match, the most recently updated wins.
func (c *Cache) localExact(ctx context.Context, brand, class string) (Resolution, bool, error) {
	candidates, err := c.beverages.FindExact(ctx, brand, class)
	if err != nil {
		return Resolution{}, false, err
	}
	if len(candidates) == 0 {
		return Resolution{}, false, nil
	}

	sort.Slice(candidates, func(i, j int) bool {
		return candidates[i].UpdatedAt.After(candidates[j].UpdatedAt)
	})
	best := candidates[0]

	return Resolution{
		Beverage:   &best,
		MatchType:  models.MatchExact,
		Confidence: 1.0,
		Warnings:   stalenessWarning(best),
	}, true, nil
}

// localFuzzy is step 2: Jaro-Winkler over candidates sharing the query
// brand's first alphabetic token, keeping those at or above the fuzzy
// threshold and returning the best.
func (c *Cache) localFuzzy(ctx context.Context, brand string) (Resolution, bool, error) {
	token := normalize.FirstAlphabeticToken(brand)
	if token == "" {
		return Resolution{}, false, nil
	}

	candidates, err := c.beverages.FindByBrandToken(ctx, token)
	if err != nil {
		return Resolution{}, false, err
	}

	var best *models.KnownBeverage
	var bestScore float64
	for i := range candidates {
		if normalize.FirstAlphabeticToken(candidates[i].Brand) != token {
			continue
		}
		score := matcher.Similarity(brand, candidates[i].Brand)
		if score >= matcher.FuzzyThreshold && score > bestScore {
			bestScore = score
			best = &candidates[i]
		}
	}
	if best == nil {
		return Resolution{}, false, nil
	}

	return Resolution{
		Beverage:   best,
		MatchType:  models.MatchFuzzy,
		Confidence: bestScore,
		Warnings:   stalenessWarning(*best),
	}, true, nil
}

// registryLookup is step 3: call the external registry, infer ABV and
// normalize each hit, upsert into beveragestore, then pick the record
// whose normalized class matches exactly, falling back to the most
// recently completed record at low confidence.
func (c *Cache) registryLookup(ctx context.Context, brand, class string) (Resolution, bool) {
	hits := c.registry.LookupBrand(ctx, brand)
	if len(hits) == 0 {
		return Resolution{}, false
	}

	type registryCandidate struct {
		beverage      models.KnownBeverage
		completedDate time.Time
	}

	upserted := make([]registryCandidate, 0, len(hits))
	for _, hit := range hits {
		if hit.InferredABV == nil {
			continue
		}
		category, ok := registry.CategoryForClassDesc(hit.ClassDesc)
		if !ok {
			continue
		}
		beverage := models.KnownBeverage{
			ID:         uuid.NewString(),
			Brand:      normalize.Canonical(hit.Brand),
			ClassType:  normalize.Canonical(hit.ClassDesc),
			Category:   category,
			ABVPercent: *hit.InferredABV,
			SourceTag:  "ttb-registry",
			Verified:   false,
		}
		if err := c.beverages.Upsert(ctx, &beverage); err != nil {
			continue
		}
		upserted = append(upserted, registryCandidate{beverage: beverage, completedDate: hit.CompletedDate})
	}
	if len(upserted) == 0 {
		return Resolution{}, false
	}

	exactClass := normalize.Canonical(class)
	for i := range upserted {
		if upserted[i].beverage.ClassType == exactClass {
			b := upserted[i].beverage
			return Resolution{Beverage: &b, MatchType: models.MatchRegistryLookup, Confidence: 0.7}, true
		}
	}

	// No exact class match: fall back to the highest-ranked candidate,
	// ordered by most recent completed date, per spec §4.5.
	sort.Slice(upserted, func(i, j int) bool { return upserted[i].completedDate.After(upserted[j].completedDate) })
	b := upserted[0].beverage
	return Resolution{Beverage: &b, MatchType: models.MatchRegistryLookup, Confidence: 0.4}, true
}

func stalenessWarning(b models.KnownBeverage) []string {
	if time.Since(b.UpdatedAt) > StaleAfter {
		return []string{"stale-reference"}
	}
	return nil
}
