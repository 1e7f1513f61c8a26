package beveragestore

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ttbverify/labelverify/pkg/models"
)

// MemoryStore is an in-memory Store used in tests and local dev.
type MemoryStore struct {
	mu         sync.Mutex
	beverages  map[string]models.KnownBeverage
	categories map[models.BeverageCategory]models.CategoryRule
	revisions  []models.BeverageRevision
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		beverages:  make(map[string]models.KnownBeverage),
		categories: make(map[models.BeverageCategory]models.CategoryRule),
	}
}

// SeedCategoryRule pre-loads a CategoryRule, used by tests and by
// startup seeding from internal/ruletables.
func (m *MemoryStore) SeedCategoryRule(rule models.CategoryRule) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.categories[rule.Category] = rule
}

func (m *MemoryStore) FindExact(ctx context.Context, brand, class string) ([]models.KnownBeverage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.KnownBeverage
	for _, b := range m.beverages {
		if strings.EqualFold(b.Brand, brand) && strings.EqualFold(b.ClassType, class) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryStore) FindByBrandToken(ctx context.Context, token string) ([]models.KnownBeverage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []models.KnownBeverage
	for _, b := range m.beverages {
		if strings.HasPrefix(strings.ToLower(b.Brand), strings.ToLower(token)) {
			out = append(out, b)
		}
	}
	return out, nil
}

func (m *MemoryStore) Upsert(ctx context.Context, beverage *models.KnownBeverage) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := uniqueKey(beverage.Brand, productNameOrEmpty(beverage), beverage.ABVPercent)
	now := time.Now().UTC()

	for id, existing := range m.beverages {
		if uniqueKey(existing.Brand, productNameOrEmpty(&existing), existing.ABVPercent) == key {
			if beverageChanged(&existing, beverage) {
				m.revisions = append(m.revisions, models.BeverageRevision{
					ID:         uuid.NewString(),
					BeverageID: existing.ID,
					Snapshot:   existing,
					ReplacedAt: now,
				})
			}
			beverage.ID = id
			break
		}
	}

	if beverage.ID == "" {
		beverage.ID = uuid.NewString()
	}
	if beverage.CreatedAt.IsZero() {
		beverage.CreatedAt = now
	}
	beverage.UpdatedAt = now
	m.beverages[beverage.ID] = *beverage
	return nil
}

func (m *MemoryStore) GetCategoryRule(ctx context.Context, category models.BeverageCategory) (*models.CategoryRule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.categories[category]
	if !ok {
		return nil, ErrNotFound
	}
	return &rule, nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

func uniqueKey(brand, product string, abv float64) string {
	return strings.ToLower(brand) + "\x00" + strings.ToLower(product) + "\x00" + formatABV(abv)
}

func formatABV(abv float64) string {
	return strconv.FormatFloat(abv, 'f', -1, 64)
}
