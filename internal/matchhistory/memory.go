package matchhistory

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ttbverify/labelverify/pkg/models"
)

// MemoryStore is an in-memory Store used in tests and local dev.
type MemoryStore struct {
	mu      sync.Mutex
	entries []models.MatchHistory
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (m *MemoryStore) Append(ctx context.Context, entry *models.MatchHistory) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, *entry)
	return nil
}

func (m *MemoryStore) ListForJob(ctx context.Context, jobID string) ([]models.MatchHistory, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.MatchHistory
	for _, e := range m.entries {
		if e.JobID == jobID {
			out = append(out, e)
		}
	}
	return out, nil
}
