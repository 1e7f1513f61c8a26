package jobstore

import (
	"context"
	"sync"
	"time"

	"github.com/ttbverify/labelverify/pkg/models"
)

// MemoryStore is an in-memory Store used in tests and local dev.
type MemoryStore struct {
	mu   sync.Mutex
	jobs map[string]models.Job
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{jobs: make(map[string]models.Job)}
}

func (m *MemoryStore) Create(ctx context.Context, job *models.Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now().UTC()
	job.CreatedAt, job.UpdatedAt = now, now
	m.jobs[job.ID] = *job
	return nil
}

func (m *MemoryStore) Get(ctx context.Context, id string) (*models.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &job, nil
}

func (m *MemoryStore) TransitionState(ctx context.Context, id string, from, to models.JobState, mutate func(*models.Job)) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	job, ok := m.jobs[id]
	if !ok {
		return ErrNotFound
	}
	if job.State != from {
		return ErrCASFailed
	}

	job.State = to
	if mutate != nil {
		mutate(&job)
	}
	job.UpdatedAt = time.Now().UTC()
	m.jobs[id] = job
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
