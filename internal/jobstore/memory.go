package jobstore

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"mediagen/internal/domain"
)

// Memory is an in-process Store for development and tests. Records never
// expire.
type Memory struct {
	mu     sync.Mutex
	jobs   map[string]*domain.Job
	leases map[string]time.Time
	now    func() time.Time
}

func NewMemory() *Memory {
	return &Memory{
		jobs:   make(map[string]*domain.Job),
		leases: make(map[string]time.Time),
		now:    time.Now,
	}
}

func (m *Memory) Create(_ context.Context, job *domain.Job) error {
	if job == nil || job.ID == "" {
		return errors.New("jobstore: create: job id is required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[job.ID]; ok {
		return ErrExists
	}
	stored := job.Clone()
	if stored.UpdatedAt.IsZero() {
		stored.UpdatedAt = m.now().UTC()
	}
	m.jobs[job.ID] = stored
	return nil
}

func (m *Memory) Get(_ context.Context, id string) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return job.Clone(), nil
}

func (m *Memory) Update(_ context.Context, id string, expected domain.State, mutate MutateFunc) (*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	current, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	next, err := applyUpdate(current, expected, mutate, m.now().UTC())
	if err != nil {
		return nil, err
	}
	m.jobs[id] = next
	if leased(next) {
		m.leases[id] = *next.LeaseUntil
	} else {
		delete(m.leases, id)
	}
	return next.Clone(), nil
}

func (m *Memory) List(_ context.Context, userID string, kind domain.Kind, limit int) ([]*domain.Job, error) {
	limit = normalizeLimit(limit)
	m.mu.Lock()
	var out []*domain.Job
	for _, job := range m.jobs {
		if job.UserID != userID || (kind != "" && job.Kind != kind) {
			continue
		}
		out = append(out, job.Clone())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) RecoverReserved(_ context.Context, now time.Time) ([]*domain.Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*domain.Job
	for id, until := range m.leases {
		job := m.jobs[id]
		if job == nil || !leased(job) {
			delete(m.leases, id)
			continue
		}
		if until.Before(now) {
			out = append(out, job.Clone())
		}
	}
	return out, nil
}

func (m *Memory) Queued(_ context.Context) ([]*domain.Job, error) {
	m.mu.Lock()
	var out []*domain.Job
	for _, job := range m.jobs {
		if job.State == domain.StateQueued {
			out = append(out, job.Clone())
		}
	}
	m.mu.Unlock()
	sortBySeq(out)
	return out, nil
}

func (m *Memory) DropLease(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.leases, id)
	m.mu.Unlock()
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.jobs[id]; !ok {
		return ErrNotFound
	}
	delete(m.jobs, id)
	delete(m.leases, id)
	return nil
}

func (m *Memory) Ping(context.Context) error { return nil }

var _ Store = (*Memory)(nil)
