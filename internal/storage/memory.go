package storage

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/absens/internal/models"
)

// MemoryStore keeps records and index jobs in process. It backs the "memory" store
// driver and tests. All reads return copies.
type MemoryStore struct {
	now func() time.Time

	mu       sync.RWMutex
	records  map[uuid.UUID]*models.Record
	order    []uuid.UUID
	jobs     map[uuid.UUID]*models.IndexJob
	jobOrder []uuid.UUID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:     time.Now,
		records: make(map[uuid.UUID]*models.Record),
		jobs:    make(map[uuid.UUID]*models.IndexJob),
	}
}

// WithClock replaces the timestamp source.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func (s *MemoryStore) Ping(context.Context) error { return nil }

func (s *MemoryStore) Close() {}

func (s *MemoryStore) Create(_ context.Context, rec *models.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.createLocked(rec)
}

func (s *MemoryStore) CreateWithIndexJob(_ context.Context, rec *models.Record, job *models.IndexJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.createLocked(rec); err != nil {
		return err
	}
	if job != nil {
		s.createJobLocked(job)
	}
	return nil
}

func (s *MemoryStore) createLocked(rec *models.Record) error {
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if _, exists := s.records[rec.ID]; exists {
		return ErrConflict
	}
	if rec.Photos == nil {
		rec.Photos = []string{}
	}
	ts := s.now()
	rec.CreatedAt = ts
	rec.UpdatedAt = ts

	s.records[rec.ID] = rec.Clone()
	s.order = append(s.order, rec.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, kind models.Kind, id uuid.UUID) (*models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	r, ok := s.records[id]
	if !ok || r.Kind != kind {
		return nil, ErrNotFound
	}
	return r.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, kind models.Kind, limit, offset int) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = ClampLimit(limit)
	out := []models.Record{}
	skipped := 0
	for i := len(s.order) - 1; i >= 0 && len(out) < limit; i-- {
		r := s.records[s.order[i]]
		if r.Kind != kind {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		out = append(out, *r.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Count(_ context.Context, kind models.Kind) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, r := range s.records {
		if r.Kind == kind {
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListByOwner(_ context.Context, kind models.Kind, ownerID string) ([]models.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Record{}
	for i := len(s.order) - 1; i >= 0; i-- {
		r := s.records[s.order[i]]
		if r.Kind == kind && r.OwnerID == ownerID {
			out = append(out, *r.Clone())
		}
	}
	return out, nil
}

func (s *MemoryStore) UpdateStatus(_ context.Context, kind models.Kind, id uuid.UUID, from, to models.Status) (*models.Record, error) {
	if err := checkStatusKind(kind); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.records[id]
	if !ok || r.Kind != kind {
		return nil, ErrNotFound
	}
	if r.CurrentStatus() != from {
		return nil, ErrConflict
	}
	st := to
	r.Status = &st
	r.UpdatedAt = s.now()
	return r.Clone(), nil
}

func cloneJob(j *models.IndexJob) *models.IndexJob {
	c := *j
	c.PhotoURLs = append([]string(nil), j.PhotoURLs...)
	return &c
}

func (s *MemoryStore) CreateIndexJob(_ context.Context, job *models.IndexJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.createJobLocked(job)
	return nil
}

func (s *MemoryStore) createJobLocked(job *models.IndexJob) {
	if job.ID == uuid.Nil {
		job.ID = uuid.New()
	}
	if job.Status == "" {
		job.Status = models.IndexJobPending
	}
	if job.Attempts == 0 {
		job.Attempts = 1
	}
	ts := s.now()
	job.CreatedAt = ts
	job.UpdatedAt = ts

	s.jobs[job.ID] = cloneJob(job)
	s.jobOrder = append(s.jobOrder, job.ID)
}

func (s *MemoryStore) GetIndexJob(_ context.Context, id uuid.UUID) (*models.IndexJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneJob(j), nil
}

func (s *MemoryStore) ListIndexJobs(_ context.Context, status models.IndexJobStatus, limit int) ([]models.IndexJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = ClampLimit(limit)
	out := []models.IndexJob{}
	for _, id := range s.jobOrder {
		if len(out) >= limit {
			break
		}
		j := s.jobs[id]
		if status != "" && j.Status != status {
			continue
		}
		out = append(out, *cloneJob(j))
	}
	return out, nil
}

func (s *MemoryStore) ListStaleIndexJobs(_ context.Context, before time.Time, limit int) ([]models.IndexJob, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	limit = ClampLimit(limit)
	out := []models.IndexJob{}
	for _, id := range s.jobOrder {
		if len(out) >= limit {
			break
		}
		if j := s.jobs[id]; stalePending(j, before) {
			out = append(out, *cloneJob(j))
		}
	}
	return out, nil
}

func stalePending(j *models.IndexJob, before time.Time) bool {
	return j.Status == models.IndexJobPending && j.UpdatedAt.Before(before)
}

func (s *MemoryStore) MarkIndexJob(_ context.Context, id uuid.UUID, status models.IndexJobStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return ErrNotFound
	}
	j.Status = status
	j.LastError = lastError
	j.UpdatedAt = s.now()
	return nil
}

func (s *MemoryStore) ReopenIndexJob(_ context.Context, id uuid.UUID, staleBefore time.Time) (*models.IndexJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if j.Status != models.IndexJobFailed && !stalePending(j, staleBefore) {
		return nil, ErrConflict
	}
	j.Status = models.IndexJobPending
	j.Attempts++
	j.UpdatedAt = s.now()
	return cloneJob(j), nil
}
