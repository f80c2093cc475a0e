package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/absens/internal/models"
)

// Sentinel errors for storage facts. Callers translate them into apperr codes.
var (
	ErrNotFound    = errors.New("not found")
	ErrConflict    = errors.New("conflict")
	ErrNoStatus    = errors.New("record kind has no status")
	ErrUnavailable = errors.New("store unavailable")
)

// RecordStore is the kind-parameterized CRUD surface for missing-person and sighting
// records.
type RecordStore interface {
	// Create assigns ID and timestamps and persists rec.
	Create(ctx context.Context, rec *models.Record) error
	Get(ctx context.Context, kind models.Kind, id uuid.UUID) (*models.Record, error)
	List(ctx context.Context, kind models.Kind, limit, offset int) ([]models.Record, error)
	Count(ctx context.Context, kind models.Kind) (int, error)
	ListByOwner(ctx context.Context, kind models.Kind, ownerID string) ([]models.Record, error)
	// UpdateStatus sets the status to `to` only if it is currently `from`, in a single
	// atomic step. It returns ErrConflict when the stored status differs.
	UpdateStatus(ctx context.Context, kind models.Kind, id uuid.UUID, from, to models.Status) (*models.Record, error)
}

type IndexJobStore interface {
	CreateIndexJob(ctx context.Context, job *models.IndexJob) error
	GetIndexJob(ctx context.Context, id uuid.UUID) (*models.IndexJob, error)
	ListIndexJobs(ctx context.Context, status models.IndexJobStatus, limit int) ([]models.IndexJob, error)
	// ListStaleIndexJobs returns pending jobs last touched before the cutoff, oldest first.
	ListStaleIndexJobs(ctx context.Context, before time.Time, limit int) ([]models.IndexJob, error)
	MarkIndexJob(ctx context.Context, id uuid.UUID, status models.IndexJobStatus, lastError string) error
	// ReopenIndexJob moves a failed job, or a pending job last touched before
	// staleBefore, back to pending and counts another attempt. Any other job is
	// ErrConflict.
	ReopenIndexJob(ctx context.Context, id uuid.UUID, staleBefore time.Time) (*models.IndexJob, error)
}

type Store interface {
	RecordStore
	IndexJobStore
	// CreateWithIndexJob persists rec and, when job is non-nil, its index job in one
	// atomic step, so no record with photos exists without a job to reconcile.
	CreateWithIndexJob(ctx context.Context, rec *models.Record, job *models.IndexJob) error
	Ping(ctx context.Context) error
	Close()
}

const (
	DefaultListLimit = 20
	MaxListLimit     = 100
)

// ClampLimit applies the default and maximum page size.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

func checkStatusKind(kind models.Kind) error {
	s, ok := models.SchemaFor(kind)
	if !ok || !s.HasStatus {
		return ErrNoStatus
	}
	return nil
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*MemoryStore)(nil)
)
