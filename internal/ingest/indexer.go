package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/observability"
	"github.com/your-org/absens/internal/storage"
)

type IndexGateway interface {
	Index(ctx context.Context, kind models.Kind, recordID, ownerID string, photoURLs []string) error
}

// Indexer runs one index task against the recognition service and records the
// outcome on its job. It does not retry; failed jobs are retried through the
// Reconciler.
type Indexer struct {
	gateway IndexGateway
	jobs    storage.IndexJobStore
}

func NewIndexer(gateway IndexGateway, jobs storage.IndexJobStore) *Indexer {
	return &Indexer{gateway: gateway, jobs: jobs}
}

// Process returns an error only when the outcome could not be recorded.
func (ix *Indexer) Process(ctx context.Context, task models.IndexTask) error {
	ctx, span := tracer.Start(ctx, "ingest.Index")
	defer span.End()

	status, lastErr := models.IndexJobIndexed, ""
	if err := ix.gateway.Index(ctx, task.Kind, task.RecordID.String(), task.OwnerID, task.PhotoURLs); err != nil {
		status, lastErr = models.IndexJobFailed, err.Error()
		span.RecordError(err)
		slog.Warn("index photos failed", "job_id", task.JobID, "record_id", task.RecordID, "error", err)
	}
	observability.IndexJobs.WithLabelValues(string(status)).Inc()

	if err := ix.jobs.MarkIndexJob(ctx, task.JobID, status, lastErr); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			slog.Warn("index job vanished", "job_id", task.JobID)
			return nil
		}
		return fmt.Errorf("record index job %s outcome: %w", task.JobID, err)
	}
	slog.Debug("index task processed", "job_id", task.JobID, "status", status)
	return nil
}
