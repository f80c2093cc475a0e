package ingest

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/observability"
	"github.com/your-org/absens/internal/storage"
	"github.com/your-org/absens/pkg/apperr"
)

// DefaultStaleAfter is how long a job may stay pending before it counts as lost.
const DefaultStaleAfter = 15 * time.Minute

// Reconciler lets operators inspect index jobs and re-dispatch failed ones, along
// with pending jobs whose task was lost: dropped after the queue's delivery limit,
// expired from the stream, or queued in a process that died.
type Reconciler struct {
	jobs       storage.IndexJobStore
	dispatcher Dispatcher
	staleAfter time.Duration
	now        func() time.Time
}

type ReconcilerOption func(*Reconciler)

func WithStaleAfter(d time.Duration) ReconcilerOption {
	return func(r *Reconciler) {
		if d > 0 {
			r.staleAfter = d
		}
	}
}

func WithReconcileClock(now func() time.Time) ReconcilerOption {
	return func(r *Reconciler) { r.now = now }
}

func NewReconciler(jobs storage.IndexJobStore, dispatcher Dispatcher, opts ...ReconcilerOption) *Reconciler {
	r := &Reconciler{jobs: jobs, dispatcher: dispatcher, staleAfter: DefaultStaleAfter, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Reconciler) staleBefore() time.Time {
	return r.now().Add(-r.staleAfter)
}

func (r *Reconciler) List(ctx context.Context, status models.IndexJobStatus, limit int) ([]models.IndexJob, error) {
	jobs, err := r.jobs.ListIndexJobs(ctx, status, limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "could not list index jobs")
	}
	return jobs, nil
}

// ListStale returns pending jobs untouched for longer than the stale threshold.
func (r *Reconciler) ListStale(ctx context.Context, limit int) ([]models.IndexJob, error) {
	jobs, err := r.jobs.ListStaleIndexJobs(ctx, r.staleBefore(), limit)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "could not list stale index jobs")
	}
	return jobs, nil
}

// Retry reopens a failed or stale pending job and dispatches it again. A dispatch
// failure leaves the job failed and is reported through the returned job, not as
// an error.
func (r *Reconciler) Retry(ctx context.Context, id uuid.UUID) (*models.IndexJob, error) {
	job, err := r.jobs.ReopenIndexJob(ctx, id, r.staleBefore())
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return nil, apperr.New(apperr.CodeNotFound, "index job not found")
	case errors.Is(err, storage.ErrConflict):
		return nil, apperr.New(apperr.CodeConflict, "only failed or stale pending index jobs can be retried")
	case err != nil:
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "could not reopen index job")
	}
	observability.IndexJobs.WithLabelValues("retried").Inc()

	if err := r.dispatcher.Dispatch(ctx, job); err != nil {
		slog.Warn("re-dispatch index job", "job_id", job.ID, "error", err)
		observability.IndexJobs.WithLabelValues("dispatch_failed").Inc()
		if markErr := r.jobs.MarkIndexJob(ctx, job.ID, models.IndexJobFailed, err.Error()); markErr != nil {
			return nil, apperr.Wrap(markErr, apperr.CodeStoreUnavailable, "could not update index job")
		}
		job.Status = models.IndexJobFailed
		job.LastError = err.Error()
		return job, nil
	}
	slog.Info("index job re-dispatched", "job_id", job.ID, "attempts", job.Attempts)
	return job, nil
}

type RetrySummary struct {
	Dispatched int
	Failed     int
	Jobs       []models.IndexJob
}

// RetryFailed retries up to limit jobs, oldest first: failed jobs, then stale
// pending ones.
func (r *Reconciler) RetryFailed(ctx context.Context, limit int) (*RetrySummary, error) {
	limit = storage.ClampLimit(limit)
	candidates, err := r.List(ctx, models.IndexJobFailed, limit)
	if err != nil {
		return nil, err
	}
	if room := limit - len(candidates); room > 0 {
		stale, err := r.ListStale(ctx, room)
		if err != nil {
			return nil, err
		}
		candidates = append(candidates, stale...)
	}

	summary := &RetrySummary{Jobs: []models.IndexJob{}}
	for _, j := range candidates {
		job, err := r.Retry(ctx, j.ID)
		if err != nil {
			// another operator got there first
			if apperr.HasCode(err, apperr.CodeConflict) {
				continue
			}
			return summary, err
		}
		if job.Status == models.IndexJobFailed {
			summary.Failed++
		} else {
			summary.Dispatched++
		}
		summary.Jobs = append(summary.Jobs, *job)
	}
	return summary, nil
}
