// Package ingest accepts new records: it validates the submission, uploads photos,
// persists the record and hands its photos to the recognition indexer.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/your-org/absens/internal/auth"
	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/observability"
	"github.com/your-org/absens/internal/storage"
	"github.com/your-org/absens/pkg/apperr"
)

var tracer = observability.Tracer("ingest")

type PhotoStore interface {
	PutPhoto(ctx context.Context, key string, data []byte, contentType string) (string, error)
	DeleteObjects(ctx context.Context, keys []string) error
}

// IdempotencyStore remembers which record a client idempotency key produced.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string) (string, error)
	Complete(ctx context.Context, key, recordID string) error
	Release(ctx context.Context, key string) error
}

// Dispatcher hands a persisted index job to whatever runs index tasks.
type Dispatcher interface {
	Dispatch(ctx context.Context, job *models.IndexJob) error
}

type EventPublisher interface {
	PublishRecordEvent(ctx context.Context, evt models.RecordEvent) error
}

type PhotoUpload struct {
	Filename string
	Data     []byte
}

type IndexingOutcome string

const (
	IndexingQueued  IndexingOutcome = "queued"
	IndexingSkipped IndexingOutcome = "skipped"
	IndexingFailed  IndexingOutcome = "failed"
)

type SubmitResult struct {
	Record     *models.Record
	Indexing   IndexingOutcome
	IndexJobID *uuid.UUID
	// Replayed is set when an idempotency key matched an earlier submission.
	Replayed bool
}

// Indexed reports whether the photos are on their way to the recognition index.
func (r *SubmitResult) Indexed() bool {
	return r.Indexing != IndexingFailed
}

const (
	DefaultMaxPhotoBytes     = 10 << 20
	defaultUploadConcurrency = 3
	cleanupTimeout           = 10 * time.Second
)

type Orchestrator struct {
	store      storage.Store
	photos     PhotoStore
	dispatcher Dispatcher

	idem              IdempotencyStore
	events            EventPublisher
	maxPhotoBytes     int64
	uploadConcurrency int
	now               func() time.Time
	logger            *slog.Logger
}

type Option func(*Orchestrator)

func WithIdempotency(s IdempotencyStore) Option {
	return func(o *Orchestrator) { o.idem = s }
}

func WithEventPublisher(p EventPublisher) Option {
	return func(o *Orchestrator) { o.events = p }
}

func WithMaxPhotoBytes(n int64) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxPhotoBytes = n
		}
	}
}

func WithUploadConcurrency(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.uploadConcurrency = n
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) { o.now = now }
}

func WithLogger(l *slog.Logger) Option {
	return func(o *Orchestrator) { o.logger = l }
}

func NewOrchestrator(store storage.Store, photos PhotoStore, dispatcher Dispatcher, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("record store is required")
	}
	if photos == nil {
		return nil, errors.New("photo store is required")
	}
	if dispatcher == nil {
		return nil, errors.New("dispatcher is required")
	}
	o := &Orchestrator{
		store:             store,
		photos:            photos,
		dispatcher:        dispatcher,
		maxPhotoBytes:     DefaultMaxPhotoBytes,
		uploadConcurrency: defaultUploadConcurrency,
		now:               time.Now,
		logger:            slog.Default(),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// Submit creates a record of the given kind owned by actor. Photos are uploaded
// before the record is written; a record is never persisted with a photo that failed
// to upload. Indexing failures do not fail the submission and are reported in the
// result instead.
func (o *Orchestrator) Submit(ctx context.Context, actor auth.Identity, kind models.Kind, fields map[string]string, photos []PhotoUpload, idempotencyKey string) (_ *SubmitResult, err error) {
	ctx, span := tracer.Start(ctx, "ingest.Submit")
	defer span.End()
	span.SetAttributes(attribute.String("record.kind", string(kind)), attribute.Int("record.photos", len(photos)))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	schema, ok := models.SchemaFor(kind)
	if !ok {
		return nil, apperr.New(apperr.CodeValidation, fmt.Sprintf("unknown record kind %q", kind))
	}
	if err := schema.CheckPhotos(len(photos)); err != nil {
		return nil, err
	}
	types := make([]photoType, len(photos))
	for i, p := range photos {
		t, err := o.checkPhoto(p)
		if err != nil {
			return nil, err
		}
		types[i] = t
	}
	rec, err := schema.Build(actor.UserID, fields, o.now())
	if err != nil {
		return nil, err
	}

	var idemKey string
	if idempotencyKey != "" && o.idem != nil {
		idemKey = scopedKey(kind, actor.UserID, idempotencyKey)
		replay, err := o.reserve(ctx, kind, idemKey)
		if err != nil {
			return nil, err
		}
		if replay != nil {
			return replay, nil
		}
		defer func() {
			if err != nil {
				o.releaseKey(ctx, idemKey)
			}
		}()
	}

	rec.ID = uuid.New()
	keys, urls, err := o.uploadPhotos(ctx, rec, photos, types)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeUploadFailed, "photo upload failed")
	}
	rec.Photos = urls

	// the job is written with the record so an index task lost later can always be
	// found and reconciled
	var job *models.IndexJob
	if len(rec.Photos) > 0 {
		job = &models.IndexJob{
			Kind:      rec.Kind,
			RecordID:  rec.ID,
			OwnerID:   rec.OwnerID,
			PhotoURLs: append([]string(nil), rec.Photos...),
		}
	}
	if err := o.store.CreateWithIndexJob(ctx, rec, job); err != nil {
		o.deletePhotos(ctx, keys)
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "could not save record")
	}
	span.SetAttributes(attribute.String("record.id", rec.ID.String()))

	if idemKey != "" {
		if err := o.idem.Complete(ctx, idemKey, rec.ID.String()); err != nil {
			o.logger.Warn("complete idempotency key", "record_id", rec.ID, "error", err)
		}
	}

	result := &SubmitResult{Record: rec}
	result.Indexing, result.IndexJobID = o.index(ctx, job)
	observability.Submissions.WithLabelValues(string(kind), string(result.Indexing)).Inc()

	o.publish(ctx, models.RecordEvent{
		Type:     models.EventRecordCreated,
		Kind:     rec.Kind,
		RecordID: rec.ID.String(),
		Status:   rec.CurrentStatus(),
	})

	o.logger.Info("record submitted",
		"kind", kind, "record_id", rec.ID, "owner_id", rec.OwnerID,
		"photos", len(rec.Photos), "indexing", result.Indexing)
	return result, nil
}

// reserve claims the idempotency key. A non-nil result means the key already
// produced a record and the submission must not run again.
func (o *Orchestrator) reserve(ctx context.Context, kind models.Kind, key string) (*SubmitResult, error) {
	existing, err := o.idem.Reserve(ctx, key)
	switch {
	case errors.Is(err, storage.ErrConflict):
		return nil, apperr.New(apperr.CodeConflict, "a submission with this idempotency key is in progress")
	case err != nil:
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "idempotency store unavailable")
	case existing == "":
		return nil, nil
	}

	id, err := uuid.Parse(existing)
	if err != nil {
		return nil, apperr.Wrap(err, apperr.CodeInternal, "corrupt idempotency entry")
	}
	rec, err := o.store.Get(ctx, kind, id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return nil, apperr.New(apperr.CodeConflict, "idempotency key was used for a record that no longer exists")
		}
		return nil, apperr.Wrap(err, apperr.CodeStoreUnavailable, "could not load record")
	}
	o.logger.Info("replayed submission", "kind", kind, "record_id", rec.ID)
	return &SubmitResult{Record: rec, Replayed: true}, nil
}

func (o *Orchestrator) releaseKey(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := o.idem.Release(ctx, key); err != nil {
		o.logger.Warn("release idempotency key", "error", err)
	}
}

func (o *Orchestrator) uploadPhotos(ctx context.Context, rec *models.Record, photos []PhotoUpload, types []photoType) ([]string, []string, error) {
	if len(photos) == 0 {
		return nil, []string{}, nil
	}

	keys := make([]string, len(photos))
	urls := make([]string, len(photos))
	var (
		mu       sync.Mutex
		uploaded []string
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.uploadConcurrency)
	for i, p := range photos {
		i, p := i, p
		key := photoKey(rec.Kind, rec.OwnerID, types[i].ext)
		keys[i] = key
		g.Go(func() error {
			url, err := o.photos.PutPhoto(gctx, key, p.Data, types[i].contentType)
			if err != nil {
				return fmt.Errorf("upload %q: %w", p.Filename, err)
			}
			mu.Lock()
			uploaded = append(uploaded, key)
			mu.Unlock()
			urls[i] = url
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		o.deletePhotos(ctx, uploaded)
		return nil, nil, err
	}
	return keys, urls, nil
}

// deletePhotos removes uploaded objects on a best-effort basis, even after the
// request context is done.
func (o *Orchestrator) deletePhotos(ctx context.Context, keys []string) {
	if len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cleanupTimeout)
	defer cancel()
	if err := o.photos.DeleteObjects(ctx, keys); err != nil {
		o.logger.Warn("delete orphaned photos", "keys", keys, "error", err)
	}
}

func (o *Orchestrator) index(ctx context.Context, job *models.IndexJob) (IndexingOutcome, *uuid.UUID) {
	if job == nil {
		return IndexingSkipped, nil
	}

	if err := o.dispatcher.Dispatch(ctx, job); err != nil {
		o.logger.Warn("dispatch index job", "record_id", job.RecordID, "job_id", job.ID, "error", err)
		observability.IndexJobs.WithLabelValues("dispatch_failed").Inc()
		// a job left pending here is picked up as stale by the reconciler
		if markErr := o.store.MarkIndexJob(ctx, job.ID, models.IndexJobFailed, err.Error()); markErr != nil {
			o.logger.Error("mark index job failed", "job_id", job.ID, "error", markErr)
		}
		return IndexingFailed, &job.ID
	}
	observability.IndexJobs.WithLabelValues("dispatched").Inc()
	return IndexingQueued, &job.ID
}

func (o *Orchestrator) publish(ctx context.Context, evt models.RecordEvent) {
	if o.events == nil {
		return
	}
	if err := o.events.PublishRecordEvent(ctx, evt); err != nil {
		o.logger.Warn("publish record event", "type", evt.Type, "record_id", evt.RecordID, "error", err)
	}
}

type photoType struct {
	contentType string
	ext         string
}

var allowedPhotoTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/webp": ".webp",
}

func (o *Orchestrator) checkPhoto(p PhotoUpload) (photoType, error) {
	if len(p.Data) == 0 {
		return photoType{}, apperr.New(apperr.CodeValidation, fmt.Sprintf("photo %q is empty", p.Filename))
	}
	if int64(len(p.Data)) > o.maxPhotoBytes {
		return photoType{}, apperr.New(apperr.CodeValidation,
			fmt.Sprintf("photo %q exceeds %d bytes", p.Filename, o.maxPhotoBytes))
	}
	ct := http.DetectContentType(p.Data)
	ext, ok := allowedPhotoTypes[ct]
	if !ok {
		return photoType{}, apperr.New(apperr.CodeValidation,
			fmt.Sprintf("photo %q has unsupported type %s", p.Filename, ct))
	}
	return photoType{contentType: ct, ext: ext}, nil
}

func photoKey(kind models.Kind, ownerID, ext string) string {
	return fmt.Sprintf("%s/%s/%s%s", kind, ownerID, uuid.NewString(), ext)
}

func scopedKey(kind models.Kind, ownerID, key string) string {
	return string(kind) + ":" + ownerID + ":" + key
}
