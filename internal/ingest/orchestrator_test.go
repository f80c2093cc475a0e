package ingest

//go:generate mockgen -source=orchestrator.go -destination=mocks/orchestrator_mocks.go -package=mocks PhotoStore,IdempotencyStore,Dispatcher,EventPublisher

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"github.com/your-org/absens/internal/auth"
	"github.com/your-org/absens/internal/ingest/mocks"
	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/storage"
	"github.com/your-org/absens/pkg/apperr"
)

var (
	jpegData = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x01}, 64)...)
	pngData  = append([]byte("\x89PNG\x0D\x0A\x1A\x0A"), bytes.Repeat([]byte{0x02}, 64)...)
)

type failingStore struct {
	*storage.MemoryStore
	createErr error
}

func (s *failingStore) CreateWithIndexJob(ctx context.Context, rec *models.Record, job *models.IndexJob) error {
	if s.createErr != nil {
		return s.createErr
	}
	return s.MemoryStore.CreateWithIndexJob(ctx, rec, job)
}

type OrchestratorSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	store      *failingStore
	photos     *mocks.MockPhotoStore
	dispatcher *mocks.MockDispatcher
	events     *mocks.MockEventPublisher
	idem       *mocks.MockIdempotencyStore
	svc        *Orchestrator

	reporter auth.Identity
}

func TestOrchestratorSuite(t *testing.T) {
	suite.Run(t, new(OrchestratorSuite))
}

func (s *OrchestratorSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.store = &failingStore{MemoryStore: storage.NewMemoryStore()}
	s.photos = mocks.NewMockPhotoStore(s.ctrl)
	s.dispatcher = mocks.NewMockDispatcher(s.ctrl)
	s.events = mocks.NewMockEventPublisher(s.ctrl)
	s.idem = mocks.NewMockIdempotencyStore(s.ctrl)
	s.reporter = auth.Identity{UserID: "user-1", Role: auth.RoleReporter}

	var err error
	s.svc, err = NewOrchestrator(s.store, s.photos, s.dispatcher,
		WithEventPublisher(s.events),
		WithIdempotency(s.idem),
		WithClock(func() time.Time { return time.Date(2026, 10, 19, 12, 0, 0, 0, time.UTC) }),
		WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)
}

func (s *OrchestratorSuite) TearDownTest() {
	s.ctrl.Finish()
}

func missingPersonFields() map[string]string {
	return map[string]string{
		"name":               "Alex Roe",
		"age":                "34",
		"gender":             "Male",
		"last_seen_location": "Central Station",
		"missing_date":       "2026-10-01",
	}
}

func sightingFields() map[string]string {
	return map[string]string{
		"description": "Man in a red jacket",
		"location":    "Harbor Street",
	}
}

func (s *OrchestratorSuite) expectUploads() {
	s.photos.EXPECT().PutPhoto(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string, _ []byte, _ string) (string, error) {
			return "http://photos/" + key, nil
		}).AnyTimes()
}

func (s *OrchestratorSuite) TestNew() {
	_, err := NewOrchestrator(nil, s.photos, s.dispatcher)
	s.ErrorContains(err, "record store is required")
	_, err = NewOrchestrator(s.store, nil, s.dispatcher)
	s.ErrorContains(err, "photo store is required")
	_, err = NewOrchestrator(s.store, s.photos, nil)
	s.ErrorContains(err, "dispatcher is required")
}

func (s *OrchestratorSuite) TestSubmitMissingPersonWithPhotos() {
	ctx := context.Background()
	s.expectUploads()

	var dispatched *models.IndexJob
	s.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, job *models.IndexJob) error {
			dispatched = job
			return nil
		})
	s.events.EXPECT().PublishRecordEvent(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, evt models.RecordEvent) error {
			s.Equal(models.EventRecordCreated, evt.Type)
			s.Equal(models.KindMissingPerson, evt.Kind)
			return nil
		})

	res, err := s.svc.Submit(ctx, s.reporter, models.KindMissingPerson, missingPersonFields(),
		[]PhotoUpload{{Filename: "a.jpg", Data: jpegData}, {Filename: "b.png", Data: pngData}}, "")
	s.Require().NoError(err)

	rec := res.Record
	s.Equal("Alex Roe", rec.Name)
	s.Equal("male", rec.Gender)
	s.Equal("user-1", rec.OwnerID)
	s.Nil(rec.Status, "missing person records carry no status")
	s.Require().Len(rec.Photos, 2)
	s.True(strings.HasPrefix(rec.Photos[0], "http://photos/missing_person/user-1/"))
	s.True(strings.HasSuffix(rec.Photos[0], ".jpg"))
	s.True(strings.HasSuffix(rec.Photos[1], ".png"))

	s.Equal(IndexingQueued, res.Indexing)
	s.True(res.Indexed())
	s.Require().NotNil(dispatched)
	s.Equal(rec.Photos, dispatched.PhotoURLs)
	s.Equal(*res.IndexJobID, dispatched.ID)

	stored, err := s.store.Get(ctx, models.KindMissingPerson, rec.ID)
	s.Require().NoError(err)
	s.Equal(rec.Photos, stored.Photos)
}

func (s *OrchestratorSuite) TestSubmitSightingWithoutPhotosSkipsIndexing() {
	s.events.EXPECT().PublishRecordEvent(gomock.Any(), gomock.Any()).Return(errors.New("nats down"))

	res, err := s.svc.Submit(context.Background(), s.reporter, models.KindSighting, sightingFields(), nil, "")
	s.Require().NoError(err)
	s.Equal(models.StatusPending, res.Record.CurrentStatus())
	s.Equal([]string{}, res.Record.Photos)
	s.Equal(IndexingSkipped, res.Indexing)
	s.Nil(res.IndexJobID)
}

func (s *OrchestratorSuite) TestSubmitValidation() {
	ctx := context.Background()

	s.Run("too many photos", func() {
		photos := make([]PhotoUpload, models.DefaultMaxPhotos+1)
		for i := range photos {
			photos[i] = PhotoUpload{Filename: "p.jpg", Data: jpegData}
		}
		_, err := s.svc.Submit(ctx, s.reporter, models.KindSighting, sightingFields(), photos, "")
		s.True(apperr.HasCode(err, apperr.CodeValidation))
	})

	s.Run("unsupported photo type", func() {
		_, err := s.svc.Submit(ctx, s.reporter, models.KindSighting, sightingFields(),
			[]PhotoUpload{{Filename: "notes.txt", Data: []byte("just some text")}}, "")
		s.True(apperr.HasCode(err, apperr.CodeValidation))
	})

	s.Run("oversized photo", func() {
		small, err := NewOrchestrator(s.store, s.photos, s.dispatcher, WithMaxPhotoBytes(16))
		s.Require().NoError(err)
		_, err = small.Submit(ctx, s.reporter, models.KindSighting, sightingFields(),
			[]PhotoUpload{{Filename: "a.jpg", Data: jpegData}}, "")
		s.True(apperr.HasCode(err, apperr.CodeValidation))
	})

	s.Run("missing required field", func() {
		fields := missingPersonFields()
		delete(fields, "missing_date")
		_, err := s.svc.Submit(ctx, s.reporter, models.KindMissingPerson, fields, nil, "")
		s.True(apperr.HasCode(err, apperr.CodeValidation))
	})

	s.Run("unknown kind", func() {
		_, err := s.svc.Submit(ctx, s.reporter, models.Kind("pets"), sightingFields(), nil, "")
		s.True(apperr.HasCode(err, apperr.CodeValidation))
	})

	all, _ := s.store.List(ctx, models.KindSighting, 0, 0)
	s.Empty(all, "nothing persisted on validation failure")
}

func (s *OrchestratorSuite) TestSubmitUploadFailureCleansUp() {
	s.photos.EXPECT().PutPhoto(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, key string, data []byte, _ string) (string, error) {
			if bytes.Equal(data, pngData) {
				return "", errors.New("minio: connection reset")
			}
			return "http://photos/" + key, nil
		}).Times(3)

	var deleted []string
	s.photos.EXPECT().DeleteObjects(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, keys []string) error {
			deleted = keys
			return nil
		})

	_, err := s.svc.Submit(context.Background(), s.reporter, models.KindSighting, sightingFields(),
		[]PhotoUpload{{Filename: "a.jpg", Data: jpegData}, {Filename: "b.png", Data: pngData}, {Filename: "c.jpg", Data: jpegData}}, "")
	s.True(apperr.HasCode(err, apperr.CodeUploadFailed))
	s.Len(deleted, 2)
	for _, k := range deleted {
		s.True(strings.HasSuffix(k, ".jpg"))
	}

	all, _ := s.store.List(context.Background(), models.KindSighting, 0, 0)
	s.Empty(all)
}

func (s *OrchestratorSuite) TestSubmitStoreFailureRemovesPhotos() {
	s.store.createErr = storage.ErrUnavailable
	s.expectUploads()
	s.photos.EXPECT().DeleteObjects(gomock.Any(), gomock.Len(1)).Return(nil)

	_, err := s.svc.Submit(context.Background(), s.reporter, models.KindSighting, sightingFields(),
		[]PhotoUpload{{Filename: "a.jpg", Data: jpegData}}, "")
	s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))

	jobs, err := s.store.ListIndexJobs(context.Background(), "", 10)
	s.Require().NoError(err)
	s.Empty(jobs, "no index job without its record")
}

func (s *OrchestratorSuite) TestSubmitDispatchFailureKeepsRecord() {
	ctx := context.Background()
	s.expectUploads()
	s.dispatcher.EXPECT().Dispatch(gomock.Any(), gomock.Any()).Return(ErrQueueFull)
	s.events.EXPECT().PublishRecordEvent(gomock.Any(), gomock.Any()).Return(nil)

	res, err := s.svc.Submit(ctx, s.reporter, models.KindSighting, sightingFields(),
		[]PhotoUpload{{Filename: "a.jpg", Data: jpegData}}, "")
	s.Require().NoError(err)
	s.Equal(IndexingFailed, res.Indexing)
	s.False(res.Indexed())

	_, err = s.store.Get(ctx, models.KindSighting, res.Record.ID)
	s.NoError(err, "record stays persisted")

	job, err := s.store.GetIndexJob(ctx, *res.IndexJobID)
	s.Require().NoError(err)
	s.Equal(models.IndexJobFailed, job.Status)
	s.Equal(ErrQueueFull.Error(), job.LastError)
}

func (s *OrchestratorSuite) TestSubmitIdempotency() {
	ctx := context.Background()
	scoped := "sighting:user-1:req-42"

	s.Run("first submission completes the key", func() {
		s.idem.EXPECT().Reserve(gomock.Any(), scoped).Return("", nil)
		s.idem.EXPECT().Complete(gomock.Any(), scoped, gomock.Any()).Return(nil)
		s.events.EXPECT().PublishRecordEvent(gomock.Any(), gomock.Any()).Return(nil)

		_, err := s.svc.Submit(ctx, s.reporter, models.KindSighting, sightingFields(), nil, "req-42")
		s.Require().NoError(err)
	})

	s.Run("completed key replays the original record", func() {
		existing, _ := s.store.ListByOwner(ctx, models.KindSighting, "user-1")
		s.Require().Len(existing, 1)

		s.idem.EXPECT().Reserve(gomock.Any(), scoped).Return(existing[0].ID.String(), nil)
		res, err := s.svc.Submit(ctx, s.reporter, models.KindSighting, sightingFields(), nil, "req-42")
		s.Require().NoError(err)
		s.True(res.Replayed)
		s.Equal(existing[0].ID, res.Record.ID)

		after, _ := s.store.ListByOwner(ctx, models.KindSighting, "user-1")
		s.Len(after, 1, "no duplicate record")
	})

	s.Run("in-flight key conflicts", func() {
		s.idem.EXPECT().Reserve(gomock.Any(), scoped).Return("", storage.ErrConflict)
		_, err := s.svc.Submit(ctx, s.reporter, models.KindSighting, sightingFields(), nil, "req-42")
		s.True(apperr.HasCode(err, apperr.CodeConflict))
	})

	s.Run("failed submission releases the key", func() {
		s.store.createErr = storage.ErrUnavailable
		defer func() { s.store.createErr = nil }()

		s.idem.EXPECT().Reserve(gomock.Any(), "sighting:user-1:req-43").Return("", nil)
		s.idem.EXPECT().Release(gomock.Any(), "sighting:user-1:req-43").Return(nil)
		_, err := s.svc.Submit(ctx, s.reporter, models.KindSighting, sightingFields(), nil, "req-43")
		s.True(apperr.HasCode(err, apperr.CodeStoreUnavailable))
	})
}
