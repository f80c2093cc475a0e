package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/absens/internal/api/handlers"
	"github.com/your-org/absens/internal/auth"
	"github.com/your-org/absens/internal/config"
	"github.com/your-org/absens/internal/ingest"
	"github.com/your-org/absens/internal/lifecycle"
	"github.com/your-org/absens/internal/matching"
	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/recognition"
	"github.com/your-org/absens/internal/storage"
	"github.com/your-org/absens/pkg/circuit"
	"github.com/your-org/absens/pkg/dto"
)

const testAPIKey = "ops-key"

var jpegData = append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x01}, 64)...)

type memPhotos struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func (p *memPhotos) PutPhoto(_ context.Context, key string, data []byte, _ string) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.objects[key] = data
	return "http://photos.local/" + key, nil
}

func (p *memPhotos) DeleteObjects(_ context.Context, keys []string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, k := range keys {
		delete(p.objects, k)
	}
	return nil
}

func (p *memPhotos) GetObject(_ context.Context, key string) ([]byte, string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	data, ok := p.objects[key]
	if !ok {
		return nil, "", storage.ErrNotFound
	}
	return data, "image/jpeg", nil
}

type stubDispatcher struct {
	mu   sync.Mutex
	err  error
	jobs []uuid.UUID
}

func (d *stubDispatcher) Dispatch(_ context.Context, job *models.IndexJob) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job.ID)
	return nil
}

type stubSearcher struct {
	candidates []models.MatchCandidate
	err        error
}

func (s *stubSearcher) Search(context.Context, models.Kind, string, []string) ([]models.MatchCandidate, error) {
	return s.candidates, s.err
}

type testEnv struct {
	router     *gin.Engine
	store      *storage.MemoryStore
	photos     *memPhotos
	dispatcher *stubDispatcher
	searcher   *stubSearcher
	tokens     *auth.TokenService
	// skew moves the reconciler's clock forward
	skew time.Duration
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	env := &testEnv{
		store:      storage.NewMemoryStore(),
		photos:     &memPhotos{objects: map[string][]byte{}},
		dispatcher: &stubDispatcher{},
		searcher:   &stubSearcher{},
		tokens:     auth.NewTokenService("test-secret", "absens", time.Hour),
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	orch, err := ingest.NewOrchestrator(env.store, env.photos, env.dispatcher, ingest.WithLogger(logger))
	require.NoError(t, err)

	reconciler := ingest.NewReconciler(env.store, env.dispatcher,
		ingest.WithReconcileClock(func() time.Time { return time.Now().Add(env.skew) }))

	env.router = NewRouter(RouterConfig{
		APIKey:     testAPIKey,
		Tokens:     env.tokens,
		Ingest:     orch,
		Records:    env.store,
		Matcher:    matching.NewResolver(env.searcher, env.store, logger),
		Lifecycle:  lifecycle.NewManager(env.store, nil, logger),
		Photos:     env.photos,
		Reconciler: reconciler,
		Checks: []handlers.Check{
			{Name: "store", Ping: env.store.Ping},
		},
	})
	return env
}

func (e *testEnv) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := e.tokens.Issue(auth.Identity{UserID: userID, Role: role})
	require.NoError(t, err)
	return tok
}

func (e *testEnv) do(req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func multipartRequest(t *testing.T, path string, fields map[string]string, photos int) *http.Request {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for i := 0; i < photos; i++ {
		fw, err := mw.CreateFormFile("photos", "face.jpg")
		require.NoError(t, err)
		_, err = fw.Write(jpegData)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return req
}

func jsonRequest(t *testing.T, method, path string, v any) *http.Request {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	req := httptest.NewRequest(method, path, bytes.NewReader(data))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}

func (e *testEnv) createSighting(t *testing.T, token string) dto.SubmitResponse {
	t.Helper()
	w := e.do(multipartRequest(t, "/v1/records/sightings", map[string]string{
		"description": "Man in a red jacket",
		"location":    "Harbor Street",
	}, 1), token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	return decode[dto.SubmitResponse](t, w)
}

func TestCreateMissingPerson(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "user-1", auth.RoleReporter)

	w := env.do(multipartRequest(t, "/v1/records/missing-persons", map[string]string{
		"name":               "Alex Roe",
		"age":                "34",
		"gender":             "male",
		"last_seen_location": "Central Station",
		"missing_date":       "2024-03-01",
	}, 2), tok)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	resp := decode[dto.SubmitResponse](t, w)
	assert.Equal(t, "missing_person", resp.Kind)
	assert.Equal(t, "Alex Roe", resp.Name)
	assert.Equal(t, "user-1", resp.OwnerID)
	assert.Equal(t, "Central Station", resp.LastSeenLocation)
	assert.Equal(t, "2024-03-01", resp.MissingDate)
	assert.Empty(t, resp.Status)
	assert.NotContains(t, w.Body.String(), `"status"`)
	assert.Len(t, resp.Photos, 2)
	assert.True(t, resp.Indexed)
	require.NotNil(t, resp.IndexJobID)
	assert.Len(t, env.dispatcher.jobs, 1)
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCreateRecord_Errors(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "user-1", auth.RoleReporter)

	t.Run("unauthenticated", func(t *testing.T) {
		w := env.do(multipartRequest(t, "/v1/records/sightings", nil, 0), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	t.Run("missing required field", func(t *testing.T) {
		w := env.do(multipartRequest(t, "/v1/records/sightings", map[string]string{"location": "Pier 4"}, 0), tok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, "validation", decode[dto.ErrorResponse](t, w).Code)
	})

	t.Run("unknown kind", func(t *testing.T) {
		w := env.do(multipartRequest(t, "/v1/records/pets", nil, 0), tok)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("not multipart", func(t *testing.T) {
		w := env.do(jsonRequest(t, http.MethodPost, "/v1/records/sightings", map[string]string{}), tok)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCreateRecord_IndexingFailureStillSaves(t *testing.T) {
	env := newTestEnv(t)
	env.dispatcher.err = errors.New("queue unavailable")
	tok := env.token(t, "user-1", auth.RoleReporter)

	w := env.do(multipartRequest(t, "/v1/records/sightings", map[string]string{
		"description": "Woman with a blue umbrella",
		"location":    "Old Town",
	}, 1), tok)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	resp := decode[dto.SubmitResponse](t, w)
	assert.False(t, resp.Indexed)
	assert.Equal(t, "pending", resp.Status)

	failed, err := env.store.ListIndexJobs(context.Background(), models.IndexJobFailed, 10)
	require.NoError(t, err)
	assert.Len(t, failed, 1)
}

func TestGetAndListRecords(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "alice", auth.RoleReporter)
	bob := env.token(t, "bob", auth.RoleReporter)
	officer := env.token(t, "officer", auth.RoleAuthority)

	created := env.createSighting(t, alice)
	env.createSighting(t, bob)

	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/records/sightings/"+created.ID.String(), nil), bob)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, created.ID, decode[dto.RecordResponse](t, w).ID)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/records/sightings/"+uuid.NewString(), nil), bob)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/records/sightings/not-a-uuid", nil), bob)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/records/sightings", nil), bob)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 2, decode[dto.RecordListResponse](t, w).Total)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/records/sightings?owner=me", nil), alice)
	require.Equal(t, http.StatusOK, w.Code)
	mine := decode[dto.RecordListResponse](t, w)
	require.Len(t, mine.Records, 1)
	assert.Equal(t, created.ID, mine.Records[0].ID)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/records/sightings?owner=alice", nil), bob)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/records/sightings?owner=alice", nil), officer)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, decode[dto.RecordListResponse](t, w).Total)
}

func TestListRecords_Paging(t *testing.T) {
	env := newTestEnv(t)
	alice := env.token(t, "alice", auth.RoleReporter)
	bob := env.token(t, "bob", auth.RoleReporter)

	for i := 0; i < 3; i++ {
		env.createSighting(t, alice)
	}
	env.createSighting(t, bob)

	list := func(query, token string) dto.RecordListResponse {
		t.Helper()
		w := env.do(httptest.NewRequest(http.MethodGet, "/v1/records/sightings"+query, nil), token)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		return decode[dto.RecordListResponse](t, w)
	}

	page := list("?limit=2&offset=1", bob)
	assert.Len(t, page.Records, 2)
	assert.Equal(t, 4, page.Total, "total counts every record, not the page")
	assert.Equal(t, 2, page.Limit)
	assert.Equal(t, 1, page.Offset)

	mine := list("?owner=me&limit=2&offset=1", alice)
	assert.Len(t, mine.Records, 2)
	assert.Equal(t, 3, mine.Total)
	assert.Equal(t, 2, mine.Limit)

	all := list("?owner=me", alice)
	require.Len(t, all.Records, 3)
	assert.Equal(t, all.Records[1:], mine.Records)
	assert.Equal(t, storage.DefaultListLimit, all.Limit)

	past := list("?owner=me&offset=10", alice)
	assert.Empty(t, past.Records)
	assert.Equal(t, 3, past.Total)
}

func TestUpdateStatus(t *testing.T) {
	env := newTestEnv(t)
	reporter := env.token(t, "user-1", auth.RoleReporter)
	officer := env.token(t, "officer", auth.RoleAuthority)
	created := env.createSighting(t, reporter)
	path := "/v1/records/sightings/" + created.ID.String() + "/status"

	t.Run("reporter cannot jump to resolved", func(t *testing.T) {
		w := env.do(jsonRequest(t, http.MethodPatch, path, dto.StatusRequest{Status: "resolved"}), reporter)
		assert.Equal(t, http.StatusConflict, w.Code)
		assert.Equal(t, "invalid_transition", decode[dto.ErrorResponse](t, w).Code)
	})

	t.Run("reporter cannot start review", func(t *testing.T) {
		w := env.do(jsonRequest(t, http.MethodPatch, path, dto.StatusRequest{Status: "under_review"}), reporter)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})

	t.Run("authority drives review to resolution", func(t *testing.T) {
		w := env.do(jsonRequest(t, http.MethodPatch, path, dto.StatusRequest{Status: "under_review"}), officer)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		assert.Equal(t, "under_review", decode[dto.RecordResponse](t, w).Status)

		w = env.do(jsonRequest(t, http.MethodPatch, path, dto.StatusRequest{Status: "resolved"}), officer)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "resolved", decode[dto.RecordResponse](t, w).Status)
	})

	t.Run("terminal status is final", func(t *testing.T) {
		w := env.do(jsonRequest(t, http.MethodPatch, path, dto.StatusRequest{Status: "under_review"}), officer)
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("unknown status", func(t *testing.T) {
		w := env.do(jsonRequest(t, http.MethodPatch, path, dto.StatusRequest{Status: "closed"}), officer)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestMatches(t *testing.T) {
	env := newTestEnv(t)
	reporter := env.token(t, "user-1", auth.RoleReporter)
	path := "/v1/records/missing-persons/matches"
	req := dto.MatchRequest{PhotoURLs: []string{"http://photos.local/q.jpg"}}

	t.Run("no match is not an error", func(t *testing.T) {
		w := env.do(jsonRequest(t, http.MethodPost, path, req), reporter)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[dto.MatchResponse](t, w)
		assert.False(t, resp.Matched)
		assert.Nil(t, resp.Record)
	})

	t.Run("best candidate from the counterpart kind", func(t *testing.T) {
		sighting := env.createSighting(t, reporter)
		env.searcher.candidates = []models.MatchCandidate{
			{RecordID: uuid.NewString(), Score: 0.41},
			{RecordID: sighting.ID.String(), Score: 0.93},
		}
		w := env.do(jsonRequest(t, http.MethodPost, path, req), reporter)
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[dto.MatchResponse](t, w)
		assert.True(t, resp.Matched)
		assert.InDelta(t, 0.93, resp.Score, 1e-9)
		require.NotNil(t, resp.Record)
		assert.Equal(t, sighting.ID, resp.Record.ID)
	})

	t.Run("recognition outage degrades to no match", func(t *testing.T) {
		env.searcher.err = errors.New("breaker open")
		defer func() { env.searcher.err = nil }()
		w := env.do(jsonRequest(t, http.MethodPost, path, req), reporter)
		require.Equal(t, http.StatusOK, w.Code)
		assert.False(t, decode[dto.MatchResponse](t, w).Matched)
	})

	t.Run("reporters search only as themselves", func(t *testing.T) {
		other := dto.MatchRequest{OwnerID: "someone-else", PhotoURLs: req.PhotoURLs}
		w := env.do(jsonRequest(t, http.MethodPost, path, other), reporter)
		assert.Equal(t, http.StatusForbidden, w.Code)
	})
}

func TestPhotos(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "user-1", auth.RoleReporter)
	created := env.createSighting(t, tok)
	require.Len(t, created.Photos, 1)

	key := strings.TrimPrefix(created.Photos[0], "http://photos.local/")
	w := env.do(httptest.NewRequest(http.MethodGet, "/v1/photos/"+key, nil), tok)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "image/jpeg", w.Header().Get("Content-Type"))
	assert.Equal(t, jpegData, w.Body.Bytes())

	w = env.do(httptest.NewRequest(http.MethodGet, "/v1/photos/sighting/user-1/missing.jpg", nil), tok)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAdminIndexJobs(t *testing.T) {
	env := newTestEnv(t)
	tok := env.token(t, "user-1", auth.RoleReporter)

	env.dispatcher.err = errors.New("queue unavailable")
	env.createSightingAllowingDegraded(t, tok)
	env.dispatcher.err = nil

	t.Run("requires api key", func(t *testing.T) {
		w := env.do(httptest.NewRequest(http.MethodGet, "/v1/admin/index-jobs", nil), "")
		assert.Equal(t, http.StatusUnauthorized, w.Code)
	})

	var jobID uuid.UUID
	t.Run("lists failed jobs", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/index-jobs?status=failed", nil)
		req.Header.Set("X-API-Key", testAPIKey)
		w := env.do(req, "")
		require.Equal(t, http.StatusOK, w.Code)
		resp := decode[dto.IndexJobListResponse](t, w)
		require.Len(t, resp.Jobs, 1)
		jobID = resp.Jobs[0].ID
	})

	t.Run("retry dispatches again", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/index-jobs/"+jobID.String()+"/retry", nil)
		req.Header.Set("X-API-Key", testAPIKey)
		w := env.do(req, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		resp := decode[dto.IndexJobResponse](t, w)
		assert.Equal(t, "pending", resp.Status)
		assert.Equal(t, 2, resp.Attempts)
	})

	t.Run("retrying a pending job conflicts", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/admin/index-jobs/"+jobID.String()+"/retry", nil)
		req.Header.Set("X-API-Key", testAPIKey)
		w := env.do(req, "")
		assert.Equal(t, http.StatusConflict, w.Code)
	})

	t.Run("lost pending job is stale and retried", func(t *testing.T) {
		listStale := func() dto.IndexJobListResponse {
			req := httptest.NewRequest(http.MethodGet, "/v1/admin/index-jobs?status=stale", nil)
			req.Header.Set("X-API-Key", testAPIKey)
			w := env.do(req, "")
			require.Equal(t, http.StatusOK, w.Code, w.Body.String())
			return decode[dto.IndexJobListResponse](t, w)
		}
		assert.Empty(t, listStale().Jobs)

		env.skew = time.Hour
		defer func() { env.skew = 0 }()
		stale := listStale()
		require.Len(t, stale.Jobs, 1)
		assert.Equal(t, jobID, stale.Jobs[0].ID)

		req := httptest.NewRequest(http.MethodPost, "/v1/admin/index-jobs/retry-failed", nil)
		req.Header.Set("X-API-Key", testAPIKey)
		w := env.do(req, "")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		summary := decode[dto.RetrySummaryResponse](t, w)
		assert.Equal(t, 1, summary.Dispatched)
		require.Len(t, summary.Jobs, 1)
		assert.Equal(t, 3, summary.Jobs[0].Attempts)
	})

	t.Run("bad status filter", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/v1/admin/index-jobs?status=lost", nil)
		req.Header.Set("X-API-Key", testAPIKey)
		w := env.do(req, "")
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func (e *testEnv) createSightingAllowingDegraded(t *testing.T, token string) {
	t.Helper()
	w := e.do(multipartRequest(t, "/v1/records/sightings", map[string]string{
		"description": "Teenager near the bus depot",
		"location":    "Depot Road",
	}, 1), token)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
}

func TestSystemEndpoints(t *testing.T) {
	env := newTestEnv(t)

	w := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)

	w = env.do(httptest.NewRequest(http.MethodGet, "/readyz", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"store":"ok"`)

	w = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil), "")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestReadyz_ReportsFailingDependency(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := handlers.NewSystemHandler(
		handlers.Check{Name: "store", Ping: func(context.Context) error { return nil }},
		handlers.Check{Name: "minio", Ping: func(context.Context) error { return errors.New("connection refused") }},
	)
	r.GET("/readyz", h.Readyz)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"minio":"connection refused"`)
}

func TestReadyz_RecognitionOutageStaysReady(t *testing.T) {
	gin.SetMode(gin.TestMode)
	breaker := circuit.New("recognition", circuit.WithFailureThreshold(1))
	breaker.RecordFailure()
	require.True(t, breaker.IsOpen())
	recognizer := recognition.NewClient(config.RecognitionConfig{BaseURL: "http://127.0.0.1:1"}, recognition.WithBreaker(breaker))

	r := gin.New()
	h := handlers.NewSystemHandler(
		handlers.Check{Name: "store", Ping: func(context.Context) error { return nil }},
		handlers.Check{Name: "recognition", Ping: recognizer.Ping, Optional: true},
	)
	r.GET("/readyz", h.Readyz)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"ready"`)
	assert.Contains(t, w.Body.String(), `"recognition":"recognition circuit open"`)
}
