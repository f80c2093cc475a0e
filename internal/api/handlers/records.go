package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/absens/internal/auth"
	"github.com/your-org/absens/internal/ingest"
	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/internal/storage"
	"github.com/your-org/absens/pkg/apperr"
	"github.com/your-org/absens/pkg/dto"
)

type Submitter interface {
	Submit(ctx context.Context, actor auth.Identity, kind models.Kind, fields map[string]string, photos []ingest.PhotoUpload, idempotencyKey string) (*ingest.SubmitResult, error)
}

type RecordReader interface {
	Get(ctx context.Context, kind models.Kind, id uuid.UUID) (*models.Record, error)
	List(ctx context.Context, kind models.Kind, limit, offset int) ([]models.Record, error)
	Count(ctx context.Context, kind models.Kind) (int, error)
	ListByOwner(ctx context.Context, kind models.Kind, ownerID string) ([]models.Record, error)
}

type MatchFinder interface {
	FindMatches(ctx context.Context, kind models.Kind, ownerID string, photoURLs []string) (models.MatchResult, error)
}

type Transitioner interface {
	Transition(ctx context.Context, actor auth.Identity, kind models.Kind, id uuid.UUID, requested models.Status) (*models.Record, error)
}

type RecordHandler struct {
	ingest        Submitter
	records       RecordReader
	matcher       MatchFinder
	lifecycle     Transitioner
	maxPhotoBytes int64
}

func NewRecordHandler(submitter Submitter, records RecordReader, matcher MatchFinder, lifecycle Transitioner, maxPhotoBytes int64) *RecordHandler {
	if maxPhotoBytes <= 0 {
		maxPhotoBytes = ingest.DefaultMaxPhotoBytes
	}
	return &RecordHandler{
		ingest:        submitter,
		records:       records,
		matcher:       matcher,
		lifecycle:     lifecycle,
		maxPhotoBytes: maxPhotoBytes,
	}
}

const idempotencyHeader = "Idempotency-Key"

func kindParam(c *gin.Context) (models.Kind, bool) {
	kind, err := models.ParseKind(c.Param("kind"))
	if err != nil {
		respondError(c, apperr.New(apperr.CodeNotFound, err.Error()))
		return "", false
	}
	return kind, true
}

func idParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid record id")
		return uuid.Nil, false
	}
	return id, true
}

func identity(c *gin.Context) (auth.Identity, bool) {
	id, ok := auth.CurrentIdentity(c)
	if !ok {
		respondError(c, apperr.New(apperr.CodeUnauthorized, "authentication required"))
	}
	return id, ok
}

// Create accepts a multipart form of record fields plus up to five "photos" files.
func (h *RecordHandler) Create(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	actor, ok := identity(c)
	if !ok {
		return
	}

	limit := int64(models.DefaultMaxPhotos)*h.maxPhotoBytes + 1<<20
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	form, err := c.MultipartForm()
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			badRequest(c, "request body too large")
			return
		}
		badRequest(c, "multipart form required")
		return
	}

	fields := make(map[string]string, len(form.Value))
	for k, v := range form.Value {
		if len(v) > 0 {
			fields[k] = v[0]
		}
	}

	files := append(form.File["photos"], form.File["photo"]...)
	photos := make([]ingest.PhotoUpload, 0, len(files))
	for _, fh := range files {
		data, err := readPart(fh, h.maxPhotoBytes)
		if err != nil {
			badRequest(c, err.Error())
			return
		}
		photos = append(photos, ingest.PhotoUpload{Filename: fh.Filename, Data: data})
	}

	res, err := h.ingest.Submit(c.Request.Context(), actor, kind, fields, photos, c.GetHeader(idempotencyHeader))
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.SubmitResponse{
		RecordResponse: toRecordResponse(res.Record),
		Indexed:        res.Indexed(),
		Indexing:       string(res.Indexing),
		IndexJobID:     res.IndexJobID,
		Replayed:       res.Replayed,
	}
	status := http.StatusCreated
	if res.Replayed || !res.Indexed() {
		status = http.StatusOK
	}
	c.JSON(status, resp)
}

func readPart(fh *multipart.FileHeader, maxBytes int64) ([]byte, error) {
	if fh.Size > maxBytes {
		return nil, fmt.Errorf("photo %q exceeds %d bytes", fh.Filename, maxBytes)
	}
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("read photo %q: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, maxBytes+1))
}

func (h *RecordHandler) Get(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}

	rec, err := h.records.Get(c.Request.Context(), kind, id)
	if err != nil {
		respondError(c, storeError(err, "record not found"))
		return
	}
	c.JSON(http.StatusOK, toRecordResponse(rec))
}

// List returns a page of records of a kind, newest first, with the total number of
// records the query matches. ?owner=me lists the caller's own records; other owners
// may only be listed by elevated roles.
func (h *RecordHandler) List(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	actor, ok := identity(c)
	if !ok {
		return
	}

	var q dto.RecordQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query")
		return
	}
	if q.Limit < 0 || q.Offset < 0 {
		badRequest(c, "limit and offset must not be negative")
		return
	}

	ctx := c.Request.Context()
	limit := storage.ClampLimit(q.Limit)
	var (
		recs  []models.Record
		total int
		err   error
	)
	switch owner := q.Owner; {
	case owner == "":
		if recs, err = h.records.List(ctx, kind, limit, q.Offset); err == nil {
			total, err = h.records.Count(ctx, kind)
		}
	case owner == "me" || owner == actor.UserID:
		recs, total, err = h.ownerPage(ctx, kind, actor.UserID, limit, q.Offset)
	case actor.Role.Elevated():
		recs, total, err = h.ownerPage(ctx, kind, owner, limit, q.Offset)
	default:
		respondError(c, apperr.New(apperr.CodeForbidden, "cannot list another user's records"))
		return
	}
	if err != nil {
		respondError(c, storeError(err, "records not found"))
		return
	}

	resp := dto.RecordListResponse{
		Records: make([]dto.RecordResponse, 0, len(recs)),
		Total:   total,
		Limit:   limit,
		Offset:  q.Offset,
	}
	for i := range recs {
		resp.Records = append(resp.Records, toRecordResponse(&recs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RecordHandler) ownerPage(ctx context.Context, kind models.Kind, owner string, limit, offset int) ([]models.Record, int, error) {
	all, err := h.records.ListByOwner(ctx, kind, owner)
	if err != nil {
		return nil, 0, err
	}
	if offset >= len(all) {
		return []models.Record{}, len(all), nil
	}
	return all[offset:min(offset+limit, len(all))], len(all), nil
}

// Matches searches for records of the counterpart kind that show the same person as
// the given photos. No match is a 200 with matched=false.
func (h *RecordHandler) Matches(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	actor, ok := identity(c)
	if !ok {
		return
	}

	var req dto.MatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "invalid request body")
		return
	}
	owner := req.OwnerID
	if owner == "" {
		owner = actor.UserID
	}
	if owner != actor.UserID && !actor.Role.Elevated() {
		respondError(c, apperr.New(apperr.CodeForbidden, "cannot search on behalf of another user"))
		return
	}

	res, err := h.matcher.FindMatches(c.Request.Context(), kind, owner, req.PhotoURLs)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.MatchResponse{Matched: res.Matched}
	if res.Matched {
		rec := toRecordResponse(res.Record)
		resp.Record = &rec
		resp.Score = res.Score
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RecordHandler) UpdateStatus(c *gin.Context) {
	kind, ok := kindParam(c)
	if !ok {
		return
	}
	id, ok := idParam(c)
	if !ok {
		return
	}
	actor, ok := identity(c)
	if !ok {
		return
	}

	var req dto.StatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		badRequest(c, "status is required")
		return
	}
	status, err := models.ParseStatus(req.Status)
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	rec, err := h.lifecycle.Transition(c.Request.Context(), actor, kind, id, status)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toRecordResponse(rec))
}

// storeError maps raw storage errors from read paths onto apperr codes.
func storeError(err error, notFound string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperr.New(apperr.CodeNotFound, notFound)
	}
	return apperr.Wrap(err, apperr.CodeStoreUnavailable, "record store unavailable")
}
