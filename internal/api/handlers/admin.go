package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/absens/internal/ingest"
	"github.com/your-org/absens/internal/models"
	"github.com/your-org/absens/pkg/dto"
)

type JobReconciler interface {
	List(ctx context.Context, status models.IndexJobStatus, limit int) ([]models.IndexJob, error)
	ListStale(ctx context.Context, limit int) ([]models.IndexJob, error)
	Retry(ctx context.Context, id uuid.UUID) (*models.IndexJob, error)
	RetryFailed(ctx context.Context, limit int) (*ingest.RetrySummary, error)
}

// AdminHandler exposes index job reconciliation to operators.
type AdminHandler struct {
	jobs JobReconciler
}

func NewAdminHandler(jobs JobReconciler) *AdminHandler {
	return &AdminHandler{jobs: jobs}
}

func (h *AdminHandler) ListJobs(c *gin.Context) {
	var q dto.IndexJobQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query")
		return
	}
	var (
		jobs []models.IndexJob
		err  error
	)
	switch status := models.IndexJobStatus(q.Status); status {
	case "", models.IndexJobPending, models.IndexJobIndexed, models.IndexJobFailed:
		jobs, err = h.jobs.List(c.Request.Context(), status, q.Limit)
	case "stale":
		jobs, err = h.jobs.ListStale(c.Request.Context(), q.Limit)
	default:
		badRequest(c, "status must be pending, indexed, failed or stale")
		return
	}
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.IndexJobListResponse{Jobs: make([]dto.IndexJobResponse, 0, len(jobs)), Count: len(jobs)}
	for i := range jobs {
		resp.Jobs = append(resp.Jobs, toIndexJobResponse(&jobs[i]))
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AdminHandler) RetryJob(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		badRequest(c, "invalid job id")
		return
	}

	job, err := h.jobs.Retry(c.Request.Context(), id)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, toIndexJobResponse(job))
}

func (h *AdminHandler) RetryFailed(c *gin.Context) {
	var q dto.IndexJobQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		badRequest(c, "invalid query")
		return
	}

	summary, err := h.jobs.RetryFailed(c.Request.Context(), q.Limit)
	if err != nil {
		respondError(c, err)
		return
	}

	resp := dto.RetrySummaryResponse{
		Dispatched: summary.Dispatched,
		Failed:     summary.Failed,
		Jobs:       make([]dto.IndexJobResponse, 0, len(summary.Jobs)),
	}
	for i := range summary.Jobs {
		resp.Jobs = append(resp.Jobs, toIndexJobResponse(&summary.Jobs[i]))
	}
	c.JSON(http.StatusOK, resp)
}
