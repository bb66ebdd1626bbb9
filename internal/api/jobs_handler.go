package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jonesrussell/north-cloud/harvester/internal/database"
	"github.com/jonesrussell/north-cloud/harvester/internal/domain"
	"github.com/jonesrussell/north-cloud/harvester/internal/orchestrator"
)

const (
	defaultLimit  = 50
	defaultOffset = 0
)

// JobService is the job surface the handlers expose. *orchestrator.Orchestrator
// satisfies it.
type JobService interface {
	CreateAndDispatchJob(ctx context.Context, req orchestrator.CreateJobRequest) (string, error)
	GetJobStatus(ctx context.Context, jobID string) (*domain.JobStatusView, error)
	CancelJob(ctx context.Context, jobID string) (bool, error)
}

// JobLister lists stored jobs. *database.JobRepository satisfies it.
type JobLister interface {
	ListJobs(ctx context.Context, params database.ListJobsParams) ([]*domain.Job, error)
}

// JobsHandler handles job-related HTTP requests.
type JobsHandler struct {
	service JobService
	lister  JobLister
}

// NewJobsHandler creates a new jobs handler. lister may be nil, which
// disables GET /api/v1/jobs.
func NewJobsHandler(service JobService, lister JobLister) *JobsHandler {
	return &JobsHandler{service: service, lister: lister}
}

// CreateJobRequest is the body of POST /api/v1/jobs.
type CreateJobRequest struct {
	SourceIDs []string       `binding:"required,min=1" json:"source_ids"`
	Priority  *int           `json:"priority"`
	Trigger   string         `json:"trigger"`
	Config    map[string]any `json:"config"`
}

// CountersResponse mirrors domain.Counters.
type CountersResponse struct {
	PagesFetched int `json:"pages_fetched"`
	TotalFound   int `json:"total_found"`
	NewDocuments int `json:"new_documents"`
	Duplicates   int `json:"duplicates"`
	Errors       int `json:"errors"`
}

// SourceStatusResponse is one source within a job status response.
type SourceStatusResponse struct {
	SourceID   string           `json:"source_id"`
	Status     string           `json:"status"`
	Strategy   string           `json:"strategy,omitempty"`
	Counters   CountersResponse `json:"counters"`
	Error      string           `json:"error,omitempty"`
	StartedAt  *time.Time       `json:"started_at,omitempty"`
	FinishedAt *time.Time       `json:"finished_at,omitempty"`
}

// JobStatusResponse is the body of GET /api/v1/jobs/:id.
type JobStatusResponse struct {
	ID           string                 `json:"id"`
	Status       string                 `json:"status"`
	Priority     int                    `json:"priority"`
	Trigger      string                 `json:"trigger"`
	Counters     CountersResponse       `json:"counters"`
	ErrorSummary string                 `json:"error_summary,omitempty"`
	TaskHandle   string                 `json:"task_handle,omitempty"`
	CreatedAt    time.Time              `json:"created_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	FinishedAt   *time.Time             `json:"finished_at,omitempty"`
	Sources      []SourceStatusResponse `json:"sources"`
}

// CreateJob handles POST /api/v1/jobs
func (h *JobsHandler) CreateJob(c *gin.Context) {
	var req CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondBadRequest(c, "Invalid request: "+err.Error())
		return
	}

	trigger := domain.TriggerOrigin(req.Trigger)
	if trigger == "" {
		trigger = domain.TriggerAPI
	}

	ctx := c.Request.Context()
	jobID, err := h.service.CreateAndDispatchJob(ctx, orchestrator.CreateJobRequest{
		SourceIDs: req.SourceIDs,
		Priority:  req.Priority,
		Trigger:   trigger,
		Overrides: req.Config,
	})
	if err != nil {
		if jobID != "" {
			// The job exists but dispatch failed part way.
			c.JSON(http.StatusInternalServerError, gin.H{"id": jobID, "error": "Failed to dispatch job"})
			return
		}
		respondServiceError(c, err, "Failed to create job")
		return
	}

	status := string(domain.JobStatusRunning)
	if view, viewErr := h.service.GetJobStatus(ctx, jobID); viewErr == nil {
		status = string(view.Job.Status)
	}

	c.JSON(http.StatusCreated, gin.H{"id": jobID, "status": status})
}

// GetJob handles GET /api/v1/jobs/:id
func (h *JobsHandler) GetJob(c *gin.Context) {
	id := c.Param("id")
	if id == "" || id == "undefined" {
		respondBadRequest(c, "Invalid job ID")
		return
	}

	view, err := h.service.GetJobStatus(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err, "Failed to retrieve job")
		return
	}

	c.JSON(http.StatusOK, newJobStatusResponse(view))
}

// CancelJob handles POST /api/v1/jobs/:id/cancel
func (h *JobsHandler) CancelJob(c *gin.Context) {
	id := c.Param("id")
	if id == "" || id == "undefined" {
		respondBadRequest(c, "Invalid job ID")
		return
	}

	cancelled, err := h.service.CancelJob(c.Request.Context(), id)
	if err != nil {
		respondServiceError(c, err, "Failed to cancel job")
		return
	}

	c.JSON(http.StatusOK, gin.H{"cancelled": cancelled})
}

// ListJobs handles GET /api/v1/jobs
func (h *JobsHandler) ListJobs(c *gin.Context) {
	limit, offset := parseLimitOffset(c, defaultLimit, defaultOffset)
	status := c.Query("status")

	jobs, err := h.lister.ListJobs(c.Request.Context(), database.ListJobsParams{
		Status: status,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		respondServiceError(c, err, "Failed to retrieve jobs")
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"jobs":   jobs,
		"limit":  limit,
		"offset": offset,
	})
}

func newCountersResponse(c domain.Counters) CountersResponse {
	return CountersResponse{
		PagesFetched: c.PagesFetched,
		TotalFound:   c.TotalFound,
		NewDocuments: c.NewDocuments,
		Duplicates:   c.Duplicates,
		Errors:       c.Errors,
	}
}

func newJobStatusResponse(view *domain.JobStatusView) JobStatusResponse {
	job := view.Job
	resp := JobStatusResponse{
		ID:           job.ID,
		Status:       string(job.Status),
		Priority:     job.Priority,
		Trigger:      string(job.TriggerOrigin),
		Counters:     newCountersResponse(job.Counters),
		ErrorSummary: deref(job.ErrorSummary),
		TaskHandle:   deref(job.TaskHandle),
		CreatedAt:    job.CreatedAt,
		StartedAt:    job.StartedAt,
		FinishedAt:   job.FinishedAt,
		Sources:      make([]SourceStatusResponse, 0, len(view.Sources)),
	}
	for _, r := range view.Sources {
		resp.Sources = append(resp.Sources, SourceStatusResponse{
			SourceID:   r.SourceID,
			Status:     string(r.Status),
			Strategy:   deref(r.Strategy),
			Counters:   newCountersResponse(r.Counters),
			Error:      deref(r.ErrorMessage),
			StartedAt:  r.StartedAt,
			FinishedAt: r.FinishedAt,
		})
	}
	return resp
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
