package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cuongbtq/content-pipeline/internal/api/dto"
	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/jobs"
	"github.com/gin-gonic/gin"
)

// CreateJob handles POST /api/v1/jobs
// Creates the job record and schedules it on the work queue
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid request body"})
		return
	}

	sub, err := h.jobs.SubmitJob(c.Request.Context(), jobs.SubmitRequest{
		OwnerID: Owner(c),
		Prompt:  req.Prompt,
		Kind:    req.ContentType,
	})
	if err != nil {
		h.writeError(c, "Failed to create job", err)
		return
	}

	c.JSON(http.StatusAccepted, dto.CreateJobResponse{
		JobID:   sub.JobID,
		DelayMs: sub.DelayMs,
		Status:  string(sub.Status),
	})
}

// GetJobStatus handles GET /api/v1/jobs/:job_id/status
func (h *JobHandler) GetJobStatus(c *gin.Context) {
	jobID := c.Param("job_id")
	if jobID == "" {
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "job_id is required"})
		return
	}

	view, err := h.jobs.GetStatus(c.Request.Context(), jobID, Owner(c))
	if err != nil {
		h.writeError(c, "Failed to get job status", err)
		return
	}

	resp := dto.JobStatusResponse{
		JobID:  view.JobID,
		Status: string(view.Status),
		Error:  view.Error,
	}
	if view.Result != nil {
		resp.Result = &dto.ContentDTO{
			ContentID:   view.Result.ContentID,
			ContentType: string(view.Result.Kind),
			Title:       view.Result.Title,
			Body:        view.Result.Body,
			Sentiment:   string(view.Result.Sentiment),
			CreatedAt:   view.Result.CreatedAt.Format(time.RFC3339),
		}
	}

	c.JSON(http.StatusOK, resp)
}

// ListJobs handles GET /api/v1/jobs
// Lists the caller's jobs with optional filtering and cursor pagination
func (h *JobHandler) ListJobs(c *gin.Context) {
	var req dto.ListJobsRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Warn("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid query parameters"})
		return
	}

	cursor, err := DecodeJobCursor(req.Cursor)
	if err != nil {
		h.logger.Warn("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: "Invalid cursor"})
		return
	}

	list, next, err := h.jobs.ListJobs(c.Request.Context(), jobs.ListRequest{
		OwnerID:  Owner(c),
		Kind:     req.ContentType,
		Status:   req.Status,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.writeError(c, "Failed to list jobs", err)
		return
	}

	jobResponse := make([]dto.JobDTO, len(list))
	for i, job := range list {
		jobResponse[i] = dto.JobDTO{
			JobID:       job.JobID,
			Prompt:      job.Prompt,
			ContentType: string(job.Kind),
			Status:      string(job.Status),
			Error:       job.Error,
			ResultID:    job.ResultID,
			CreatedAt:   job.CreatedAt.Format(time.RFC3339),
			UpdatedAt:   job.UpdatedAt.Format(time.RFC3339),
		}
	}

	var nextCursor string
	if next != nil {
		nextCursor = EncodeJobCursor(next)
	}

	c.JSON(http.StatusOK, dto.ListJobsResponse{
		Jobs:       jobResponse,
		NextCursor: nextCursor,
	})
}

// StreamEvents handles GET /api/v1/events
// Upgrades to a websocket and pushes the caller's job lifecycle events
func (h *JobHandler) StreamEvents(c *gin.Context) {
	if err := h.push.Serve(c.Writer, c.Request, Owner(c)); err != nil {
		h.logger.Warn("Push connection rejected", slog.String("error", err.Error()))
	}
}

func (h *JobHandler) writeError(c *gin.Context, msg string, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidRequest):
		c.JSON(http.StatusBadRequest, dto.ErrorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrJobNotFound):
		c.JSON(http.StatusNotFound, dto.ErrorResponse{Error: "Job not found"})
	case errors.Is(err, domain.ErrForbidden):
		c.JSON(http.StatusForbidden, dto.ErrorResponse{Error: "Access denied"})
	default:
		h.logger.Error(msg, slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, dto.ErrorResponse{Error: msg})
	}
}
