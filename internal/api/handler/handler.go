package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/content-pipeline/internal/domain"
	"github.com/cuongbtq/content-pipeline/internal/jobs"
	"github.com/cuongbtq/content-pipeline/internal/storage"
	"github.com/cuongbtq/content-pipeline/shared/metrics"
	"github.com/gin-gonic/gin"
)

// OwnerKey is the gin context key holding the authenticated owner id
const OwnerKey = "owner_id"

// JobService is the submission and status query path
type JobService interface {
	SubmitJob(ctx context.Context, req jobs.SubmitRequest) (*jobs.Submission, error)
	GetStatus(ctx context.Context, jobID, ownerID string) (*jobs.StatusView, error)
	ListJobs(ctx context.Context, req jobs.ListRequest) ([]domain.Job, *storage.JobCursor, error)
}

// PushServer streams lifecycle pushes to one client
type PushServer interface {
	Serve(w http.ResponseWriter, r *http.Request, ownerID string) error
}

// HealthCheck probes one dependency
type HealthCheck struct {
	Name  string
	Check func(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger       *slog.Logger
	Jobs         JobService
	Push         PushServer
	Metrics      *metrics.Metrics
	HealthChecks []HealthCheck
	ServiceName  string
}

// JobHandler handles job-related HTTP requests
type JobHandler struct {
	logger *slog.Logger
	jobs   JobService
	push   PushServer
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger: deps.Logger,
		jobs:   deps.Jobs,
		push:   deps.Push,
	}
}

// Owner returns the owner id set by the owner middleware
func Owner(c *gin.Context) string {
	return c.GetString(OwnerKey)
}
