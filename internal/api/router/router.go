package router

import (
	"github.com/cuongbtq/content-pipeline/internal/api/handler"
	"github.com/gin-gonic/gin"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())
	r.Use(deps.Metrics.GinMiddleware())

	r.GET("/health", handler.Health(deps.ServiceName, deps.HealthChecks))

	if deps.Metrics != nil {
		r.GET("/metrics", gin.WrapH(deps.Metrics.Handler()))
	}

	// Initialize job handler
	jobHandler := handler.NewJobHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		jobs := v1.Group("/jobs", OwnerMiddleware(false))
		{
			// POST /api/v1/jobs - Submit a generation job
			jobs.POST("", jobHandler.CreateJob)

			// GET /api/v1/jobs - List the caller's jobs
			jobs.GET("", jobHandler.ListJobs)

			// GET /api/v1/jobs/:job_id/status - Poll job status
			jobs.GET("/:job_id/status", jobHandler.GetJobStatus)
		}

		// GET /api/v1/events - Websocket stream of lifecycle events
		v1.GET("/events", OwnerMiddleware(true), jobHandler.StreamEvents)
	}

	return r
}
