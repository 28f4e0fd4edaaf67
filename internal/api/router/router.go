package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jobgtm/pipeline-be/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "pipeline-coordinator-service",
		})
	})

	workflowHandler := handler.NewWorkflowHandler(deps)

	// API v1 routes
	v1 := r.Group("/api/v1")
	{
		workflows := v1.Group("/workflows")
		{
			// GET /api/v1/workflows - List workflow types and active runs
			workflows.GET("", workflowHandler.ListWorkflowTypes)

			// POST /api/v1/workflows/:workflow_type/runs - Launch a run
			workflows.POST("/:workflow_type/runs", workflowHandler.StartWorkflow)

			// GET /api/v1/workflows/runs/:workflow_id - Get run state
			workflows.GET("/runs/:workflow_id", workflowHandler.GetWorkflowRun)
		}
	}

	return r
}
