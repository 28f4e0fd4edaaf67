package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
	"github.com/jobgtm/pipeline-be/internal/workflow"
)

// StartWorkflow handles POST /api/v1/workflows/:workflow_type/runs
// Launches a run of the named workflow type. At most one run per type may be
// active; a second request gets 409 with the active workflow ID.
func (h *WorkflowHandler) StartWorkflow(c *gin.Context) {
	workflowType := c.Param("workflow_type")

	runner, ok := h.runners[workflowType]
	if !ok {
		h.logger.Warn("Unknown workflow type requested",
			slog.String("workflow_type", workflowType),
		)
		c.JSON(http.StatusNotFound, gin.H{
			"error": "unknown workflow type",
		})
		return
	}

	workflowID, err := h.engine.Start(h.baseCtx, runner)
	if err != nil {
		if errors.Is(err, workflow.ErrRunInProgress) {
			activeID, _ := h.engine.ActiveRun(workflowType)
			c.JSON(http.StatusConflict, gin.H{
				"error":       "a run of this workflow type is already in progress",
				"workflow_id": activeID,
			})
			return
		}

		h.logger.Error("Failed to start workflow run",
			slog.String("workflow_type", workflowType),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to start workflow run",
		})
		return
	}

	h.logger.Info("Workflow run accepted",
		slog.String("workflow_type", workflowType),
		slog.String("workflow_id", workflowID),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"workflow_id":   workflowID,
		"workflow_type": workflowType,
		"status":        domain.RunStatusStarted,
	})
}

// GetWorkflowRun handles GET /api/v1/workflows/runs/:workflow_id
// Returns the persisted state of one run, including its aggregated result
// once the run has finished.
func (h *WorkflowHandler) GetWorkflowRun(c *gin.Context) {
	workflowID := c.Param("workflow_id")
	if workflowID == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "workflow_id is required",
		})
		return
	}

	run, err := h.runs.GetWorkflowRun(c.Request.Context(), workflowID)
	if err != nil {
		if errors.Is(err, domain.ErrJobNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "workflow run not found",
			})
			return
		}

		h.logger.Error("Failed to get workflow run",
			slog.String("workflow_id", workflowID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "failed to get workflow run",
		})
		return
	}

	resp := gin.H{
		"workflow_id":   run.WorkflowID,
		"run_id":        run.RunID,
		"workflow_type": run.WorkflowType,
		"status":        run.Status,
		"started_at":    run.StartedAt,
		"completed_at":  run.CompletedAt,
	}
	if run.ErrorMessage != nil {
		resp["error_message"] = *run.ErrorMessage
	}
	if len(run.Result) > 0 {
		resp["result"] = json.RawMessage(run.Result)
	}

	c.JSON(http.StatusOK, resp)
}

// ListWorkflowTypes handles GET /api/v1/workflows
// Reports the registered workflow types and whether each has an active run.
func (h *WorkflowHandler) ListWorkflowTypes(c *gin.Context) {
	types := make([]gin.H, 0, len(h.runners))
	for name := range h.runners {
		entry := gin.H{"workflow_type": name}
		if activeID, active := h.engine.ActiveRun(name); active {
			entry["active_workflow_id"] = activeID
		}
		types = append(types, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"workflows": types,
	})
}
