package handler

import (
	"context"
	"log/slog"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
	"github.com/jobgtm/pipeline-be/internal/workflow"
)

// RunStarter launches workflow runs. Satisfied by the workflow engine.
type RunStarter interface {
	Start(ctx context.Context, runner workflow.ChunkRunner) (string, error)
	ActiveRun(workflowType string) (string, bool)
}

// RunReader loads persisted workflow run state
type RunReader interface {
	GetWorkflowRun(ctx context.Context, workflowID string) (*domain.WorkflowRun, error)
}

// Dependencies holds all dependencies needed by handlers. BaseCtx is the
// process lifetime context: started runs outlive the triggering HTTP request,
// so they must not inherit the request context.
type Dependencies struct {
	Logger  *slog.Logger
	Engine  RunStarter
	Runs    RunReader
	Runners map[string]workflow.ChunkRunner
	BaseCtx context.Context
}

// WorkflowHandler handles workflow run HTTP requests
type WorkflowHandler struct {
	logger  *slog.Logger
	engine  RunStarter
	runs    RunReader
	runners map[string]workflow.ChunkRunner
	baseCtx context.Context
}

// NewWorkflowHandler creates a new WorkflowHandler instance
func NewWorkflowHandler(deps *Dependencies) *WorkflowHandler {
	baseCtx := deps.BaseCtx
	if baseCtx == nil {
		baseCtx = context.Background()
	}
	return &WorkflowHandler{
		logger:  deps.Logger,
		engine:  deps.Engine,
		runs:    deps.Runs,
		runners: deps.Runners,
		baseCtx: baseCtx,
	}
}
