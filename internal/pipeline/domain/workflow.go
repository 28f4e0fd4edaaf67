package domain

import (
	"encoding/json"
	"time"
)

// Workflow run status values persisted to workflow_runs
const (
	RunStatusStarted             = "started"
	RunStatusRunning             = "running"
	RunStatusCompleted           = "completed"
	RunStatusCompletedWithErrors = "completed_with_errors"
	RunStatusFailed              = "failed"
)

// WorkflowRun is a row in workflow_runs tracking one coordinator execution
type WorkflowRun struct {
	WorkflowID   string          `db:"workflow_id"`
	RunID        string          `db:"run_id"`
	WorkflowType string          `db:"workflow_type"`
	Status       string          `db:"status"`
	Result       json.RawMessage `db:"result"`
	ErrorMessage *string         `db:"error_message"`
	StartedAt    time.Time       `db:"started_at"`
	CompletedAt  *time.Time      `db:"completed_at"`
}
