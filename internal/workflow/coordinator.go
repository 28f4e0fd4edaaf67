package workflow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jobgtm/pipeline-be/internal/pipeline/domain"
)

// ErrRunInProgress is returned when a workflow type already has an active run
var ErrRunInProgress = errors.New("a run of this workflow type is already in progress")

// RunStore persists workflow run state transitions
type RunStore interface {
	RecordWorkflowRun(ctx context.Context, workflowID, runID, workflowType, status string, input, result []byte, errorMessage string) error
}

// ChunkStats counts the outcome of the jobs inside one chunk
type ChunkStats struct {
	Processed int `json:"processed"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
}

// ChunkResult is the terminal state of one child chunk execution
type ChunkResult struct {
	ChunkIndex int    `json:"chunk_index"`
	ChildID    string `json:"child_id"`
	ChunkStats
	Error string `json:"error,omitempty"`
}

// AggregatedResult is the terminal state of one coordinator run
type AggregatedResult struct {
	WorkflowID      string        `json:"workflow_id"`
	RunID           string        `json:"run_id"`
	WorkflowType    string        `json:"workflow_type"`
	Status          string        `json:"status"`
	TotalJobs       int           `json:"total_jobs"`
	TotalChunks     int           `json:"total_chunks"`
	ChunksCompleted int           `json:"chunks_completed"`
	ChunksFailed    int           `json:"chunks_failed"`
	Processed       int           `json:"processed"`
	Succeeded       int           `json:"succeeded"`
	Failed          int           `json:"failed"`
	StartedAt       time.Time     `json:"started_at"`
	CompletedAt     time.Time     `json:"completed_at"`
	ChunkResults    []ChunkResult `json:"chunk_results"`
}

// ChunkRunner is one workflow type's workload: it knows how big the workload
// is and how to process one chunk of it.
type ChunkRunner interface {
	Type() string
	CountJobs(ctx context.Context) (int, error)
	RunChunk(ctx context.Context, childID string, chunk Chunk) (ChunkStats, error)
}

// Config bounds a coordinator run
type Config struct {
	ChunkSize         int
	MaxParallelChunks int
	ActivityPolicy    RetryPolicy
}

// Engine coordinates chunked workflow runs: it counts the workload, plans
// chunks, dispatches child executions in bounded parallel waves, and
// aggregates their results into workflow_runs. At most one run per workflow
// type is active at a time.
type Engine struct {
	store  RunStore
	cfg    Config
	logger *slog.Logger

	mu     sync.Mutex
	active map[string]string // workflow type -> active workflow ID
}

// NewEngine creates a workflow coordination engine
func NewEngine(store RunStore, cfg Config, logger *slog.Logger) *Engine {
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = 100
	}
	if cfg.MaxParallelChunks <= 0 {
		cfg.MaxParallelChunks = 1
	}
	if cfg.ActivityPolicy.MaxAttempts <= 0 {
		cfg.ActivityPolicy = DefaultRetryPolicy()
	}
	return &Engine{
		store:  store,
		cfg:    cfg,
		logger: logger,
		active: make(map[string]string),
	}
}

// Start launches a run asynchronously and returns its workflow ID. It fails
// with ErrRunInProgress when the type already has an active run.
func (e *Engine) Start(ctx context.Context, runner ChunkRunner) (string, error) {
	workflowID := newWorkflowID(runner.Type())

	e.mu.Lock()
	if activeID, ok := e.active[runner.Type()]; ok {
		e.mu.Unlock()
		return "", fmt.Errorf("%w: %s", ErrRunInProgress, activeID)
	}
	e.active[runner.Type()] = workflowID
	e.mu.Unlock()

	go func() {
		defer func() {
			e.mu.Lock()
			delete(e.active, runner.Type())
			e.mu.Unlock()
		}()

		if _, err := e.execute(ctx, workflowID, runner); err != nil {
			e.logger.Error("Workflow run failed",
				slog.String("workflow_id", workflowID),
				slog.Any("error", err),
			)
		}
	}()

	return workflowID, nil
}

// Execute runs a workflow synchronously under the single-run-per-type guard
func (e *Engine) Execute(ctx context.Context, runner ChunkRunner) (*AggregatedResult, error) {
	workflowID := newWorkflowID(runner.Type())

	e.mu.Lock()
	if activeID, ok := e.active[runner.Type()]; ok {
		e.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrRunInProgress, activeID)
	}
	e.active[runner.Type()] = workflowID
	e.mu.Unlock()

	defer func() {
		e.mu.Lock()
		delete(e.active, runner.Type())
		e.mu.Unlock()
	}()

	return e.execute(ctx, workflowID, runner)
}

// ActiveRun reports the active workflow ID for a type, if any
func (e *Engine) ActiveRun(workflowType string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	id, ok := e.active[workflowType]
	return id, ok
}

func (e *Engine) execute(ctx context.Context, workflowID string, runner ChunkRunner) (*AggregatedResult, error) {
	runID := uuid.NewString()
	startedAt := time.Now().UTC()

	input, _ := json.Marshal(map[string]int{
		"chunk_size":          e.cfg.ChunkSize,
		"max_parallel_chunks": e.cfg.MaxParallelChunks,
	})
	if err := e.store.RecordWorkflowRun(ctx, workflowID, runID, runner.Type(), domain.RunStatusRunning, input, nil, ""); err != nil {
		return nil, fmt.Errorf("failed to record workflow start: %w", err)
	}

	e.logger.Info("Workflow run started",
		slog.String("workflow_id", workflowID),
		slog.String("workflow_type", runner.Type()),
	)

	var totalJobs int
	countErr := Execute(ctx, "count-jobs", e.cfg.ActivityPolicy, e.logger, func(ctx context.Context) error {
		var err error
		totalJobs, err = runner.CountJobs(ctx)
		return err
	})
	if countErr != nil {
		e.recordTerminal(workflowID, runID, runner.Type(), domain.RunStatusFailed, nil, countErr.Error())
		return nil, fmt.Errorf("failed to count jobs: %w", countErr)
	}

	info := PlanChunks(totalJobs, e.cfg.ChunkSize)

	e.logger.Info("Workload chunked",
		slog.String("workflow_id", workflowID),
		slog.Int("total_jobs", info.TotalJobs),
		slog.Int("total_chunks", info.TotalChunks),
		slog.Int("chunk_size", info.ChunkSize),
	)

	results := e.dispatchChunks(ctx, workflowID, runner, info.Chunks)

	agg := aggregate(workflowID, runID, runner.Type(), info, results, startedAt)
	resultJSON, _ := json.Marshal(agg)
	e.recordTerminal(workflowID, runID, runner.Type(), agg.Status, resultJSON, "")

	e.logger.Info("Workflow run finished",
		slog.String("workflow_id", workflowID),
		slog.String("status", agg.Status),
		slog.Int("chunks_completed", agg.ChunksCompleted),
		slog.Int("chunks_failed", agg.ChunksFailed),
	)

	return agg, nil
}

// dispatchChunks runs child executions in waves of at most MaxParallelChunks.
// A wave must fully drain before the next one starts.
func (e *Engine) dispatchChunks(ctx context.Context, workflowID string, runner ChunkRunner, chunks []Chunk) []ChunkResult {
	results := make([]ChunkResult, len(chunks))

	for start := 0; start < len(chunks); start += e.cfg.MaxParallelChunks {
		end := start + e.cfg.MaxParallelChunks
		if end > len(chunks) {
			end = len(chunks)
		}

		var wg sync.WaitGroup
		for i := start; i < end; i++ {
			wg.Add(1)
			go func(idx int) {
				defer wg.Done()
				results[idx] = e.runChild(ctx, workflowID, runner, chunks[idx])
			}(i)
		}
		wg.Wait()
	}

	return results
}

// runChild executes one chunk, converting panics and errors into a failed
// chunk result so one bad chunk never takes down the run.
func (e *Engine) runChild(ctx context.Context, workflowID string, runner ChunkRunner, chunk Chunk) (result ChunkResult) {
	childID := fmt.Sprintf("%s-chunk-%d", workflowID, chunk.Index)
	result = ChunkResult{ChunkIndex: chunk.Index, ChildID: childID}

	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("chunk panicked: %v", r)
			e.logger.Error("Chunk execution panicked",
				slog.String("child_id", childID),
				slog.Any("panic", r),
			)
		}
	}()

	e.logger.Info("Chunk execution started",
		slog.String("child_id", childID),
		slog.Int("offset", chunk.Offset),
		slog.Int("limit", chunk.Limit),
	)

	stats, err := runner.RunChunk(ctx, childID, chunk)
	result.ChunkStats = stats
	if err != nil {
		result.Error = err.Error()
		e.logger.Error("Chunk execution failed",
			slog.String("child_id", childID),
			slog.Any("error", err),
		)
		return result
	}

	e.logger.Info("Chunk execution completed",
		slog.String("child_id", childID),
		slog.Int("processed", stats.Processed),
		slog.Int("succeeded", stats.Succeeded),
		slog.Int("failed", stats.Failed),
	)
	return result
}

// recordTerminal persists the final run state on a fresh context so shutdown
// of the triggering request cannot lose the terminal record.
func (e *Engine) recordTerminal(workflowID, runID, workflowType, status string, result []byte, errorMessage string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := e.store.RecordWorkflowRun(ctx, workflowID, runID, workflowType, status, nil, result, errorMessage); err != nil {
		e.logger.Error("Failed to record terminal workflow state",
			slog.String("workflow_id", workflowID),
			slog.String("status", status),
			slog.Any("error", err),
		)
	}
}

func aggregate(workflowID, runID, workflowType string, info ChunkInfo, results []ChunkResult, startedAt time.Time) *AggregatedResult {
	agg := &AggregatedResult{
		WorkflowID:   workflowID,
		RunID:        runID,
		WorkflowType: workflowType,
		TotalJobs:    info.TotalJobs,
		TotalChunks:  info.TotalChunks,
		StartedAt:    startedAt,
		CompletedAt:  time.Now().UTC(),
		ChunkResults: results,
	}

	for _, r := range results {
		agg.Processed += r.Processed
		agg.Succeeded += r.Succeeded
		agg.Failed += r.Failed
		if r.Error != "" {
			agg.ChunksFailed++
		} else {
			agg.ChunksCompleted++
		}
	}

	agg.Status = domain.RunStatusCompleted
	if agg.ChunksFailed > 0 {
		agg.Status = domain.RunStatusCompletedWithErrors
	}

	return agg
}

// newWorkflowID builds a human-scannable unique run identifier
func newWorkflowID(workflowType string) string {
	return fmt.Sprintf("%s-%s-%s",
		workflowType,
		time.Now().UTC().Format("20060102-150405"),
		uuid.NewString()[:8],
	)
}
