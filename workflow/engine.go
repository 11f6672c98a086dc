// Package workflow turns step DAGs into scheduler tasks.
//
// The engine dispatches every step whose dependencies are complete and whose
// conditions match the workflow context, then advances on the scheduler's
// completion callbacks. A failed step fails the whole workflow; nothing
// further is dispatched.
package workflow

import (
	"context"
	"fmt"
	"reflect"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/questweaver/questweaver/internal/metrics"
	"github.com/questweaver/questweaver/types"
)

// TaskSubmitter is the scheduler surface the engine drives. *scheduler.Scheduler
// satisfies it.
type TaskSubmitter interface {
	Submit(ctx context.Context, task *types.Task) error
	Cancel(taskID string) bool
}

// Options tunes engine behavior.
type Options struct {
	// StallInterval is the sweep period of the stall monitor.
	StallInterval time.Duration
	// StallAfter is the age past which a workflow with no step in flight is
	// re-evaluated.
	StallAfter time.Duration
}

func (o Options) withDefaults() Options {
	if o.StallInterval <= 0 {
		o.StallInterval = 10 * time.Second
	}
	if o.StallAfter <= 0 {
		o.StallAfter = time.Hour
	}
	return o
}

// execution is the engine's bookkeeping for one workflow.
type execution struct {
	wf        *types.Workflow
	stepTasks map[string]string // step id -> task id, set on dispatch
	stepDone  map[string]bool   // step id -> task completed
}

// Engine owns workflow state and implements scheduler.TaskListener, so the
// scheduler reports step outcomes straight back into it.
type Engine struct {
	mu        sync.Mutex
	workflows map[string]*execution

	submitter TaskSubmitter
	opts      Options

	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New creates an Engine that dispatches step tasks through submitter.
func New(submitter TaskSubmitter, opts Options, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		workflows: make(map[string]*execution),
		submitter: submitter,
		opts:      opts.withDefaults(),
		tracer:    otel.Tracer("questweaver/workflow"),
		logger:    logger.With(zap.String("component", "workflow_engine")),
	}
}

// SetMetrics wires the metrics collector.
func (e *Engine) SetMetrics(c *metrics.Collector) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.metrics = c
}

// Create validates the workflow, stores it, and dispatches every step with no
// dependencies. The workflow is IN_PROGRESS when Create returns.
func (e *Engine) Create(ctx context.Context, wf *types.Workflow) error {
	ctx, span := e.tracer.Start(ctx, "workflow.Create",
		trace.WithAttributes(
			attribute.String("workflow.id", wf.ID),
			attribute.String("workflow.name", wf.Name),
			attribute.Int("workflow.steps", len(wf.Steps)),
		))
	defer span.End()

	if err := wf.Validate(); err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if _, exists := e.workflows[wf.ID]; exists {
		return types.NewError(types.ErrCodeInvalidWorkflow,
			fmt.Sprintf("workflow %s already exists", wf.ID))
	}

	exec := &execution{
		wf:        wf,
		stepTasks: make(map[string]string, len(wf.Steps)),
		stepDone:  make(map[string]bool, len(wf.Steps)),
	}
	e.workflows[wf.ID] = exec

	wf.Status = types.WorkflowInProgress
	wf.StartedAt = time.Now()

	if e.metrics != nil {
		e.metrics.RecordWorkflowStarted()
	}
	e.logger.Info("workflow created",
		zap.String("workflow_id", wf.ID),
		zap.String("name", wf.Name),
		zap.Int("steps", len(wf.Steps)),
	)

	e.dispatchEligibleLocked(ctx, exec)
	return nil
}

// Status returns a copy of the workflow's current state.
func (e *Engine) Status(workflowID string) (*types.Workflow, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.workflows[workflowID]
	if !ok {
		return nil, false
	}
	return exec.wf.Clone(), true
}

// Cancel marks the workflow CANCELLED and cancels the scheduler task of every
// dispatched step. Returns false when the workflow is unknown or already
// terminal.
func (e *Engine) Cancel(workflowID string) bool {
	e.mu.Lock()
	exec, ok := e.workflows[workflowID]
	if !ok || exec.wf.Status.IsTerminal() {
		e.mu.Unlock()
		return false
	}
	exec.wf.Status = types.WorkflowCancelled
	exec.wf.CompletedAt = time.Now()
	taskIDs := make([]string, 0, len(exec.stepTasks))
	for _, taskID := range exec.stepTasks {
		taskIDs = append(taskIDs, taskID)
	}
	e.mu.Unlock()

	for _, taskID := range taskIDs {
		e.submitter.Cancel(taskID) // terminal tasks reject the cancel, fine
	}

	if e.metrics != nil {
		e.metrics.RecordWorkflowFinished(string(types.WorkflowCancelled))
	}
	e.logger.Info("workflow cancelled", zap.String("workflow_id", workflowID))
	return true
}

// ---------------------------------------------------------------------------
// scheduler.TaskListener
// ---------------------------------------------------------------------------

// TaskCompleted records the step result in the workflow context, completes the
// workflow when every step is done, and otherwise dispatches newly eligible
// steps.
func (e *Engine) TaskCompleted(ref types.TaskRef, taskID string, result any) {
	e.mu.Lock()
	defer e.mu.Unlock()

	exec, ok := e.workflows[ref.WorkflowID]
	if !ok || exec.wf.Status.IsTerminal() {
		return
	}

	exec.stepDone[ref.StepID] = true
	exec.wf.Context[types.StepResultKey(ref.StepID)] = result
	e.logger.Info("workflow step completed",
		zap.String("workflow_id", ref.WorkflowID),
		zap.String("step_id", ref.StepID),
	)

	if len(exec.stepDone) == len(exec.wf.Steps) {
		exec.wf.Status = types.WorkflowCompleted
		exec.wf.CompletedAt = time.Now()
		exec.wf.CurrentStep = ""
		if e.metrics != nil {
			e.metrics.RecordWorkflowFinished(string(types.WorkflowCompleted))
		}
		e.logger.Info("workflow completed", zap.String("workflow_id", ref.WorkflowID))
		return
	}

	e.dispatchEligibleLocked(context.Background(), exec)
}

// TaskFailed fails the whole workflow, naming the failing step. Steps already
// in flight run to completion but their outcomes are ignored.
func (e *Engine) TaskFailed(ref types.TaskRef, taskID string, errMsg string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.workflows[ref.WorkflowID]
	if !ok || exec.wf.Status.IsTerminal() {
		return
	}
	e.failLocked(exec, ref.StepID, errMsg)
}

// failLocked moves the workflow to FAILED. Caller holds e.mu.
func (e *Engine) failLocked(exec *execution, stepID, errMsg string) {
	exec.wf.Status = types.WorkflowFailed
	exec.wf.CompletedAt = time.Now()
	exec.wf.Error = fmt.Sprintf("step %s failed: %s", stepID, errMsg)

	if e.metrics != nil {
		e.metrics.RecordWorkflowFinished(string(types.WorkflowFailed))
	}
	e.logger.Warn("workflow failed",
		zap.String("workflow_id", exec.wf.ID),
		zap.String("step_id", stepID),
		zap.String("error", errMsg),
	)
}

// ---------------------------------------------------------------------------
// Step dispatch
// ---------------------------------------------------------------------------

// dispatchEligibleLocked submits a task for every step that is not yet
// dispatched, has all dependencies completed, and whose conditions match the
// workflow context. Caller holds e.mu.
func (e *Engine) dispatchEligibleLocked(ctx context.Context, exec *execution) {
	for i := range exec.wf.Steps {
		step := &exec.wf.Steps[i]
		if _, dispatched := exec.stepTasks[step.ID]; dispatched {
			continue
		}
		if !e.stepEligibleLocked(exec, step) {
			continue
		}

		task := types.NewWorkflowTask(
			types.TaskRef{WorkflowID: exec.wf.ID, StepID: step.ID},
			step.Name, step.AgentType, types.PriorityMedium, e.stepParams(exec.wf, step))
		task.Action = step.Action
		task.Timeout = step.Timeout

		if err := e.submitter.Submit(ctx, task); err != nil {
			// Admission rejection or a closing scheduler; the workflow
			// cannot make progress without the step.
			e.failLocked(exec, step.ID, err.Error())
			return
		}

		exec.stepTasks[step.ID] = task.ID
		exec.wf.CurrentStep = step.ID
		if e.metrics != nil {
			e.metrics.RecordStepDispatched()
		}
		e.logger.Info("workflow step dispatched",
			zap.String("workflow_id", exec.wf.ID),
			zap.String("step_id", step.ID),
			zap.String("task_id", task.ID),
			zap.String("agent_type", step.AgentType),
		)
	}
}

// stepEligibleLocked reports whether every dependency step has completed and
// every condition entry equals the current context value. Caller holds e.mu.
func (e *Engine) stepEligibleLocked(exec *execution, step *types.WorkflowStep) bool {
	for _, dep := range step.DependsOn {
		if !exec.stepDone[dep] {
			return false
		}
	}
	for key, want := range step.Conditions {
		got, ok := exec.wf.Context[key]
		if !ok || !reflect.DeepEqual(got, want) {
			return false
		}
	}
	return true
}

// stepParams merges the step's own params over a copy of the shared workflow
// context. Step params win on key collision.
func (e *Engine) stepParams(wf *types.Workflow, step *types.WorkflowStep) map[string]any {
	params := make(map[string]any, len(wf.Context)+len(step.Params))
	for k, v := range wf.Context {
		params[k] = v
	}
	for k, v := range step.Params {
		params[k] = v
	}
	return params
}

// ---------------------------------------------------------------------------
// Stall monitor
// ---------------------------------------------------------------------------

// RunStallMonitor re-evaluates old in-progress workflows that have no step in
// flight, typically after a step task was failed by the scheduler's monitor
// without the engine observing a dispatchable successor. It blocks until ctx
// is cancelled.
func (e *Engine) RunStallMonitor(ctx context.Context) {
	ticker := time.NewTicker(e.opts.StallInterval)
	defer ticker.Stop()
	e.logger.Info("stall monitor started",
		zap.Duration("interval", e.opts.StallInterval),
		zap.Duration("stall_after", e.opts.StallAfter),
	)
	for {
		select {
		case <-ctx.Done():
			e.logger.Info("stall monitor stopped")
			return
		case now := <-ticker.C:
			e.sweep(ctx, now)
		}
	}
}

// sweep runs one stall pass.
func (e *Engine) sweep(ctx context.Context, now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("stall sweep panic", zap.Any("panic", r))
		}
	}()

	e.mu.Lock()
	defer e.mu.Unlock()
	for _, exec := range e.workflows {
		if exec.wf.Status != types.WorkflowInProgress {
			continue
		}
		if now.Sub(exec.wf.StartedAt) < e.opts.StallAfter {
			continue
		}
		if e.stepsInFlightLocked(exec) {
			continue
		}
		e.logger.Warn("workflow stalled, re-evaluating",
			zap.String("workflow_id", exec.wf.ID),
			zap.Duration("age", now.Sub(exec.wf.StartedAt)),
		)
		e.dispatchEligibleLocked(ctx, exec)
	}
}

// stepsInFlightLocked reports whether any dispatched step has not yet reported
// a terminal outcome. Caller holds e.mu.
func (e *Engine) stepsInFlightLocked(exec *execution) bool {
	for stepID := range exec.stepTasks {
		if !exec.stepDone[stepID] {
			return true
		}
	}
	return false
}
