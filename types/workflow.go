package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// WorkflowStatus tracks a workflow through its lifecycle. Same state machine
// as TaskStatus: one-way into a terminal state.
type WorkflowStatus string

const (
	WorkflowPending    WorkflowStatus = "pending"
	WorkflowInProgress WorkflowStatus = "in_progress"
	WorkflowCompleted  WorkflowStatus = "completed"
	WorkflowFailed     WorkflowStatus = "failed"
	WorkflowCancelled  WorkflowStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s WorkflowStatus) IsTerminal() bool {
	return s == WorkflowCompleted || s == WorkflowFailed || s == WorkflowCancelled
}

// WorkflowStep is one node of a workflow's DAG. DependsOn must reference step
// ids within the same workflow; Conditions must all equal the current workflow
// context values for the step to become eligible.
type WorkflowStep struct {
	ID         string         `json:"id"`
	Name       string         `json:"name"`
	AgentType  string         `json:"agent_type"`
	Action     string         `json:"action"`
	Params     map[string]any `json:"params,omitempty"`
	DependsOn  []string       `json:"depends_on,omitempty"`
	Conditions map[string]any `json:"conditions,omitempty"`
	Timeout    time.Duration  `json:"timeout,omitempty"`
}

// Workflow is a named DAG of steps whose execution is expressed as a sequence
// of generated tasks. Context is the mutable shared state the steps read and
// write; each completed step writes a StepResultKey entry.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Steps       []WorkflowStep `json:"steps"`
	Context     map[string]any `json:"context"`
	Status      WorkflowStatus `json:"status"`
	CurrentStep string         `json:"current_step,omitempty"`
	StartedAt   time.Time      `json:"started_at,omitempty"`
	CompletedAt time.Time      `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
}

// NewWorkflow creates a pending workflow with its own context map.
func NewWorkflow(name, description string, steps []WorkflowStep, context map[string]any) *Workflow {
	if context == nil {
		context = make(map[string]any)
	}
	return &Workflow{
		ID:          uuid.New().String(),
		Name:        name,
		Description: description,
		Steps:       steps,
		Context:     context,
		Status:      WorkflowPending,
	}
}

// Step returns the step with the given id.
func (w *Workflow) Step(stepID string) (*WorkflowStep, bool) {
	for i := range w.Steps {
		if w.Steps[i].ID == stepID {
			return &w.Steps[i], true
		}
	}
	return nil, false
}

// Validate checks that step ids are unique, dependencies resolve to steps in
// the same workflow, and the dependency graph is acyclic.
func (w *Workflow) Validate() error {
	if len(w.Steps) == 0 {
		return NewError(ErrCodeInvalidWorkflow, "workflow has no steps")
	}
	deps := make(map[string][]string, len(w.Steps))
	for _, s := range w.Steps {
		if s.ID == "" {
			return NewError(ErrCodeInvalidWorkflow, "step id must not be empty")
		}
		if _, dup := deps[s.ID]; dup {
			return NewError(ErrCodeInvalidWorkflow, fmt.Sprintf("duplicate step id %q", s.ID))
		}
		deps[s.ID] = s.DependsOn
	}
	for _, s := range w.Steps {
		for _, dep := range s.DependsOn {
			if _, ok := deps[dep]; !ok {
				return NewError(ErrCodeInvalidWorkflow,
					fmt.Sprintf("step %q depends on unknown step %q", s.ID, dep))
			}
		}
	}

	// The dependency graph must be a DAG, or no step in the cycle could ever
	// become eligible. DFS with a recursion stack finds back edges.
	visited := make(map[string]bool, len(w.Steps))
	onStack := make(map[string]bool, len(w.Steps))
	var hasCycle func(id string) bool
	hasCycle = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, dep := range deps[id] {
			if onStack[dep] {
				return true
			}
			if !visited[dep] && hasCycle(dep) {
				return true
			}
		}
		onStack[id] = false
		return false
	}
	for _, s := range w.Steps {
		if !visited[s.ID] && hasCycle(s.ID) {
			return NewError(ErrCodeInvalidWorkflow,
				fmt.Sprintf("dependency cycle involving step %q", s.ID))
		}
	}
	return nil
}

// Clone returns a deep-enough copy for external callers: steps and context are
// copied, step params are shared (treated as immutable).
func (w *Workflow) Clone() *Workflow {
	cp := *w
	cp.Steps = append([]WorkflowStep(nil), w.Steps...)
	cp.Context = make(map[string]any, len(w.Context))
	for k, v := range w.Context {
		cp.Context[k] = v
	}
	return &cp
}

// StepResultKey is the workflow-context key under which a completed step's
// result is recorded.
func StepResultKey(stepID string) string {
	return "step_" + stepID + "_result"
}
