package types

import (
	"time"

	"github.com/google/uuid"
)

// Priority orders tasks in the scheduler queue. Lower value dequeues first.
type Priority int

const (
	PriorityUrgent Priority = iota
	PriorityHigh
	PriorityMedium
	PriorityLow
)

// String returns the priority name.
func (p Priority) String() string {
	switch p {
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "unknown"
	}
}

// TaskStatus tracks a task through its lifecycle. Transitions are monotonic:
// PENDING → IN_PROGRESS → {COMPLETED, FAILED, CANCELLED}, plus
// PENDING → CANCELLED. Terminal states are sticky.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
	TaskCancelled  TaskStatus = "cancelled"
)

// IsTerminal reports whether no further status transitions are allowed.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskRef ties a task to the workflow step that generated it. The zero value
// means the task is standalone.
type TaskRef struct {
	WorkflowID string `json:"workflow_id"`
	StepID     string `json:"step_id"`
}

// IsZero reports whether the reference is unset.
func (r TaskRef) IsZero() bool {
	return r.WorkflowID == "" && r.StepID == ""
}

// Task is a unit of work with a required agent type, priority, dependencies,
// and a terminal outcome.
type Task struct {
	ID          string         `json:"id"`
	Ref         TaskRef        `json:"ref,omitempty"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Type        string         `json:"type"`
	// Action names the capability the assigned agent executes. Empty means
	// the task name doubles as the action.
	Action    string         `json:"action,omitempty"`
	Priority  Priority       `json:"priority"`
	Params    map[string]any `json:"params,omitempty"`
	DependsOn []string       `json:"depends_on,omitempty"`
	Status    TaskStatus     `json:"status"`
	// AssignedAgent is set iff the task left PENDING via successful allocation.
	AssignedAgent string        `json:"assigned_agent,omitempty"`
	CreatedAt     time.Time     `json:"created_at"`
	StartedAt     time.Time     `json:"started_at,omitempty"`
	CompletedAt   time.Time     `json:"completed_at,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
	Result        any           `json:"result,omitempty"`
	Error         string        `json:"error,omitempty"`
}

// NewTask creates a standalone pending task.
func NewTask(name, agentType string, priority Priority, params map[string]any) *Task {
	return &Task{
		ID:        uuid.New().String(),
		Name:      name,
		Type:      agentType,
		Priority:  priority,
		Params:    params,
		Status:    TaskPending,
		CreatedAt: time.Now(),
	}
}

// NewWorkflowTask creates a pending task derived from a workflow step.
func NewWorkflowTask(ref TaskRef, name, agentType string, priority Priority, params map[string]any) *Task {
	t := NewTask(name, agentType, priority, params)
	t.Ref = ref
	return t
}

// Clone returns a shallow copy with its own dependency slice, safe to hand to
// callers without exposing scheduler-internal state.
func (t *Task) Clone() *Task {
	cp := *t
	cp.DependsOn = append([]string(nil), t.DependsOn...)
	return &cp
}
