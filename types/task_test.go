package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTaskStatus_IsTerminal(t *testing.T) {
	t.Parallel()
	assert.False(t, TaskPending.IsTerminal())
	assert.False(t, TaskInProgress.IsTerminal())
	assert.True(t, TaskCompleted.IsTerminal())
	assert.True(t, TaskFailed.IsTerminal())
	assert.True(t, TaskCancelled.IsTerminal())
}

func TestPriority_String(t *testing.T) {
	t.Parallel()
	assert.Equal(t, "urgent", PriorityUrgent.String())
	assert.Equal(t, "high", PriorityHigh.String())
	assert.Equal(t, "medium", PriorityMedium.String())
	assert.Equal(t, "low", PriorityLow.String())
	assert.Equal(t, "unknown", Priority(42).String())
}

func TestPriority_Ordering(t *testing.T) {
	t.Parallel()
	// Queue position depends on this ordering.
	assert.Less(t, PriorityUrgent, PriorityHigh)
	assert.Less(t, PriorityHigh, PriorityMedium)
	assert.Less(t, PriorityMedium, PriorityLow)
}

func TestNewTask(t *testing.T) {
	t.Parallel()
	task := NewTask("narrate-scene", "narrative", PriorityHigh, map[string]any{"scene": "tavern"})
	require.NotEmpty(t, task.ID)
	assert.Equal(t, TaskPending, task.Status)
	assert.Equal(t, "narrative", task.Type)
	assert.True(t, task.Ref.IsZero())
	assert.Empty(t, task.AssignedAgent)
	assert.False(t, task.CreatedAt.IsZero())
}

func TestNewWorkflowTask(t *testing.T) {
	t.Parallel()
	ref := TaskRef{WorkflowID: "wf-1", StepID: "intro"}
	task := NewWorkflowTask(ref, "intro", "narrative", PriorityMedium, nil)
	assert.Equal(t, ref, task.Ref)
	assert.False(t, task.Ref.IsZero())
}

func TestTask_Clone(t *testing.T) {
	t.Parallel()
	task := NewTask("roll-initiative", "combat", PriorityUrgent, nil)
	task.DependsOn = []string{"a", "b"}

	cp := task.Clone()
	cp.DependsOn[0] = "mutated"
	cp.Status = TaskCompleted

	assert.Equal(t, "a", task.DependsOn[0])
	assert.Equal(t, TaskPending, task.Status)
}
