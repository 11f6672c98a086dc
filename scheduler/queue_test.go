package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/questweaver/questweaver/types"
)

func queuedNames(q *Queue) []string {
	snapshot := q.Snapshot()
	names := make([]string, 0, len(snapshot))
	for _, t := range snapshot {
		names = append(names, t.Name)
	}
	return names
}

func TestQueue_PriorityOrdering(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	q.Insert(types.NewTask("low", "narrative", types.PriorityLow, nil))
	q.Insert(types.NewTask("urgent", "narrative", types.PriorityUrgent, nil))
	q.Insert(types.NewTask("medium", "narrative", types.PriorityMedium, nil))
	q.Insert(types.NewTask("high", "narrative", types.PriorityHigh, nil))

	assert.Equal(t, []string{"urgent", "high", "medium", "low"}, queuedNames(q))
}

func TestQueue_StableWithinTier(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	q.Insert(types.NewTask("h1", "narrative", types.PriorityHigh, nil))
	q.Insert(types.NewTask("h2", "narrative", types.PriorityHigh, nil))
	q.Insert(types.NewTask("u1", "narrative", types.PriorityUrgent, nil))
	q.Insert(types.NewTask("h3", "narrative", types.PriorityHigh, nil))

	assert.Equal(t, []string{"u1", "h1", "h2", "h3"}, queuedNames(q))
}

func TestQueue_Remove(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	task := types.NewTask("t", "narrative", types.PriorityMedium, nil)
	q.Insert(task)

	require.True(t, q.Remove(task.ID))
	assert.Zero(t, q.Len())
	assert.False(t, q.Remove(task.ID))
}

func TestQueue_RemoveAll(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	t1 := types.NewTask("t1", "narrative", types.PriorityHigh, nil)
	t2 := types.NewTask("t2", "narrative", types.PriorityHigh, nil)
	t3 := types.NewTask("t3", "narrative", types.PriorityHigh, nil)
	q.Insert(t1)
	q.Insert(t2)
	q.Insert(t3)

	q.RemoveAll(map[string]struct{}{t1.ID: {}, t3.ID: {}})
	assert.Equal(t, []string{"t2"}, queuedNames(q))

	q.RemoveAll(nil)
	assert.Equal(t, 1, q.Len())
}

func TestQueue_SnapshotIsCopy(t *testing.T) {
	t.Parallel()
	q := NewQueue()
	q.Insert(types.NewTask("t1", "narrative", types.PriorityHigh, nil))

	snapshot := q.Snapshot()
	q.Insert(types.NewTask("t2", "narrative", types.PriorityUrgent, nil))

	// Mutating the queue after the snapshot does not change the snapshot.
	require.Len(t, snapshot, 1)
	assert.Equal(t, "t1", snapshot[0].Name)
}
