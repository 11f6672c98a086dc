package scheduler

import "github.com/questweaver/questweaver/types"

// Queue is a priority-ordered pending-task queue. Tasks are positioned so
// URGENT precedes HIGH precedes MEDIUM precedes LOW; equal-priority tasks
// preserve submission order (stable FIFO within a tier).
//
// Queue is not safe for concurrent use; the Scheduler serializes access.
type Queue struct {
	items []*types.Task
}

// NewQueue creates an empty queue.
func NewQueue() *Queue {
	return &Queue{}
}

// Insert places the task after the last queued task of equal or higher
// priority, keeping the queue stable within each tier.
func (q *Queue) Insert(task *types.Task) {
	pos := len(q.items)
	for i, item := range q.items {
		if item.Priority > task.Priority {
			pos = i
			break
		}
	}
	q.items = append(q.items, nil)
	copy(q.items[pos+1:], q.items[pos:])
	q.items[pos] = task
}

// Remove deletes the task with the given id, reporting whether it was queued.
func (q *Queue) Remove(taskID string) bool {
	for i, item := range q.items {
		if item.ID == taskID {
			q.items = append(q.items[:i], q.items[i+1:]...)
			return true
		}
	}
	return false
}

// RemoveAll deletes every task whose id is in ids.
func (q *Queue) RemoveAll(ids map[string]struct{}) {
	if len(ids) == 0 {
		return
	}
	kept := q.items[:0]
	for _, item := range q.items {
		if _, drop := ids[item.ID]; !drop {
			kept = append(kept, item)
		}
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
}

// Snapshot returns the queued tasks in allocation order. The returned slice
// is a copy; allocation passes iterate the snapshot and apply removals
// afterwards so the pass never mutates the queue mid-iteration.
func (q *Queue) Snapshot() []*types.Task {
	return append([]*types.Task(nil), q.items...)
}

// Len returns the number of queued tasks.
func (q *Queue) Len() int {
	return len(q.items)
}
