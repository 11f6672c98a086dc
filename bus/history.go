package bus

import (
	"context"
	"sync"

	"github.com/questweaver/questweaver/types"
)

// HistoryStore is an optional external sink for dispatched messages, so an
// outer layer can persist or inspect traffic. In-process correctness never
// depends on the sink.
type HistoryStore interface {
	Append(ctx context.Context, msg types.Message) error
	Recent(ctx context.Context, limit int) ([]types.Message, error)
	Close() error
}

// History is a bounded in-memory ring of dispatched messages, oldest evicted
// first.
type History struct {
	mu       sync.RWMutex
	entries  []types.Message
	capacity int
	start    int
	count    int
}

// NewHistory creates a ring with the given capacity (minimum 1).
func NewHistory(capacity int) *History {
	if capacity < 1 {
		capacity = 1
	}
	return &History{
		entries:  make([]types.Message, capacity),
		capacity: capacity,
	}
}

// Append records a message, evicting the oldest entry when full.
func (h *History) Append(msg types.Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := (h.start + h.count) % h.capacity
	h.entries[idx] = msg
	if h.count < h.capacity {
		h.count++
	} else {
		h.start = (h.start + 1) % h.capacity
	}
}

// Len returns the number of retained messages.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Recent returns up to limit messages, newest last. limit <= 0 returns all
// retained messages.
func (h *History) Recent(limit int) []types.Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	n := h.count
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]types.Message, 0, n)
	for i := h.count - n; i < h.count; i++ {
		out = append(out, h.entries[(h.start+i)%h.capacity])
	}
	return out
}

// FindResponse scans retained messages for a response with the given
// correlation id, newest first.
func (h *History) FindResponse(correlationID string) (types.Message, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for i := h.count - 1; i >= 0; i-- {
		msg := h.entries[(h.start+i)%h.capacity]
		if msg.Kind == types.KindResponse && msg.CorrelationID == correlationID {
			return msg, true
		}
	}
	return types.Message{}, false
}
