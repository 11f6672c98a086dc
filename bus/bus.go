// Package bus provides in-process point-to-point and broadcast messaging
// between named agents, with request/response correlation.
//
// Delivery is strictly sequential and global: one message is fully processed
// (all its handlers run) before the next is dequeued. Ordering within a single
// agent's inbox is therefore preserved by construction.
package bus

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/questweaver/questweaver/internal/metrics"
	"github.com/questweaver/questweaver/types"
)

// Handler processes one delivered message. Handler errors are logged and
// never abort the dispatch loop.
type Handler func(ctx context.Context, msg types.Message) error

// subscriptionCounter generates unique subscription ids.
var subscriptionCounter int64

type handlerKey struct {
	agentID string
	kind    types.MessageKind
}

type subscription struct {
	id      string
	handler Handler
}

// Options configures a Bus.
type Options struct {
	// QueueSize bounds the delivery queue. Send fails with QUEUE_FULL when
	// the queue is saturated.
	QueueSize int
	// HistoryCapacity bounds the in-memory history ring.
	HistoryCapacity int
	// Sink, when non-nil, receives every dispatched message best-effort.
	Sink HistoryStore
	// RequestTimeout is the Request wait used when the caller passes zero.
	RequestTimeout time.Duration
	// DeliveryRate throttles dispatch to this many messages per second.
	// Zero means unlimited.
	DeliveryRate float64
	// DeliveryBurst is the burst size for DeliveryRate.
	DeliveryBurst int
}

// Bus routes messages between registered agents.
type Bus struct {
	mu       sync.RWMutex
	handlers map[handlerKey][]subscription
	agents   map[string]int // agentID -> live subscription count
	pending  map[string]chan types.Message

	queue          chan types.Message
	history        *History
	sink           HistoryStore
	limiter        *rate.Limiter
	requestTimeout time.Duration

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	metrics *metrics.Collector
	logger  *zap.Logger
}

// SetMetrics wires the metrics collector. Call before Run.
func (b *Bus) SetMetrics(c *metrics.Collector) {
	b.metrics = c
}

// New creates a Bus. Call Run to start dispatching.
func New(opts Options, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = 256
	}
	if opts.HistoryCapacity <= 0 {
		opts.HistoryCapacity = 1000
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if opts.DeliveryRate > 0 {
		burst := opts.DeliveryBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.DeliveryRate), burst)
	}
	return &Bus{
		handlers:       make(map[handlerKey][]subscription),
		agents:         make(map[string]int),
		pending:        make(map[string]chan types.Message),
		queue:          make(chan types.Message, opts.QueueSize),
		history:        NewHistory(opts.HistoryCapacity),
		sink:           opts.Sink,
		limiter:        limiter,
		requestTimeout: opts.RequestTimeout,
		done:           make(chan struct{}),
		logger:         logger.With(zap.String("component", "message_bus")),
	}
}

// Register subscribes a handler for (agentID, kind) and returns a
// subscription id for Unregister.
func (b *Bus) Register(agentID string, kind types.MessageKind, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := fmt.Sprintf("%s-%s-%d", agentID, kind, atomic.AddInt64(&subscriptionCounter, 1))
	key := handlerKey{agentID: agentID, kind: kind}
	b.handlers[key] = append(b.handlers[key], subscription{id: id, handler: handler})
	b.agents[agentID]++

	b.logger.Debug("handler registered",
		zap.String("agent_id", agentID),
		zap.String("kind", string(kind)),
	)
	return id
}

// Unregister removes a subscription by id.
func (b *Bus) Unregister(subscriptionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for key, subs := range b.handlers {
		for i, sub := range subs {
			if sub.id != subscriptionID {
				continue
			}
			b.handlers[key] = append(subs[:i], subs[i+1:]...)
			if len(b.handlers[key]) == 0 {
				delete(b.handlers, key)
			}
			if b.agents[key.agentID]--; b.agents[key.agentID] <= 0 {
				delete(b.agents, key.agentID)
			}
			return
		}
	}
}

// Send enqueues a message for delivery. It never blocks beyond the enqueue:
// a saturated queue fails fast with QUEUE_FULL.
func (b *Bus) Send(msg types.Message) error {
	if b.closed.Load() {
		return types.NewError(types.ErrCodeBusClosed, "message bus is closed")
	}
	select {
	case b.queue <- msg:
		return nil
	default:
		return types.NewError(types.ErrCodeQueueFull,
			fmt.Sprintf("delivery queue full, message %s dropped", msg.ID))
	}
}

// Broadcast sends content from sender to every registered agent except the
// sender and the exclusion set, returning the recipient list.
func (b *Bus) Broadcast(sender string, content types.NotificationContent, exclude ...string) ([]string, error) {
	skip := make(map[string]struct{}, len(exclude)+1)
	skip[sender] = struct{}{}
	for _, id := range exclude {
		skip[id] = struct{}{}
	}

	b.mu.RLock()
	recipients := make([]string, 0, len(b.agents))
	for agentID := range b.agents {
		if _, excluded := skip[agentID]; !excluded {
			recipients = append(recipients, agentID)
		}
	}
	b.mu.RUnlock()

	for _, agentID := range recipients {
		if err := b.Send(types.NewNotification(sender, agentID, content)); err != nil {
			return recipients, err
		}
	}
	return recipients, nil
}

// Request sends msg and blocks until the correlated response is dispatched or
// the timeout elapses. A zero timeout uses the bus-level default. A missing
// recipient handler is not a send failure, just a REQUEST_TIMEOUT.
func (b *Bus) Request(ctx context.Context, msg types.Message, timeout time.Duration) (types.Message, error) {
	if timeout <= 0 {
		timeout = b.requestTimeout
	}
	future := make(chan types.Message, 1)

	b.mu.Lock()
	b.pending[msg.ID] = future
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, msg.ID)
		b.mu.Unlock()
	}()

	if err := b.Send(msg); err != nil {
		b.logger.Warn("request send failed", zap.String("msg_id", msg.ID), zap.Error(err))
		return types.Message{}, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-future:
		return resp, nil
	case <-timer.C:
		return types.Message{}, types.NewError(types.ErrCodeRequestTimeout,
			fmt.Sprintf("no response to %s within %s", msg.ID, timeout))
	case <-ctx.Done():
		return types.Message{}, ctx.Err()
	case <-b.done:
		return types.Message{}, types.NewError(types.ErrCodeBusClosed, "message bus is closed")
	}
}

// Run dispatches messages until ctx is cancelled or the bus is closed.
// It must be called at most once.
func (b *Bus) Run(ctx context.Context) {
	b.logger.Info("message bus started")
	for {
		select {
		case msg := <-b.queue:
			if b.limiter != nil {
				if err := b.limiter.Wait(ctx); err != nil {
					return
				}
			}
			b.dispatch(ctx, msg)
		case <-ctx.Done():
			b.logger.Info("message bus stopped", zap.Int("undelivered", len(b.queue)))
			return
		case <-b.done:
			b.logger.Info("message bus closed", zap.Int("undelivered", len(b.queue)))
			return
		}
	}
}

// dispatch appends msg to history, resolves any pending request future, and
// invokes every handler registered for (recipient, kind). A recipient with no
// handlers is a no-op, not an error.
func (b *Bus) dispatch(ctx context.Context, msg types.Message) {
	if b.metrics != nil {
		b.metrics.RecordMessageDispatched(string(msg.Kind))
	}
	b.history.Append(msg)
	if b.sink != nil {
		if err := b.sink.Append(ctx, msg); err != nil {
			b.logger.Warn("history sink append failed",
				zap.String("msg_id", msg.ID), zap.Error(err))
		}
	}

	b.mu.RLock()
	var future chan types.Message
	if msg.Kind == types.KindResponse && msg.CorrelationID != "" {
		future = b.pending[msg.CorrelationID]
	}
	key := handlerKey{agentID: msg.Recipient, kind: msg.Kind}
	subs := append([]subscription(nil), b.handlers[key]...)
	b.mu.RUnlock()

	if future != nil {
		select {
		case future <- msg:
		default:
		}
	}

	if len(subs) == 0 {
		b.logger.Debug("no handlers for message",
			zap.String("recipient", msg.Recipient),
			zap.String("kind", string(msg.Kind)),
		)
		return
	}

	for _, sub := range subs {
		b.invoke(ctx, sub, msg)
	}
}

// invoke runs one handler with panic recovery. A failing handler never aborts
// the dispatch loop.
func (b *Bus) invoke(ctx context.Context, sub subscription, msg types.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("message handler panicked",
				zap.String("subscription", sub.id),
				zap.String("msg_id", msg.ID),
				zap.Any("recover", r),
			)
		}
	}()
	if err := sub.handler(ctx, msg); err != nil {
		b.logger.Error("message handler failed",
			zap.String("subscription", sub.id),
			zap.String("msg_id", msg.ID),
			zap.Error(err),
		)
	}
}

// History returns the bounded delivery history.
func (b *Bus) History() *History {
	return b.history
}

// Close stops the bus. Pending Send calls fail with BUS_CLOSED afterwards.
func (b *Bus) Close() error {
	var sinkErr error
	b.closeOnce.Do(func() {
		b.closed.Store(true)
		close(b.done)
		if b.sink != nil {
			sinkErr = b.sink.Close()
		}
	})
	return sinkErr
}
