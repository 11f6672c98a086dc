// Package agent hosts executors on the message bus and the scheduler.
//
// A Runtime adapts one Executor to the orchestration core: it answers direct
// requests with correlated responses, picks up allocated tasks, and keeps the
// scheduler's view of the agent fresh with heartbeats.
package agent

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/questweaver/questweaver/bus"
	"github.com/questweaver/questweaver/types"
)

// Executor is the behavior an agent implementation supplies. Execute performs
// one action and returns its result; errors are reported, never allowed to
// take the runtime down.
type Executor interface {
	ID() string
	Type() string
	Capabilities() []types.Capability
	Execute(ctx context.Context, action string, params map[string]any) (any, error)
}

// MessageBus is the bus surface the runtime needs. *bus.Bus satisfies it.
type MessageBus interface {
	Register(agentID string, kind types.MessageKind, handler bus.Handler) string
	Unregister(subscriptionID string)
	Send(msg types.Message) error
}

// TaskBoard is the scheduler surface the runtime needs. *scheduler.Scheduler
// satisfies it.
type TaskBoard interface {
	RegisterAgent(status *types.AgentStatus)
	Heartbeat(agentID string) error
	Status(taskID string) (*types.Task, bool)
	Complete(taskID string, result any) bool
	Fail(taskID string, errMsg string) bool
}

// Options tunes runtime behavior.
type Options struct {
	// HeartbeatInterval is how often the runtime refreshes its liveness with
	// the scheduler.
	HeartbeatInterval time.Duration
}

func (o Options) withDefaults() Options {
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = 15 * time.Second
	}
	return o
}

// Runtime connects one Executor to the bus and the scheduler.
type Runtime struct {
	executor Executor
	bus      MessageBus
	board    TaskBoard
	opts     Options
	logger   *zap.Logger

	subs []string
	wg   sync.WaitGroup

	mu      sync.Mutex
	started bool
}

// NewRuntime creates a Runtime for the executor. Call Start to attach it.
func NewRuntime(executor Executor, mbus MessageBus, board TaskBoard, opts Options, logger *zap.Logger) *Runtime {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runtime{
		executor: executor,
		bus:      mbus,
		board:    board,
		opts:     opts.withDefaults(),
		logger: logger.With(
			zap.String("component", "agent_runtime"),
			zap.String("agent_id", executor.ID()),
		),
	}
}

// Start registers the agent with the scheduler and subscribes its bus
// handlers. It is not idempotent; a second call is rejected.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return types.NewError(types.ErrCodeInternal,
			fmt.Sprintf("agent %s already started", r.executor.ID()))
	}
	r.started = true

	r.board.RegisterAgent(types.NewAgentStatus(
		r.executor.ID(), r.executor.Type(), r.executor.Capabilities()))

	r.subs = append(r.subs,
		r.bus.Register(r.executor.ID(), types.KindRequest, r.handleRequest),
		r.bus.Register(r.executor.ID(), types.KindNotification, r.handleNotification),
	)

	r.logger.Info("agent started",
		zap.String("agent_type", r.executor.Type()),
		zap.Int("capabilities", len(r.executor.Capabilities())),
	)
	return nil
}

// Run drives the heartbeat loop until ctx is cancelled, then waits for
// in-flight executions to drain and drops the bus subscriptions.
func (r *Runtime) Run(ctx context.Context) {
	ticker := time.NewTicker(r.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			r.wg.Wait()
			for _, sub := range r.subs {
				r.bus.Unregister(sub)
			}
			r.logger.Info("agent stopped")
			return
		case <-ticker.C:
			if err := r.board.Heartbeat(r.executor.ID()); err != nil {
				r.logger.Warn("heartbeat rejected", zap.Error(err))
			}
		}
	}
}

// handleRequest executes the requested action and sends back a correlated
// response. Execution errors travel in the response; they never surface as
// handler errors.
func (r *Runtime) handleRequest(ctx context.Context, msg types.Message) error {
	content, ok := msg.Content.(types.RequestContent)
	if !ok {
		return types.NewError(types.ErrCodeInternal,
			fmt.Sprintf("request %s carries %T, want RequestContent", msg.ID, msg.Content))
	}

	result, err := r.execute(ctx, content.Action, content.Params)
	var execErr string
	if err != nil {
		execErr = err.Error()
		r.logger.Warn("request failed",
			zap.String("action", content.Action),
			zap.String("sender", msg.Sender),
			zap.Error(err),
		)
	}
	return r.bus.Send(types.NewResponse(msg, result, execErr))
}

// handleNotification reacts to task allocations. Execution runs on its own
// goroutine so a slow task never stalls bus dispatch; the outcome goes to the
// scheduler, which forwards workflow-step results to the engine.
func (r *Runtime) handleNotification(ctx context.Context, msg types.Message) error {
	content, ok := msg.Content.(types.NotificationContent)
	if !ok || content.Action != types.ActionTaskAllocated {
		return nil
	}

	task, ok := r.board.Status(content.TaskID)
	if !ok {
		r.logger.Warn("allocated task not found", zap.String("task_id", content.TaskID))
		return nil
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		r.runTask(ctx, task)
	}()
	return nil
}

// runTask executes one allocated task and reports the terminal outcome.
func (r *Runtime) runTask(ctx context.Context, task *types.Task) {
	action := task.Action
	if action == "" {
		action = task.Name
	}
	r.logger.Info("task picked up",
		zap.String("task_id", task.ID),
		zap.String("action", action),
	)

	if task.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, task.Timeout)
		defer cancel()
	}

	result, err := r.execute(ctx, action, task.Params)
	if err != nil {
		r.board.Fail(task.ID, err.Error())
		return
	}
	r.board.Complete(task.ID, result)
}

// execute invokes the executor with panic containment: a panicking executor
// fails the one action, not the runtime.
func (r *Runtime) execute(ctx context.Context, action string, params map[string]any) (result any, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("executor panic",
				zap.String("action", action),
				zap.Any("panic", rec),
			)
			result = nil
			err = types.NewError(types.ErrCodeExecutionFailed,
				fmt.Sprintf("agent %s panicked executing %s: %v", r.executor.ID(), action, rec))
		}
	}()
	return r.executor.Execute(ctx, action, params)
}
