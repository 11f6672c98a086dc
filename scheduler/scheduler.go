// Package scheduler matches pending tasks to capable, least-loaded agents.
//
// Tasks wait in a priority queue gated by dependency completion. An
// allocation pass runs after every submission, completion, and failure; the
// monitor loop injects failures for timed-out tasks and unresponsive agents.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/questweaver/questweaver/internal/metrics"
	"github.com/questweaver/questweaver/types"
)

// SenderID is the sender recorded on scheduler-originated messages.
const SenderID = "scheduler"

// Failure messages injected by the monitor loop.
const (
	reasonTimeout      = "Task timed out"
	reasonUnresponsive = "Agent became unresponsive"
)

// MessageSender delivers scheduler notifications. *bus.Bus satisfies it.
type MessageSender interface {
	Send(msg types.Message) error
}

// TaskListener receives terminal outcomes for workflow-derived tasks.
// The workflow engine implements it.
type TaskListener interface {
	TaskCompleted(ref types.TaskRef, taskID string, result any)
	TaskFailed(ref types.TaskRef, taskID string, errMsg string)
}

// Options tunes scheduler behavior.
type Options struct {
	// AdmissionCapacity bounds the pending queue; submissions beyond it are
	// rejected (reject-new policy). Zero means unbounded.
	AdmissionCapacity int
	// MonitorInterval is the sweep period for timeouts and stale heartbeats.
	MonitorInterval time.Duration
	// HeartbeatStaleAfter is the heartbeat age past which an agent's
	// in-flight tasks are failed.
	HeartbeatStaleAfter time.Duration
}

// DefaultOptions returns the documented sweep defaults.
func DefaultOptions() Options {
	return Options{
		MonitorInterval:     5 * time.Second,
		HeartbeatStaleAfter: 60 * time.Second,
	}
}

func (o Options) withDefaults() Options {
	if o.MonitorInterval <= 0 {
		o.MonitorInterval = 5 * time.Second
	}
	if o.HeartbeatStaleAfter <= 0 {
		o.HeartbeatStaleAfter = 60 * time.Second
	}
	return o
}

// Scheduler owns the task table, the pending queue, and the agent registry.
type Scheduler struct {
	mu         sync.Mutex
	tasks      map[string]*types.Task
	queue      *Queue
	agents     map[string]*types.AgentStatus
	agentOrder []string // registration order, used for equal-load tie-break

	sender   MessageSender
	listener TaskListener
	opts     Options

	metrics *metrics.Collector
	tracer  trace.Tracer
	logger  *zap.Logger
}

// New creates a Scheduler that delivers allocation notifications through
// sender.
func New(sender MessageSender, opts Options, logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:  make(map[string]*types.Task),
		queue:  NewQueue(),
		agents: make(map[string]*types.AgentStatus),
		sender: sender,
		opts:   opts.withDefaults(),
		tracer: otel.Tracer("questweaver/scheduler"),
		logger: logger.With(zap.String("component", "scheduler")),
	}
}

// SetListener wires the workflow engine. Must be called before Submit.
func (s *Scheduler) SetListener(l TaskListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listener = l
}

// SetMetrics wires the metrics collector.
func (s *Scheduler) SetMetrics(c *metrics.Collector) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.metrics = c
}

// ---------------------------------------------------------------------------
// Agent registry
// ---------------------------------------------------------------------------

// RegisterAgent adds an agent to the registry. Re-registering an existing id
// replaces its capabilities but keeps its tie-break position.
func (s *Scheduler) RegisterAgent(status *types.AgentStatus) {
	s.mu.Lock()
	if _, exists := s.agents[status.AgentID]; !exists {
		s.agentOrder = append(s.agentOrder, status.AgentID)
	}
	s.agents[status.AgentID] = status
	registered := len(s.agents)
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetAgentsRegistered(registered)
		s.metrics.SetAgentLoad(status.AgentID, status.Load)
	}
	s.logger.Info("agent registered",
		zap.String("agent_id", status.AgentID),
		zap.String("agent_type", status.Type),
		zap.Int("capabilities", len(status.Capabilities)),
	)

	// A new agent may unblock queued work.
	s.allocate()
}

// Heartbeat refreshes an agent's liveness timestamp.
func (s *Scheduler) Heartbeat(agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.agents[agentID]
	if !ok {
		return types.NewError(types.ErrCodeAgentNotFound,
			fmt.Sprintf("agent %s not registered", agentID))
	}
	status.LastHeartbeat = time.Now()
	return nil
}

// SetAgentState applies an explicit state change, the only way an agent goes
// offline. Returning an agent to idle re-triggers allocation.
func (s *Scheduler) SetAgentState(agentID string, state types.AgentState) error {
	s.mu.Lock()
	status, ok := s.agents[agentID]
	if !ok {
		s.mu.Unlock()
		return types.NewError(types.ErrCodeAgentNotFound,
			fmt.Sprintf("agent %s not registered", agentID))
	}
	status.State = state
	if state != types.AgentOffline {
		status.RecalculateLoad()
	}
	s.mu.Unlock()

	if state != types.AgentOffline {
		s.allocate()
	}
	return nil
}

// AgentStatus returns a copy of the agent's current status.
func (s *Scheduler) AgentStatus(agentID string) (*types.AgentStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	status, ok := s.agents[agentID]
	if !ok {
		return nil, false
	}
	return status.Clone(), true
}

// Agents returns copies of all registered agent statuses in registration
// order.
func (s *Scheduler) Agents() []*types.AgentStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*types.AgentStatus, 0, len(s.agentOrder))
	for _, id := range s.agentOrder {
		out = append(out, s.agents[id].Clone())
	}
	return out
}

// ---------------------------------------------------------------------------
// Task lifecycle
// ---------------------------------------------------------------------------

// Submit queues a task and immediately attempts allocation. Submissions
// beyond the admission capacity are rejected.
func (s *Scheduler) Submit(ctx context.Context, task *types.Task) error {
	_, span := s.tracer.Start(ctx, "scheduler.Submit",
		trace.WithAttributes(
			attribute.String("task.id", task.ID),
			attribute.String("task.type", task.Type),
			attribute.String("task.priority", task.Priority.String()),
		))
	defer span.End()

	s.mu.Lock()
	if s.opts.AdmissionCapacity > 0 && s.queue.Len() >= s.opts.AdmissionCapacity {
		s.mu.Unlock()
		if s.metrics != nil {
			s.metrics.RecordTaskRejected()
		}
		return types.NewError(types.ErrCodeAdmissionRejected,
			fmt.Sprintf("queue at capacity %d, task %s rejected", s.opts.AdmissionCapacity, task.ID))
	}
	task.Status = types.TaskPending
	s.tasks[task.ID] = task
	s.queue.Insert(task)
	depth := s.queue.Len()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordTaskSubmitted(task.Type, task.Priority.String())
		s.metrics.SetQueueDepth(depth)
	}
	s.logger.Info("task submitted",
		zap.String("task_id", task.ID),
		zap.String("task_type", task.Type),
		zap.String("priority", task.Priority.String()),
		zap.Int("dependencies", len(task.DependsOn)),
	)

	s.allocate()
	return nil
}

// Status returns a copy of the task's current state.
func (s *Scheduler) Status(taskID string) (*types.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// PendingTasks returns copies of queued tasks in allocation order, optionally
// filtered by required agent type.
func (s *Scheduler) PendingTasks(typeFilter string) []*types.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	snapshot := s.queue.Snapshot()
	out := make([]*types.Task, 0, len(snapshot))
	for _, task := range snapshot {
		if typeFilter == "" || task.Type == typeFilter {
			out = append(out, task.Clone())
		}
	}
	return out
}

// Cancel marks a task CANCELLED. It is rejected (false) when the task is
// unknown or already terminal. Cancellation is cooperative: an agent already
// executing the task is not interrupted, and its eventual report is a no-op.
func (s *Scheduler) Cancel(taskID string) bool {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	task.Status = types.TaskCancelled
	task.CompletedAt = time.Now()
	s.queue.Remove(taskID)
	s.releaseAgentLocked(task)
	depth := s.queue.Len()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.RecordTaskCancelled()
		s.metrics.SetQueueDepth(depth)
	}
	s.logger.Info("task cancelled", zap.String("task_id", taskID))

	s.allocate()
	return true
}

// Complete marks a task COMPLETED with its result. Returns false when the
// task is unknown or already terminal (first terminal transition wins).
func (s *Scheduler) Complete(taskID string, result any) bool {
	return s.finish(taskID, types.TaskCompleted, result, "")
}

// Fail marks a task FAILED with an error message. Returns false when the task
// is unknown or already terminal.
func (s *Scheduler) Fail(taskID string, errMsg string) bool {
	return s.finish(taskID, types.TaskFailed, nil, errMsg)
}

func (s *Scheduler) finish(taskID string, status types.TaskStatus, result any, errMsg string) bool {
	s.mu.Lock()
	task, ok := s.tasks[taskID]
	if !ok || task.Status.IsTerminal() {
		s.mu.Unlock()
		return false
	}
	task.Status = status
	task.Result = result
	task.Error = errMsg
	task.CompletedAt = time.Now()
	s.queue.Remove(taskID) // pending tasks can be failed by the monitor
	s.releaseAgentLocked(task)
	ref := task.Ref
	taskType := task.Type
	listener := s.listener
	s.mu.Unlock()

	if s.metrics != nil {
		if status == types.TaskCompleted {
			s.metrics.RecordTaskCompleted(taskType)
		} else {
			s.metrics.RecordTaskFailed(taskType, failureReason(errMsg))
		}
	}
	s.logger.Info("task finished",
		zap.String("task_id", taskID),
		zap.String("status", string(status)),
		zap.String("error", errMsg),
	)

	// Notify outside the lock: the engine may submit follow-up tasks.
	if listener != nil && !ref.IsZero() {
		if status == types.TaskCompleted {
			listener.TaskCompleted(ref, taskID, result)
		} else {
			listener.TaskFailed(ref, taskID, errMsg)
		}
	}

	s.allocate()
	return true
}

// failureReason buckets failure messages into a bounded metric label.
func failureReason(errMsg string) string {
	switch errMsg {
	case reasonTimeout:
		return "timeout"
	case reasonUnresponsive:
		return "unresponsive"
	default:
		return "execution_failed"
	}
}

// releaseAgentLocked frees the assigned agent's slot. Caller holds s.mu.
func (s *Scheduler) releaseAgentLocked(task *types.Task) {
	if task.AssignedAgent == "" {
		return
	}
	if agent, ok := s.agents[task.AssignedAgent]; ok {
		agent.RemoveTask(task.ID)
		if s.metrics != nil {
			s.metrics.SetAgentLoad(agent.AgentID, agent.Load)
		}
	}
}

// ---------------------------------------------------------------------------
// Allocation
// ---------------------------------------------------------------------------

// allocate runs one allocation pass: it snapshots the queue, assigns every
// allocatable task to the least-loaded capable agent, and applies queue
// removals after the scan so the pass never mutates the queue mid-iteration.
func (s *Scheduler) allocate() {
	start := time.Now()

	s.mu.Lock()
	snapshot := s.queue.Snapshot()
	allocated := make(map[string]struct{})
	var notifications []types.Message

	for _, task := range snapshot {
		if task.Status != types.TaskPending {
			allocated[task.ID] = struct{}{}
			continue
		}
		if !s.dependenciesMetLocked(task) {
			continue
		}
		agent := s.selectAgentLocked(task.Type)
		if agent == nil {
			continue
		}

		task.Status = types.TaskInProgress
		task.AssignedAgent = agent.AgentID
		task.StartedAt = time.Now()
		agent.AddTask(task.ID)
		allocated[task.ID] = struct{}{}

		notifications = append(notifications,
			types.NewTaskAllocated(SenderID, agent.AgentID, task.ID))

		if s.metrics != nil {
			s.metrics.SetAgentLoad(agent.AgentID, agent.Load)
		}
		s.logger.Info("task allocated",
			zap.String("task_id", task.ID),
			zap.String("agent_id", agent.AgentID),
			zap.Float64("agent_load", agent.Load),
		)
	}

	s.queue.RemoveAll(allocated)
	depth := s.queue.Len()
	s.mu.Unlock()

	if s.metrics != nil {
		s.metrics.SetQueueDepth(depth)
		s.metrics.ObserveAllocationPass(time.Since(start))
	}

	for _, msg := range notifications {
		if err := s.sender.Send(msg); err != nil {
			s.logger.Error("allocation notification failed",
				zap.String("recipient", msg.Recipient), zap.Error(err))
		}
	}
}

// dependenciesMetLocked reports whether every dependency task is COMPLETED.
// Caller holds s.mu.
func (s *Scheduler) dependenciesMetLocked(task *types.Task) bool {
	for _, depID := range task.DependsOn {
		dep, ok := s.tasks[depID]
		if !ok || dep.Status != types.TaskCompleted {
			return false
		}
	}
	return true
}

// selectAgentLocked picks the capable agent with the strictly lowest load.
// An agent serves a task when its declared type matches the required type or
// it declared a capability of that name; offline and saturated agents are
// skipped. Equal loads break by registration order. Caller holds s.mu.
func (s *Scheduler) selectAgentLocked(taskType string) *types.AgentStatus {
	var best *types.AgentStatus
	for _, agentID := range s.agentOrder {
		agent := s.agents[agentID]
		if agent.State == types.AgentOffline || agent.Load >= 1.0 {
			continue
		}
		if agent.Type != taskType && !agent.HasCapability(taskType) {
			continue
		}
		if best == nil || agent.Load < best.Load {
			best = agent
		}
	}
	return best
}
