package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
)

// Collector exposes orchestration metrics through Prometheus.
type Collector struct {
	// Scheduler metrics
	tasksSubmitted     *prometheus.CounterVec
	tasksCompleted     *prometheus.CounterVec
	tasksFailed        *prometheus.CounterVec
	tasksCancelled     prometheus.Counter
	tasksRejected      prometheus.Counter
	queueDepth         prometheus.Gauge
	allocationDuration prometheus.Histogram
	agentLoad          *prometheus.GaugeVec
	agentsRegistered   prometheus.Gauge

	// Workflow metrics
	workflowsStarted  prometheus.Counter
	workflowsFinished *prometheus.CounterVec
	stepsDispatched   prometheus.Counter

	// Bus metrics
	messagesDispatched *prometheus.CounterVec

	logger *zap.Logger
}

// NewCollector creates a collector registered against reg. A nil reg falls
// back to the default registerer.
func NewCollector(namespace string, reg prometheus.Registerer, logger *zap.Logger) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	factory := promauto.With(reg)

	c := &Collector{
		logger: logger.With(zap.String("component", "metrics")),
	}

	c.tasksSubmitted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_submitted_total",
			Help:      "Total number of tasks submitted to the scheduler",
		},
		[]string{"type", "priority"},
	)

	c.tasksCompleted = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks completed successfully",
		},
		[]string{"type"},
	)

	c.tasksFailed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of failed tasks",
		},
		[]string{"type", "reason"},
	)

	c.tasksCancelled = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_cancelled_total",
			Help:      "Total number of cancelled tasks",
		},
	)

	c.tasksRejected = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_rejected_total",
			Help:      "Total number of tasks rejected by admission control",
		},
	)

	c.queueDepth = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "scheduler_queue_depth",
			Help:      "Number of tasks waiting in the scheduler queue",
		},
	)

	c.allocationDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "allocation_pass_duration_seconds",
			Help:      "Duration of scheduler allocation passes",
			Buckets:   []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
		},
	)

	c.agentLoad = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agent_load",
			Help:      "Current load of each registered agent",
		},
		[]string{"agent_id"},
	)

	c.agentsRegistered = factory.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "agents_registered",
			Help:      "Number of registered agents",
		},
	)

	c.workflowsStarted = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Total number of workflows created",
		},
	)

	c.workflowsFinished = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Total number of workflows reaching a terminal state",
		},
		[]string{"status"},
	)

	c.stepsDispatched = factory.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_steps_dispatched_total",
			Help:      "Total number of workflow steps dispatched as tasks",
		},
	)

	c.messagesDispatched = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bus_messages_dispatched_total",
			Help:      "Total number of messages dispatched by the bus",
		},
		[]string{"kind"},
	)

	return c
}

// RecordTaskSubmitted records a task submission.
func (c *Collector) RecordTaskSubmitted(taskType, priority string) {
	c.tasksSubmitted.WithLabelValues(taskType, priority).Inc()
}

// RecordTaskCompleted records a successful task completion.
func (c *Collector) RecordTaskCompleted(taskType string) {
	c.tasksCompleted.WithLabelValues(taskType).Inc()
}

// RecordTaskFailed records a task failure with its reason.
func (c *Collector) RecordTaskFailed(taskType, reason string) {
	c.tasksFailed.WithLabelValues(taskType, reason).Inc()
}

// RecordTaskCancelled records a task cancellation.
func (c *Collector) RecordTaskCancelled() {
	c.tasksCancelled.Inc()
}

// RecordTaskRejected records an admission-control rejection.
func (c *Collector) RecordTaskRejected() {
	c.tasksRejected.Inc()
}

// SetQueueDepth updates the pending-queue depth gauge.
func (c *Collector) SetQueueDepth(depth int) {
	c.queueDepth.Set(float64(depth))
}

// ObserveAllocationPass records the duration of one allocation pass.
func (c *Collector) ObserveAllocationPass(d time.Duration) {
	c.allocationDuration.Observe(d.Seconds())
}

// SetAgentLoad updates the load gauge for an agent.
func (c *Collector) SetAgentLoad(agentID string, load float64) {
	c.agentLoad.WithLabelValues(agentID).Set(load)
}

// SetAgentsRegistered updates the registered-agent gauge.
func (c *Collector) SetAgentsRegistered(n int) {
	c.agentsRegistered.Set(float64(n))
}

// RecordWorkflowStarted records a workflow creation.
func (c *Collector) RecordWorkflowStarted() {
	c.workflowsStarted.Inc()
}

// RecordWorkflowFinished records a workflow reaching a terminal status.
func (c *Collector) RecordWorkflowFinished(status string) {
	c.workflowsFinished.WithLabelValues(status).Inc()
}

// RecordStepDispatched records a workflow step submitted as a task.
func (c *Collector) RecordStepDispatched() {
	c.stepsDispatched.Inc()
}

// RecordMessageDispatched records a bus message dispatch.
func (c *Collector) RecordMessageDispatched(kind string) {
	c.messagesDispatched.WithLabelValues(kind).Inc()
}
