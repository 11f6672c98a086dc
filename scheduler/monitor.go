package scheduler

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/questweaver/questweaver/types"
)

// RunMonitor sweeps for timed-out tasks and unresponsive agents until ctx is
// cancelled. Each sweep failure frees the assigned agent's slot and
// re-triggers allocation through the normal Fail path.
func (s *Scheduler) RunMonitor(ctx context.Context) {
	ticker := time.NewTicker(s.opts.MonitorInterval)
	defer ticker.Stop()

	s.logger.Info("scheduler monitor started",
		zap.Duration("interval", s.opts.MonitorInterval),
		zap.Duration("heartbeat_stale_after", s.opts.HeartbeatStaleAfter),
	)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler monitor stopped")
			return
		case <-ticker.C:
			s.sweep(time.Now())
		}
	}
}

// sweep fails every IN_PROGRESS task that exceeded its timeout or whose
// assigned agent's heartbeat went stale. A bad task never halts the sweep.
func (s *Scheduler) sweep(now time.Time) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error("monitor sweep panicked", zap.Any("recover", r))
		}
	}()

	type failure struct {
		taskID string
		reason string
	}
	var failures []failure

	s.mu.Lock()
	for _, task := range s.tasks {
		if task.Status != types.TaskInProgress {
			continue
		}
		if task.Timeout > 0 && now.Sub(task.StartedAt) > task.Timeout {
			failures = append(failures, failure{taskID: task.ID, reason: reasonTimeout})
			continue
		}
		if task.AssignedAgent == "" {
			continue
		}
		if agent, ok := s.agents[task.AssignedAgent]; ok {
			if now.Sub(agent.LastHeartbeat) > s.opts.HeartbeatStaleAfter {
				failures = append(failures, failure{taskID: task.ID, reason: reasonUnresponsive})
			}
		}
	}
	s.mu.Unlock()

	for _, f := range failures {
		s.logger.Warn("monitor failing task",
			zap.String("task_id", f.taskID),
			zap.String("reason", f.reason),
		)
		s.Fail(f.taskID, f.reason)
	}
}
