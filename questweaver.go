// Package questweaver wires the orchestration core into one runnable system:
// message bus, task scheduler, workflow engine, and hosted agent runtimes.
//
// Usage:
//
//	cfg := config.Default()
//	sys, err := questweaver.NewSystem(cfg, logger)
//	sys.Host(narrator)
//	sys.Host(combatResolver)
//	err = sys.Run(ctx) // blocks until ctx is cancelled
package questweaver

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/questweaver/questweaver/agent"
	"github.com/questweaver/questweaver/bus"
	"github.com/questweaver/questweaver/config"
	"github.com/questweaver/questweaver/internal/metrics"
	"github.com/questweaver/questweaver/internal/telemetry"
	"github.com/questweaver/questweaver/scheduler"
	"github.com/questweaver/questweaver/types"
	"github.com/questweaver/questweaver/workflow"
)

// System is the assembled orchestration core. Bus, Scheduler, and Engine are
// exported for direct use; Host attaches agents.
type System struct {
	Bus       *bus.Bus
	Scheduler *scheduler.Scheduler
	Engine    *workflow.Engine

	cfg       *config.Config
	metrics   *metrics.Collector
	telemetry *telemetry.Providers
	logger    *zap.Logger

	mu       sync.Mutex
	runtimes []*agent.Runtime
	running  bool
}

// NewSystem assembles a System from configuration. Metrics register on reg;
// pass nil for the default prometheus registry.
func NewSystem(cfg *config.Config, logger *zap.Logger, reg prometheus.Registerer) (*System, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	providers, err := telemetry.Init(telemetry.Config{
		Enabled:      cfg.Telemetry.Enabled,
		ServiceName:  cfg.Telemetry.ServiceName,
		OTLPEndpoint: cfg.Telemetry.OTLPEndpoint,
		SampleRate:   cfg.Telemetry.SampleRate,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("init telemetry: %w", err)
	}

	collector := metrics.NewCollector("questweaver", reg, logger)

	busOpts := bus.Options{
		QueueSize:       cfg.Bus.QueueSize,
		HistoryCapacity: cfg.Bus.HistoryCapacity,
		RequestTimeout:  cfg.Bus.RequestTimeout,
		DeliveryRate:    cfg.Bus.DeliveryRate,
		DeliveryBurst:   cfg.Bus.DeliveryBurst,
	}
	if cfg.Redis.Enabled {
		sink, err := bus.NewRedisHistory(cfg.Redis.HistoryConfig(), logger)
		if err != nil {
			return nil, fmt.Errorf("connect redis history: %w", err)
		}
		busOpts.Sink = sink
	}
	mbus := bus.New(busOpts, logger)
	mbus.SetMetrics(collector)

	sched := scheduler.New(mbus, scheduler.Options{
		AdmissionCapacity:   cfg.Scheduler.AdmissionCapacity,
		MonitorInterval:     cfg.Scheduler.MonitorInterval,
		HeartbeatStaleAfter: cfg.Scheduler.HeartbeatStaleAfter,
	}, logger)
	sched.SetMetrics(collector)

	engine := workflow.New(sched, workflow.Options{
		StallInterval: cfg.Workflow.StallInterval,
		StallAfter:    cfg.Workflow.StallAfter,
	}, logger)
	engine.SetMetrics(collector)
	sched.SetListener(engine)

	return &System{
		Bus:       mbus,
		Scheduler: sched,
		Engine:    engine,
		cfg:       cfg,
		metrics:   collector,
		telemetry: providers,
		logger:    logger.With(zap.String("component", "system")),
	}, nil
}

// Host attaches an executor to the system: it is registered with the
// scheduler and subscribed on the bus immediately; its heartbeat loop starts
// with Run. Host must be called before Run.
func (s *System) Host(executor agent.Executor) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return types.NewError(types.ErrCodeInternal, "cannot host agents after Run")
	}
	rt := agent.NewRuntime(executor, s.Bus, s.Scheduler, agent.Options{
		HeartbeatInterval: s.cfg.Agent.HeartbeatInterval,
	}, s.logger)
	if err := rt.Start(); err != nil {
		return err
	}
	s.runtimes = append(s.runtimes, rt)
	return nil
}

// Run starts bus dispatch, the scheduler monitor, the workflow stall monitor,
// and every hosted agent's heartbeat loop, then blocks until ctx is
// cancelled. The bus and telemetry are shut down on the way out.
func (s *System) Run(ctx context.Context) error {
	s.mu.Lock()
	s.running = true
	runtimes := s.runtimes
	s.mu.Unlock()
	s.logger.Info("system starting", zap.Int("agents", len(runtimes)))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		s.Bus.Run(gctx)
		return nil
	})
	g.Go(func() error {
		s.Scheduler.RunMonitor(gctx)
		return nil
	})
	g.Go(func() error {
		s.Engine.RunStallMonitor(gctx)
		return nil
	})
	for _, rt := range runtimes {
		rt := rt
		g.Go(func() error {
			rt.Run(gctx)
			return nil
		})
	}

	err := g.Wait()

	if closeErr := s.Bus.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	if s.telemetry != nil {
		if tErr := s.telemetry.Shutdown(context.Background()); tErr != nil && err == nil {
			err = tErr
		}
	}
	s.logger.Info("system stopped")
	return err
}

// NewLogger builds a zap logger from the log configuration.
func NewLogger(cfg config.LogConfig) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.Format == "console" {
		zcfg = zap.NewDevelopmentConfig()
	} else {
		zcfg = zap.NewProductionConfig()
	}
	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("parse log level: %w", err)
	}
	zcfg.Level = level
	return zcfg.Build()
}
