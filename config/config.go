// Package config loads questweaver configuration.
//
// Precedence: defaults, then YAML file, then environment variables with the
// QUESTWEAVER_ prefix.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/questweaver/questweaver/bus"
)

// Config is the complete questweaver configuration.
type Config struct {
	Bus       BusConfig       `yaml:"bus" env:"BUS"`
	Scheduler SchedulerConfig `yaml:"scheduler" env:"SCHEDULER"`
	Workflow  WorkflowConfig  `yaml:"workflow" env:"WORKFLOW"`
	Agent     AgentConfig     `yaml:"agent" env:"AGENT"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// BusConfig tunes the message bus.
type BusConfig struct {
	// QueueSize bounds the ingress queue; sends beyond it are rejected.
	QueueSize int `yaml:"queue_size" env:"QUEUE_SIZE"`
	// HistoryCapacity bounds the in-memory delivery log.
	HistoryCapacity int `yaml:"history_capacity" env:"HISTORY_CAPACITY"`
	// RequestTimeout is the default wait for a correlated response.
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT"`
	// DeliveryRate throttles dispatch, in messages per second. Zero disables
	// the throttle.
	DeliveryRate float64 `yaml:"delivery_rate" env:"DELIVERY_RATE"`
	// DeliveryBurst is the throttle's burst allowance.
	DeliveryBurst int `yaml:"delivery_burst" env:"DELIVERY_BURST"`
}

// SchedulerConfig tunes task admission and monitoring.
type SchedulerConfig struct {
	// AdmissionCapacity bounds the pending queue. Zero means unbounded.
	AdmissionCapacity int `yaml:"admission_capacity" env:"ADMISSION_CAPACITY"`
	// MonitorInterval is the sweep period for timeouts and stale agents.
	MonitorInterval time.Duration `yaml:"monitor_interval" env:"MONITOR_INTERVAL"`
	// HeartbeatStaleAfter is the heartbeat age past which an agent's tasks
	// are failed.
	HeartbeatStaleAfter time.Duration `yaml:"heartbeat_stale_after" env:"HEARTBEAT_STALE_AFTER"`
}

// WorkflowConfig tunes the workflow engine's stall monitor.
type WorkflowConfig struct {
	StallInterval time.Duration `yaml:"stall_interval" env:"STALL_INTERVAL"`
	StallAfter    time.Duration `yaml:"stall_after" env:"STALL_AFTER"`
}

// AgentConfig tunes hosted agent runtimes.
type AgentConfig struct {
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval" env:"HEARTBEAT_INTERVAL"`
}

// RedisConfig configures the optional redis-backed message history.
type RedisConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Addr      string `yaml:"addr" env:"ADDR"`
	Password  string `yaml:"password" env:"PASSWORD"`
	DB        int    `yaml:"db" env:"DB"`
	PoolSize  int    `yaml:"pool_size" env:"POOL_SIZE"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	Capacity  int    `yaml:"capacity" env:"CAPACITY"`
}

// HistoryConfig converts to the bus package's redis history config.
func (r RedisConfig) HistoryConfig() bus.RedisHistoryConfig {
	return bus.RedisHistoryConfig{
		Addr:      r.Addr,
		Password:  r.Password,
		DB:        r.DB,
		PoolSize:  r.PoolSize,
		KeyPrefix: r.KeyPrefix,
		Capacity:  r.Capacity,
	}
}

// LogConfig configures zap.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level" env:"LEVEL"`
	// Format is json or console.
	Format string `yaml:"format" env:"FORMAT"`
}

// TelemetryConfig configures trace export.
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
}

// Default returns the configuration used when nothing is specified.
func Default() *Config {
	redisDefaults := bus.DefaultRedisHistoryConfig()
	return &Config{
		Bus: BusConfig{
			QueueSize:       1024,
			HistoryCapacity: 1000,
			RequestTimeout:  30 * time.Second,
		},
		Scheduler: SchedulerConfig{
			MonitorInterval:     5 * time.Second,
			HeartbeatStaleAfter: 60 * time.Second,
		},
		Workflow: WorkflowConfig{
			StallInterval: 10 * time.Second,
			StallAfter:    time.Hour,
		},
		Agent: AgentConfig{
			HeartbeatInterval: 15 * time.Second,
		},
		Redis: RedisConfig{
			Addr:      redisDefaults.Addr,
			PoolSize:  redisDefaults.PoolSize,
			KeyPrefix: redisDefaults.KeyPrefix,
			Capacity:  redisDefaults.Capacity,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Telemetry: TelemetryConfig{
			ServiceName: "questweaver",
			SampleRate:  1.0,
		},
	}
}

// Validate reports every invalid field at once.
func (c *Config) Validate() error {
	var errs []string

	if c.Bus.QueueSize <= 0 {
		errs = append(errs, "bus.queue_size must be positive")
	}
	if c.Bus.HistoryCapacity <= 0 {
		errs = append(errs, "bus.history_capacity must be positive")
	}
	if c.Bus.RequestTimeout <= 0 {
		errs = append(errs, "bus.request_timeout must be positive")
	}
	if c.Bus.DeliveryRate < 0 {
		errs = append(errs, "bus.delivery_rate must not be negative")
	}
	if c.Scheduler.AdmissionCapacity < 0 {
		errs = append(errs, "scheduler.admission_capacity must not be negative")
	}
	if c.Scheduler.MonitorInterval <= 0 {
		errs = append(errs, "scheduler.monitor_interval must be positive")
	}
	if c.Scheduler.HeartbeatStaleAfter <= 0 {
		errs = append(errs, "scheduler.heartbeat_stale_after must be positive")
	}
	if c.Workflow.StallInterval <= 0 {
		errs = append(errs, "workflow.stall_interval must be positive")
	}
	if c.Agent.HeartbeatInterval <= 0 {
		errs = append(errs, "agent.heartbeat_interval must be positive")
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, "redis.addr required when redis is enabled")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q not one of debug, info, warn, error", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q not one of json, console", c.Log.Format))
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be within [0, 1]")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}
	return nil
}
