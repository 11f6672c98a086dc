package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Validates(t *testing.T) {
	t.Parallel()
	require.NoError(t, Default().Validate())
}

func TestLoader_DefaultsWithoutFile(t *testing.T) {
	t.Parallel()
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 1024, cfg.Bus.QueueSize)
	assert.Equal(t, 30*time.Second, cfg.Bus.RequestTimeout)
	assert.Equal(t, 5*time.Second, cfg.Scheduler.MonitorInterval)
	assert.Equal(t, time.Hour, cfg.Workflow.StallAfter)
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)
}

func TestLoader_MissingFileFallsBackToDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := NewLoader().WithConfigPath("/nonexistent/questweaver.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 1024, cfg.Bus.QueueSize)
}

func TestLoader_YAMLOverridesDefaults(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "questweaver.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
bus:
  queue_size: 64
  request_timeout: 5s
scheduler:
  admission_capacity: 200
  heartbeat_stale_after: 90s
redis:
  enabled: true
  addr: redis.local:6379
log:
  level: debug
  format: console
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 64, cfg.Bus.QueueSize)
	assert.Equal(t, 5*time.Second, cfg.Bus.RequestTimeout)
	assert.Equal(t, 200, cfg.Scheduler.AdmissionCapacity)
	assert.Equal(t, 90*time.Second, cfg.Scheduler.HeartbeatStaleAfter)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.local:6379", cfg.Redis.Addr)
	assert.Equal(t, "debug", cfg.Log.Level)
	// Untouched sections keep their defaults.
	assert.Equal(t, 15*time.Second, cfg.Agent.HeartbeatInterval)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "questweaver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus:\n  queue_size: 64\n"), 0o644))

	t.Setenv("QUESTWEAVER_BUS_QUEUE_SIZE", "256")
	t.Setenv("QUESTWEAVER_SCHEDULER_MONITOR_INTERVAL", "2s")
	t.Setenv("QUESTWEAVER_TELEMETRY_ENABLED", "true")
	t.Setenv("QUESTWEAVER_TELEMETRY_SAMPLE_RATE", "0.25")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 256, cfg.Bus.QueueSize)
	assert.Equal(t, 2*time.Second, cfg.Scheduler.MonitorInterval)
	assert.True(t, cfg.Telemetry.Enabled)
	assert.InDelta(t, 0.25, cfg.Telemetry.SampleRate, 1e-9)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("QW_LOG_LEVEL", "warn")
	cfg, err := NewLoader().WithEnvPrefix("QW").Load()
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_MalformedYAML(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "questweaver.yaml")
	require.NoError(t, os.WriteFile(path, []byte("bus: [not a map"), 0o644))
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
}

func TestLoader_ExtraValidatorRuns(t *testing.T) {
	t.Parallel()
	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Scheduler.AdmissionCapacity == 0 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	require.Error(t, err)
}

func TestValidate_CollectsAllErrors(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Bus.QueueSize = 0
	cfg.Log.Level = "loud"
	cfg.Telemetry.SampleRate = 3

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bus.queue_size")
	assert.Contains(t, err.Error(), "log.level")
	assert.Contains(t, err.Error(), "telemetry.sample_rate")
}

func TestValidate_RedisEnabledNeedsAddr(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = ""
	require.Error(t, cfg.Validate())
}

func TestRedisConfig_HistoryConfig(t *testing.T) {
	t.Parallel()
	cfg := Default()
	cfg.Redis.Addr = "redis.local:6379"
	cfg.Redis.Capacity = 500

	hc := cfg.Redis.HistoryConfig()
	assert.Equal(t, "redis.local:6379", hc.Addr)
	assert.Equal(t, 500, hc.Capacity)
	assert.Equal(t, cfg.Redis.KeyPrefix, hc.KeyPrefix)
}
