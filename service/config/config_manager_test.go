package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"explanation-service/service/errdef"
	"explanation-service/service/models"
	"explanation-service/service/scheduler"
)

func envLookup(values map[string]string) func(string) (string, bool) {
	return func(key string) (string, bool) {
		v, ok := values[key]
		return v, ok
	}
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Len(t, cfg.Scheduler.EffectiveTriggers(), 3)
}

func TestLoad_FromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 8080
database:
  driver: sqlite
  dsn: "file::memory:?cache=shared"
orchestrator:
  workers: 8
  queue_size: 500
  job_timeout: 2m
  lock_ttl: 5m
  lock_retry_interval: 1s
  poll_interval: 100ms
  default_threshold: 80
  default_max_iterations: 2
  retry:
    max_attempts: 4
    initial_backoff: 500ms
    multiplier: 3
    max_backoff: 1m
scheduler:
  enabled: true
  use_defaults: true
  triggers:
    - name: weekly-improve
      cadence: weekly
      hour: 5
      weekday: 6
      job_kind: batch_improve
      filter:
        below_score: 60
        limit: 100
logging:
  level: debug
  format: text
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, DriverSQLite, cfg.Database.Driver)
	assert.Equal(t, "file::memory:?cache=shared", cfg.Database.BuildDSN(cfg.App.Timezone))
	assert.Equal(t, 8, cfg.Orchestrator.Workers)
	assert.Equal(t, 2*time.Minute, cfg.Orchestrator.JobTimeout)
	assert.Equal(t, 4, cfg.Orchestrator.Retry.MaxAttempts)
	assert.Equal(t, 3.0, cfg.Orchestrator.Retry.Multiplier)
	assert.Equal(t, 80.0, cfg.Orchestrator.DefaultThreshold)
	assert.Equal(t, "debug", cfg.Logging.Level)

	// 未出现在文件中的字段保留默认值
	assert.Equal(t, 2.0, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 0.6, cfg.Quality.FloorRatio)

	triggers := cfg.Scheduler.EffectiveTriggers()
	require.Len(t, triggers, 3)
	var weekly scheduler.Trigger
	for _, trigger := range triggers {
		if trigger.Name == "weekly-improve" {
			weekly = trigger
		}
	}
	assert.Equal(t, 5, weekly.Hour)
	assert.Equal(t, models.JobKindBatchImprove, weekly.JobKind)
	require.NotNil(t, weekly.Filter.BelowScore)
	assert.Equal(t, 60, *weekly.Filter.BelowScore)
}

func TestLoad_MissingOrInvalidFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte("a = 1"), 0o644))
	_, err = Load(path)
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))

	path = filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("orchestrator:\n  workers: 0\n"), 0o644))
	_, err = Load(path)
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))
}

func TestApplyEnvironmentOverrides(t *testing.T) {
	cfg := Default()
	applyEnvironmentOverrides(cfg, envLookup(map[string]string{
		"LISTEN_PORT":             "9090",
		"BASE_CONTEXT":            "/explanation",
		"DB_HOST":                 "db.internal",
		"DB_PORT":                 "6432",
		"REDIS_HOST":              "redis.internal",
		"LLM_PROVIDER":            "anthropic",
		"LLM_API_KEY":             "secret",
		"LLM_TIMEOUT":             "90s",
		"LLM_REQUESTS_PER_SECOND": "0.5",
		"QUALITY_THRESHOLD":       "75",
		"KAFKA_BROKERS":           "k1:9092, k2:9092",
		"SCHEDULER_ENABLED":       "false",
		"LOG_LEVEL":               "warn",
	}))

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "/explanation", cfg.Server.BaseContext)
	assert.Equal(t, "db.internal", cfg.Database.Host)
	assert.Equal(t, 6432, cfg.Database.Port)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal:6379", cfg.Redis.Addr())
	assert.Equal(t, "anthropic", cfg.Generation.Provider)
	assert.Equal(t, "secret", cfg.Generation.APIKey)
	assert.Equal(t, 90*time.Second, cfg.Generation.Timeout)
	assert.Equal(t, 0.5, cfg.RateLimit.RequestsPerSecond)
	assert.Equal(t, 75.0, cfg.Orchestrator.DefaultThreshold)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Events.Kafka.Brokers)
	assert.True(t, cfg.Events.Kafka.Enabled)
	assert.False(t, cfg.Scheduler.Enabled)
	assert.Equal(t, "warn", cfg.Logging.Level)
	require.NoError(t, cfg.Validate())

	assert.Contains(t, cfg.Database.BuildDSN(cfg.App.Timezone), "host=db.internal port=6432")
}

func TestApplyEnvironmentOverrides_RedisExplicitlyDisabled(t *testing.T) {
	cfg := Default()
	applyEnvironmentOverrides(cfg, envLookup(map[string]string{
		"REDIS_HOST":    "redis.internal",
		"REDIS_ENABLED": "false",
	}))
	assert.False(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis.internal", cfg.Redis.Host)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"端口无效", func(c *Config) { c.Server.Port = 0 }},
		{"时区无效", func(c *Config) { c.App.Timezone = "Mars/Olympus" }},
		{"未知数据库驱动", func(c *Config) { c.Database.Driver = "mysql" }},
		{"缺少数据库主机", func(c *Config) { c.Database.Host = "" }},
		{"缺少生成服务商", func(c *Config) { c.Generation.Provider = "" }},
		{"限流配置无效", func(c *Config) { c.RateLimit.MaxConcurrent = 0 }},
		{"地板比例越界", func(c *Config) { c.Quality.FloorRatio = 1.5 }},
		{"默认阈值越界", func(c *Config) { c.Orchestrator.DefaultThreshold = -1 }},
		{"退避倍数非法", func(c *Config) { c.Orchestrator.Retry.Multiplier = 0 }},
		{"触发器非法", func(c *Config) {
			c.Scheduler.Triggers = []scheduler.Trigger{{Name: "bad", Cadence: "hourly", JobKind: models.JobKindBatchCheck}}
		}},
		{"触发器重名", func(c *Config) {
			c.Scheduler.UseDefaults = false
			c.Scheduler.Triggers = append(scheduler.DefaultTriggers(), scheduler.DefaultTriggers()[0])
		}},
		{"Kafka缺少broker", func(c *Config) { c.Events.Kafka.Enabled = true }},
		{"日志级别无效", func(c *Config) { c.Logging.Level = "trace" }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))
		})
	}
}

func TestValidate_SQLiteNeedsNoHost(t *testing.T) {
	cfg := Default()
	cfg.Database.Driver = DriverSQLite
	cfg.Database.Host = ""
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "explanation.db", cfg.Database.BuildDSN(cfg.App.Timezone))
}
