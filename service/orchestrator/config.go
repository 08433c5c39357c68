package orchestrator

import (
	"time"

	"explanation-service/service/errdef"
	"explanation-service/service/improvement"
)

// Config 编排器配置
type Config struct {
	Workers              int           `json:"workers" yaml:"workers"`
	QueueSize            int           `json:"queue_size" yaml:"queue_size"`
	JobTimeout           time.Duration `json:"job_timeout" yaml:"job_timeout"` // 单次尝试的超时时间
	LockTTL              time.Duration `json:"lock_ttl" yaml:"lock_ttl"`
	LockRetryInterval    time.Duration `json:"lock_retry_interval" yaml:"lock_retry_interval"` // 条目被占用时重新入队的间隔
	PollInterval         time.Duration `json:"poll_interval" yaml:"poll_interval"`
	Retry                RetryPolicy   `json:"retry" yaml:"retry"`
	DefaultThreshold     float64       `json:"default_threshold" yaml:"default_threshold"`
	DefaultMaxIterations int           `json:"default_max_iterations" yaml:"default_max_iterations"`
}

// DefaultConfig 默认编排器配置
var DefaultConfig = Config{
	Workers:           4,
	QueueSize:         1000,
	JobTimeout:        5 * time.Minute,
	LockTTL:           10 * time.Minute,
	LockRetryInterval: 2 * time.Second,
	PollInterval:      200 * time.Millisecond,
	Retry: RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: 2 * time.Second,
		Multiplier:     2.0,
		MaxBackoff:     5 * time.Minute,
	},
	DefaultThreshold:     70,
	DefaultMaxIterations: 3,
}

// Validate 校验配置，不做静默修正
func (c Config) Validate() error {
	if c.Workers < 1 {
		return errdef.Configuration("orchestrator.config", "工作协程数必须大于0: %d", c.Workers)
	}
	if c.QueueSize < 1 {
		return errdef.Configuration("orchestrator.config", "队列容量必须大于0: %d", c.QueueSize)
	}
	if c.JobTimeout <= 0 {
		return errdef.Configuration("orchestrator.config", "任务超时时间必须大于0")
	}
	if c.LockTTL <= 0 || c.LockRetryInterval <= 0 || c.PollInterval <= 0 {
		return errdef.Configuration("orchestrator.config", "锁过期时间、锁重试间隔和轮询间隔必须大于0")
	}
	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return improvement.ValidateBounds(c.DefaultThreshold, c.DefaultMaxIterations)
}
