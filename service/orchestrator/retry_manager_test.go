package orchestrator

import (
	"context"
	"errors"
	"testing"
	"time"

	"explanation-service/service/errdef"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryManager_Backoff(t *testing.T) {
	manager := NewRetryManager(RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		Multiplier:     2,
		MaxBackoff:     5 * time.Second,
	})
	transient := errdef.Transientf("generation.request", "服务暂时不可用")

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 5 * time.Second},
		{5, 5 * time.Second},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, manager.Backoff(tt.attempt, transient), "attempt %d", tt.attempt)
	}
}

func TestRetryManager_BackoffHonoursRetryAfter(t *testing.T) {
	manager := NewRetryManager(RetryPolicy{
		MaxAttempts:    5,
		InitialBackoff: time.Second,
		Multiplier:     1.5,
		MaxBackoff:     5 * time.Second,
	})

	rateLimited := &errdef.Error{Kind: errdef.KindTransient, Op: "generation.request", Msg: "请求过于频繁", RetryAfter: 3 * time.Second}
	assert.Equal(t, 3*time.Second, manager.Backoff(1, rateLimited))

	rateLimited.RetryAfter = time.Minute
	assert.Equal(t, 5*time.Second, manager.Backoff(1, rateLimited))

	rateLimited.RetryAfter = 100 * time.Millisecond
	assert.Equal(t, 1500*time.Millisecond, manager.Backoff(2, rateLimited))
}

func TestRetryManager_ShouldRetry(t *testing.T) {
	manager := NewRetryManager(RetryPolicy{MaxAttempts: 3, InitialBackoff: time.Millisecond, Multiplier: 2, MaxBackoff: time.Second})

	assert.True(t, manager.ShouldRetry(1, errdef.Transientf("op", "超时")))
	assert.True(t, manager.ShouldRetry(2, errdef.Conflict("op", "版本冲突")))
	assert.True(t, manager.ShouldRetry(1, context.DeadlineExceeded))
	assert.False(t, manager.ShouldRetry(3, errdef.Transientf("op", "超时")))
	assert.False(t, manager.ShouldRetry(1, errdef.Validation("op", "条目不存在")))
	assert.False(t, manager.ShouldRetry(1, errdef.Configuration("op", "阈值越界")))
	assert.False(t, manager.ShouldRetry(1, errors.New("unknown")))
}

func TestRetryManager_WaitStopsOnCancel(t *testing.T) {
	manager := NewRetryManager(DefaultConfig.Retry)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, manager.Wait(ctx, time.Hour), context.Canceled)
	assert.NoError(t, manager.Wait(context.Background(), time.Millisecond))
}

func TestRetryPolicy_Validate(t *testing.T) {
	valid := DefaultConfig.Retry
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(p *RetryPolicy)
	}{
		{"最大尝试次数为0", func(p *RetryPolicy) { p.MaxAttempts = 0 }},
		{"初始退避为负", func(p *RetryPolicy) { p.InitialBackoff = -time.Second }},
		{"倍数小于1", func(p *RetryPolicy) { p.Multiplier = 0.5 }},
		{"上限小于初始退避", func(p *RetryPolicy) { p.MaxBackoff = time.Millisecond }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := valid
			tt.mutate(&policy)
			err := policy.Validate()
			require.Error(t, err)
			assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(err))
		})
	}
}

func TestConfig_Validate(t *testing.T) {
	require.NoError(t, DefaultConfig.Validate())

	cfg := DefaultConfig
	cfg.QueueSize = 0
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(cfg.Validate()))

	cfg = DefaultConfig
	cfg.JobTimeout = 0
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(cfg.Validate()))

	cfg = DefaultConfig
	cfg.DefaultThreshold = 120
	assert.Equal(t, errdef.KindConfiguration, errdef.KindOf(cfg.Validate()))
}
