/*
 * @module service/orchestrator/retry_manager
 * @description 重试策略：指数退避、上限截断、服务端 Retry-After 优先
 * @architecture 分层架构 - 任务调度层
 * @stateFlow 尝试失败 -> 判断可重试 -> 计算退避 -> 等待 -> 下一次尝试 | 重试耗尽
 * @rules 退避 = initial * multiplier^(n-1)，不超过 max_backoff；只有瞬时错误和冲突可重试
 * @dependencies service/errdef
 * @refs service/orchestrator/orchestrator.go
 */

package orchestrator

import (
	"context"
	"math"
	"time"

	"explanation-service/service/errdef"
)

// RetryPolicy 重试策略配置
type RetryPolicy struct {
	MaxAttempts    int           `json:"max_attempts" yaml:"max_attempts"`
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`
	Multiplier     float64       `json:"multiplier" yaml:"multiplier"`
	MaxBackoff     time.Duration `json:"max_backoff" yaml:"max_backoff"`
}

// Validate 校验重试策略
func (p RetryPolicy) Validate() error {
	if p.MaxAttempts < 1 {
		return errdef.Configuration("orchestrator.retry", "最大尝试次数必须大于0: %d", p.MaxAttempts)
	}
	if p.InitialBackoff < 0 {
		return errdef.Configuration("orchestrator.retry", "初始退避时间不能为负: %s", p.InitialBackoff)
	}
	if p.Multiplier < 1 {
		return errdef.Configuration("orchestrator.retry", "退避倍数不能小于1: %v", p.Multiplier)
	}
	if p.MaxBackoff < p.InitialBackoff {
		return errdef.Configuration("orchestrator.retry", "最大退避时间不能小于初始退避时间: %s < %s", p.MaxBackoff, p.InitialBackoff)
	}
	return nil
}

// RetryManager 重试管理器
type RetryManager struct {
	policy RetryPolicy
}

// NewRetryManager 创建重试管理器实例
func NewRetryManager(policy RetryPolicy) *RetryManager {
	return &RetryManager{policy: policy}
}

// ShouldRetry 判断第 attempt 次尝试失败后是否需要重试
func (r *RetryManager) ShouldRetry(attempt int, err error) bool {
	return errdef.IsRetryable(err) && attempt < r.policy.MaxAttempts
}

// Backoff 第 attempt 次尝试失败后的等待时间
func (r *RetryManager) Backoff(attempt int, err error) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	delay := float64(r.policy.InitialBackoff) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if delay > float64(r.policy.MaxBackoff) {
		delay = float64(r.policy.MaxBackoff)
	}
	backoff := time.Duration(delay)

	// 服务端要求的等待时间优先，但同样受上限约束
	if retryAfter := errdef.RetryAfterOf(err); retryAfter > backoff {
		backoff = retryAfter
		if backoff > r.policy.MaxBackoff {
			backoff = r.policy.MaxBackoff
		}
	}
	return backoff
}

// Wait 等待退避时间，上下文取消时提前返回错误
func (r *RetryManager) Wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
