/*
 * @module service/rate_limiter/gate
 * @description 生成服务访问闸门：进程内共享的并发上限 + 令牌桶，支持429退避
 * @architecture 工具层 - 提供限流能力
 * @stateFlow 等待退避期结束 -> 获取并发槽位 -> 等待令牌 -> 调用 -> 释放槽位
 * @rules 所有工作协程共享同一闸门；闸门只做背压，不做重试
 * @dependencies golang.org/x/time/rate
 * @refs service/generation/gated_client.go
 */

package rate_limiter

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Gate 生成服务访问闸门
type Gate interface {
	// Acquire 阻塞直到允许发起一次请求，返回的 release 必须调用
	Acquire(ctx context.Context) (release func(), err error)
	// RecordRateLimited 记录服务端限流，在退避期内暂停放行
	RecordRateLimited(retryAfter time.Duration)
}

// GateConfig 闸门配置
type GateConfig struct {
	RequestsPerSecond float64
	Burst             int
	MaxConcurrent     int
	DefaultBackoff    time.Duration // 服务端未给出 Retry-After 时的退避时间
}

// DefaultGateConfig 默认闸门配置
var DefaultGateConfig = GateConfig{
	RequestsPerSecond: 2.0,
	Burst:             4,
	MaxConcurrent:     4,
	DefaultBackoff:    30 * time.Second,
}

// LocalGate 进程内闸门
type LocalGate struct {
	limiter        *rate.Limiter
	slots          chan struct{}
	defaultBackoff time.Duration

	mu      sync.Mutex
	retryAt time.Time
}

// NewLocalGate 创建进程内闸门
func NewLocalGate(cfg GateConfig) *LocalGate {
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = DefaultGateConfig.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = 1
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 1
	}
	if cfg.DefaultBackoff <= 0 {
		cfg.DefaultBackoff = DefaultGateConfig.DefaultBackoff
	}

	return &LocalGate{
		limiter:        rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		slots:          make(chan struct{}, cfg.MaxConcurrent),
		defaultBackoff: cfg.DefaultBackoff,
	}
}

// Acquire 获取一次请求许可
func (g *LocalGate) Acquire(ctx context.Context) (func(), error) {
	if err := g.waitBackoff(ctx); err != nil {
		return nil, err
	}

	select {
	case g.slots <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err := g.limiter.Wait(ctx); err != nil {
		<-g.slots
		return nil, err
	}

	var once sync.Once
	return func() {
		once.Do(func() { <-g.slots })
	}, nil
}

// RecordRateLimited 记录限流并设置退避期
func (g *LocalGate) RecordRateLimited(retryAfter time.Duration) {
	if retryAfter <= 0 {
		retryAfter = g.defaultBackoff
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	until := time.Now().Add(retryAfter)
	if until.After(g.retryAt) {
		g.retryAt = until
	}
}

// InFlight 当前占用的并发槽位数
func (g *LocalGate) InFlight() int {
	return len(g.slots)
}

func (g *LocalGate) waitBackoff(ctx context.Context) error {
	g.mu.Lock()
	retryAt := g.retryAt
	g.mu.Unlock()

	if !time.Now().Before(retryAt) {
		return nil
	}

	timer := time.NewTimer(time.Until(retryAt))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
