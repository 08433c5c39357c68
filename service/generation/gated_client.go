package generation

import (
	"context"
	"errors"
	"time"

	"explanation-service/service/errdef"
	"explanation-service/service/monitoring"
	"explanation-service/service/rate_limiter"
)

// GatedClient 所有工作协程共享的限流客户端
type GatedClient struct {
	inner Client
	gate  rate_limiter.Gate
}

// NewGatedClient 用闸门包装生成客户端
func NewGatedClient(inner Client, gate rate_limiter.Gate) *GatedClient {
	return &GatedClient{inner: inner, gate: gate}
}

// Generate 获取闸门许可后调用生成服务
func (c *GatedClient) Generate(ctx context.Context, prompt Prompt, schema *ResponseSchema) (*Result, error) {
	waitStart := time.Now()
	release, err := c.gate.Acquire(ctx)
	if err != nil {
		monitoring.GenerationRequests.WithLabelValues("gate_timeout").Inc()
		// 闸门等待超时按瞬时错误处理
		return nil, errdef.Transient("generation.gate", err)
	}
	defer release()
	monitoring.GateWait.Observe(time.Since(waitStart).Seconds())

	start := time.Now()
	result, err := c.inner.Generate(ctx, prompt, schema)
	monitoring.GenerationLatency.Observe(time.Since(start).Seconds())

	if err != nil {
		if retryAfter := errdef.RetryAfterOf(err); retryAfter > 0 || isRateLimited(err) {
			c.gate.RecordRateLimited(retryAfter)
			monitoring.GenerationRequests.WithLabelValues("rate_limited").Inc()
		} else {
			monitoring.GenerationRequests.WithLabelValues(string(errdef.KindOf(err))).Inc()
		}
		return nil, err
	}

	monitoring.GenerationRequests.WithLabelValues("ok").Inc()
	return result, nil
}

func isRateLimited(err error) bool {
	var typed *errdef.Error
	return errors.As(err, &typed) && typed.Op == "generation.rate_limited"
}
