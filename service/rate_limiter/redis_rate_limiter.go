/*
 * @module service/rate_limiter/redis_rate_limiter
 * @description 基于Redis的跨实例生成服务限流，支持全局和按模型两层窗口配额
 * @architecture 工具层 - 提供分布式限流能力
 * @stateFlow 检查限流规则 -> Redis计数 -> 判断是否超限 -> 闸门等待窗口重置
 * @rules 使用Redis INCR和EXPIRE实现固定窗口限流；任何一层超限即拒绝
 * @dependencies github.com/go-redis/redis/v8
 * @refs service/rate_limiter/gate.go, service/init.go
 */

package rate_limiter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"explanation-service/service/errdef"

	"github.com/go-redis/redis/v8"
)

// 限流层级
const (
	RuleTypeGlobal = "global"
	RuleTypeModel  = "model"
)

// RateLimitResult 限流检查结果
type RateLimitResult struct {
	Allowed       bool   `json:"allowed"`    // 是否允许请求
	Limit         int    `json:"limit"`      // 限制数量
	Remaining     int    `json:"remaining"`  // 剩余数量
	ResetAt       int64  `json:"reset_at"`   // 重置时间（Unix时间戳）
	RateLimitType string `json:"limit_type"` // 限流类型：global/model
	Message       string `json:"message"`    // 提示信息
}

// RateLimitRule 限流规则
type RateLimitRule struct {
	Type        string // global/model
	TargetID    string // 模型名称，全局时为空
	TimeWindow  int    // 时间窗口（秒）
	MaxRequests int    // 最大请求数
}

// RedisRateLimiter Redis限流器
type RedisRateLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisRateLimiter 创建Redis限流器
func NewRedisRateLimiter(client *redis.Client) *RedisRateLimiter {
	return &RedisRateLimiter{
		client: client,
		prefix: "explanation:rate_limit",
	}
}

// 使用Lua脚本实现原子性限流检查
var rateLimitScript = redis.NewScript(`
	local key = KEYS[1]
	local max_requests = tonumber(ARGV[1])
	local window = tonumber(ARGV[2])

	local current = redis.call('GET', key)
	if current == false then
		current = 0
	else
		current = tonumber(current)
	end

	if current >= max_requests then
		local ttl = redis.call('TTL', key)
		if ttl < 0 then
			ttl = window
		end
		return {0, current, max_requests, ttl}
	end

	local new_count = redis.call('INCR', key)
	if new_count == 1 then
		redis.call('EXPIRE', key, window)
	end

	local ttl = redis.call('TTL', key)
	if ttl < 0 then
		ttl = window
	end

	return {1, new_count, max_requests, ttl}
`)

// CheckRateLimit 检查是否超过限流（按优先级检查：模型 -> 全局）
func (r *RedisRateLimiter) CheckRateLimit(ctx context.Context, rules []RateLimitRule) (*RateLimitResult, error) {
	sortedRules := sortRulesByPriority(rules)

	var last *RateLimitResult
	for _, rule := range sortedRules {
		result, err := r.checkSingleRule(ctx, rule)
		if err != nil {
			return nil, err
		}
		if !result.Allowed {
			return result, nil
		}
		last = result
	}

	if last != nil {
		return last, nil
	}

	return &RateLimitResult{
		Allowed:       true,
		Limit:         -1,
		Remaining:     -1,
		RateLimitType: "none",
		Message:       "无限流规则",
	}, nil
}

// checkSingleRule 检查单个限流规则
func (r *RedisRateLimiter) checkSingleRule(ctx context.Context, rule RateLimitRule) (*RateLimitResult, error) {
	if rule.TimeWindow <= 0 || rule.MaxRequests <= 0 {
		return nil, errdef.Configuration("rate_limiter.check", "限流规则非法: window=%d max=%d", rule.TimeWindow, rule.MaxRequests)
	}

	key := r.buildRateLimitKey(rule.Type, rule.TargetID, rule.TimeWindow)

	raw, err := rateLimitScript.Run(ctx, r.client, []string{key}, rule.MaxRequests, rule.TimeWindow).Result()
	if err != nil {
		return nil, errdef.Transient("rate_limiter.check", fmt.Errorf("限流检查失败: %w", err))
	}

	results, ok := raw.([]interface{})
	if !ok || len(results) != 4 {
		return nil, errdef.Transientf("rate_limiter.check", "限流脚本返回格式异常: %v", raw)
	}
	allowed := results[0].(int64) == 1
	currentCount := int(results[1].(int64))
	maxRequests := int(results[2].(int64))
	ttl := int(results[3].(int64))

	remaining := maxRequests - currentCount
	if remaining < 0 {
		remaining = 0
	}

	message := "允许请求"
	if !allowed {
		message = fmt.Sprintf("超过%s限流限制", getRateLimitTypeName(rule.Type))
	}

	return &RateLimitResult{
		Allowed:       allowed,
		Limit:         maxRequests,
		Remaining:     remaining,
		ResetAt:       time.Now().Add(time.Duration(ttl) * time.Second).Unix(),
		RateLimitType: rule.Type,
		Message:       message,
	}, nil
}

// buildRateLimitKey 构造限流Key
func (r *RedisRateLimiter) buildRateLimitKey(limitType, targetID string, window int) string {
	currentWindow := time.Now().Unix() / int64(window)
	if limitType == RuleTypeGlobal {
		return fmt.Sprintf("%s:%s:%d", r.prefix, limitType, currentWindow)
	}
	return fmt.Sprintf("%s:%s:%s:%d", r.prefix, limitType, targetID, currentWindow)
}

// ResetRateLimit 重置限流计数（仅用于测试或管理）
func (r *RedisRateLimiter) ResetRateLimit(ctx context.Context, rule RateLimitRule) error {
	key := r.buildRateLimitKey(rule.Type, rule.TargetID, rule.TimeWindow)
	return r.client.Del(ctx, key).Err()
}

// sortRulesByPriority 按优先级排序规则：model > global
func sortRulesByPriority(rules []RateLimitRule) []RateLimitRule {
	priority := map[string]int{
		RuleTypeModel:  2,
		RuleTypeGlobal: 1,
	}

	sorted := make([]RateLimitRule, len(rules))
	copy(sorted, rules)
	sort.SliceStable(sorted, func(i, j int) bool {
		return priority[sorted[i].Type] > priority[sorted[j].Type]
	})
	return sorted
}

// getRateLimitTypeName 获取限流类型名称
func getRateLimitTypeName(limitType string) string {
	switch limitType {
	case RuleTypeGlobal:
		return "全局"
	case RuleTypeModel:
		return "模型"
	default:
		return "未知"
	}
}

// RedisGate 跨实例闸门：本地并发与令牌桶之外，再叠加Redis窗口配额
type RedisGate struct {
	local        *LocalGate
	limiter      *RedisRateLimiter
	rules        []RateLimitRule
	pollInterval time.Duration
}

// NewRedisGate 创建跨实例闸门
func NewRedisGate(local *LocalGate, limiter *RedisRateLimiter, rules []RateLimitRule) *RedisGate {
	return &RedisGate{
		local:        local,
		limiter:      limiter,
		rules:        rules,
		pollInterval: time.Second,
	}
}

// Acquire 获取本地许可后等待Redis配额
func (g *RedisGate) Acquire(ctx context.Context) (func(), error) {
	release, err := g.local.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	for {
		result, err := g.limiter.CheckRateLimit(ctx, g.rules)
		if err != nil {
			release()
			return nil, err
		}
		if result.Allowed {
			return release, nil
		}

		wait := time.Until(time.Unix(result.ResetAt, 0))
		if wait <= 0 || wait > g.pollInterval {
			wait = g.pollInterval
		}
		slog.Debug("生成服务配额已用尽，等待窗口重置",
			"limit_type", result.RateLimitType,
			"limit", result.Limit,
			"wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			release()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// RecordRateLimited 记录服务端限流
func (g *RedisGate) RecordRateLimited(retryAfter time.Duration) {
	g.local.RecordRateLimited(retryAfter)
}
