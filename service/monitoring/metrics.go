/*
 * @module service/monitoring/metrics
 * @description 质量流水线的Prometheus指标：任务、重试、评估分数、改进迭代、生成服务调用
 * @architecture 监控层
 * @stateFlow 组件埋点 -> 默认注册表 -> /metrics 暴露
 * @rules 标签取值固定且有限，不使用条目ID作为标签
 * @dependencies github.com/prometheus/client_golang
 * @refs main.go
 */

package monitoring

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsTotal 终态任务计数
	JobsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "explanation",
		Name:      "jobs_total",
		Help:      "按任务类型和终态统计的任务数",
	}, []string{"kind", "status"})

	// JobAttemptsTotal 任务尝试计数
	JobAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "explanation",
		Name:      "job_attempts_total",
		Help:      "按任务类型和结果统计的执行尝试次数",
	}, []string{"kind", "outcome"})

	// JobDuration 任务耗时
	JobDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "explanation",
		Name:      "job_duration_seconds",
		Help:      "任务从开始执行到终态的耗时",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"kind"})

	// QueueDepth 队列深度
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "explanation",
		Name:      "job_queue_depth",
		Help:      "等待执行的任务数",
	})

	// EvaluationScore 评估总分分布
	EvaluationScore = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "explanation",
		Name:      "evaluation_score",
		Help:      "质量评估总分分布",
		Buckets:   prometheus.LinearBuckets(0, 10, 11),
	})

	// EvaluationErrors 评估失败计数
	EvaluationErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "explanation",
		Name:      "evaluation_errors_total",
		Help:      "按错误类型统计的评估失败次数",
	}, []string{"kind"})

	// ImprovementIterations 改进迭代次数分布
	ImprovementIterations = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "explanation",
		Name:      "improvement_iterations",
		Help:      "单次改进实际运行的迭代次数",
		Buckets:   prometheus.LinearBuckets(0, 1, 11),
	})

	// ImprovementDelta 改进分数变化分布
	ImprovementDelta = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "explanation",
		Name:      "improvement_delta",
		Help:      "改进前后分数差值",
		Buckets:   prometheus.LinearBuckets(-50, 10, 11),
	})

	// ImprovementRegressions 改进后分数下降计数
	ImprovementRegressions = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "explanation",
		Name:      "improvement_regressions_total",
		Help:      "接受了分数下降候选版本的迭代次数",
	})

	// GenerationRequests 生成服务调用计数
	GenerationRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "explanation",
		Name:      "generation_requests_total",
		Help:      "按结果统计的生成服务调用次数",
	}, []string{"outcome"})

	// GenerationLatency 生成服务调用耗时
	GenerationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "explanation",
		Name:      "generation_latency_seconds",
		Help:      "生成服务调用耗时（不含闸门等待）",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})

	// GateWait 闸门等待耗时
	GateWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "explanation",
		Name:      "generation_gate_wait_seconds",
		Help:      "等待生成服务闸门放行的耗时",
		Buckets:   prometheus.ExponentialBuckets(0.001, 4, 10),
	})

	// SchedulerFirings 定时触发计数
	SchedulerFirings = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "explanation",
		Name:      "scheduler_firings_total",
		Help:      "按触发器和结果统计的定时触发次数",
	}, []string{"trigger", "outcome"})
)
