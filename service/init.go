/*
 * @module service/init
 * @description 服务初始化模块，负责数据库连接、Redis、生成客户端、编排器与调度器的组装
 * @architecture 分层架构 - 服务层
 * @stateFlow 加载配置 -> 打开存储 -> 组装评估/改进/编排 -> 启动编排器 -> 启动调度器
 * @rules 确保所有依赖服务正常启动后才提供API服务；未启用数据库或Redis时退化为进程内实现
 * @dependencies gorm.io/gorm, github.com/go-redis/redis/v8
 * @refs service/config/config_manager.go, main.go
 */

package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"explanation-service/service/config"
	"explanation-service/service/content_store"
	"explanation-service/service/database"
	"explanation-service/service/distributed_lock"
	"explanation-service/service/event"
	"explanation-service/service/generation"
	"explanation-service/service/improvement"
	"explanation-service/service/orchestrator"
	"explanation-service/service/quality"
	"explanation-service/service/rate_limiter"
	"explanation-service/service/scheduler"

	"github.com/go-redis/redis/v8"
	"gorm.io/gorm"
)

var (
	DB                      *gorm.DB
	RedisClient             *redis.Client
	GlobalConfig            *config.Config
	GlobalContentStore      content_store.ContentStore
	GlobalGenerationClient  generation.Client
	GlobalEvaluator         *quality.QualityEvaluator
	GlobalImprovementEngine *improvement.Engine
	GlobalPublisher         event.Publisher
	GlobalOrchestrator      *orchestrator.Orchestrator
	GlobalSchedulerService  *scheduler.SchedulerService
)

// Options 初始化选项
type Options struct {
	StartScheduler bool // 命令行单次执行时不启动调度器
}

// InitServices 初始化全部服务
func InitServices(ctx context.Context, cfg *config.Config, opts Options) error {
	GlobalConfig = cfg

	var err error
	DB, err = database.Open(cfg.Database, cfg.App.Timezone, cfg.Logging.Level)
	if err != nil {
		return err
	}

	if cfg.Redis.Enabled {
		if err := initRedis(ctx, cfg.Redis); err != nil {
			return err
		}
	}

	client, err := newGenerationClient(cfg)
	if err != nil {
		return err
	}
	GlobalGenerationClient = client

	GlobalPublisher, err = newPublisher(cfg.Events.Kafka)
	if err != nil {
		return err
	}

	GlobalEvaluator = quality.NewQualityEvaluator(GlobalGenerationClient, cfg.Quality)
	GlobalImprovementEngine = improvement.NewEngine(GlobalEvaluator, GlobalGenerationClient, cfg.Improvement)

	var jobs orchestrator.JobStore
	if DB != nil {
		GlobalContentStore = content_store.NewGormStore(DB)
		jobs = orchestrator.NewGormJobStore(DB)
	} else {
		GlobalContentStore = content_store.NewMemoryStore()
		jobs = orchestrator.NewMemoryJobStore()
	}

	var lock distributed_lock.DistributedLock = distributed_lock.NewLocalLock()
	if RedisClient != nil {
		lock = distributed_lock.NewRedisLock(RedisClient)
	}

	GlobalOrchestrator, err = orchestrator.New(cfg.Orchestrator, orchestrator.Dependencies{
		Store:     GlobalContentStore,
		Jobs:      jobs,
		Evaluator: GlobalEvaluator,
		Improver:  GlobalImprovementEngine,
		Lock:      lock,
		Publisher: GlobalPublisher,
	})
	if err != nil {
		return err
	}
	if err := GlobalOrchestrator.Start(ctx); err != nil {
		return err
	}

	GlobalSchedulerService = scheduler.NewSchedulerService(GlobalOrchestrator, cfg.Scheduler.EffectiveTriggers(), cfg.Location())
	if opts.StartScheduler && cfg.Scheduler.Enabled {
		if err := GlobalSchedulerService.Start(); err != nil {
			return err
		}
	}

	slog.Info("服务初始化完成",
		"database", cfg.Database.Driver,
		"redis", RedisClient != nil,
		"kafka", cfg.Events.Kafka.Enabled,
		"scheduler", opts.StartScheduler && cfg.Scheduler.Enabled)
	return nil
}

// initRedis 初始化Redis连接
func initRedis(ctx context.Context, cfg config.RedisConfig) error {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr(),
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("Redis连接失败: %w", err)
	}

	RedisClient = client
	slog.Info("Redis连接成功", "addr", cfg.Addr())
	return nil
}

// newGenerationClient 创建带限流闸门的生成客户端
func newGenerationClient(cfg *config.Config) (generation.Client, error) {
	llm, err := generation.NewLLMClient(cfg.Generation.Provider, cfg.Generation.APIKey,
		generation.WithModel(cfg.Generation.Model),
		generation.WithBaseURL(cfg.Generation.BaseURL),
		generation.WithAPIFormat(cfg.Generation.APIFormat),
		generation.WithTimeout(cfg.Generation.Timeout),
	)
	if err != nil {
		return nil, err
	}

	local := rate_limiter.NewLocalGate(rate_limiter.GateConfig{
		RequestsPerSecond: cfg.RateLimit.RequestsPerSecond,
		Burst:             cfg.RateLimit.Burst,
		MaxConcurrent:     cfg.RateLimit.MaxConcurrent,
		DefaultBackoff:    cfg.RateLimit.DefaultBackoff,
	})

	var gate rate_limiter.Gate = local
	if RedisClient != nil && cfg.RateLimit.WindowMaxRequests > 0 {
		gate = rate_limiter.NewRedisGate(local, rate_limiter.NewRedisRateLimiter(RedisClient), []rate_limiter.RateLimitRule{
			{
				Type:        rate_limiter.RuleTypeModel,
				TargetID:    llm.Model(),
				TimeWindow:  cfg.RateLimit.WindowSeconds,
				MaxRequests: cfg.RateLimit.WindowMaxRequests,
			},
		})
		slog.Info("启用跨实例生成限流", "model", llm.Model(),
			"window_seconds", cfg.RateLimit.WindowSeconds, "max_requests", cfg.RateLimit.WindowMaxRequests)
	}

	return generation.NewGatedClient(llm, gate), nil
}

// newPublisher 创建任务事件发布器
func newPublisher(cfg event.KafkaConfig) (event.Publisher, error) {
	if !cfg.Enabled {
		return event.NewLogPublisher(), nil
	}
	publisher, err := event.NewKafkaPublisher(cfg)
	if err != nil {
		return nil, err
	}
	slog.Info("任务事件发布到Kafka", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return publisher, nil
}

// Ready 检查依赖是否可用
func Ready(ctx context.Context) error {
	if GlobalOrchestrator == nil {
		return fmt.Errorf("服务尚未初始化")
	}
	if DB != nil {
		sqlDB, err := DB.DB()
		if err != nil {
			return err
		}
		if err := sqlDB.PingContext(ctx); err != nil {
			return fmt.Errorf("数据库不可用: %w", err)
		}
	}
	if RedisClient != nil {
		if err := RedisClient.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("Redis不可用: %w", err)
		}
	}
	return nil
}

// Shutdown 按启动的逆序停止服务
func Shutdown() {
	if GlobalSchedulerService != nil {
		GlobalSchedulerService.Stop()
	}
	if GlobalOrchestrator != nil {
		GlobalOrchestrator.Stop()
	}
	if GlobalPublisher != nil {
		if err := GlobalPublisher.Close(); err != nil {
			slog.Warn("关闭事件发布器失败", "error", err)
		}
	}
	if RedisClient != nil {
		if err := RedisClient.Close(); err != nil {
			slog.Warn("关闭Redis连接失败", "error", err)
		}
	}
	if DB != nil {
		if sqlDB, err := DB.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	DB, RedisClient = nil, nil
	GlobalOrchestrator, GlobalSchedulerService, GlobalPublisher = nil, nil, nil
	slog.Info("服务已停止")
}
