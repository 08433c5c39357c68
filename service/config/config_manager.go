/*
 * @module service/config/config_manager
 * @description 配置管理，负责配置加载、环境变量覆盖和配置验证
 * @architecture 分层架构 - 基础设施层
 * @stateFlow 默认配置 -> 配置文件(CONFIG_PATH) -> 环境变量覆盖 -> 配置验证
 * @rules 配置非法时启动失败，不做静默修正；未指定配置文件时使用默认配置
 * @dependencies gopkg.in/yaml.v3, github.com/spf13/cast
 * @refs main.go, service/init.go
 */

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"explanation-service/service/errdef"
	"explanation-service/service/event"
	"explanation-service/service/improvement"
	"explanation-service/service/orchestrator"
	"explanation-service/service/quality"
	"explanation-service/service/scheduler"
)

// 数据库驱动
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Config 应用配置
type Config struct {
	App          AppConfig           `json:"app" yaml:"app"`
	Server       ServerConfig        `json:"server" yaml:"server"`
	Database     DatabaseConfig      `json:"database" yaml:"database"`
	Redis        RedisConfig         `json:"redis" yaml:"redis"`
	Generation   GenerationConfig    `json:"generation" yaml:"generation"`
	RateLimit    RateLimitConfig     `json:"rate_limit" yaml:"rate_limit"`
	Quality      quality.Config      `json:"quality" yaml:"quality"`
	Improvement  improvement.Config  `json:"improvement" yaml:"improvement"`
	Orchestrator orchestrator.Config `json:"orchestrator" yaml:"orchestrator"`
	Scheduler    SchedulerConfig     `json:"scheduler" yaml:"scheduler"`
	Events       EventsConfig        `json:"events" yaml:"events"`
	Logging      LoggingConfig       `json:"logging" yaml:"logging"`
}

// AppConfig 应用配置
type AppConfig struct {
	Name     string `json:"name" yaml:"name"`
	Version  string `json:"version" yaml:"version"`
	Timezone string `json:"timezone" yaml:"timezone"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	Port        int    `json:"port" yaml:"port"`
	BaseContext string `json:"base_context" yaml:"base_context"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	Driver       string `json:"driver" yaml:"driver"` // postgres, sqlite, memory
	DSN          string `json:"dsn" yaml:"dsn"`       // 设置后优先于分离的连接参数
	Host         string `json:"host" yaml:"host"`
	Port         int    `json:"port" yaml:"port"`
	Database     string `json:"database" yaml:"database"`
	Username     string `json:"username" yaml:"username"`
	Password     string `json:"password" yaml:"password"`
	SSLMode      string `json:"ssl_mode" yaml:"ssl_mode"`
	Schema       string `json:"schema" yaml:"schema"`
	MaxOpenConns int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns int    `json:"max_idle_conns" yaml:"max_idle_conns"`
}

// BuildDSN 生成连接字符串
func (d DatabaseConfig) BuildDSN(timezone string) string {
	if d.DSN != "" {
		return d.DSN
	}
	if d.Driver == DriverSQLite {
		return "explanation.db"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s search_path=%s TimeZone=%s",
		d.Host, d.Port, d.Username, d.Password, d.Database, d.SSLMode, d.Schema, timezone)
}

// RedisConfig Redis配置，启用后条目锁和生成限流跨实例生效
type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Host     string `json:"host" yaml:"host"`
	Port     int    `json:"port" yaml:"port"`
	Password string `json:"password" yaml:"password"`
	DB       int    `json:"db" yaml:"db"`
}

// Addr Redis地址
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// GenerationConfig 生成服务配置
type GenerationConfig struct {
	Provider  string        `json:"provider" yaml:"provider"`
	APIFormat string        `json:"api_format" yaml:"api_format"`
	APIKey    string        `json:"-" yaml:"api_key"`
	Model     string        `json:"model" yaml:"model"`
	BaseURL   string        `json:"base_url" yaml:"base_url"`
	Timeout   time.Duration `json:"timeout" yaml:"timeout"`
}

// RateLimitConfig 生成服务限流配置
type RateLimitConfig struct {
	RequestsPerSecond float64       `json:"requests_per_second" yaml:"requests_per_second"`
	Burst             int           `json:"burst" yaml:"burst"`
	MaxConcurrent     int           `json:"max_concurrent" yaml:"max_concurrent"`
	DefaultBackoff    time.Duration `json:"default_backoff" yaml:"default_backoff"`
	WindowSeconds     int           `json:"window_seconds" yaml:"window_seconds"`           // Redis窗口配额，仅启用Redis时生效
	WindowMaxRequests int           `json:"window_max_requests" yaml:"window_max_requests"` // 0 表示不启用窗口配额
}

// SchedulerConfig 调度配置
type SchedulerConfig struct {
	Enabled     bool                `json:"enabled" yaml:"enabled"`
	UseDefaults bool                `json:"use_defaults" yaml:"use_defaults"` // 合并默认触发器，同名时以配置为准
	Triggers    []scheduler.Trigger `json:"triggers" yaml:"triggers"`
}

// EffectiveTriggers 返回最终生效的触发器
func (s SchedulerConfig) EffectiveTriggers() []scheduler.Trigger {
	if !s.UseDefaults {
		return s.Triggers
	}
	configured := make(map[string]bool, len(s.Triggers))
	for _, trigger := range s.Triggers {
		configured[trigger.Name] = true
	}
	triggers := make([]scheduler.Trigger, 0, len(s.Triggers)+3)
	for _, trigger := range scheduler.DefaultTriggers() {
		if !configured[trigger.Name] {
			triggers = append(triggers, trigger)
		}
	}
	return append(triggers, s.Triggers...)
}

// EventsConfig 事件配置
type EventsConfig struct {
	Kafka event.KafkaConfig `json:"kafka" yaml:"kafka"`
}

// LoggingConfig 日志配置
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`   // debug, info, warn, error
	Format string `json:"format" yaml:"format"` // json, text
}

// Default 默认配置
func Default() *Config {
	return &Config{
		App: AppConfig{
			Name:     "explanation-service",
			Version:  "1.0.0",
			Timezone: "Asia/Shanghai",
		},
		Server: ServerConfig{Port: 80},
		Database: DatabaseConfig{
			Driver:       DriverPostgres,
			Host:         "localhost",
			Port:         5432,
			Database:     "postgres",
			Username:     "postgres",
			SSLMode:      "disable",
			Schema:       "public",
			MaxOpenConns: 20,
			MaxIdleConns: 5,
		},
		Redis: RedisConfig{
			Host: "localhost",
			Port: 6379,
		},
		Generation: GenerationConfig{
			Provider: "groq",
			Timeout:  60 * time.Second,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 2,
			Burst:             4,
			MaxConcurrent:     4,
			DefaultBackoff:    30 * time.Second,
			WindowSeconds:     60,
		},
		Quality:      quality.DefaultConfig,
		Improvement:  improvement.DefaultConfig,
		Orchestrator: orchestrator.DefaultConfig,
		Scheduler: SchedulerConfig{
			Enabled:     true,
			UseDefaults: true,
		},
		Events: EventsConfig{
			Kafka: event.KafkaConfig{
				Topic:        "explanation.jobs",
				RequiredAcks: 1,
				BatchTimeout: 10 * time.Millisecond,
				WriteTimeout: 10 * time.Second,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load 加载配置：默认配置，CONFIG_PATH 或 path 指定的文件，再应用环境变量覆盖
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path != "" {
		if err := loadConfigFromFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyEnvironmentOverrides(cfg, os.LookupEnv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFromFile 按扩展名解析配置文件，文件中未出现的字段保留默认值
func loadConfigFromFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errdef.Configuration("config.load", "读取配置文件失败: %v", err)
	}

	switch ext := strings.ToLower(filepath.Ext(path)); ext {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".json":
		err = json.Unmarshal(data, cfg)
	default:
		return errdef.Configuration("config.load", "不支持的配置文件格式: %s", ext)
	}
	if err != nil {
		return errdef.Configuration("config.load", "解析配置文件失败: %v", err)
	}
	return nil
}

// applyEnvironmentOverrides 应用环境变量覆盖
func applyEnvironmentOverrides(cfg *Config, lookup func(string) (string, bool)) {
	str := func(key string, target *string) {
		if v, ok := lookup(key); ok && v != "" {
			*target = v
		}
	}
	integer := func(key string, target *int) {
		if v, ok := lookup(key); ok && v != "" {
			*target = cast.ToInt(v)
		}
	}
	boolean := func(key string, target *bool) {
		if v, ok := lookup(key); ok && v != "" {
			*target = cast.ToBool(v)
		}
	}

	integer("LISTEN_PORT", &cfg.Server.Port)
	str("BASE_CONTEXT", &cfg.Server.BaseContext)
	str("TZ_NAME", &cfg.App.Timezone)

	str("DATABASE_DRIVER", &cfg.Database.Driver)
	str("DATABASE_URL", &cfg.Database.DSN)
	str("DB_HOST", &cfg.Database.Host)
	integer("DB_PORT", &cfg.Database.Port)
	str("DB_USER", &cfg.Database.Username)
	str("DB_PASSWORD", &cfg.Database.Password)
	str("DB_NAME", &cfg.Database.Database)
	str("DB_SSLMODE", &cfg.Database.SSLMode)
	str("DB_SCHEMA", &cfg.Database.Schema)

	boolean("REDIS_ENABLED", &cfg.Redis.Enabled)
	if v, ok := lookup("REDIS_HOST"); ok && v != "" {
		cfg.Redis.Host = v
		if _, explicit := lookup("REDIS_ENABLED"); !explicit {
			cfg.Redis.Enabled = true
		}
	}
	integer("REDIS_PORT", &cfg.Redis.Port)
	str("REDIS_PASSWORD", &cfg.Redis.Password)
	integer("REDIS_DB", &cfg.Redis.DB)

	str("LLM_PROVIDER", &cfg.Generation.Provider)
	str("LLM_API_FORMAT", &cfg.Generation.APIFormat)
	str("LLM_API_KEY", &cfg.Generation.APIKey)
	str("LLM_MODEL", &cfg.Generation.Model)
	str("LLM_BASE_URL", &cfg.Generation.BaseURL)
	if v, ok := lookup("LLM_TIMEOUT"); ok && v != "" {
		cfg.Generation.Timeout = cast.ToDuration(v)
	}
	if v, ok := lookup("LLM_REQUESTS_PER_SECOND"); ok && v != "" {
		cfg.RateLimit.RequestsPerSecond = cast.ToFloat64(v)
	}
	integer("LLM_MAX_CONCURRENT", &cfg.RateLimit.MaxConcurrent)

	if v, ok := lookup("QUALITY_THRESHOLD"); ok && v != "" {
		cfg.Orchestrator.DefaultThreshold = cast.ToFloat64(v)
	}
	integer("MAX_ITERATIONS", &cfg.Orchestrator.DefaultMaxIterations)
	integer("WORKERS", &cfg.Orchestrator.Workers)

	boolean("SCHEDULER_ENABLED", &cfg.Scheduler.Enabled)

	if v, ok := lookup("KAFKA_BROKERS"); ok && v != "" {
		brokers := make([]string, 0)
		for _, broker := range strings.Split(v, ",") {
			if broker = strings.TrimSpace(broker); broker != "" {
				brokers = append(brokers, broker)
			}
		}
		cfg.Events.Kafka.Brokers = brokers
		cfg.Events.Kafka.Enabled = len(brokers) > 0
	}
	str("KAFKA_TOPIC", &cfg.Events.Kafka.Topic)

	str("LOG_LEVEL", &cfg.Logging.Level)
	str("LOG_FORMAT", &cfg.Logging.Format)
}

// Validate 验证配置
func (c *Config) Validate() error {
	op := "config.validate"

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return errdef.Configuration(op, "服务器端口无效: %d", c.Server.Port)
	}
	if _, err := time.LoadLocation(c.App.Timezone); err != nil {
		return errdef.Configuration(op, "时区无效: %s", c.App.Timezone)
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.DSN == "" && c.Database.Host == "" {
			return errdef.Configuration(op, "数据库主机不能为空")
		}
		if c.Database.DSN == "" && (c.Database.Port <= 0 || c.Database.Port > 65535) {
			return errdef.Configuration(op, "数据库端口无效: %d", c.Database.Port)
		}
	case DriverSQLite, DriverMemory:
	default:
		return errdef.Configuration(op, "不支持的数据库驱动: %s", c.Database.Driver)
	}

	if c.Redis.Enabled && (c.Redis.Host == "" || c.Redis.Port <= 0) {
		return errdef.Configuration(op, "Redis地址无效: %s", c.Redis.Addr())
	}

	if c.Generation.Provider == "" {
		return errdef.Configuration(op, "生成服务商不能为空")
	}
	if c.Generation.Timeout <= 0 {
		return errdef.Configuration(op, "生成服务超时时间必须大于0")
	}

	if c.RateLimit.RequestsPerSecond <= 0 || c.RateLimit.Burst < 1 || c.RateLimit.MaxConcurrent < 1 {
		return errdef.Configuration(op, "限流配置无效: rps=%v burst=%d concurrent=%d",
			c.RateLimit.RequestsPerSecond, c.RateLimit.Burst, c.RateLimit.MaxConcurrent)
	}
	if c.RateLimit.WindowMaxRequests < 0 || (c.RateLimit.WindowMaxRequests > 0 && c.RateLimit.WindowSeconds < 1) {
		return errdef.Configuration(op, "窗口配额配置无效")
	}

	if c.Quality.Precision < 0 || c.Quality.MinSectionChars < 0 ||
		c.Quality.MaxSectionChars < c.Quality.MinSectionChars ||
		c.Quality.FloorRatio < 0 || c.Quality.FloorRatio > 1 {
		return errdef.Configuration(op, "质量评估配置无效")
	}

	if err := c.Orchestrator.Validate(); err != nil {
		return err
	}

	names := make(map[string]bool)
	for _, trigger := range c.Scheduler.EffectiveTriggers() {
		if names[trigger.Name] {
			return errdef.Configuration(op, "触发器名称重复: %s", trigger.Name)
		}
		names[trigger.Name] = true
		if err := trigger.Validate(); err != nil {
			return err
		}
	}

	if c.Events.Kafka.Enabled && (len(c.Events.Kafka.Brokers) == 0 || c.Events.Kafka.Topic == "") {
		return errdef.Configuration(op, "启用Kafka时必须配置brokers和topic")
	}

	switch c.Logging.Level {
	case "debug", "info", "warn", "error":
	default:
		return errdef.Configuration(op, "日志级别无效: %s", c.Logging.Level)
	}
	switch c.Logging.Format {
	case "json", "text":
	default:
		return errdef.Configuration(op, "日志格式无效: %s", c.Logging.Format)
	}
	return nil
}

// Location 调度使用的时区
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.App.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}
