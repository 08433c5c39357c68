/*
 * @module service/event/event_service
 * @description 任务事件发布：任务进入终态(成功/失败)时发布事件，供监控和下游消费
 * @architecture 事件驱动架构 - 适配器模式，封装Kafka生产者
 * @stateFlow 任务终态 -> 构建事件 -> 序列化 -> 发送到topic
 * @rules 发布失败只记录日志，不影响任务终态；消息key为条目ID，保证同一条目的事件有序
 * @dependencies github.com/segmentio/kafka-go, encoding/json
 * @refs service/orchestrator/orchestrator.go
 */

package event

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// 事件类型
const (
	EventJobSucceeded = "job.succeeded"
	EventJobFailed    = "job.failed"
)

// JobEvent 任务终态事件
type JobEvent struct {
	Type      string                 `json:"type"`
	JobID     string                 `json:"job_id"`
	Kind      string                 `json:"kind"`
	ItemID    string                 `json:"item_id,omitempty"`
	Status    string                 `json:"status"`
	Attempts  int                    `json:"attempts"`
	ErrorKind string                 `json:"error_kind,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Result    map[string]interface{} `json:"result,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

// Publisher 事件发布接口
type Publisher interface {
	Publish(ctx context.Context, event *JobEvent) error
	Close() error
}

// KafkaConfig Kafka发布配置
type KafkaConfig struct {
	Enabled      bool          `json:"enabled" yaml:"enabled"`
	Brokers      []string      `json:"brokers" yaml:"brokers"`
	Topic        string        `json:"topic" yaml:"topic"`
	RequiredAcks int           `json:"required_acks" yaml:"required_acks"`
	Async        bool          `json:"async" yaml:"async"`
	BatchTimeout time.Duration `json:"batch_timeout" yaml:"batch_timeout"`
	WriteTimeout time.Duration `json:"write_timeout" yaml:"write_timeout"`
}

// messageWriter kafka.Writer 的最小接口
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaPublisher Kafka事件发布器
type KafkaPublisher struct {
	writer       messageWriter
	topic        string
	writeTimeout time.Duration
}

// NewKafkaPublisher 创建Kafka事件发布器
func NewKafkaPublisher(cfg KafkaConfig) (*KafkaPublisher, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("Kafka brokers 未配置")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("Kafka topic 未配置")
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.LeastBytes{},
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Async:        cfg.Async,
	}
	if cfg.BatchTimeout > 0 {
		writer.BatchTimeout = cfg.BatchTimeout
	}

	slog.Info("Kafka事件发布器已创建", "brokers", cfg.Brokers, "topic", cfg.Topic)
	return newKafkaPublisher(writer, cfg.Topic, cfg.WriteTimeout), nil
}

func newKafkaPublisher(writer messageWriter, topic string, writeTimeout time.Duration) *KafkaPublisher {
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}
	return &KafkaPublisher{writer: writer, topic: topic, writeTimeout: writeTimeout}
}

// Publish 发送事件
func (p *KafkaPublisher) Publish(ctx context.Context, event *JobEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("序列化事件失败: %w", err)
	}

	key := event.ItemID
	if key == "" {
		key = event.JobID
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  event.Timestamp,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Type)},
			{Key: "job_kind", Value: []byte(event.Kind)},
		},
	}

	writeCtx, cancel := context.WithTimeout(ctx, p.writeTimeout)
	defer cancel()

	if err := p.writer.WriteMessages(writeCtx, msg); err != nil {
		return fmt.Errorf("发送事件失败: %w", err)
	}

	slog.Debug("事件已发送", "topic", p.topic, "type", event.Type, "job_id", event.JobID)
	return nil
}

// Close 关闭生产者
func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

// LogPublisher 只记录日志的事件发布器，未配置Kafka时使用
type LogPublisher struct{}

// NewLogPublisher 创建日志事件发布器
func NewLogPublisher() *LogPublisher {
	return &LogPublisher{}
}

// Publish 记录事件
func (p *LogPublisher) Publish(ctx context.Context, event *JobEvent) error {
	level := slog.LevelInfo
	if event.Type == EventJobFailed {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "任务事件",
		"type", event.Type,
		"job_id", event.JobID,
		"kind", event.Kind,
		"item_id", event.ItemID,
		"attempts", event.Attempts,
		"error_kind", event.ErrorKind,
		"error", event.Error)
	return nil
}

// Close 无需释放资源
func (p *LogPublisher) Close() error {
	return nil
}
