// Package mq 提供 Kafka 生产者封装
package mq

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"
)

// KafkaConfig Kafka 配置
type KafkaConfig struct {
	Brokers      []string
	MaxRetries   int
	RetryBackoff int // 毫秒
	WriteTimeout int // 秒
}

// MessageWriter kafka.Writer 的最小接口，便于测试替换
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaProducer Kafka 生产者
type KafkaProducer struct {
	writer MessageWriter
	log    *slog.Logger
}

// NewProducer 创建 Kafka 生产者
func NewProducer(cfg KafkaConfig, log *slog.Logger) (*KafkaProducer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka brokers not configured")
	}
	maxAttempts := cfg.MaxRetries
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	backoff := time.Duration(cfg.RetryBackoff) * time.Millisecond
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	writeTimeout := time.Duration(cfg.WriteTimeout) * time.Second
	if writeTimeout <= 0 {
		writeTimeout = 10 * time.Second
	}

	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Balancer:               &kafka.Hash{},
		AllowAutoTopicCreation: true,
		Compression:            kafka.Gzip,
		RequiredAcks:           kafka.RequireAll,
		MaxAttempts:            maxAttempts,
		WriteBackoffMin:        backoff,
		WriteBackoffMax:        backoff * 10,
		WriteTimeout:           writeTimeout,
	}

	p := NewProducerWithWriter(writer, log)
	p.log.Info("kafka producer created", "brokers", cfg.Brokers)
	return p, nil
}

// NewProducerWithWriter 使用指定 writer 构建生产者
func NewProducerWithWriter(writer MessageWriter, log *slog.Logger) *KafkaProducer {
	if log == nil {
		log = slog.Default()
	}
	return &KafkaProducer{writer: writer, log: log}
}

// SendMessage 以 JSON 编码发送单条消息，同一 key 落在同一分区
func (kp *KafkaProducer) SendMessage(ctx context.Context, topic, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}

	msg := kafka.Message{
		Topic: topic,
		Key:   []byte(key),
		Value: data,
		Time:  time.Now(),
	}
	if err := kp.writer.WriteMessages(ctx, msg); err != nil {
		kp.log.ErrorContext(ctx, "failed to send kafka message", "topic", topic, "key", key, "error", err)
		return err
	}

	kp.log.DebugContext(ctx, "kafka message sent", "topic", topic, "key", key)
	return nil
}

// Close 关闭生产者
func (kp *KafkaProducer) Close() error {
	return kp.writer.Close()
}
