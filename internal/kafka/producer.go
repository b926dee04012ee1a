// Package kafka wraps the segmentio/kafka-go writer used by the audit
// sink for verdict and alert topics.
package kafka

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/segmentio/kafka-go"

	"gatekeep/internal/config"
)

// ErrProducerClosed is returned by Produce calls after Close.
var ErrProducerClosed = fmt.Errorf("kafka: producer is closed")

// Metrics is a point-in-time snapshot of producer counters.
type Metrics struct {
	MessagesProduced int64
	BytesProduced    int64
	Errors           int64
}

// Producer sends messages to the verdict and alert topics. The topic
// is chosen per message; one writer serves both.
type Producer struct {
	writer *kafka.Writer
	logger *slog.Logger
	closed atomic.Bool

	messagesProduced atomic.Int64
	bytesProduced    atomic.Int64
	errors           atomic.Int64
}

// NewProducer creates a producer for the configured brokers.
func NewProducer(cfg config.KafkaConfig, logger *slog.Logger) (*Producer, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: at least one broker is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	writer := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Balancer:     &kafka.LeastBytes{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		WriteTimeout: cfg.WriteTimeout,
		RequiredAcks: kafka.RequiredAcks(cfg.RequiredAcks),
		Logger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Debug(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
		ErrorLogger: kafka.LoggerFunc(func(msg string, args ...interface{}) {
			logger.Error(fmt.Sprintf(msg, args...), "component", "kafka-writer")
		}),
	}

	logger.Info("kafka producer initialized",
		"brokers", cfg.Brokers,
		"verdict_topic", cfg.VerdictTopic,
		"alert_topic", cfg.AlertTopic)

	return &Producer{writer: writer, logger: logger}, nil
}

// Produce sends one message to the given topic.
func (p *Producer) Produce(ctx context.Context, topic string, key, value []byte) error {
	if p.closed.Load() {
		return ErrProducerClosed
	}

	err := p.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   key,
		Value: value,
		Time:  time.Now(),
	})
	if err != nil {
		p.errors.Add(1)
		return fmt.Errorf("kafka: produce to %s: %w", topic, err)
	}

	p.messagesProduced.Add(1)
	p.bytesProduced.Add(int64(len(key) + len(value)))
	return nil
}

// ProduceJSON marshals the value to JSON and sends it.
func (p *Producer) ProduceJSON(ctx context.Context, topic, key string, value interface{}) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("kafka: failed to marshal message: %w", err)
	}
	return p.Produce(ctx, topic, []byte(key), data)
}

// GetMetrics returns current producer counters.
func (p *Producer) GetMetrics() Metrics {
	return Metrics{
		MessagesProduced: p.messagesProduced.Load(),
		BytesProduced:    p.bytesProduced.Load(),
		Errors:           p.errors.Load(),
	}
}

// Close flushes buffered messages and closes the writer.
func (p *Producer) Close() error {
	if p.closed.Swap(true) {
		return nil
	}

	p.logger.Info("closing kafka producer",
		"messages_produced", p.messagesProduced.Load(),
		"bytes_produced", p.bytesProduced.Load())

	if err := p.writer.Close(); err != nil {
		return fmt.Errorf("kafka: failed to close producer: %w", err)
	}
	return nil
}
