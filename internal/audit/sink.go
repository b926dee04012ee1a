// Package audit delivers every finalized verdict to a durable sink.
package audit

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"gatekeep/internal/config"
	"gatekeep/internal/kafka"
	"gatekeep/internal/schema"
)

// Sink records verdicts. Every SecurityEvent ends in exactly one
// Record call; a sink must tolerate duplicates on retry.
type Sink interface {
	Record(ctx context.Context, verdict *schema.Verdict) error
	Close() error
}

// memoryCapacity bounds the in-memory sink so long-running tests and
// single-instance deployments do not grow without limit.
const memoryCapacity = 10000

// MemorySink keeps verdicts in a bounded ring. Suitable for tests and
// single-instance deployments without Kafka.
type MemorySink struct {
	mu       sync.RWMutex
	verdicts []*schema.Verdict
	next     int
	total    int64
}

// NewMemorySink creates an in-memory sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{}
}

// Record stores the verdict, evicting the oldest at capacity.
func (m *MemorySink) Record(ctx context.Context, verdict *schema.Verdict) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.verdicts) < memoryCapacity {
		m.verdicts = append(m.verdicts, verdict)
	} else {
		m.verdicts[m.next] = verdict
		m.next = (m.next + 1) % memoryCapacity
	}
	m.total++
	return nil
}

// Recent returns up to n of the most recently recorded verdicts,
// newest first.
func (m *MemorySink) Recent(n int) []*schema.Verdict {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if n > len(m.verdicts) {
		n = len(m.verdicts)
	}
	out := make([]*schema.Verdict, 0, n)
	idx := m.next + len(m.verdicts) - 1
	for i := 0; i < n; i++ {
		out = append(out, m.verdicts[(idx-i)%len(m.verdicts)])
	}
	return out
}

// Total returns the number of verdicts recorded over the sink's life.
func (m *MemorySink) Total() int64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.total
}

// Close is a no-op for the memory sink.
func (m *MemorySink) Close() error { return nil }

// KafkaSink publishes verdicts to the configured verdict topic keyed
// by subject, so one subject's verdicts stay ordered per partition.
type KafkaSink struct {
	producer *kafka.Producer
	topic    string
	logger   *slog.Logger
}

// NewKafkaSink creates a sink over an existing producer.
func NewKafkaSink(producer *kafka.Producer, cfg config.KafkaConfig, logger *slog.Logger) *KafkaSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &KafkaSink{
		producer: producer,
		topic:    cfg.VerdictTopic,
		logger:   logger,
	}
}

// Record publishes the verdict.
func (k *KafkaSink) Record(ctx context.Context, verdict *schema.Verdict) error {
	if err := k.producer.ProduceJSON(ctx, k.topic, verdict.Subject.Key, verdict); err != nil {
		return fmt.Errorf("audit: record verdict %s: %w", verdict.VerdictID, err)
	}
	return nil
}

// Close closes the underlying producer.
func (k *KafkaSink) Close() error {
	return k.producer.Close()
}
