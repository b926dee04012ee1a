// Package response applies verdict side effects: quarantine inserts
// and alert emission. Side effects run only after a verdict is final
// and are idempotent for a given verdict.
package response

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"gatekeep/internal/kafka"
	"gatekeep/internal/pipeline"
	"gatekeep/internal/quarantine"
	"gatekeep/internal/schema"
)

// appliedCapacity bounds the dedup set of already-applied verdicts.
const appliedCapacity = 10000

// Alert is the record emitted for escalated verdicts.
type Alert struct {
	VerdictID      uuid.UUID             `json:"verdict_id"`
	Subject        schema.Subject        `json:"subject"`
	RiskScore      float64               `json:"risk_score"`
	Classification schema.Classification `json:"classification"`
	Action         schema.Action         `json:"action"`
	Reason         string                `json:"reason,omitempty"`
	CreatedAt      time.Time             `json:"created_at"`
}

// AlertEmitter delivers escalation alerts.
type AlertEmitter interface {
	Emit(ctx context.Context, alert *Alert) error
}

// LogEmitter writes alerts to the structured log. Default when no
// Kafka alert topic is configured.
type LogEmitter struct {
	logger *slog.Logger
}

// NewLogEmitter creates a log-backed alert emitter.
func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

// Emit logs the alert.
func (l *LogEmitter) Emit(ctx context.Context, alert *Alert) error {
	l.logger.Warn("security alert",
		"verdict_id", alert.VerdictID,
		"subject", alert.Subject.Key,
		"risk_score", alert.RiskScore,
		"classification", alert.Classification,
		"action", alert.Action,
		"reason", alert.Reason)
	return nil
}

// KafkaEmitter publishes alerts to the alert topic keyed by subject.
type KafkaEmitter struct {
	producer *kafka.Producer
	topic    string
}

// NewKafkaEmitter creates a Kafka-backed alert emitter.
func NewKafkaEmitter(producer *kafka.Producer, topic string) *KafkaEmitter {
	return &KafkaEmitter{producer: producer, topic: topic}
}

// Emit publishes the alert.
func (k *KafkaEmitter) Emit(ctx context.Context, alert *Alert) error {
	if err := k.producer.ProduceJSON(ctx, k.topic, alert.Subject.Key, alert); err != nil {
		return fmt.Errorf("response: emit alert for %s: %w", alert.VerdictID, err)
	}
	return nil
}

// IntegrityAlert builds the alert emitted when a stored detection rule
// fails its checksum check. It carries its own ID since no verdict is
// involved.
func IntegrityAlert(ruleID, reason string) *Alert {
	return &Alert{
		VerdictID: uuid.New(),
		Reason:    fmt.Sprintf("rule integrity failure: %s: %s", ruleID, reason),
		CreatedAt: time.Now(),
	}
}

// Executor carries out verdict side effects. Re-applying the same
// verdict is a no-op: the quarantine insert is extend-only at the
// store level and the alert is deduplicated by verdict ID here.
type Executor struct {
	quarantine quarantine.Store
	alerts     AlertEmitter
	logger     *slog.Logger

	mu      sync.Mutex
	applied map[uuid.UUID]struct{}
	order   []uuid.UUID
}

// NewExecutor creates a response executor.
func NewExecutor(qstore quarantine.Store, alerts AlertEmitter, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	if alerts == nil {
		alerts = NewLogEmitter(logger)
	}
	return &Executor{
		quarantine: qstore,
		alerts:     alerts,
		logger:     logger,
		applied:    make(map[uuid.UUID]struct{}),
	}
}

// Apply executes the outcome's side effects.
func (e *Executor) Apply(ctx context.Context, out *pipeline.Outcome) error {
	v := out.Verdict
	if !e.markApplied(v.VerdictID) {
		return nil
	}

	if v.Action == schema.ActionQuarantine {
		ttl := out.QuarantineTTL
		if ttl <= 0 {
			ttl = 30 * time.Minute
		}
		now := time.Now()
		extended, err := e.quarantine.Place(ctx, &quarantine.Entry{
			SubjectKey: v.Subject.Key,
			Reason:     v.Reason,
			VerdictID:  v.VerdictID.String(),
			CreatedAt:  now,
			ExpiresAt:  now.Add(ttl),
		})
		if err != nil {
			// Forget the verdict so a retry re-attempts the insert
			// instead of deduplicating into a no-op.
			e.unmark(v.VerdictID)
			return fmt.Errorf("response: quarantine %s: %w", v.Subject.Key, err)
		}
		e.logger.Info("subject quarantined",
			"subject", v.Subject.Key,
			"ttl", ttl,
			"extended", extended,
			"verdict_id", v.VerdictID)
	}

	if v.Escalated {
		alert := &Alert{
			VerdictID:      v.VerdictID,
			Subject:        v.Subject,
			RiskScore:      v.RiskScore,
			Classification: v.Classification,
			Action:         v.Action,
			Reason:         v.Reason,
			CreatedAt:      time.Now(),
		}
		if err := e.alerts.Emit(ctx, alert); err != nil {
			// The verdict stands; alert delivery failures are logged
			// and retried by the broker path, not the event path.
			e.logger.Error("alert emission failed",
				"verdict_id", v.VerdictID, "error", err)
		}
	}

	return nil
}

// markApplied records the verdict ID and reports whether it was new.
func (e *Executor) markApplied(id uuid.UUID) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.applied[id]; ok {
		return false
	}
	if len(e.order) >= appliedCapacity {
		oldest := e.order[0]
		e.order = e.order[1:]
		delete(e.applied, oldest)
	}
	e.applied[id] = struct{}{}
	e.order = append(e.order, id)
	return true
}

// unmark removes a verdict ID whose side effects did not complete.
func (e *Executor) unmark(id uuid.UUID) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if _, ok := e.applied[id]; !ok {
		return
	}
	delete(e.applied, id)
	for i, other := range e.order {
		if other == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
}
