package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"gatekeep/internal/config"
	"gatekeep/internal/metrics"
	"gatekeep/internal/quarantine"
	"gatekeep/internal/schema"
)

// Outcome is a finished pipeline run: the verdict plus the quarantine
// TTL the response executor should apply when the action calls for it.
type Outcome struct {
	Verdict       *schema.Verdict
	QuarantineTTL time.Duration
}

// Pipeline runs events through the quarantine fast path, the
// concurrent detection layers, the aggregator, and the decision
// engine. Every event yields exactly one Verdict.
type Pipeline struct {
	cfg        config.PipelineConfig
	layers     []DetectionLayer
	aggregator *Aggregator
	engine     *Engine
	quarantine quarantine.Store
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a pipeline over the given detection layers.
func New(cfg config.PipelineConfig, layers []DetectionLayer, qstore quarantine.Store, m *metrics.Metrics, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		cfg:        cfg,
		layers:     layers,
		aggregator: NewAggregator(cfg),
		engine:     NewEngine(cfg),
		quarantine: qstore,
		metrics:    m,
		logger:     logger,
	}
}

type layerOutcome struct {
	result  schema.DetectionResult
	elapsed time.Duration
}

// Process runs one event to its verdict.
func (p *Pipeline) Process(ctx context.Context, event *schema.SecurityEvent) *Outcome {
	start := time.Now()

	// Quarantine fast path: an active entry blocks immediately, no
	// detection layers run. This check stays synchronous and cheap.
	// A store failure is not a miss; the event continues through the
	// layers so a backend outage fails open, not silent.
	entry, err := p.quarantine.Check(ctx, event.Subject.Key)
	switch {
	case err == nil:
		verdict := p.newVerdict(event, start)
		verdict.RiskScore = 100
		verdict.Classification = schema.ClassMalicious
		verdict.Action = schema.ActionBlock
		verdict.FastPath = true
		verdict.Reason = fmt.Sprintf("subject quarantined until %s: %s",
			entry.ExpiresAt.Format(time.RFC3339), entry.Reason)
		p.finish(verdict, start)
		return &Outcome{Verdict: verdict}
	case !errors.Is(err, quarantine.ErrNotQuarantined):
		p.logger.Error("quarantine check failed",
			"subject", event.Subject.Key,
			"event_id", event.EventID,
			"error", err)
	}

	results, incomplete := p.runLayers(ctx, event)

	agg := p.aggregator.Aggregate(event, results)
	decision := p.engine.Decide(agg)

	verdict := p.newVerdict(event, start)
	verdict.RiskScore = agg.RiskScore
	verdict.Classification = agg.Classification
	verdict.Action = decision.Action
	verdict.Escalated = decision.Escalated
	verdict.Layers = results
	verdict.Degraded = agg.Degraded
	verdict.Incomplete = incomplete
	verdict.Reason = decision.Reason
	if agg.Correlated {
		verdict.Reason += fmt.Sprintf(" (correlation bonus +%.0f)", p.cfg.CorrelationBonus)
	}

	for _, r := range results {
		verdict.MatchedRules = append(verdict.MatchedRules, r.MatchedRules...)
		verdict.MatchedIOCs = append(verdict.MatchedIOCs, r.MatchedIOCs...)
	}

	p.finish(verdict, start)
	return &Outcome{Verdict: verdict, QuarantineTTL: decision.QuarantineTTL}
}

// runLayers fans the event out to every applicable layer and waits
// for all of them, the per-event deadline, or caller cancellation,
// whichever comes first. Layers that miss the deadline contribute a
// zero-score degraded result.
func (p *Pipeline) runLayers(ctx context.Context, event *schema.SecurityEvent) ([]schema.DetectionResult, bool) {
	layerCtx, cancel := context.WithTimeout(ctx, p.cfg.PerEventDeadline)
	defer cancel()

	type pending struct {
		layer DetectionLayer
		ch    chan layerOutcome
	}

	var running []pending
	for _, layer := range p.layers {
		if !layer.Applicable(event) {
			continue
		}
		pend := pending{layer: layer, ch: make(chan layerOutcome, 1)}
		running = append(running, pend)
		go func(l DetectionLayer, ch chan layerOutcome) {
			t0 := time.Now()
			ch <- layerOutcome{result: l.Detect(layerCtx, event), elapsed: time.Since(t0)}
		}(pend.layer, pend.ch)
	}

	results := make([]schema.DetectionResult, 0, len(running))
	incomplete := false

	for _, pend := range running {
		select {
		case out := <-pend.ch:
			p.metrics.ObserveLayer(out.result.Layer, out.elapsed.Seconds(), false)
			results = append(results, out.result)
		case <-layerCtx.Done():
			// Late layers are abandoned; their goroutines finish into
			// buffered channels and are collected by the GC.
			missed := schema.DetectionResult{
				Layer:    pend.layer.Name(),
				Degraded: true,
			}
			p.metrics.ObserveLayer(missed.Layer, p.cfg.PerEventDeadline.Seconds(), true)
			results = append(results, missed)
			if errors.Is(ctx.Err(), context.Canceled) {
				incomplete = true
			} else {
				p.logger.Warn("detection layer missed deadline",
					"layer", pend.layer.Name(),
					"event_id", event.EventID,
					"deadline", p.cfg.PerEventDeadline)
			}
		}
	}
	return results, incomplete
}

func (p *Pipeline) newVerdict(event *schema.SecurityEvent, start time.Time) *schema.Verdict {
	return &schema.Verdict{
		VerdictID: uuid.New(),
		EventID:   event.EventID,
		Subject:   event.Subject,
		CreatedAt: start,
	}
}

func (p *Pipeline) finish(v *schema.Verdict, start time.Time) {
	v.Latency = time.Since(start)
	p.metrics.ObserveVerdict(string(v.Action), string(v.Classification),
		v.RiskScore, v.Latency.Seconds(), v.FastPath)

	p.logger.Debug("verdict",
		"verdict_id", v.VerdictID,
		"event_id", v.EventID,
		"subject", v.Subject.Key,
		"action", v.Action,
		"risk_score", v.RiskScore,
		"classification", v.Classification,
		"fast_path", v.FastPath,
		"degraded", v.Degraded,
		"latency", v.Latency)
}
