package pipeline

import (
	"sync"
	"time"

	"gatekeep/internal/config"
	"gatekeep/internal/schema"
)

// sweepEvery bounds how often the aggregator walks the whole
// correlation map looking for idle subjects.
const sweepEvery = 1024

// Aggregation is the fused outcome of one event's detection results.
type Aggregation struct {
	RiskScore      float64
	Classification schema.Classification
	Correlated     bool // multi-layer activity inside the window
	Degraded       bool
	Deny           bool // a layer demanded denial regardless of score
}

// Aggregator fuses per-layer results into one risk score and tracks
// recent triggers per subject for the correlation bonus.
type Aggregator struct {
	cfg config.PipelineConfig

	mu sync.Mutex
	// recent maps subject key to the last trigger time per layer.
	recent map[string]map[string]time.Time
	calls  int
}

// NewAggregator creates an aggregator with the given pipeline settings.
func NewAggregator(cfg config.PipelineConfig) *Aggregator {
	return &Aggregator{
		cfg:    cfg,
		recent: make(map[string]map[string]time.Time),
	}
}

// Aggregate fuses the detection results for one event. The raw sum is
// capped at 100, a critical layer forces the malicious class, and two
// or more distinct layers triggering on the same subject inside the
// correlation window add the configured bonus.
func (a *Aggregator) Aggregate(event *schema.SecurityEvent, results []schema.DetectionResult) Aggregation {
	var agg Aggregation
	var sum float64
	critical := false

	for _, r := range results {
		sum += r.Score
		if r.Degraded {
			agg.Degraded = true
		}
		if r.Deny {
			agg.Deny = true
		}
		if r.Severity == schema.SeverityCritical {
			critical = true
		}
	}
	if sum > 100 {
		sum = 100
	}

	if a.recordTriggers(event, results) {
		agg.Correlated = true
		sum += a.cfg.CorrelationBonus
		if sum > 100 {
			sum = 100
		}
	}

	agg.RiskScore = sum
	agg.Classification = a.classify(sum)
	if critical {
		agg.Classification = schema.ClassMalicious
	}
	return agg
}

func (a *Aggregator) classify(score float64) schema.Classification {
	switch {
	case score >= a.cfg.MaliciousBand:
		return schema.ClassMalicious
	case score >= a.cfg.SuspiciousBand:
		return schema.ClassSuspicious
	}
	return schema.ClassBenign
}

// recordTriggers notes which layers fired for the subject and reports
// whether at least two distinct layers have fired inside the window.
func (a *Aggregator) recordTriggers(event *schema.SecurityEvent, results []schema.DetectionResult) bool {
	now := event.Timestamp
	if now.IsZero() {
		now = time.Now()
	}
	cutoff := now.Add(-a.cfg.CorrelationWindow)

	a.mu.Lock()
	defer a.mu.Unlock()

	a.calls++
	if a.calls%sweepEvery == 0 {
		a.sweepLocked(cutoff)
	}

	layers := a.recent[event.Subject.Key]
	for _, r := range results {
		if !r.Triggered {
			continue
		}
		if layers == nil {
			layers = make(map[string]time.Time)
			a.recent[event.Subject.Key] = layers
		}
		layers[r.Layer] = now
	}
	if layers == nil {
		return false
	}

	distinct := 0
	for layer, at := range layers {
		if at.Before(cutoff) {
			delete(layers, layer)
			continue
		}
		distinct++
	}
	if len(layers) == 0 {
		delete(a.recent, event.Subject.Key)
	}
	return distinct >= 2
}

func (a *Aggregator) sweepLocked(cutoff time.Time) {
	for key, layers := range a.recent {
		for layer, at := range layers {
			if at.Before(cutoff) {
				delete(layers, layer)
			}
		}
		if len(layers) == 0 {
			delete(a.recent, key)
		}
	}
}

// TrackedSubjects returns the number of subjects with recent triggers.
func (a *Aggregator) TrackedSubjects() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.recent)
}
