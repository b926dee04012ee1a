package behavior

import (
	"context"
	"fmt"

	"gatekeep/internal/schema"
)

// LayerName is the detection layer name anomaly scoring reports under.
const LayerName = "anomaly"

// Scoring weights per deviation component. The components sum below
// 100 on purpose: behavioral evidence alone should not carry an
// auto-block without corroboration from another layer.
const (
	rateBurstScore    = 40
	rateElevatedScore = 20
	oddHourScore      = 25
	rareHourScore     = 15
	newResourceScore  = 15
)

// Scorer computes a deviation score for an event against the subject's
// baseline. The score is in [0,100]; evidence lines explain each
// contribution. The baseline is never nil and is already past the
// sample floor when a Scorer runs.
type Scorer interface {
	Score(event *schema.SecurityEvent, baseline *Baseline) (float64, []string)
}

// Layer is the behavioral anomaly detection layer. Events are scored
// against the subject's baseline first, then folded into it, so a
// burst cannot normalize itself within one event.
type Layer struct {
	store  *Store
	scorer Scorer
}

// NewLayer creates an anomaly layer over the given baseline store,
// scoring with the built-in statistical scorer.
func NewLayer(store *Store) *Layer {
	return NewLayerWithScorer(store, StatScorer{})
}

// NewLayerWithScorer creates an anomaly layer with a custom scorer.
func NewLayerWithScorer(store *Store, scorer Scorer) *Layer {
	return &Layer{store: store, scorer: scorer}
}

// Name returns the layer name.
func (l *Layer) Name() string { return LayerName }

// Applicable reports whether the layer runs for this event.
func (l *Layer) Applicable(event *schema.SecurityEvent) bool {
	return event.Subject.Key != ""
}

// Detect scores the event's deviation from the subject's baseline.
// Subjects below the sample floor score zero; a cold cache must not
// flag everyone as anomalous.
func (l *Layer) Detect(ctx context.Context, event *schema.SecurityEvent) schema.DetectionResult {
	result := schema.DetectionResult{Layer: LayerName}

	baseline := l.store.Snapshot(event.Subject.Key)
	defer l.store.Observe(event.Subject.Key, event.Resource, event.Timestamp)

	if !l.store.Ready(baseline) {
		return result
	}

	score, evidence := l.scorer.Score(event, baseline)
	if score < 0 {
		score = 0
	} else if score > 100 {
		score = 100
	}

	result.Score = score
	result.Evidence = evidence
	result.Triggered = score > 0
	result.Severity = severityFor(score)
	return result
}

// StatScorer is the default scorer: request-rate burst, unusual hour
// of day, and first access to a resource.
type StatScorer struct{}

// Score implements Scorer.
func (StatScorer) Score(event *schema.SecurityEvent, baseline *Baseline) (float64, []string) {
	var score float64
	var evidence []string

	if baseline.AvgInterval > 0 {
		interval := event.Timestamp.Sub(baseline.LastSeen).Seconds()
		if interval < 0.001 {
			interval = 0.001
		}
		ratio := baseline.AvgInterval / interval
		switch {
		case ratio >= 20:
			score += rateBurstScore
			evidence = append(evidence,
				fmt.Sprintf("request rate %.0fx above baseline", ratio))
		case ratio >= 5:
			score += rateElevatedScore
			evidence = append(evidence,
				fmt.Sprintf("request rate %.0fx above baseline", ratio))
		}
	}

	share := baseline.HourShare(event.Timestamp.Hour())
	switch {
	case share < 0.01:
		score += oddHourScore
		evidence = append(evidence,
			fmt.Sprintf("no prior activity at hour %02d", event.Timestamp.Hour()))
	case share < 0.05:
		score += rareHourScore
		evidence = append(evidence,
			fmt.Sprintf("rare activity hour %02d", event.Timestamp.Hour()))
	}

	if event.Resource != "" && !baseline.SeenResource(event.Resource) {
		score += newResourceScore
		evidence = append(evidence,
			fmt.Sprintf("first access to %s", event.Resource))
	}

	return score, evidence
}

func severityFor(score float64) schema.Severity {
	switch {
	case score >= 70:
		return schema.SeverityHigh
	case score >= 40:
		return schema.SeverityMedium
	case score > 0:
		return schema.SeverityLow
	}
	return schema.SeverityNone
}
