// Package pipeline runs the per-event detection flow: fan out to the
// detection layers, aggregate their results into one risk score, and
// decide the final action.
package pipeline

import (
	"context"

	"gatekeep/internal/schema"
)

// DetectionLayer is one concurrent detector in the pipeline. Layers
// read shared snapshots and never block each other; a layer that
// cannot finish by the per-event deadline is scored as zero and
// flagged degraded by the pipeline, not by the layer itself.
type DetectionLayer interface {
	// Name identifies the layer in verdicts and metrics.
	Name() string

	// Applicable reports whether the layer runs for this event kind.
	Applicable(event *schema.SecurityEvent) bool

	// Detect evaluates the event. Implementations should honor ctx
	// cancellation on long scans but must always return a result.
	Detect(ctx context.Context, event *schema.SecurityEvent) schema.DetectionResult
}
