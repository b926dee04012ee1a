package intel

import (
	"context"
	"fmt"

	"gatekeep/internal/schema"
)

// LayerName is the detection layer name reputation checks report under.
const LayerName = "reputation"

// Layer is the reputation detection layer. It checks the event's
// observables against the indicator cache; every check is an in-memory
// lookup, so this layer cannot stall the pipeline on a slow feed.
type Layer struct {
	cache *Cache
}

// NewLayer creates a reputation layer reading from the given cache.
func NewLayer(cache *Cache) *Layer {
	return &Layer{cache: cache}
}

// Name returns the layer name.
func (l *Layer) Name() string { return LayerName }

// Applicable reports whether the layer runs for this event.
func (l *Layer) Applicable(event *schema.SecurityEvent) bool {
	return event.Subject.IP != "" || event.Resource != "" || event.Digest != ""
}

// Detect looks up the event's IP, resource, content digest, and host
// against the cache. The score is the strongest weighted match scaled
// to 0..100.
func (l *Layer) Detect(ctx context.Context, event *schema.SecurityEvent) schema.DetectionResult {
	result := schema.DetectionResult{Layer: LayerName}

	type probe struct {
		t     IOCType
		value string
	}
	probes := []probe{
		{TypeIP, event.Subject.IP},
		{TypeURL, event.Resource},
		{TypeHash, event.Digest},
	}
	if host := event.Headers["Host"]; host != "" {
		probes = append(probes, probe{TypeDomain, host})
	}

	var strongest float64
	for _, p := range probes {
		if p.value == "" {
			continue
		}
		ioc, ok := l.cache.Lookup(p.t, p.value)
		if !ok {
			continue
		}

		result.Triggered = true
		result.MatchedIOCs = append(result.MatchedIOCs, ioc.Value)
		result.Evidence = append(result.Evidence,
			fmt.Sprintf("%s %s listed by %s (confidence %.2f)",
				ioc.Type, ioc.Value, ioc.Source, ioc.Confidence))
		if w := ioc.Weighted(); w > strongest {
			strongest = w
		}
	}

	result.Score = strongest * 100
	result.Severity = severityFor(result.Score)
	return result
}

func severityFor(score float64) schema.Severity {
	switch {
	case score >= 90:
		return schema.SeverityCritical
	case score >= 70:
		return schema.SeverityHigh
	case score >= 40:
		return schema.SeverityMedium
	case score > 0:
		return schema.SeverityLow
	}
	return schema.SeverityNone
}
