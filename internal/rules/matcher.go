package rules

import (
	"context"
	"fmt"

	"gatekeep/internal/schema"
)

// LayerName is the detection layer name the matcher reports under.
const LayerName = "signature"

// Matcher is the signature matching detection layer. It evaluates the
// event's canonical content (and, for bot rules, the user agent)
// against the current rule snapshot. Matching is deterministic:
// identical event + identical snapshot always yields identical results.
type Matcher struct {
	store *Store
}

// NewMatcher creates a signature matcher reading from the given store.
func NewMatcher(store *Store) *Matcher {
	return &Matcher{store: store}
}

// Name returns the layer name.
func (m *Matcher) Name() string { return LayerName }

// Applicable reports whether the layer runs for this event. Signature
// matching applies to everything with canonical content.
func (m *Matcher) Applicable(event *schema.SecurityEvent) bool {
	return event.Content != "" || event.UserAgent != ""
}

// Detect evaluates every category independently; the first matching
// enabled rule per category wins and contributes its severity score.
// Multiple categories can stack, clamped to 100.
func (m *Matcher) Detect(ctx context.Context, event *schema.SecurityEvent) schema.DetectionResult {
	result := schema.DetectionResult{Layer: LayerName}
	snap := m.store.Snapshot()
	if snap == nil {
		return result
	}

	var total float64
	maxSeverity := schema.SeverityNone

	for _, category := range Categories {
		if ctx.Err() != nil {
			// Abandoned mid-scan; report what we have so far.
			break
		}

		input := event.Content
		if category == CategoryBot {
			input = event.UserAgent
		}
		if input == "" {
			continue
		}

		for _, rule := range snap.ByCategory(category) {
			if !rule.Matches(input) {
				continue
			}

			result.Triggered = true
			result.MatchedRules = append(result.MatchedRules, rule.ID)
			result.Evidence = append(result.Evidence,
				fmt.Sprintf("%s: %s (%s)", category, rule.Name, rule.Severity))
			total += rule.Severity.Score()
			if severityRank(rule.Severity) > severityRank(maxSeverity) {
				maxSeverity = rule.Severity
			}
			break // first match per category wins
		}
	}

	if total > 100 {
		total = 100
	}
	result.Score = total
	result.Severity = maxSeverity
	return result
}

func severityRank(s schema.Severity) int {
	switch s {
	case schema.SeverityCritical:
		return 4
	case schema.SeverityHigh:
		return 3
	case schema.SeverityMedium:
		return 2
	case schema.SeverityLow:
		return 1
	}
	return 0
}
