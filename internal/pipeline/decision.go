package pipeline

import (
	"fmt"
	"time"

	"gatekeep/internal/config"
	"gatekeep/internal/schema"
)

// Decision is the engine's ruling on one aggregated event.
type Decision struct {
	Action        schema.Action
	Escalated     bool
	QuarantineTTL time.Duration // zero unless Action is quarantine
	Reason        string
}

// Engine applies the threshold policy to an aggregation. The engine
// is stateless; the quarantine fast path lives in the pipeline, ahead
// of the detection layers.
type Engine struct {
	cfg config.PipelineConfig
}

// NewEngine creates a decision engine.
func NewEngine(cfg config.PipelineConfig) *Engine {
	return &Engine{cfg: cfg}
}

// Decide maps a risk score to the final action. Scores at or above
// the block threshold block; at or above the quarantine score the
// subject is additionally quarantined with a TTL scaled by score; at
// or above the escalation score an alert goes out regardless.
func (e *Engine) Decide(agg Aggregation) Decision {
	d := Decision{Action: schema.ActionAllow}

	if agg.RiskScore >= e.cfg.EscalateScore {
		d.Escalated = true
	}

	if agg.RiskScore < e.cfg.BlockThreshold {
		// A policy deny blocks no matter how low the risk score is.
		if agg.Deny {
			d.Action = schema.ActionBlock
			d.Reason = fmt.Sprintf("denied by policy at risk %.0f", agg.RiskScore)
			return d
		}
		d.Reason = fmt.Sprintf("risk %.0f below block threshold %.0f",
			agg.RiskScore, e.cfg.BlockThreshold)
		return d
	}

	d.Action = schema.ActionBlock
	d.Reason = fmt.Sprintf("risk %.0f at or above block threshold %.0f",
		agg.RiskScore, e.cfg.BlockThreshold)

	if agg.RiskScore >= e.cfg.QuarantineScore {
		d.Action = schema.ActionQuarantine
		d.QuarantineTTL = e.quarantineTTL(agg.RiskScore)
		d.Reason = fmt.Sprintf("risk %.0f at or above quarantine score %.0f, quarantined for %s",
			agg.RiskScore, e.cfg.QuarantineScore, d.QuarantineTTL)
	}
	return d
}

// quarantineTTL scales the block duration linearly with the score:
// the base duration at the block threshold, the configured maximum at
// or above the quarantine score.
func (e *Engine) quarantineTTL(score float64) time.Duration {
	base := e.cfg.AutoBlockDuration
	max := e.cfg.MaxQuarantineTTL
	lo := e.cfg.BlockThreshold
	hi := e.cfg.QuarantineScore
	if hi <= lo || score >= hi {
		return max
	}
	if score <= lo {
		return base
	}
	frac := (score - lo) / (hi - lo)
	return base + time.Duration(frac*float64(max-base))
}
