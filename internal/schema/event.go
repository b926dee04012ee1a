// Package schema defines the canonical security event model for gatekeep.
// All inbound descriptors are normalized to a SecurityEvent before any
// detection layer sees them, and every event terminates in exactly one Verdict.
package schema

import (
	"time"

	"github.com/google/uuid"
)

// EventKind identifies the type of inbound traffic an event was built from.
type EventKind string

const (
	KindHTTP    EventKind = "http"
	KindNetwork EventKind = "network"
	KindAccess  EventKind = "access"
)

// IsValid checks if the event kind is a known value.
func (k EventKind) IsValid() bool {
	switch k {
	case KindHTTP, KindNetwork, KindAccess:
		return true
	}
	return false
}

// Subject identifies the entity behind an event. Key is the primary
// lookup key used by the quarantine store and trust profiles:
// "ip:<addr>" for HTTP/network traffic, "user:<id>@<device>" for
// access requests.
type Subject struct {
	Key      string `json:"key"`
	IP       string `json:"ip,omitempty"`
	UserID   string `json:"user_id,omitempty"`
	DeviceID string `json:"device_id,omitempty"`
}

// AccessContext carries the request context for zero-trust evaluation.
type AccessContext struct {
	Geo     string    `json:"geo,omitempty"`     // ISO country code
	Time    time.Time `json:"time,omitempty"`    // request time at the client
	Network string    `json:"network,omitempty"` // corporate, vpn, public, unknown
}

// SecurityEvent is one normalized unit of input. Events are immutable
// after normalization and discarded once their Verdict is emitted.
type SecurityEvent struct {
	EventID   uuid.UUID `json:"event_id"`
	Kind      EventKind `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Subject   Subject   `json:"subject"`
	Resource  string    `json:"resource,omitempty"` // target URI or resource name

	// Content is the canonical match string built by the normalizer
	// (URI + query + body + selected headers). ContentLower is the
	// lowercased copy used by case-insensitive patterns.
	Content      string `json:"-"`
	ContentLower string `json:"-"`
	Digest       string `json:"digest,omitempty"` // sha256 of Content

	UserAgent string            `json:"user_agent,omitempty"`
	Headers   map[string]string `json:"headers,omitempty"`
	Context   *AccessContext    `json:"context,omitempty"` // access events only

	ReceivedAt time.Time `json:"received_at"`
}

// HTTPDescriptor is the raw input shape for HTTP traffic.
type HTTPDescriptor struct {
	IP        string            `json:"ip" validate:"required,ip"`
	Method    string            `json:"method" validate:"required,max=16"`
	URI       string            `json:"uri" validate:"required,max=8192"`
	Query     string            `json:"query,omitempty" validate:"max=8192"`
	Headers   map[string]string `json:"headers,omitempty"`
	Body      string            `json:"body,omitempty"`
	UserAgent string            `json:"user_agent,omitempty" validate:"max=1024"`
}

// NetworkDescriptor is the raw input shape for network flows.
type NetworkDescriptor struct {
	SourceIP string `json:"source_ip" validate:"required,ip"`
	DestIP   string `json:"dest_ip,omitempty" validate:"omitempty,ip"`
	Protocol string `json:"protocol,omitempty" validate:"max=32"`
	Port     int    `json:"port,omitempty" validate:"omitempty,min=0,max=65535"`
	Bytes    int64  `json:"bytes,omitempty"`
}

// AccessDescriptor is the raw input shape for access requests.
type AccessDescriptor struct {
	UserID   string        `json:"user_id" validate:"required,max=256"`
	DeviceID string        `json:"device_id" validate:"required,max=256"`
	Resource string        `json:"resource" validate:"required,max=1024"`
	Context  AccessContext `json:"context"`
}

// Severity levels reported by detection layers.
type Severity string

const (
	SeverityNone     Severity = ""
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Score maps a severity to its fixed risk contribution.
func (s Severity) Score() float64 {
	switch s {
	case SeverityCritical:
		return 90
	case SeverityHigh:
		return 70
	case SeverityMedium:
		return 50
	case SeverityLow:
		return 30
	}
	return 0
}

// DetectionResult is one layer's verdict on one event.
type DetectionResult struct {
	Layer        string   `json:"layer"`
	Triggered    bool     `json:"triggered"`
	Score        float64  `json:"score"`
	Severity     Severity `json:"severity,omitempty"`
	Evidence     []string `json:"evidence,omitempty"`
	MatchedRules []string `json:"matched_rules,omitempty"`
	MatchedIOCs  []string `json:"matched_iocs,omitempty"`
	Degraded     bool     `json:"degraded,omitempty"` // layer timed out or failed

	// Deny is a layer-level policy denial. The decision engine blocks
	// the event even when the aggregate risk score stays below the
	// block threshold.
	Deny bool `json:"deny,omitempty"`
}

// Classification bands for the final risk score.
type Classification string

const (
	ClassBenign     Classification = "benign"
	ClassSuspicious Classification = "suspicious"
	ClassMalicious  Classification = "malicious"
)

// Action is the final decision for an event.
type Action string

const (
	ActionAllow      Action = "allow"
	ActionBlock      Action = "block"
	ActionQuarantine Action = "quarantine"
)

// IsValid checks if the action is a known value.
func (a Action) IsValid() bool {
	switch a {
	case ActionAllow, ActionBlock, ActionQuarantine:
		return true
	}
	return false
}

// Verdict is the final decision for one event. Exactly one Verdict is
// produced per SecurityEvent and emitted to the audit sink.
type Verdict struct {
	VerdictID      uuid.UUID         `json:"verdict_id"`
	EventID        uuid.UUID         `json:"event_id"`
	Subject        Subject           `json:"subject"`
	RiskScore      float64           `json:"risk_score"` // always in [0,100]
	Classification Classification    `json:"classification"`
	Action         Action            `json:"action"`
	Escalated      bool              `json:"escalated"`
	MatchedRules   []string          `json:"matched_rules,omitempty"`
	MatchedIOCs    []string          `json:"matched_iocs,omitempty"`
	Layers         []DetectionResult `json:"layers,omitempty"`
	Degraded       bool              `json:"degraded"`   // at least one layer missed the deadline
	Incomplete     bool              `json:"incomplete"` // caller canceled mid-pipeline
	FastPath       bool              `json:"fast_path"`  // quarantine hit, layers skipped
	Reason         string            `json:"reason,omitempty"`
	CreatedAt      time.Time         `json:"created_at"`
	Latency        time.Duration     `json:"latency_ns"`
}

// SchemaVersionCurrent is the current version of the event schema.
const SchemaVersionCurrent = "1.0.0"
