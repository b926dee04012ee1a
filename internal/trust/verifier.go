package trust

import (
	"context"
	"fmt"
	"strings"

	"gatekeep/internal/config"
	"gatekeep/internal/schema"
)

// LayerName is the detection layer name zero-trust checks report under.
const LayerName = "zero_trust"

// Maximum contribution per sub-check. The six maxima sum to 100.
const (
	identityMax  = 25.0
	deviceMax    = 20.0
	contextMax   = 20.0 // geo 8 + time 5 + network 7
	behaviorMax  = 15.0
	policyMax    = 10.0
	riskAdjMax   = 10.0
	behaviorRamp = 10 // verifications needed for full behavior credit
)

// CheckResult is one sub-check's contribution to the trust score.
type CheckResult struct {
	Name         string  `json:"name"`
	Contribution float64 `json:"contribution"`
	Max          float64 `json:"max"`
	Detail       string  `json:"detail,omitempty"`
}

// Assessment is the outcome of one zero-trust verification.
type Assessment struct {
	SubjectKey string        `json:"subject_key"`
	TrustScore float64       `json:"trust_score"` // 0..100
	Allowed    bool          `json:"allowed"`
	Checks     []CheckResult `json:"checks"`
}

// Verifier runs zero-trust verification for access-request events.
// Every sub-check executes even when an earlier one scores low; the
// audit trail needs the full breakdown either way.
type Verifier struct {
	profiles  *ProfileStore
	threshold float64
	geoAllow  map[string]bool
	geoDeny   map[string]bool
}

// NewVerifier creates a verifier over the given profile store.
func NewVerifier(profiles *ProfileStore, cfg config.TrustConfig) *Verifier {
	v := &Verifier{
		profiles:  profiles,
		threshold: cfg.TrustThreshold,
		geoAllow:  make(map[string]bool),
		geoDeny:   make(map[string]bool),
	}
	for _, c := range cfg.GeoAllowList {
		v.geoAllow[strings.ToUpper(c)] = true
	}
	for _, c := range cfg.GeoDenyList {
		v.geoDeny[strings.ToUpper(c)] = true
	}
	return v
}

// Evaluate runs all six sub-checks against the subject's profile and
// folds the outcome back into it.
func (v *Verifier) Evaluate(event *schema.SecurityEvent) *Assessment {
	profile := v.profiles.Get(event.Subject.Key)

	actx := event.Context
	if actx == nil {
		actx = &schema.AccessContext{}
	}

	checks := []CheckResult{
		v.checkIdentity(event, profile),
		v.checkDevice(event, profile),
		v.checkContext(actx, profile),
		v.checkBehavior(profile),
		v.checkPolicy(event, actx),
		v.checkRiskAdjustment(profile),
	}

	var total float64
	for _, c := range checks {
		total += c.Contribution
	}
	if total < 0 {
		total = 0
	} else if total > 100 {
		total = 100
	}

	assessment := &Assessment{
		SubjectKey: event.Subject.Key,
		TrustScore: total,
		Allowed:    total >= v.threshold,
		Checks:     checks,
	}

	v.profiles.Update(event.Subject.Key, func(p *TrustProfile) {
		p.UserID = event.Subject.UserID
		p.DeviceID = event.Subject.DeviceID
		if event.Subject.DeviceID != "" {
			p.KnownDevices[event.Subject.DeviceID] = true
		}
		if actx.Geo != "" {
			p.KnownGeos[strings.ToUpper(actx.Geo)] = true
		}
		for _, c := range checks {
			p.Factors[c.Name] = c.Contribution
		}
		// Trust moves toward the observed score rather than jumping,
		// so one good verification cannot whitewash a low profile.
		p.Score = 0.7*p.Score + 0.3*total
	})

	return assessment
}

func (v *Verifier) checkIdentity(event *schema.SecurityEvent, profile *TrustProfile) CheckResult {
	c := CheckResult{Name: "identity", Max: identityMax}
	switch {
	case event.Subject.UserID == "":
		c.Detail = "no user identity"
	case profile == nil:
		c.Contribution = identityMax * 0.48
		c.Detail = "first sighting of subject"
	default:
		c.Contribution = identityMax
		c.Detail = "known subject"
	}
	return c
}

func (v *Verifier) checkDevice(event *schema.SecurityEvent, profile *TrustProfile) CheckResult {
	c := CheckResult{Name: "device_posture", Max: deviceMax}
	switch {
	case event.Subject.DeviceID == "":
		c.Detail = "no device identity"
	case profile != nil && profile.KnownDevices[event.Subject.DeviceID]:
		c.Contribution = deviceMax
		c.Detail = "known device"
	default:
		c.Contribution = deviceMax * 0.3
		c.Detail = "new device for subject"
	}
	return c
}

func (v *Verifier) checkContext(actx *schema.AccessContext, profile *TrustProfile) CheckResult {
	c := CheckResult{Name: "context", Max: contextMax}
	var details []string

	geo := strings.ToUpper(actx.Geo)
	switch {
	case geo == "":
		details = append(details, "geo unknown")
	case v.geoDeny[geo]:
		details = append(details, fmt.Sprintf("geo %s denied", geo))
	case len(v.geoAllow) > 0 && !v.geoAllow[geo]:
		details = append(details, fmt.Sprintf("geo %s outside allow list", geo))
	case profile != nil && profile.KnownGeos[geo]:
		c.Contribution += 8
		details = append(details, fmt.Sprintf("geo %s known", geo))
	default:
		c.Contribution += 4
		details = append(details, fmt.Sprintf("geo %s new", geo))
	}

	hour := actx.Time.Hour()
	if actx.Time.IsZero() {
		c.Contribution += 2
		details = append(details, "request time missing")
	} else if hour >= 6 && hour < 22 {
		c.Contribution += 5
	} else {
		c.Contribution += 2
		details = append(details, fmt.Sprintf("off-hours access (%02d:00)", hour))
	}

	switch actx.Network {
	case "corporate":
		c.Contribution += 7
	case "vpn":
		c.Contribution += 5
	case "public":
		c.Contribution += 2
		details = append(details, "public network")
	default:
		c.Contribution += 1
		details = append(details, "unknown network")
	}

	c.Detail = strings.Join(details, "; ")
	return c
}

func (v *Verifier) checkBehavior(profile *TrustProfile) CheckResult {
	c := CheckResult{Name: "behavioral_consistency", Max: behaviorMax}
	if profile == nil {
		c.Detail = "no history"
		return c
	}
	ramp := float64(profile.Verifications) / behaviorRamp
	if ramp > 1 {
		ramp = 1
	}
	c.Contribution = behaviorMax * ramp
	c.Detail = fmt.Sprintf("%d prior verifications", profile.Verifications)
	return c
}

func (v *Verifier) checkPolicy(event *schema.SecurityEvent, actx *schema.AccessContext) CheckResult {
	c := CheckResult{Name: "policy_match", Max: policyMax}
	sensitive := strings.HasPrefix(event.Resource, "/admin") ||
		strings.HasPrefix(event.Resource, "/internal")
	if sensitive && actx.Network != "corporate" && actx.Network != "vpn" {
		c.Detail = fmt.Sprintf("%s requires corporate or vpn network", event.Resource)
		return c
	}
	c.Contribution = policyMax
	c.Detail = "resource policy satisfied"
	return c
}

func (v *Verifier) checkRiskAdjustment(profile *TrustProfile) CheckResult {
	c := CheckResult{Name: "risk_adjustment", Max: riskAdjMax}
	prior := float64(neutralScore)
	if profile != nil {
		prior = profile.Score
	}
	c.Contribution = riskAdjMax * prior / 100
	c.Detail = fmt.Sprintf("prior trust %.0f", prior)
	return c
}

// Name returns the layer name.
func (v *Verifier) Name() string { return LayerName }

// Applicable reports whether the layer runs for this event. Raw HTTP
// and network traffic is out of scope.
func (v *Verifier) Applicable(event *schema.SecurityEvent) bool {
	return event.Kind == schema.KindAccess && event.Subject.UserID != ""
}

// Detect adapts the verification outcome to a detection result: a
// denied subject contributes its trust deficit as risk and carries a
// policy deny, so a marginal denial still blocks even when the risk
// score alone would not.
func (v *Verifier) Detect(ctx context.Context, event *schema.SecurityEvent) schema.DetectionResult {
	result := schema.DetectionResult{Layer: LayerName}

	assessment := v.Evaluate(event)
	for _, c := range assessment.Checks {
		result.Evidence = append(result.Evidence,
			fmt.Sprintf("%s: %.1f/%.0f (%s)", c.Name, c.Contribution, c.Max, c.Detail))
	}

	if assessment.Allowed {
		return result
	}

	result.Triggered = true
	result.Deny = true
	result.Score = 100 - assessment.TrustScore
	result.Severity = severityFor(result.Score)
	result.Evidence = append(result.Evidence,
		fmt.Sprintf("trust %.1f below threshold %.0f", assessment.TrustScore, v.threshold))
	return result
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
