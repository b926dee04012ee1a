package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"

	"gatekeep/internal/config"
	"gatekeep/internal/quarantine"
	"gatekeep/internal/rules"
	"gatekeep/internal/schema"
	"gatekeep/internal/trust"
)

// fakeLayer is a configurable detection layer for pipeline tests.
type fakeLayer struct {
	name      string
	score     float64
	severity  schema.Severity
	triggered bool
	deny      bool
	delay     time.Duration
}

func (f *fakeLayer) Name() string                              { return f.name }
func (f *fakeLayer) Applicable(*schema.SecurityEvent) bool     { return true }
func (f *fakeLayer) Detect(ctx context.Context, _ *schema.SecurityEvent) schema.DetectionResult {
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
		}
	}
	return schema.DetectionResult{
		Layer:     f.name,
		Triggered: f.triggered,
		Score:     f.score,
		Severity:  f.severity,
		Deny:      f.deny,
	}
}

func testEvent(subjectKey string) *schema.SecurityEvent {
	return &schema.SecurityEvent{
		EventID:   uuid.New(),
		Kind:      schema.KindHTTP,
		Subject:   schema.Subject{Key: subjectKey, IP: "203.0.113.9"},
		Timestamp: time.Now(),
	}
}

func newPipeline(t *testing.T, layers ...DetectionLayer) (*Pipeline, *quarantine.MemoryStore) {
	t.Helper()
	qstore := quarantine.NewMemoryStore(nil)
	t.Cleanup(func() { qstore.Close() })
	p := New(config.DefaultConfig().Pipeline, layers, qstore, nil, nil)
	return p, qstore
}

func TestPipeline_SQLInjectionBlocks(t *testing.T) {
	store, err := rules.NewStore(rules.BuiltinRules(), nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	p, _ := newPipeline(t, rules.NewMatcher(store))

	event := testEvent("ip:203.0.113.9")
	event.Content = "/products?id=1' OR 1=1--"
	event.ContentLower = event.Content

	out := p.Process(context.Background(), event)
	v := out.Verdict

	if v.Action == schema.ActionAllow {
		t.Errorf("action = %q, want block or quarantine", v.Action)
	}
	if v.RiskScore < 90 {
		t.Errorf("risk score = %v, want >= 90", v.RiskScore)
	}
	if v.Classification != schema.ClassMalicious {
		t.Errorf("classification = %q, want malicious", v.Classification)
	}
	if len(v.MatchedRules) == 0 {
		t.Error("matched rules missing from verdict")
	}
}

func TestPipeline_QuarantineFastPath(t *testing.T) {
	slow := &fakeLayer{name: "slow", delay: 50 * time.Millisecond}
	p, qstore := newPipeline(t, slow)

	qstore.Place(context.Background(), &quarantine.Entry{
		SubjectKey: "ip:203.0.113.9",
		Reason:     "prior verdict",
		CreatedAt:  time.Now(),
		ExpiresAt:  time.Now().Add(time.Hour),
	})

	start := time.Now()
	out := p.Process(context.Background(), testEvent("ip:203.0.113.9"))
	elapsed := time.Since(start)

	v := out.Verdict
	if v.Action != schema.ActionBlock {
		t.Errorf("action = %q, want block", v.Action)
	}
	if !v.FastPath {
		t.Error("fast path flag not set")
	}
	if len(v.Layers) != 0 {
		t.Errorf("detection layers ran on the fast path: %d results", len(v.Layers))
	}
	if elapsed > 10*time.Millisecond {
		t.Errorf("fast path took %v, want sub-millisecond-scale", elapsed)
	}
}

func TestPipeline_BenignAllow(t *testing.T) {
	p, _ := newPipeline(t,
		&fakeLayer{name: "signature"},
		&fakeLayer{name: "reputation"},
		&fakeLayer{name: "anomaly", score: 5, triggered: true, severity: schema.SeverityLow})

	out := p.Process(context.Background(), testEvent("ip:192.0.2.10"))
	v := out.Verdict

	if v.Action != schema.ActionAllow {
		t.Errorf("action = %q, want allow", v.Action)
	}
	if v.RiskScore > 10 {
		t.Errorf("risk score = %v, want <= 10", v.RiskScore)
	}
	if v.Classification != schema.ClassBenign {
		t.Errorf("classification = %q, want benign", v.Classification)
	}
	if out.QuarantineTTL != 0 {
		t.Errorf("quarantine TTL = %v on an allow", out.QuarantineTTL)
	}
}

func TestPipeline_SlowLayerDegrades(t *testing.T) {
	cfg := config.DefaultConfig().Pipeline
	cfg.PerEventDeadline = 30 * time.Millisecond

	qstore := quarantine.NewMemoryStore(nil)
	defer qstore.Close()
	p := New(cfg, []DetectionLayer{
		&fakeLayer{name: "fast", score: 20, triggered: true},
		&fakeLayer{name: "stuck", score: 80, triggered: true, delay: time.Second},
	}, qstore, nil, nil)

	start := time.Now()
	out := p.Process(context.Background(), testEvent("ip:203.0.113.9"))
	elapsed := time.Since(start)

	v := out.Verdict
	if !v.Degraded {
		t.Error("verdict not marked degraded")
	}
	// The stuck layer contributes zero, so only the fast layer counts.
	if v.RiskScore != 20 {
		t.Errorf("risk score = %v, want 20 (degraded layer contributes 0)", v.RiskScore)
	}
	if elapsed > 100*time.Millisecond {
		t.Errorf("verdict took %v, want near the 30ms deadline", elapsed)
	}

	degraded := false
	for _, r := range v.Layers {
		if r.Layer == "stuck" && r.Degraded {
			degraded = true
		}
	}
	if !degraded {
		t.Error("stuck layer result not flagged degraded")
	}
}

func TestPipeline_CallerCancelMarksIncomplete(t *testing.T) {
	p, _ := newPipeline(t,
		&fakeLayer{name: "fast", score: 10, triggered: true},
		&fakeLayer{name: "slow", score: 50, triggered: true, delay: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	out := p.Process(ctx, testEvent("ip:203.0.113.9"))
	if !out.Verdict.Incomplete {
		t.Error("verdict not marked incomplete after caller cancel")
	}
}

func TestPipeline_EveryEventYieldsOneVerdict(t *testing.T) {
	p, _ := newPipeline(t, &fakeLayer{name: "signature"})

	seen := make(map[uuid.UUID]bool)
	for i := 0; i < 50; i++ {
		out := p.Process(context.Background(), testEvent("ip:192.0.2.10"))
		if out.Verdict == nil {
			t.Fatal("nil verdict")
		}
		if seen[out.Verdict.VerdictID] {
			t.Fatal("duplicate verdict ID")
		}
		seen[out.Verdict.VerdictID] = true
	}
}

func TestPipeline_LayerDenyBlocksLowRisk(t *testing.T) {
	p, _ := newPipeline(t, &fakeLayer{
		name:      "zero_trust",
		score:     32,
		triggered: true,
		severity:  schema.SeverityLow,
		deny:      true,
	})

	out := p.Process(context.Background(), testEvent("user:alice@tablet-9"))
	v := out.Verdict

	if v.Action != schema.ActionBlock {
		t.Errorf("action = %q, want block on a layer deny", v.Action)
	}
	if v.RiskScore >= 70 {
		t.Errorf("risk score = %v, want below the block threshold", v.RiskScore)
	}
	if out.QuarantineTTL != 0 {
		t.Errorf("quarantine TTL = %v, want 0 for a plain block", out.QuarantineTTL)
	}
}

func TestPipeline_MarginalTrustDenialBlocks(t *testing.T) {
	cfg := config.DefaultConfig()
	profiles := trust.NewProfileStore()
	verifier := trust.NewVerifier(profiles, cfg.Trust)
	p, _ := newPipeline(t, verifier)

	// Establish the subject: a dozen daytime verifications from the
	// corporate network on a known device.
	base := &schema.SecurityEvent{
		EventID: uuid.New(),
		Kind:    schema.KindAccess,
		Subject: schema.Subject{
			Key:      "user:carol@laptop-7",
			UserID:   "carol",
			DeviceID: "laptop-7",
		},
		Resource:  "/portal",
		Timestamp: time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
		Context: &schema.AccessContext{
			Geo:     "US",
			Time:    time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC),
			Network: "corporate",
		},
	}
	for i := 0; i < 12; i++ {
		verifier.Evaluate(base)
	}

	// Off-hours access to a sensitive resource from a public network on
	// an unrecognized device. Trust lands in the sixties: denied, but
	// the deficit alone stays under the block threshold.
	risky := &schema.SecurityEvent{
		EventID: uuid.New(),
		Kind:    schema.KindAccess,
		Subject: schema.Subject{
			Key:      "user:carol@laptop-7",
			UserID:   "carol",
			DeviceID: "usb-dock-3",
		},
		Resource:  "/admin/export",
		Timestamp: time.Date(2026, 8, 21, 3, 0, 0, 0, time.UTC),
		Context: &schema.AccessContext{
			Geo:     "US",
			Time:    time.Date(2026, 8, 21, 3, 0, 0, 0, time.UTC),
			Network: "public",
		},
	}

	out := p.Process(context.Background(), risky)
	v := out.Verdict

	if v.RiskScore >= 70 {
		t.Fatalf("risk score = %v, want a marginal denial below 70", v.RiskScore)
	}
	if v.Action != schema.ActionBlock {
		t.Errorf("action = %q, want block for a denied access request", v.Action)
	}
	if v.FastPath {
		t.Error("fast path flag set without a quarantine entry")
	}
}

// brokenStore simulates a quarantine backend outage: every call fails
// with a transport error rather than ErrNotQuarantined.
type brokenStore struct{}

func (brokenStore) Place(context.Context, *quarantine.Entry) (bool, error) {
	return false, errors.New("dial tcp: connection refused")
}
func (brokenStore) Check(context.Context, string) (*quarantine.Entry, error) {
	return nil, errors.New("dial tcp: connection refused")
}
func (brokenStore) Release(context.Context, string) error { return errors.New("dial tcp: connection refused") }
func (brokenStore) Count(context.Context) (int, error)    { return 0, errors.New("dial tcp: connection refused") }
func (brokenStore) Close() error                          { return nil }

func TestPipeline_QuarantineOutageRunsLayers(t *testing.T) {
	layer := &fakeLayer{name: "signature", score: 5, triggered: true, severity: schema.SeverityLow}
	p := New(config.DefaultConfig().Pipeline, []DetectionLayer{layer}, brokenStore{}, nil, nil)

	out := p.Process(context.Background(), testEvent("ip:203.0.113.9"))
	v := out.Verdict

	if v.FastPath {
		t.Error("store failure treated as a quarantine hit")
	}
	if len(v.Layers) != 1 {
		t.Fatalf("got %d layer results, want 1; layers must run when the store is down", len(v.Layers))
	}
	if v.Action != schema.ActionAllow {
		t.Errorf("action = %q, want allow for a low score", v.Action)
	}
}

func TestAggregator_SumCappedAt100(t *testing.T) {
	agg := NewAggregator(config.DefaultConfig().Pipeline)

	result := agg.Aggregate(testEvent("ip:203.0.113.9"), []schema.DetectionResult{
		{Layer: "signature", Triggered: true, Score: 90},
		{Layer: "reputation", Triggered: true, Score: 80},
	})
	if result.RiskScore != 100 {
		t.Errorf("risk score = %v, want capped at 100", result.RiskScore)
	}
}

func TestAggregator_CriticalForcesMalicious(t *testing.T) {
	agg := NewAggregator(config.DefaultConfig().Pipeline)

	// Score alone lands in the suspicious band; severity overrides.
	result := agg.Aggregate(testEvent("ip:203.0.113.9"), []schema.DetectionResult{
		{Layer: "signature", Triggered: true, Score: 40, Severity: schema.SeverityCritical},
	})
	if result.Classification != schema.ClassMalicious {
		t.Errorf("classification = %q, want malicious", result.Classification)
	}
}

func TestAggregator_CorrelationBonus(t *testing.T) {
	cfg := config.DefaultConfig().Pipeline
	agg := NewAggregator(cfg)
	event := testEvent("ip:203.0.113.9")

	// First event: one layer fires, no bonus.
	first := agg.Aggregate(event, []schema.DetectionResult{
		{Layer: "signature", Triggered: true, Score: 30},
	})
	if first.Correlated {
		t.Error("single layer must not earn the correlation bonus")
	}
	if first.RiskScore != 30 {
		t.Errorf("risk score = %v, want 30", first.RiskScore)
	}

	// Second event within the window: a different layer fires.
	later := testEvent("ip:203.0.113.9")
	later.Timestamp = event.Timestamp.Add(time.Minute)
	second := agg.Aggregate(later, []schema.DetectionResult{
		{Layer: "anomaly", Triggered: true, Score: 30},
	})
	if !second.Correlated {
		t.Error("two layers inside the window should correlate")
	}
	if second.RiskScore != 30+cfg.CorrelationBonus {
		t.Errorf("risk score = %v, want %v", second.RiskScore, 30+cfg.CorrelationBonus)
	}
}

func TestAggregator_BonusExpiresWithWindow(t *testing.T) {
	cfg := config.DefaultConfig().Pipeline
	agg := NewAggregator(cfg)
	event := testEvent("ip:203.0.113.9")

	agg.Aggregate(event, []schema.DetectionResult{
		{Layer: "signature", Triggered: true, Score: 30},
	})

	// Second trigger lands after the window has passed.
	later := testEvent("ip:203.0.113.9")
	later.Timestamp = event.Timestamp.Add(cfg.CorrelationWindow + time.Minute)
	second := agg.Aggregate(later, []schema.DetectionResult{
		{Layer: "anomaly", Triggered: true, Score: 30},
	})
	if second.Correlated {
		t.Error("triggers outside the window must not correlate")
	}
}

func TestAggregator_SubjectsDoNotCrossCorrelate(t *testing.T) {
	agg := NewAggregator(config.DefaultConfig().Pipeline)

	agg.Aggregate(testEvent("ip:203.0.113.9"), []schema.DetectionResult{
		{Layer: "signature", Triggered: true, Score: 30},
	})
	other := agg.Aggregate(testEvent("ip:198.51.100.1"), []schema.DetectionResult{
		{Layer: "anomaly", Triggered: true, Score: 30},
	})
	if other.Correlated {
		t.Error("different subjects must not correlate")
	}
}

func TestEngine_Thresholds(t *testing.T) {
	engine := NewEngine(config.DefaultConfig().Pipeline)

	tests := []struct {
		name          string
		score         float64
		wantAction    schema.Action
		wantEscalated bool
	}{
		{"well below threshold", 10, schema.ActionAllow, false},
		{"just below threshold", 69, schema.ActionAllow, false},
		{"at block threshold", 70, schema.ActionBlock, false},
		{"escalation band", 85, schema.ActionBlock, true},
		{"at quarantine score", 90, schema.ActionQuarantine, true},
		{"maximum", 100, schema.ActionQuarantine, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := engine.Decide(Aggregation{RiskScore: tt.score})
			if d.Action != tt.wantAction {
				t.Errorf("action = %q, want %q", d.Action, tt.wantAction)
			}
			if d.Escalated != tt.wantEscalated {
				t.Errorf("escalated = %v, want %v", d.Escalated, tt.wantEscalated)
			}
		})
	}
}

func TestEngine_DenyBlocksBelowThreshold(t *testing.T) {
	engine := NewEngine(config.DefaultConfig().Pipeline)

	d := engine.Decide(Aggregation{RiskScore: 35, Deny: true})
	if d.Action != schema.ActionBlock {
		t.Errorf("action = %q, want block when a layer denies", d.Action)
	}
	if d.Escalated {
		t.Error("a low-score deny must not escalate")
	}
	if d.QuarantineTTL != 0 {
		t.Errorf("quarantine TTL = %v, want 0", d.QuarantineTTL)
	}

	// Above the quarantine score the deny changes nothing.
	high := engine.Decide(Aggregation{RiskScore: 95, Deny: true})
	if high.Action != schema.ActionQuarantine {
		t.Errorf("action = %q, want quarantine at risk 95", high.Action)
	}
}

func TestEngine_QuarantineTTLScalesWithScore(t *testing.T) {
	cfg := config.DefaultConfig().Pipeline
	engine := NewEngine(cfg)

	atMax := engine.Decide(Aggregation{RiskScore: 95})
	if atMax.QuarantineTTL != cfg.MaxQuarantineTTL {
		t.Errorf("TTL at 95 = %v, want %v", atMax.QuarantineTTL, cfg.MaxQuarantineTTL)
	}

	atThreshold := engine.Decide(Aggregation{RiskScore: 90})
	if atThreshold.QuarantineTTL != cfg.MaxQuarantineTTL {
		t.Errorf("TTL at 90 = %v, want %v", atThreshold.QuarantineTTL, cfg.MaxQuarantineTTL)
	}

	// The scaling function itself spans base to max across the band.
	if got := engine.quarantineTTL(70); got != cfg.AutoBlockDuration {
		t.Errorf("TTL at 70 = %v, want %v", got, cfg.AutoBlockDuration)
	}
	mid := engine.quarantineTTL(80)
	if mid <= cfg.AutoBlockDuration || mid >= cfg.MaxQuarantineTTL {
		t.Errorf("TTL at 80 = %v, want between %v and %v",
			mid, cfg.AutoBlockDuration, cfg.MaxQuarantineTTL)
	}
}

func BenchmarkPipeline_Benign(b *testing.B) {
	store, err := rules.NewStore(rules.BuiltinRules(), nil, nil)
	if err != nil {
		b.Fatal(err)
	}
	qstore := quarantine.NewMemoryStore(nil)
	defer qstore.Close()
	p := New(config.DefaultConfig().Pipeline,
		[]DetectionLayer{rules.NewMatcher(store)}, qstore, nil, nil)

	event := testEvent("ip:192.0.2.10")
	event.Content = "/products?page=2&sort=price"
	event.ContentLower = event.Content

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		p.Process(context.Background(), event)
	}
}
