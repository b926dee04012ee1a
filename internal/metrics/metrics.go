// Package metrics exposes Prometheus instrumentation for the event
// pipeline and its stores.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every collector the pipeline records into. A nil
// *Metrics is valid and drops all observations, which keeps tests
// free of registry bookkeeping.
type Metrics struct {
	EventsTotal     *prometheus.CounterVec
	VerdictsTotal   *prometheus.CounterVec
	FastPathTotal   prometheus.Counter
	DegradedTotal   *prometheus.CounterVec
	PipelineLatency prometheus.Histogram
	LayerLatency    *prometheus.HistogramVec
	RiskScore       prometheus.Histogram
	QuarantineSize  prometheus.Gauge
	FeedRefreshes   *prometheus.CounterVec
	IOCCacheSize    prometheus.Gauge
}

// New registers all collectors on the given registerer.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		EventsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeep",
			Name:      "events_total",
			Help:      "Events received, by kind.",
		}, []string{"kind"}),
		VerdictsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeep",
			Name:      "verdicts_total",
			Help:      "Verdicts produced, by action and classification.",
		}, []string{"action", "classification"}),
		FastPathTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "gatekeep",
			Name:      "fast_path_blocks_total",
			Help:      "Blocks served from the quarantine fast path.",
		}),
		DegradedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeep",
			Name:      "degraded_layers_total",
			Help:      "Detection layers that missed the per-event deadline.",
		}, []string{"layer"}),
		PipelineLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gatekeep",
			Name:      "pipeline_latency_seconds",
			Help:      "End-to-end event processing latency.",
			Buckets:   []float64{.0005, .001, .005, .01, .025, .05, .1, .2, .5},
		}),
		LayerLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "gatekeep",
			Name:      "layer_latency_seconds",
			Help:      "Per-layer detection latency.",
			Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .2},
		}, []string{"layer"}),
		RiskScore: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "gatekeep",
			Name:      "risk_score",
			Help:      "Final risk score distribution.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		QuarantineSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatekeep",
			Name:      "quarantine_entries",
			Help:      "Active quarantine entries.",
		}),
		FeedRefreshes: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "gatekeep",
			Name:      "feed_refreshes_total",
			Help:      "Threat feed refresh attempts, by outcome.",
		}, []string{"outcome"}),
		IOCCacheSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "gatekeep",
			Name:      "ioc_cache_entries",
			Help:      "Indicators held in the threat-intel cache.",
		}),
	}
}

// ObserveEvent records one received event. Safe on a nil receiver.
func (m *Metrics) ObserveEvent(kind string) {
	if m == nil {
		return
	}
	m.EventsTotal.WithLabelValues(kind).Inc()
}

// ObserveVerdict records one finished verdict. Safe on a nil receiver.
func (m *Metrics) ObserveVerdict(action, classification string, riskScore, latencySeconds float64, fastPath bool) {
	if m == nil {
		return
	}
	m.VerdictsTotal.WithLabelValues(action, classification).Inc()
	m.RiskScore.Observe(riskScore)
	m.PipelineLatency.Observe(latencySeconds)
	if fastPath {
		m.FastPathTotal.Inc()
	}
}

// ObserveLayer records one layer's detection latency. Safe on a nil
// receiver.
func (m *Metrics) ObserveLayer(layer string, seconds float64, degraded bool) {
	if m == nil {
		return
	}
	m.LayerLatency.WithLabelValues(layer).Observe(seconds)
	if degraded {
		m.DegradedTotal.WithLabelValues(layer).Inc()
	}
}

// ObserveFeedRefresh records a feed refresh attempt and the resulting
// cache size. Safe on a nil receiver.
func (m *Metrics) ObserveFeedRefresh(ok bool, cacheSize int) {
	if m == nil {
		return
	}
	outcome := "success"
	if !ok {
		outcome = "failure"
	}
	m.FeedRefreshes.WithLabelValues(outcome).Inc()
	m.IOCCacheSize.Set(float64(cacheSize))
}

// SetQuarantineSize records the number of active quarantine entries.
// Safe on a nil receiver.
func (m *Metrics) SetQuarantineSize(n int) {
	if m == nil {
		return
	}
	m.QuarantineSize.Set(float64(n))
}
