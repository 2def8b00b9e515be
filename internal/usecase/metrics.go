package usecase

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus metrics for the answer pipeline.
// A nil *Metrics records nothing.
//
// Metrics:
//   - ragchat_requests_total{status,phase} - ask requests by outcome and failing phase
//   - ragchat_request_duration_seconds - end-to-end ask latency
//   - ragchat_external_call_duration_seconds{call} - embedding and completion latency
//   - ragchat_ready - 1 once the orchestrator is ready, 0 otherwise
//   - ragchat_index_entries - entries in the published index
//   - ragchat_index_builds_total{result} - index builds
type Metrics struct {
	RequestsTotal       *prometheus.CounterVec
	RequestDuration     prometheus.Histogram
	ExternalCallSeconds *prometheus.HistogramVec
	Ready               prometheus.Gauge
	IndexEntries        prometheus.Gauge
	IndexBuildsTotal    *prometheus.CounterVec
}

// NewMetrics registers the pipeline metrics with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ragchat",
				Name:      "requests_total",
				Help:      "Total number of ask requests by status and failing phase",
			},
			[]string{"status", "phase"},
		),
		RequestDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "ragchat",
				Name:      "request_duration_seconds",
				Help:      "Duration of ask requests in seconds",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12), // 10ms to ~40s
			},
		),
		ExternalCallSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "ragchat",
				Name:      "external_call_duration_seconds",
				Help:      "Duration of embedding and completion calls in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"call"},
		),
		Ready: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ragchat",
				Name:      "ready",
				Help:      "Whether the service is ready to answer (1) or not (0)",
			},
		),
		IndexEntries: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "ragchat",
				Name:      "index_entries",
				Help:      "Number of entries in the published index",
			},
		),
		IndexBuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "ragchat",
				Name:      "index_builds_total",
				Help:      "Total number of index builds by result",
			},
			[]string{"result"},
		),
	}
}

func (m *Metrics) observeRequest(status, phase string, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(status, phase).Inc()
	m.RequestDuration.Observe(d.Seconds())
}

func (m *Metrics) observeCall(call string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExternalCallSeconds.WithLabelValues(call).Observe(d.Seconds())
}

func (m *Metrics) setReady(ready bool) {
	if m == nil {
		return
	}
	if ready {
		m.Ready.Set(1)
	} else {
		m.Ready.Set(0)
	}
}

func (m *Metrics) setIndexEntries(n int) {
	if m == nil {
		return
	}
	m.IndexEntries.Set(float64(n))
}

func (m *Metrics) observeBuild(err error) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "error"
	}
	m.IndexBuildsTotal.WithLabelValues(result).Inc()
}
