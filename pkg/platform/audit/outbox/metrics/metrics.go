// Package metrics instruments the outbox worker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics are labeled by outbox event type (submission_persisted,
// batch_report, ...).
type Metrics struct {
	pending       prometheus.Gauge
	oldestPending prometheus.Gauge
	published     *prometheus.CounterVec
	failures      *prometheus.CounterVec
	pruned        prometheus.Counter
	publishTime   prometheus.Histogram
	pollSize      prometheus.Histogram
}

// New registers the outbox metrics on reg. Call it once per registry.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		pending: f.NewGauge(prometheus.GaugeOpts{
			Name: "healthcred_outbox_pending",
			Help: "Outbox entries not yet published",
		}),
		oldestPending: f.NewGauge(prometheus.GaugeOpts{
			Name: "healthcred_outbox_oldest_pending_seconds",
			Help: "Age of the oldest entry fetched by the last poll",
		}),
		published: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthcred_outbox_published_total",
			Help: "Outbox entries published to Kafka",
		}, []string{"event_type"}),
		failures: f.NewCounterVec(prometheus.CounterOpts{
			Name: "healthcred_outbox_publish_failures_total",
			Help: "Outbox entries that failed to publish and stay pending",
		}, []string{"event_type"}),
		pruned: f.NewCounter(prometheus.CounterOpts{
			Name: "healthcred_outbox_pruned_total",
			Help: "Published outbox entries deleted after the retention period",
		}),
		publishTime: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthcred_outbox_publish_duration_seconds",
			Help:    "Latency of one Kafka produce call",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),
		pollSize: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "healthcred_outbox_poll_size",
			Help:    "Entries fetched per poll",
			Buckets: []float64{1, 5, 10, 25, 50, 100, 250},
		}),
	}
}

func (m *Metrics) SetPending(n int64) {
	m.pending.Set(float64(n))
}

func (m *Metrics) SetOldestPending(seconds float64) {
	m.oldestPending.Set(seconds)
}

func (m *Metrics) Published(eventType string) {
	m.published.WithLabelValues(eventType).Inc()
}

// Failed counts a publish failure. Fetch failures use event type "fetch".
func (m *Metrics) Failed(eventType string) {
	m.failures.WithLabelValues(eventType).Inc()
}

func (m *Metrics) Pruned(n int64) {
	m.pruned.Add(float64(n))
}

func (m *Metrics) ObservePublish(seconds float64) {
	m.publishTime.Observe(seconds)
}

func (m *Metrics) ObservePoll(size int) {
	m.pollSize.Observe(float64(size))
}
