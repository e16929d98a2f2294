package request

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the HTTP latency histogram.
type Metrics struct {
	latency *prometheus.HistogramVec
}

// NewMetrics registers the histogram with reg. Tests pass a fresh
// prometheus.NewRegistry().
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "healthcred_http_request_duration_seconds",
			Help:    "HTTP handler latency by route.",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
	reg.MustRegister(m.latency)
	return m
}

func (m *Metrics) Observe(method, route string, status int, d time.Duration) {
	m.latency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
