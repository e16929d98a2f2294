// Package metrics holds the pipeline's Prometheus collectors. They are
// package-level so every component records into the same series.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Submissions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthcred_submissions_total",
		Help: "Submissions by final status",
	}, []string{"status"})

	CredentialsValidated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthcred_credentials_validated_total",
		Help: "Credentials run through the validator by logical type and outcome",
	}, []string{"cred_type", "outcome"})

	ConsentRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthcred_consent_rejections_total",
		Help: "Consent receipts rejected by reason",
	}, []string{"reason"})

	BatchRows = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthcred_batch_rows_total",
		Help: "Batch rows processed by outcome",
	}, []string{"outcome"})

	BreakerTrips = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthcred_batch_breaker_trips_total",
		Help: "Batches halted by the error threshold",
	})

	OutboundCircuit = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "healthcred_outbound_circuit_state",
		Help: "Outbound circuit state per service (0 closed, 1 open, 2 half open)",
	}, []string{"service"})

	ReadbackRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "healthcred_batch_readback_retries_total",
		Help: "Queue read-back attempts that did not match the inserted count",
	})

	SubmissionLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "healthcred_submission_duration_seconds",
		Help:    "End-to-end submission latency",
		Buckets: prometheus.DefBuckets,
	}, []string{"mode"})

	EndpointLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "healthcred_endpoint_latency_seconds",
		Help:    "Latency of HTTP endpoints in seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"endpoint"})
)

// Outcome labels.
const (
	OutcomeValid   = "valid"
	OutcomeInvalid = "invalid"
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)
