// Package metrics declares the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	CodesIssued       *prometheus.CounterVec
	CodeVerifications *prometheus.CounterVec
	WebhookEvents     *prometheus.CounterVec
	RequestDuration   *prometheus.HistogramVec
}

// New registers the collectors with reg. Passing prometheus.DefaultRegisterer
// exposes them through promhttp.Handler.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		CodesIssued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paywall",
			Name:      "codes_issued_total",
			Help:      "One-time codes issued, by result.",
		}, []string{"result"}),
		CodeVerifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paywall",
			Name:      "code_verifications_total",
			Help:      "One-time code verification attempts, by outcome.",
		}, []string{"outcome"}),
		WebhookEvents: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "paywall",
			Name:      "webhook_events_total",
			Help:      "Payment webhook deliveries, by outcome.",
		}, []string{"outcome"}),
		RequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "paywall",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}
