package delivery

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfagent_delivery_attempts_total",
			Help: "Number of delivery attempts, by outcome",
		},
		[]string{"outcome"}, // success, failure
	)
	metricSkipped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfagent_delivery_skipped_total",
			Help: "Number of messages dropped before a delivery attempt, by reason",
		},
		[]string{"reason"},
	)
	metricDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "perfagent_delivery_duration_seconds",
			Help:    "Duration of delivery attempts",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		},
	)
	metricPayloadBytes = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "perfagent_delivery_payload_bytes",
			Help:    "Size of encoded envelopes before compression",
			Buckets: prometheus.ExponentialBuckets(256, 4, 8),
		},
	)
)

func init() {
	prometheus.MustRegister(metricAttempts)
	prometheus.MustRegister(metricSkipped)
	prometheus.MustRegister(metricDuration)
	prometheus.MustRegister(metricPayloadBytes)
}
