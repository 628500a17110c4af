package breaker

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "perfagent_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"breaker"},
	)
	metricTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfagent_breaker_transitions_total",
			Help: "Number of circuit breaker state transitions, by target state",
		},
		[]string{"breaker", "to"},
	)
	metricFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfagent_breaker_failures_total",
			Help: "Number of failures reported to the circuit breaker",
		},
		[]string{"breaker"},
	)
	metricRejected = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfagent_breaker_rejected_total",
			Help: "Number of calls short-circuited by the circuit breaker",
		},
		[]string{"breaker"},
	)
)

func init() {
	prometheus.MustRegister(metricState)
	prometheus.MustRegister(metricTransitions)
	prometheus.MustRegister(metricFailures)
	prometheus.MustRegister(metricRejected)
}
