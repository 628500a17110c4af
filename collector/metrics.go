package collector

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	metricEvents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfagent_collector_events_total",
			Help: "Number of events recorded by collector",
		},
		[]string{"collector"},
	)
	metricErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "perfagent_collector_errors_total",
			Help: "Number of instrumentation errors that were caught and ignored",
		},
		[]string{"collector"},
	)
)

func init() {
	prometheus.MustRegister(metricEvents)
	prometheus.MustRegister(metricErrors)
}
