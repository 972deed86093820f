// Package breaker implements a per-downstream-service circuit breaker.
//
// This file exposes the Prometheus collectors that make breaker transitions
// observable. Labels are bounded by the (small, static) set of downstream
// service names.
package breaker

import "github.com/prometheus/client_golang/prometheus"

var (
	// breakerState gauges the current state per service:
	// 0 = closed, 1 = open, 2 = half-open.
	breakerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "gateway_breaker_state",
			Help: "Circuit breaker state per downstream service (0=closed, 1=open, 2=half-open).",
		},
		[]string{"service"},
	)

	// breakerTransitions counts state changes by destination state.
	breakerTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_breaker_transitions_total",
			Help: "Total circuit breaker state transitions by destination state.",
		},
		[]string{"service", "to"},
	)

	// breakerRejections counts calls refused while the breaker was not closed.
	breakerRejections = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gateway_breaker_rejections_total",
			Help: "Total calls rejected by an open circuit breaker.",
		},
		[]string{"service"},
	)
)

func init() {
	prometheus.MustRegister(breakerState, breakerTransitions, breakerRejections)
}

// MarkRejected records that a call was refused because the breaker for
// service was not admitting traffic. Called by the gateway gate middleware.
func MarkRejected(service string) {
	breakerRejections.WithLabelValues(service).Inc()
}
