// Package metrics registers the Prometheus counters and histograms
// exposed on the telemetry listener, grounded on the teacher's
// server.Config.PrometheusRegistry wiring in server/server.go: a
// *prometheus.Registry handed in by the caller, populated with
// CounterVec/HistogramVec instruments keyed by a small label set, and
// registered once at construction time.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds every instrument the core emits: one counter/histogram
// pair per RPC method, plus a counter for activation state
// transitions, mirroring the teacher's requestCounter/durationHist
// pair but keyed by RPC method name instead of HTTP handler name.
type Metrics struct {
	RPCRequestsTotal   *prometheus.CounterVec
	RPCDuration        *prometheus.HistogramVec
	ActivationTransitions *prometheus.CounterVec
	CallbackDeliveries *prometheus.CounterVec
}

// New builds and registers every instrument against reg.
func New(reg *prometheus.Registry) *Metrics {
	m := &Metrics{
		RPCRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activationserver_rpc_requests_total",
			Help: "Count of RPC calls by method and outcome.",
		}, []string{"method", "outcome"}),

		RPCDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "activationserver_rpc_duration_seconds",
			Help:    "RPC call latency by method.",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"method"}),

		ActivationTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activationserver_activation_transitions_total",
			Help: "Count of activation lifecycle transitions by target status.",
		}, []string{"status"}),

		CallbackDeliveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "activationserver_callback_deliveries_total",
			Help: "Count of outbound callback notification attempts by outcome.",
		}, []string{"outcome"}),
	}
	reg.MustRegister(m.RPCRequestsTotal, m.RPCDuration, m.ActivationTransitions, m.CallbackDeliveries)
	return m
}

// ObserveRPC records one RPC call's outcome and latency under the
// caller-supplied outcome label; the JSON RPC routes pass "handled"
// for every call, whatever its result.
func (m *Metrics) ObserveRPC(method, outcome string, start time.Time) {
	m.RPCRequestsTotal.WithLabelValues(method, outcome).Inc()
	m.RPCDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
}

// ObserveTransition records one activation reaching status.
func (m *Metrics) ObserveTransition(status string) {
	m.ActivationTransitions.WithLabelValues(status).Inc()
}

// ObserveCallback records one callback delivery attempt.
func (m *Metrics) ObserveCallback(outcome string) {
	m.CallbackDeliveries.WithLabelValues(outcome).Inc()
}
