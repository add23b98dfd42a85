// Package metrics registers the Prometheus collectors the execution core
// exposes for an external scraper. Per spec.md's non-goals, this package
// never ships telemetry anywhere itself and never starts an HTTP exporter;
// callers who want `/metrics` wire promhttp.Handler() against the Registry
// themselves. Adapted from 41eb3b21_autovant-trading-bot's
// prometheus.MustRegister idiom, generalised to the signal-transport and
// gateway observables spec.md §4.1/§4.5 name.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Registry bundles the execution core's collectors. The transport writes
// the message and signature collectors; the order, slippage,
// circuit-breaker and drift collectors are registered but no package in
// this module writes to them. Constructed once at startup and passed by
// reference, per
// spec.md §9: "Global singletons (loggers, metrics) -> passed explicitly
// at construction."
type Registry struct {
	reg *prometheus.Registry

	MessagesReceived  *prometheus.CounterVec
	MessagesProcessed *prometheus.CounterVec
	MessagesFailed    *prometheus.CounterVec
	InvalidSignatures prometheus.Counter
	MessageLatency    *prometheus.HistogramVec

	OrdersSubmitted *prometheus.CounterVec
	OrdersRejected  *prometheus.CounterVec
	FillSlippageBps *prometheus.HistogramVec

	CircuitBreakerTrips prometheus.Counter
	DriftMonitorState   *prometheus.GaugeVec
}

// New builds a Registry and registers every collector against a fresh
// prometheus.Registry (never the global DefaultRegisterer, so tests can
// construct as many Registries as they like without collector collisions).
func New() *Registry {
	reg := prometheus.NewRegistry()

	r := &Registry{
		reg: reg,
		MessagesReceived: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_messages_received_total",
			Help: "Signal envelopes received on the local transport, by kind.",
		}, []string{"kind"}),
		MessagesProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_messages_processed_total",
			Help: "Signal envelopes that completed processing, by kind and outcome.",
		}, []string{"kind", "outcome"}),
		MessagesFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_messages_failed_total",
			Help: "Signal envelopes that failed before a planner outcome was reached.",
		}, []string{"kind", "reason"}),
		InvalidSignatures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execd_invalid_signatures_total",
			Help: "HMAC signature verification failures on the local transport.",
		}),
		MessageLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "execd_message_latency_seconds",
			Help:    "End-to-end handling latency per signal kind.",
			Buckets: prometheus.DefBuckets,
		}, []string{"kind"}),
		OrdersSubmitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_orders_submitted_total",
			Help: "Orders submitted to the venue gateway, by adapter.",
		}, []string{"adapter"}),
		OrdersRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "execd_orders_rejected_total",
			Help: "Orders rejected by the venue gateway, by adapter and reason.",
		}, []string{"adapter", "reason"}),
		FillSlippageBps: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "execd_fill_slippage_bps",
			Help:    "Signed slippage in basis points between limit/reference price and fill price.",
			Buckets: []float64{-50, -20, -10, -5, -1, 0, 1, 5, 10, 20, 50},
		}, []string{"adapter"}),
		CircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "execd_circuit_breaker_trips_total",
			Help: "Times the consecutive-loss circuit breaker has tripped.",
		}),
		DriftMonitorState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "execd_drift_monitor_state",
			Help: "Drift monitor escalation level: 0=NORMAL, 1=SAFETY_STOP, 2=HARD_KILL.",
		}, []string{}),
	}

	reg.MustRegister(
		r.MessagesReceived,
		r.MessagesProcessed,
		r.MessagesFailed,
		r.InvalidSignatures,
		r.MessageLatency,
		r.OrdersSubmitted,
		r.OrdersRejected,
		r.FillSlippageBps,
		r.CircuitBreakerTrips,
		r.DriftMonitorState,
	)
	return r
}

// Registerer exposes the underlying prometheus.Registry for an external
// scraper to wire promhttp.HandlerFor against; this package never starts
// its own HTTP listener.
func (r *Registry) Registerer() *prometheus.Registry { return r.reg }

// ObserveLatency is a small helper so callers can defer a single line
// instead of hand-rolling time.Since at every call site.
func (r *Registry) ObserveLatency(kind string, start time.Time) {
	r.MessageLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
}
