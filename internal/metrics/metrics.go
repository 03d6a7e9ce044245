package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Decision = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitegate_decision_total",
			Help: "Gate decisions by outcome",
		},
		[]string{"decision"},
	)
	DecisionDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sitegate_decision_duration_seconds",
			Help:    "Time spent deciding, excluding the origin round trip",
			Buckets: []float64{0.0001, 0.00025, 0.0005, 0.001, 0.0025, 0.005, 0.01, 0.05},
		},
	)
	SessionIssued = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitegate_session_issued_total",
			Help: "Session cookies issued, by channel (form|basic)",
		},
		[]string{"channel"},
	)
	CredentialFailures = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitegate_credential_failures_total",
			Help: "Rejected credential presentations, by channel (form|basic)",
		},
		[]string{"channel"},
	)
	ProxyLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "sitegate_proxy_latency_seconds",
			Help:    "Origin round trip latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"origin"},
	)
	ProxyErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitegate_proxy_errors_total",
			Help: "Origin errors by type (context|timeout|dns|connection|circuit_open|other)",
		},
		[]string{"origin", "error_type"},
	)
	OriginCircuitState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "sitegate_origin_circuit_state",
			Help: "Origin circuit breaker state (0=closed, 1=open, 2=half-open)",
		},
		[]string{"origin"},
	)
	OriginCircuitTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sitegate_origin_circuit_transitions_total",
			Help: "Origin circuit breaker state transitions",
		},
		[]string{"origin", "from", "to"},
	)
	BuildInfo = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name:        "sitegate_build_info",
			Help:        "Build info gauge with const labels",
			ConstLabels: prometheus.Labels{"version": "0.1.0"},
		},
	)
)

func MustRegister() {
	prometheus.MustRegister(Decision, DecisionDuration, SessionIssued, CredentialFailures,
		ProxyLatency, ProxyErrors, OriginCircuitState, OriginCircuitTransitions, BuildInfo)
	BuildInfo.Set(1)
}
