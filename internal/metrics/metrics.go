package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's prometheus collectors on a private registry.
// All observer methods are nil-safe so components can run uninstrumented.
type Metrics struct {
	registry *prometheus.Registry

	memoryRSS      prometheus.Gauge
	memoryWarnings prometheus.Counter
	relaySessions  prometheus.Counter
	relayTokens    prometheus.Counter
	relayFailures  prometheus.Counter
	launchAttempts *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		memoryRSS: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "memory_rss_bytes",
			Help:      "Resident memory of the watched process at the last sample.",
		}),
		memoryWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "watchdog",
			Name:      "memory_warnings_total",
			Help:      "High-watermark excursions that triggered a warning.",
		}),
		relaySessions: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "relay",
			Name:      "sessions_total",
			Help:      "Stream relay sessions started.",
		}),
		relayTokens: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "relay",
			Name:      "tokens_total",
			Help:      "Token events relayed across all sessions.",
		}),
		relayFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "relay",
			Name:      "failures_total",
			Help:      "Relay sessions that ended without a terminal marker.",
		}),
		launchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "warden",
			Subsystem: "launcher",
			Name:      "attempts_total",
			Help:      "Launch attempts by outcome.",
		}, []string{"outcome"}),
	}

	m.registry.MustRegister(
		m.memoryRSS,
		m.memoryWarnings,
		m.relaySessions,
		m.relayTokens,
		m.relayFailures,
		m.launchAttempts,
	)
	return m
}

// Handler serves the registry in prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRSS(bytes uint64) {
	if m == nil {
		return
	}
	m.memoryRSS.Set(float64(bytes))
}

func (m *Metrics) MemoryWarning() {
	if m == nil {
		return
	}
	m.memoryWarnings.Inc()
}

func (m *Metrics) RelaySession() {
	if m == nil {
		return
	}
	m.relaySessions.Inc()
}

func (m *Metrics) RelayToken() {
	if m == nil {
		return
	}
	m.relayTokens.Inc()
}

func (m *Metrics) RelayFailure() {
	if m == nil {
		return
	}
	m.relayFailures.Inc()
}

func (m *Metrics) LaunchAttempt(ok bool) {
	if m == nil {
		return
	}
	outcome := "ok"
	if !ok {
		outcome = "error"
	}
	m.launchAttempts.WithLabelValues(outcome).Inc()
}
