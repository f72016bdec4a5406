package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "vhlr"

// Metrics holds the probe run statistics.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	generatedCalls  prometheus.Counter
	successfulCalls prometheus.Counter
	failedCalls     prometheus.Counter
	terminatedCalls prometheus.Counter
	notFoundCalls   prometheus.Counter
	outcomes        *prometheus.CounterVec
	inflightCalls   prometheus.Gauge
	cacheLookups    *prometheus.CounterVec
	probes          *prometheus.CounterVec
}

// New builds a Metrics instance on its own registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		generatedCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "generated_calls_total",
			Help:      "Count of probe calls originated.",
		}),
		successfulCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "successful_calls_total",
			Help:      "Count of probe calls that reached an active state.",
		}),
		failedCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failed_calls_total",
			Help:      "Count of probe calls terminated without connecting.",
		}),
		terminatedCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "terminated_calls_total",
			Help:      "Count of probe calls terminated for any reason.",
		}),
		notFoundCalls: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "not_found_calls_total",
			Help:      "Count of probe calls classified as unallocated or unroutable.",
		}),
		outcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "call_outcomes_total",
			Help:      "Count of terminated probe calls by outcome code.",
		}, []string{"code"}),
		inflightCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "inflight_calls",
			Help:      "Probe calls currently between origination and termination.",
		}),
		cacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cache_lookups_total",
			Help:      "Count of outcome cache lookups by result.",
		}, []string{"result"}),
		probes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "probes_total",
			Help:      "Count of completed probe requests by availability.",
		}, []string{"available"}),
	}
	m.registry.MustRegister(
		m.generatedCalls,
		m.successfulCalls,
		m.failedCalls,
		m.terminatedCalls,
		m.notFoundCalls,
		m.outcomes,
		m.inflightCalls,
		m.cacheLookups,
		m.probes,
	)
	return m
}

// Handler exposes the registry for scraping.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) CallGenerated() {
	if m == nil {
		return
	}
	m.generatedCalls.Inc()
	m.inflightCalls.Inc()
}

func (m *Metrics) CallConnected() {
	if m == nil {
		return
	}
	m.successfulCalls.Inc()
}

// CallTerminated records a terminal call. dialed is false for calls stopped before origination.
func (m *Metrics) CallTerminated(dialed, connected bool, code int, notFound bool) {
	if m == nil {
		return
	}
	if dialed {
		m.inflightCalls.Dec()
	}
	m.terminatedCalls.Inc()
	if !connected {
		m.failedCalls.Inc()
	}
	if notFound {
		m.notFoundCalls.Inc()
	}
	m.outcomes.WithLabelValues(strconv.Itoa(code)).Inc()
}

// Cache lookup results.
const (
	CacheHit   = "hit"
	CacheMiss  = "miss"
	CacheError = "error"
)

func (m *Metrics) CacheLookup(result string) {
	if m == nil {
		return
	}
	m.cacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) ProbeCompleted(available bool) {
	if m == nil {
		return
	}
	m.probes.WithLabelValues(strconv.FormatBool(available)).Inc()
}
