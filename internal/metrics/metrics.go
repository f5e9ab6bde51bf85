package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns a private registry so tests and multiple servers in one
// process never collide on registration.
type Metrics struct {
	reg *prometheus.Registry

	missingTimezone prometheus.Counter
	invalidTimezone prometheus.Counter
	eventsFiltered  *prometheus.CounterVec
	refreshTotal    *prometheus.CounterVec
	lastRefresh     prometheus.Gauge
	storedEvents    prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{reg: prometheus.NewRegistry()}

	m.missingTimezone = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copilot",
		Subsystem: "relevance",
		Name:      "missing_timezone_total",
		Help:      "Filter calls made without a location timezone (upstream snapshot defect).",
	})
	m.invalidTimezone = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: "copilot",
		Subsystem: "relevance",
		Name:      "invalid_timezone_total",
		Help:      "Filter calls made with a timezone name that could not be loaded.",
	})
	m.eventsFiltered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copilot",
		Name:      "events_filtered_total",
		Help:      "Events evaluated by the relevance filter, by surface and outcome.",
	}, []string{"surface", "outcome"})
	m.refreshTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "copilot",
		Name:      "refresh_total",
		Help:      "Event discovery refresh runs by status.",
	}, []string{"status"})
	m.lastRefresh = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "copilot",
		Name:      "refresh_last_success_timestamp_seconds",
		Help:      "Unix timestamp of the last refresh that stored events.",
	})
	m.storedEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "copilot",
		Name:      "stored_events",
		Help:      "Events held after the last refresh.",
	})

	m.reg.MustRegister(
		m.missingTimezone, m.invalidTimezone, m.eventsFiltered,
		m.refreshTotal, m.lastRefresh, m.storedEvents,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// MissingTimezone implements relevance.Reporter.
func (m *Metrics) MissingTimezone(int) { m.missingTimezone.Inc() }

// InvalidTimezone implements relevance.Reporter.
func (m *Metrics) InvalidTimezone(string, error) { m.invalidTimezone.Inc() }

// Filtered records one surface's filter outcome.
func (m *Metrics) Filtered(surface string, total, included int) {
	m.eventsFiltered.WithLabelValues(surface, "included").Add(float64(included))
	m.eventsFiltered.WithLabelValues(surface, "excluded").Add(float64(total - included))
}

// Refreshed records one refresh run. stored < 0 means nothing was stored.
func (m *Metrics) Refreshed(status string, stored int, at time.Time) {
	m.refreshTotal.WithLabelValues(status).Inc()
	if stored >= 0 {
		m.lastRefresh.Set(float64(at.Unix()))
		m.storedEvents.Set(float64(stored))
	}
}
