package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics contains the core synchronizer metrics shared by all
// components. Component-specific metrics are registered separately
// through the MetricsRegistry.
type Metrics struct {
	// Synchronizer state (0=stopped, 1=starting, 2=running)
	SynchronizerState prometheus.Gauge

	// Cache metrics
	CacheHits       *prometheus.CounterVec
	CacheMisses     *prometheus.CounterVec
	CacheSize       *prometheus.GaugeVec
	Hydrations      *prometheus.CounterVec
	HydrationErrors *prometheus.CounterVec
	Evictions       *prometheus.CounterVec

	// Sidebar metrics
	SidebarCalls    *prometheus.CounterVec
	SidebarFailures *prometheus.CounterVec

	// NATS metrics
	NATSConnected  prometheus.Gauge
	NATSReconnects prometheus.Counter
}

// NewMetrics creates a new Metrics instance with all core metrics
func NewMetrics() *Metrics {
	return &Metrics{
		SynchronizerState: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "marktabs",
				Subsystem: "synchronizer",
				Name:      "state",
				Help:      "Synchronizer state (0=stopped, 1=starting, 2=running)",
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktabs",
				Subsystem: "cache",
				Name:      "hits_total",
				Help:      "Total cache hits",
			},
			[]string{"cache"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktabs",
				Subsystem: "cache",
				Name:      "misses_total",
				Help:      "Total cache misses",
			},
			[]string{"cache"},
		),

		CacheSize: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: "marktabs",
				Subsystem: "cache",
				Name:      "size",
				Help:      "Current number of cached entries",
			},
			[]string{"cache"},
		),

		Hydrations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktabs",
				Subsystem: "cache",
				Name:      "hydrations_total",
				Help:      "Total tab hydrations from the durable store",
			},
			[]string{"cache"},
		),

		HydrationErrors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktabs",
				Subsystem: "cache",
				Name:      "hydration_errors_total",
				Help:      "Total hydration failures (degraded, not fatal)",
			},
			[]string{"cache"},
		),

		Evictions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktabs",
				Subsystem: "cache",
				Name:      "evictions_total",
				Help:      "Total idle-timer evictions of the in-memory cache",
			},
			[]string{"cache"},
		),

		SidebarCalls: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktabs",
				Subsystem: "sidebar",
				Name:      "calls_total",
				Help:      "Total notification calls issued to the sidebar",
			},
			[]string{"operation"},
		),

		SidebarFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "marktabs",
				Subsystem: "sidebar",
				Name:      "failures_total",
				Help:      "Total sidebar calls that failed or were not acknowledged",
			},
			[]string{"operation"},
		),

		NATSConnected: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "marktabs",
				Subsystem: "nats",
				Name:      "connected",
				Help:      "Whether the NATS connection is established (0 or 1)",
			},
		),

		NATSReconnects: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "marktabs",
				Subsystem: "nats",
				Name:      "reconnects_total",
				Help:      "Total NATS reconnects",
			},
		),
	}
}

// collectors returns every core metric for bulk registration.
func (m *Metrics) collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.SynchronizerState,
		m.CacheHits,
		m.CacheMisses,
		m.CacheSize,
		m.Hydrations,
		m.HydrationErrors,
		m.Evictions,
		m.SidebarCalls,
		m.SidebarFailures,
		m.NATSConnected,
		m.NATSReconnects,
	}
}
