package tabcache

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/Lej77/tst-mark-tabs/metric"
)

// cacheMetrics binds the core cache metrics to one cache instance's
// label. A nil *cacheMetrics is valid and records nothing.
type cacheMetrics struct {
	hits            prometheus.Counter
	misses          prometheus.Counter
	size            prometheus.Gauge
	hydrations      prometheus.Counter
	hydrationErrors prometheus.Counter
	evictions       prometheus.Counter
}

func newCacheMetrics(registry *metric.MetricsRegistry, cacheName string) *cacheMetrics {
	core := registry.CoreMetrics()
	return &cacheMetrics{
		hits:            core.CacheHits.WithLabelValues(cacheName),
		misses:          core.CacheMisses.WithLabelValues(cacheName),
		size:            core.CacheSize.WithLabelValues(cacheName),
		hydrations:      core.Hydrations.WithLabelValues(cacheName),
		hydrationErrors: core.HydrationErrors.WithLabelValues(cacheName),
		evictions:       core.Evictions.WithLabelValues(cacheName),
	}
}

func (m *cacheMetrics) recordHit() {
	if m != nil {
		m.hits.Inc()
	}
}

func (m *cacheMetrics) recordMiss() {
	if m != nil {
		m.misses.Inc()
	}
}

func (m *cacheMetrics) updateSize(n int) {
	if m != nil {
		m.size.Set(float64(n))
	}
}

func (m *cacheMetrics) recordHydration() {
	if m != nil {
		m.hydrations.Inc()
	}
}

func (m *cacheMetrics) recordHydrationError() {
	if m != nil {
		m.hydrationErrors.Inc()
	}
}

func (m *cacheMetrics) recordEviction() {
	if m != nil {
		m.evictions.Inc()
	}
}
