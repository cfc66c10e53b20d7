package metric

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Lej77/tst-mark-tabs/errors"
)

func TestNewMetricsRegistry(t *testing.T) {
	registry := NewMetricsRegistry()
	require.NotNil(t, registry)
	require.NotNil(t, registry.PrometheusRegistry())
	require.NotNil(t, registry.CoreMetrics())

	// Core metrics must be gatherable without error.
	_, err := registry.PrometheusRegistry().Gather()
	require.NoError(t, err)
}

func TestRegister_Duplicate(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabcache_test_total",
		Help: "test counter",
	})
	require.NoError(t, registry.Register("tabcache", "test_total", counter))

	other := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "tabcache_other_total",
		Help: "other counter",
	})
	err := registry.Register("tabcache", "test_total", other)
	require.Error(t, err)
	assert.True(t, errors.IsInvalid(err))
}

func TestUnregister(t *testing.T) {
	registry := NewMetricsRegistry()

	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sidebar_test_total",
		Help: "test counter",
	})
	require.NoError(t, registry.Register("sidebar", "test_total", counter))

	assert.True(t, registry.Unregister("sidebar", "test_total"))
	assert.False(t, registry.Unregister("sidebar", "test_total"))

	// Re-registration after unregister succeeds.
	require.NoError(t, registry.Register("sidebar", "test_total", counter))
}

func TestUnregisterComponent(t *testing.T) {
	registry := NewMetricsRegistry()

	for _, name := range []string{"a_total", "b_total", "c_total"} {
		counter := prometheus.NewCounter(prometheus.CounterOpts{
			Name: "marker_" + name,
			Help: "test counter",
		})
		require.NoError(t, registry.Register("marker", name, counter))
	}
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "unrelated_total",
		Help: "test counter",
	})
	require.NoError(t, registry.Register("other", "unrelated_total", counter))

	assert.Equal(t, 3, registry.UnregisterComponent("marker"))
	assert.Equal(t, 0, registry.UnregisterComponent("marker"))
	assert.True(t, registry.Unregister("other", "unrelated_total"))
}
