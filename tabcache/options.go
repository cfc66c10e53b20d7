package tabcache

import (
	"log/slog"
	"time"

	"github.com/Lej77/tst-mark-tabs/metric"
	"github.com/Lej77/tst-mark-tabs/types"
)

// DefaultIdleEviction is how long the cache may go untouched before its
// hydrated fact maps are released.
const DefaultIdleEviction = 20 * time.Second

// Option configures cache behavior using the functional options pattern.
type Option func(*cacheOptions)

// cacheOptions holds internal configuration for cache instances.
type cacheOptions struct {
	logger     *slog.Logger
	metricsReg *metric.MetricsRegistry
	cacheName  string
	seed       map[types.TabID]types.FactMap
	idleEvict  time.Duration
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *cacheOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithMetrics exposes cache statistics as Prometheus metrics labelled
// with the given cache name. If registry is nil, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry, cacheName string) Option {
	return func(opts *cacheOptions) {
		if registry != nil && cacheName != "" {
			opts.metricsReg = registry
			opts.cacheName = cacheName
		}
	}
}

// WithSeed pre-populates fact maps before hydration. Hydrated values
// merge over seeded ones without overwriting them. Keys outside the
// monitored set are dropped.
func WithSeed(seed map[types.TabID]types.FactMap) Option {
	return func(opts *cacheOptions) {
		opts.seed = seed
	}
}

// WithIdleEviction sets the idle period after which the in-memory fact
// maps are released. Zero or negative means never evict.
func WithIdleEviction(d time.Duration) Option {
	return func(opts *cacheOptions) {
		opts.idleEvict = d
	}
}

// applyOptions applies functional options over the defaults.
func applyOptions(options ...Option) *cacheOptions {
	opts := &cacheOptions{
		logger:    slog.Default(),
		idleEvict: DefaultIdleEviction,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
