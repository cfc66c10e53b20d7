package marker

import (
	"log/slog"

	"github.com/Lej77/tst-mark-tabs/metric"
)

// Option configures a Synchronizer.
type Option func(*syncOptions)

type syncOptions struct {
	logger     *slog.Logger
	metricsReg *metric.MetricsRegistry
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *syncOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithMetrics records synchronizer state and sidebar call counts on the
// registry's core metrics. If registry is nil, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(opts *syncOptions) {
		opts.metricsReg = registry
	}
}

func applyOptions(options ...Option) *syncOptions {
	opts := &syncOptions{logger: slog.Default()}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
