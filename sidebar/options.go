package sidebar

import (
	"log/slog"
	"time"

	"github.com/Lej77/tst-mark-tabs/metric"
)

// Defaults for the moved-tab re-assertion loop: waits of step, 2x step,
// 3x step and 4x step before the four attempts.
const (
	DefaultMoveRetryStep     = 250 * time.Millisecond
	DefaultMoveRetryAttempts = 4
)

// Option configures a StateCache.
type Option func(*cacheOptions)

type cacheOptions struct {
	logger            *slog.Logger
	metricsReg        *metric.MetricsRegistry
	moveRetryStep     time.Duration
	moveRetryAttempts int
}

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(opts *cacheOptions) {
		if logger != nil {
			opts.logger = logger
		}
	}
}

// WithMetrics records sidebar call counts on the registry's core
// metrics. If registry is nil, this option is ignored.
func WithMetrics(registry *metric.MetricsRegistry) Option {
	return func(opts *cacheOptions) {
		opts.metricsReg = registry
	}
}

// WithMoveRetry overrides the re-assertion schedule used after a tab
// moves between windows. Mainly for tests.
func WithMoveRetry(step time.Duration, attempts int) Option {
	return func(opts *cacheOptions) {
		if step > 0 && attempts > 0 {
			opts.moveRetryStep = step
			opts.moveRetryAttempts = attempts
		}
	}
}

func applyOptions(options ...Option) *cacheOptions {
	opts := &cacheOptions{
		logger:            slog.Default(),
		moveRetryStep:     DefaultMoveRetryStep,
		moveRetryAttempts: DefaultMoveRetryAttempts,
	}
	for _, opt := range options {
		if opt != nil {
			opt(opts)
		}
	}
	return opts
}
