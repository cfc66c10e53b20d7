package retry

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"time"
)

// NonRetryableError wraps errors that should not be retried
type NonRetryableError struct {
	Err error
}

func (e *NonRetryableError) Error() string {
	return fmt.Sprintf("non-retryable: %v", e.Err)
}

func (e *NonRetryableError) Unwrap() error {
	return e.Err
}

// NonRetryable wraps an error to indicate it should not be retried
func NonRetryable(err error) error {
	if err == nil {
		return nil
	}
	return &NonRetryableError{Err: err}
}

// IsNonRetryable checks if an error is marked as non-retryable
func IsNonRetryable(err error) bool {
	var nre *NonRetryableError
	return errors.As(err, &nre)
}

// Config provides retry configuration
type Config struct {
	MaxAttempts  int           // Maximum number of attempts (0 = no retry, just run once)
	InitialDelay time.Duration // Initial delay between attempts
	MaxDelay     time.Duration // Maximum delay between attempts
	Multiplier   float64       // Exponential backoff multiplier (ignored when Increment is set)
	Increment    time.Duration // Linear backoff step; delay grows by this amount per attempt
	AddJitter    bool          // Add randomness to prevent thundering herd
	DelayFirst   bool          // Sleep before the first attempt as well
}

// DefaultConfig returns sensible defaults for retry operations
func DefaultConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		AddJitter:    true,
	}
}

// Linear returns a linear backoff config: attempt n is preceded by a
// wait of n times the step. Used for sidebar re-attach, where each
// notification attempt gives the sidebar progressively more time to
// become ready.
func Linear(step time.Duration, attempts int) Config {
	return Config{
		MaxAttempts:  attempts,
		InitialDelay: step,
		Increment:    step,
		MaxDelay:     step * time.Duration(attempts),
		DelayFirst:   true,
	}
}

// Do executes fn with backoff retry
func Do(ctx context.Context, cfg Config, fn func() error) error {
	if cfg.InitialDelay < 0 || cfg.MaxDelay < 0 || cfg.Multiplier < 0 || cfg.Increment < 0 {
		return errors.New("retry: delays and multiplier cannot be negative")
	}

	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1 // At least try once
	}
	if cfg.InitialDelay == 0 {
		cfg.InitialDelay = 100 * time.Millisecond
	}
	if cfg.MaxDelay == 0 {
		cfg.MaxDelay = 5 * time.Second
	}
	if cfg.Multiplier == 0 && cfg.Increment == 0 {
		cfg.Multiplier = 2.0
	}
	if cfg.Multiplier > 1000 {
		cfg.Multiplier = 1000
	}
	if cfg.MaxDelay < cfg.InitialDelay {
		return errors.New("retry: MaxDelay must be >= InitialDelay")
	}

	var lastErr error
	delay := cfg.InitialDelay

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		if cfg.DelayFirst || attempt > 1 {
			if err := sleep(ctx, cfg, delay); err != nil {
				return fmt.Errorf("retry cancelled before attempt %d: %w", attempt, err)
			}
			delay = next(cfg, delay)
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if IsNonRetryable(err) {
			return err
		}
		if ctx.Err() != nil {
			return fmt.Errorf("retry cancelled after attempt %d: %w", attempt, ctx.Err())
		}
	}

	return fmt.Errorf("retry failed after %d attempts: %w", cfg.MaxAttempts, lastErr)
}

// DoWithResult executes fn with retry and returns both result and error
func DoWithResult[T any](ctx context.Context, cfg Config, fn func() (T, error)) (T, error) {
	var result T
	err := Do(ctx, cfg, func() error {
		var innerErr error
		result, innerErr = fn()
		return innerErr
	})
	return result, err
}

// sleep waits the given delay with optional jitter, honoring ctx.
func sleep(ctx context.Context, cfg Config, delay time.Duration) error {
	if cfg.AddJitter && delay > 0 {
		// Up to 25% jitter
		delay += rand.N(delay/4 + 1)
	}

	timer := time.NewTimer(delay)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// next computes the following delay, capped at MaxDelay.
func next(cfg Config, delay time.Duration) time.Duration {
	var n time.Duration
	if cfg.Increment > 0 {
		n = delay + cfg.Increment
	} else {
		f := float64(delay) * cfg.Multiplier
		if f > float64(cfg.MaxDelay) {
			return cfg.MaxDelay
		}
		n = time.Duration(f)
	}
	if n > cfg.MaxDelay {
		return cfg.MaxDelay
	}
	return n
}
