package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_Success(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 5 * time.Millisecond,
		MaxDelay:     50 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_AllAttemptsFail(t *testing.T) {
	ctx := context.Background()
	cfg := Config{
		MaxAttempts:  3,
		InitialDelay: 2 * time.Millisecond,
		MaxDelay:     20 * time.Millisecond,
		Multiplier:   2.0,
	}

	attempts := 0
	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("persistent error")
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "retry failed after 3 attempts")
}

func TestRetry_NonRetryable(t *testing.T) {
	ctx := context.Background()
	base := errors.New("do not retry")

	attempts := 0
	err := Do(ctx, DefaultConfig(), func() error {
		attempts++
		return NonRetryable(base)
	})

	require.Error(t, err)
	assert.Equal(t, 1, attempts)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, base)
}

func TestRetry_ContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cfg := Config{
		MaxAttempts:  10,
		InitialDelay: 50 * time.Millisecond,
		MaxDelay:     time.Second,
		Multiplier:   2.0,
	}

	attempts := 0
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	err := Do(ctx, cfg, func() error {
		attempts++
		return errors.New("keep going")
	})

	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.LessOrEqual(t, attempts, 2)
}

func TestRetry_LinearSchedule(t *testing.T) {
	ctx := context.Background()
	cfg := Linear(10*time.Millisecond, 4)

	var gaps []time.Duration
	last := time.Now()
	attempts := 0
	err := Do(ctx, cfg, func() error {
		now := time.Now()
		gaps = append(gaps, now.Sub(last))
		last = now
		attempts++
		return errors.New("not ready")
	})

	require.Error(t, err)
	require.Equal(t, 4, attempts)

	// Linear growth with DelayFirst: waits of roughly 1x, 2x, 3x, 4x the step.
	for i, gap := range gaps {
		expected := time.Duration(i+1) * 10 * time.Millisecond
		assert.GreaterOrEqual(t, gap, expected-2*time.Millisecond, "gap %d", i)
	}
}

func TestRetry_LinearEarlyExit(t *testing.T) {
	ctx := context.Background()
	done := errors.New("nothing left to do")

	attempts := 0
	err := Do(ctx, Linear(time.Millisecond, 4), func() error {
		attempts++
		if attempts == 2 {
			return NonRetryable(done)
		}
		return errors.New("not ready")
	})

	require.Error(t, err)
	assert.Equal(t, 2, attempts)
	assert.ErrorIs(t, err, done)
}

func TestDoWithResult(t *testing.T) {
	ctx := context.Background()

	attempts := 0
	got, err := DoWithResult(ctx, Config{MaxAttempts: 3, InitialDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, func() (int, error) {
		attempts++
		if attempts < 2 {
			return 0, errors.New("again")
		}
		return 42, nil
	})

	require.NoError(t, err)
	assert.Equal(t, 42, got)
}

func TestRetry_InvalidConfig(t *testing.T) {
	ctx := context.Background()
	err := Do(ctx, Config{InitialDelay: -time.Second}, func() error { return nil })
	require.Error(t, err)

	err = Do(ctx, Config{InitialDelay: time.Second, MaxDelay: time.Millisecond}, func() error { return nil })
	require.Error(t, err)
}
