package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorClass_String(t *testing.T) {
	assert.Equal(t, "transient", ErrorTransient.String())
	assert.Equal(t, "invalid", ErrorInvalid.String())
	assert.Equal(t, "fatal", ErrorFatal.String())
	assert.Equal(t, "unknown", ErrorClass(42).String())
}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"connection timeout", ErrConnectionTimeout, true},
		{"sidebar unavailable", ErrSidebarUnavailable, true},
		{"not acknowledged", ErrNotAcknowledged, true},
		{"context deadline", context.DeadlineExceeded, true},
		{"wrapped transient", fmt.Errorf("op: %w", ErrConnectionLost), true},
		{"pattern match", stderrors.New("dial tcp: network is unreachable"), true},
		{"state not allowed", ErrStateNotAllowed, false},
		{"plain error", stderrors.New("something odd"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsTransient(tt.err))
		})
	}
}

func TestIsInvalid(t *testing.T) {
	assert.True(t, IsInvalid(ErrStateNotAllowed))
	assert.True(t, IsInvalid(ErrUnknownColor))
	assert.True(t, IsInvalid(fmt.Errorf("set: %w", ErrInvalidConfig)))
	assert.False(t, IsInvalid(ErrConnectionTimeout))
	assert.False(t, IsInvalid(nil))
}

func TestWrap_Format(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(base, "StateCache", "Set", "notify sidebar")
	require.Error(t, err)
	assert.Equal(t, "StateCache.Set: notify sidebar failed: boom", err.Error())
	assert.True(t, stderrors.Is(err, base))

	assert.NoError(t, Wrap(nil, "StateCache", "Set", "notify sidebar"))
}

func TestWrapTransient_PreservesClassification(t *testing.T) {
	err := WrapTransient(stderrors.New("boom"), "Cache", "Start", "list tabs")
	assert.True(t, IsTransient(err))
	assert.False(t, IsInvalid(err))

	var ce *ClassifiedError
	require.True(t, stderrors.As(err, &ce))
	assert.Equal(t, "Cache", ce.Component)
	assert.Equal(t, "Start", ce.Operation)
	assert.Equal(t, ErrorTransient, ce.Class)
}

func TestWrapInvalid_OverridesPatterns(t *testing.T) {
	// Even an error whose message looks transient stays invalid once
	// classified explicitly.
	err := WrapInvalid(stderrors.New("connection string malformed"), "Config", "Validate", "parse")
	assert.True(t, IsInvalid(err))
	assert.False(t, IsTransient(err))
}

func TestClassify(t *testing.T) {
	assert.Equal(t, ErrorInvalid, Classify(ErrStateNotAllowed))
	assert.Equal(t, ErrorTransient, Classify(ErrConnectionLost))
	assert.Equal(t, ErrorTransient, Classify(stderrors.New("unknown")))
	assert.Equal(t, ErrorFatal, Classify(WrapFatal(stderrors.New("boom"), "C", "M", "a")))
}
