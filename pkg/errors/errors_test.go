package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWrap(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		msg      string
		expected string
	}{
		{
			name:     "wraps an error with context",
			err:      ErrTransferExhausted,
			msg:      "pulling model m1",
			expected: "pulling model m1: transfer failed after exhausting retries",
		},
		{
			name:     "nil error returns nil",
			err:      nil,
			msg:      "ignored",
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			wrapped := Wrap(tt.err, tt.msg)
			if tt.err == nil {
				assert.NoError(t, wrapped)
				return
			}
			require.Error(t, wrapped)
			assert.Equal(t, tt.expected, wrapped.Error())
			assert.True(t, errors.Is(wrapped, tt.err))
		})
	}
}

func TestWrapf(t *testing.T) {
	err := Wrapf(ErrModelNotFound, "model %q version %d", "whisper-small", 2)
	require.Error(t, err)
	assert.Equal(t, `model "whisper-small" version 2: model not found`, err.Error())
	assert.True(t, errors.Is(err, ErrModelNotFound))

	assert.NoError(t, Wrapf(nil, "unused %s", "fmt"))
}

func TestSentinelsAreDistinct(t *testing.T) {
	sentinels := []error{
		ErrInvalidDescriptor,
		ErrTransferExhausted,
		ErrTransferPermanent,
		ErrUnsupportedArchive,
		ErrExtractionFailed,
		ErrCancelled,
		ErrModelNotFound,
	}
	for i, a := range sentinels {
		for j, b := range sentinels {
			if i == j {
				continue
			}
			assert.False(t, errors.Is(a, b), fmt.Sprintf("%v should not match %v", a, b))
		}
	}
}
