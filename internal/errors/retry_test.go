package errors

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastRetry() RetryConfig {
	cfg := DefaultRetryConfig()
	cfg.InitialDelay = time.Millisecond
	cfg.MaxDelay = 5 * time.Millisecond
	return cfg
}

func TestRetry_SucceedsAfterTransientError(t *testing.T) {
	// Given: a function that fails twice with a backend error then succeeds
	attempts := 0
	fn := func() error {
		attempts++
		if attempts < 3 {
			return BackendError("transient", nil)
		}
		return nil
	}

	// When: retrying
	err := Retry(context.Background(), fastRetry(), fn)

	// Then: succeeds after 3 attempts
	assert.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_FailsAfterMaxRetries(t *testing.T) {
	attempts := 0
	cfg := fastRetry()
	cfg.MaxRetries = 2

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		return BackendError("persistent", nil)
	})

	require.Error(t, err)
	assert.Equal(t, 3, attempts)
	assert.Contains(t, err.Error(), "failed after 2 retries")
	assert.True(t, errors.Is(err, ErrBackendUnavailable))
}

func TestRetry_DoesNotRetryNonRetryable(t *testing.T) {
	// Given: a validation error, which retrying cannot fix
	attempts := 0
	err := Retry(context.Background(), fastRetry(), func() error {
		attempts++
		return New(ErrCodeInvalidQuery, "bad query", nil)
	})

	// Then: exactly one attempt, error returned unchanged
	assert.Equal(t, 1, attempts)
	assert.Equal(t, ErrCodeInvalidQuery, GetCode(err))
}

func TestRetry_NilShouldRetryRetriesEverything(t *testing.T) {
	attempts := 0
	cfg := fastRetry()
	cfg.ShouldRetry = nil

	err := Retry(context.Background(), cfg, func() error {
		attempts++
		if attempts < 2 {
			return errors.New("plain")
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	err := Retry(ctx, fastRetry(), func() error {
		calls.Add(1)
		return nil
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, int32(0), calls.Load())
}

func TestRetryWithResult_ReturnsValue(t *testing.T) {
	attempts := 0
	got, err := RetryWithResult(context.Background(), fastRetry(), func() ([]float32, error) {
		attempts++
		if attempts == 1 {
			return nil, BackendError("warming up", nil)
		}
		return []float32{0.1, 0.2}, nil
	})

	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2}, got)
}
