package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func failing() (int, error) { return 0, BackendError("down", nil) }

func TestCircuitBreaker_OpensAfterMaxFailures(t *testing.T) {
	// Given: a circuit breaker with max 3 failures
	cb := NewCircuitBreaker("reranker", WithMaxFailures(3), WithResetTimeout(time.Second))

	// When: recording 3 backend failures
	for i := 0; i < 3; i++ {
		_, _ = Execute(cb, failing)
	}

	// Then: circuit is open and calls are rejected without running
	assert.Equal(t, StateOpen, cb.State())
	called := false
	_, err := Execute(cb, func() (int, error) {
		called = true
		return 1, nil
	})
	require.Error(t, err)
	assert.False(t, called)
	assert.True(t, errors.Is(err, ErrCircuitOpen))
	assert.True(t, IsRetryable(err))
}

func TestCircuitBreaker_IgnoresNonRetryableFailures(t *testing.T) {
	cb := NewCircuitBreaker("reranker", WithMaxFailures(1))

	_, err := Execute(cb, func() (int, error) {
		return 0, New(ErrCodeInvalidQuery, "bad", nil)
	})

	require.Error(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Failures())
}

func TestCircuitBreaker_RecoversAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(2), WithResetTimeout(20*time.Millisecond))
	for i := 0; i < 2; i++ {
		_, _ = Execute(cb, failing)
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())

	got, err := Execute(cb, func() (int, error) { return 7, nil })
	assert.NoError(t, err)
	assert.Equal(t, 7, got)
	assert.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker("embedder", WithMaxFailures(5), WithResetTimeout(20*time.Millisecond))
	for i := 0; i < 5; i++ {
		_, _ = Execute(cb, failing)
	}
	time.Sleep(30 * time.Millisecond)

	_, err := Execute(cb, failing)

	require.Error(t, err)
	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_SingleProbeWhileHalfOpen(t *testing.T) {
	// Given: a breaker past its cooldown
	cb := NewCircuitBreaker("reranker", WithMaxFailures(1), WithResetTimeout(10*time.Millisecond))
	_, _ = Execute(cb, failing)
	time.Sleep(20 * time.Millisecond)

	// When: a second call arrives while the trial is still running
	release := make(chan struct{})
	trialDone := make(chan error, 1)
	started := make(chan struct{})
	go func() {
		_, err := Execute(cb, func() (int, error) {
			close(started)
			<-release
			return 1, nil
		})
		trialDone <- err
	}()
	<-started
	_, err := Execute(cb, func() (int, error) { return 2, nil })

	// Then: it is rejected, and the trial's success closes the breaker
	assert.ErrorIs(t, err, ErrCircuitOpen)
	close(release)
	require.NoError(t, <-trialDone)
	assert.Equal(t, StateClosed, cb.State())
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "closed", StateClosed.String())
	assert.Equal(t, "open", StateOpen.String())
	assert.Equal(t, "half-open", StateHalfOpen.String())
	assert.Equal(t, "unknown", State(9).String())
}
