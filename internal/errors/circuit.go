package errors

import (
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrCircuitOpen is the cause of calls rejected by an open breaker.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// State is the breaker state seen by the next call.
type State int

const (
	StateClosed State = iota
	StateOpen
	// StateHalfOpen lets a single trial call through after the cooldown.
	StateHalfOpen
)

var stateNames = [...]string{"closed", "open", "half-open"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// CircuitBreaker fails fast while a model server keeps failing, so a dead
// backend does not add its full timeout to every query.
type CircuitBreaker struct {
	name        string
	maxFailures int
	cooldown    time.Duration

	mu        sync.Mutex
	failures  int
	openUntil time.Time // zero while closed
	probing   bool
}

// CircuitBreakerOption configures a CircuitBreaker.
type CircuitBreakerOption func(*CircuitBreaker)

// WithMaxFailures sets how many consecutive backend failures open the breaker.
func WithMaxFailures(n int) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.maxFailures = n }
}

// WithResetTimeout sets how long the breaker stays open before a trial call.
func WithResetTimeout(d time.Duration) CircuitBreakerOption {
	return func(cb *CircuitBreaker) { cb.cooldown = d }
}

// NewCircuitBreaker returns a closed breaker: 5 failures, 30s cooldown.
func NewCircuitBreaker(name string, opts ...CircuitBreakerOption) *CircuitBreaker {
	cb := &CircuitBreaker{name: name, maxFailures: 5, cooldown: 30 * time.Second}
	for _, opt := range opts {
		opt(cb)
	}
	return cb
}

// Name returns the backend name used in errors and logs.
func (cb *CircuitBreaker) Name() string { return cb.name }

// State returns the current state.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.stateLocked(time.Now())
}

// Failures returns the consecutive failure count.
func (cb *CircuitBreaker) Failures() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failures
}

func (cb *CircuitBreaker) stateLocked(now time.Time) State {
	switch {
	case cb.openUntil.IsZero():
		return StateClosed
	case now.Before(cb.openUntil):
		return StateOpen
	default:
		return StateHalfOpen
	}
}

// admit reports whether a call may run and whether it is the trial call.
func (cb *CircuitBreaker) admit() (ok, trial bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.stateLocked(time.Now()) {
	case StateClosed:
		return true, false
	case StateHalfOpen:
		if cb.probing {
			return false, false
		}
		cb.probing = true
		return true, true
	default:
		return false, false
	}
}

func (cb *CircuitBreaker) done(trial bool, err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if trial {
		cb.probing = false
	}

	if err == nil {
		if !cb.openUntil.IsZero() {
			slog.Info("circuit_closed", slog.String("backend", cb.name))
		}
		cb.failures = 0
		cb.openUntil = time.Time{}
		return
	}
	// Only backend trouble counts; bad input is the caller's problem.
	if !IsRetryable(err) {
		return
	}
	cb.failures++
	if trial || cb.failures >= cb.maxFailures {
		cb.openUntil = time.Now().Add(cb.cooldown)
		slog.Warn("circuit_opened",
			slog.String("backend", cb.name),
			slog.Int("failures", cb.failures),
			slog.Duration("cooldown", cb.cooldown))
	}
}

// Execute runs fn unless the breaker is open, in which case it returns an
// ErrCodeBackendUnavailable error wrapping ErrCircuitOpen without calling fn.
func Execute[T any](cb *CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	ok, trial := cb.admit()
	if !ok {
		return zero, New(ErrCodeBackendUnavailable, cb.name+" is failing, skipping call", ErrCircuitOpen)
	}

	result, err := fn()
	cb.done(trial, err)
	if err != nil {
		return zero, err
	}
	return result, nil
}
