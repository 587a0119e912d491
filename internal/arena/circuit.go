package arena

import (
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"
)

// ErrCircuitOpen is returned by CircuitBreaker.Call while reads are blocked.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitState is the state of a CircuitBreaker.
type CircuitState int32

const (
	// CircuitClosed lets every read through.
	CircuitClosed CircuitState = iota
	// CircuitOpen blocks reads after too many consecutive failures.
	CircuitOpen
	// CircuitHalfOpen lets reads through to probe whether the camera recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "CLOSED"
	case CircuitOpen:
		return "OPEN"
	case CircuitHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreaker guards camera reads. It opens after maxFailures consecutive
// failures, moves to half-open once timeout has passed since the last failure
// and closes again after recoveryThreshold successes.
type CircuitBreaker struct {
	state           atomic.Int32
	failureCount    atomic.Int64
	lastFailureTime atomic.Int64
	successCount    atomic.Int64

	maxFailures       int64
	timeout           time.Duration
	recoveryThreshold int64
	logger            *slog.Logger
	now               func() time.Time
}

// NewCircuitBreaker returns a closed breaker.
func NewCircuitBreaker(maxFailures int64, timeout time.Duration, recoveryThreshold int64, logger *slog.Logger) *CircuitBreaker {
	cb := &CircuitBreaker{
		maxFailures:       maxFailures,
		timeout:           timeout,
		recoveryThreshold: recoveryThreshold,
		logger:            logger,
		now:               time.Now,
	}
	cb.state.Store(int32(CircuitClosed))
	return cb
}

// Call runs fn unless the circuit is open, and records its outcome.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if CircuitState(cb.state.Load()) == CircuitOpen {
		since := cb.now().Sub(cb.GetLastFailureTime())
		if since <= cb.timeout {
			return fmt.Errorf("%w, last failure %v ago", ErrCircuitOpen, since)
		}
		if cb.state.CompareAndSwap(int32(CircuitOpen), int32(CircuitHalfOpen)) {
			cb.successCount.Store(0)
			cb.logger.Info("Circuit breaker state transition",
				"from", CircuitOpen,
				"to", CircuitHalfOpen,
				"timeout_elapsed", since)
		}
	}

	if err := fn(); err != nil {
		cb.recordFailure()
		return err
	}
	cb.recordSuccess()
	return nil
}

func (cb *CircuitBreaker) recordFailure() {
	cb.lastFailureTime.Store(cb.now().UnixNano())
	failures := cb.failureCount.Add(1)
	current := CircuitState(cb.state.Load())

	switch {
	case current == CircuitHalfOpen:
		cb.state.Store(int32(CircuitOpen))
		cb.successCount.Store(0)
		cb.logger.Warn("Circuit breaker state transition",
			"from", CircuitHalfOpen,
			"to", CircuitOpen,
			"reason", "failure_during_recovery")
	case failures >= cb.maxFailures && current != CircuitOpen:
		cb.state.Store(int32(CircuitOpen))
		cb.logger.Warn("Circuit breaker state transition",
			"from", current,
			"to", CircuitOpen,
			"failure_count", failures,
			"max_failures", cb.maxFailures)
	}
}

func (cb *CircuitBreaker) recordSuccess() {
	cb.failureCount.Store(0)

	if CircuitState(cb.state.Load()) != CircuitHalfOpen {
		return
	}
	successes := cb.successCount.Add(1)
	if successes >= cb.recoveryThreshold && cb.state.CompareAndSwap(int32(CircuitHalfOpen), int32(CircuitClosed)) {
		cb.logger.Info("Circuit breaker state transition",
			"from", CircuitHalfOpen,
			"to", CircuitClosed,
			"success_count", successes)
	}
}

// GetState returns the current state.
func (cb *CircuitBreaker) GetState() CircuitState {
	return CircuitState(cb.state.Load())
}

// Reset closes the circuit. Called after the camera was reopened.
func (cb *CircuitBreaker) Reset() {
	old := CircuitState(cb.state.Swap(int32(CircuitClosed)))
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
	if old != CircuitClosed {
		cb.logger.Info("Circuit breaker reset to CLOSED",
			"previous_state", old,
			"reason", "camera_reopened")
	}
}

// GetFailureCount returns the number of consecutive failures.
func (cb *CircuitBreaker) GetFailureCount() int64 {
	return cb.failureCount.Load()
}

// GetLastFailureTime returns the time of the last failure, zero if none.
func (cb *CircuitBreaker) GetLastFailureTime() time.Time {
	nanos := cb.lastFailureTime.Load()
	if nanos == 0 {
		return time.Time{}
	}
	return time.Unix(0, nanos)
}
