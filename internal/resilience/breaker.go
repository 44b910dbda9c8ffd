// Package resilience provides the failure-isolation primitives shared by the
// outbound API clients: a circuit breaker, a sliding-window rate limiter and a
// generic TTL cache.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrOpen is returned by Guard when the breaker rejects a call without running it.
// Callers treat it like a connection failure: the remote may genuinely be down.
var ErrOpen = errors.New("circuit breaker is open")

// BreakerState is one of the three circuit breaker states.
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// Default breaker configuration.
const (
	DefaultFailureThreshold = 5
	DefaultRecoveryTimeout  = 60 * time.Second
)

// CircuitBreaker guards a unit of work against a failing dependency.
//
// CLOSED passes all calls through and counts consecutive failures. Reaching the
// failure threshold opens the breaker. OPEN rejects calls with ErrOpen until the
// recovery timeout elapses, then a single probe call is allowed (HALF_OPEN); its
// outcome alone decides whether the breaker closes again or re-opens.
type CircuitBreaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration

	mu              sync.Mutex
	state           BreakerState
	failureCount    int
	lastFailureTime time.Time
	probeInFlight   bool

	totalRequests      int64
	failedRequests     int64
	successfulRequests int64
}

// NewCircuitBreaker creates a closed breaker with the given thresholds.
// Non-positive arguments fall back to the defaults.
func NewCircuitBreaker(name string, failureThreshold int, recoveryTimeout time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if recoveryTimeout <= 0 {
		recoveryTimeout = DefaultRecoveryTimeout
	}
	return &CircuitBreaker{
		name:             name,
		failureThreshold: failureThreshold,
		recoveryTimeout:  recoveryTimeout,
		state:            BreakerClosed,
	}
}

// Guard runs op under the breaker. It returns op's error unchanged on
// pass-through, or an error wrapping ErrOpen when the call is rejected.
func (b *CircuitBreaker) Guard(op func() error) error {
	probe, err := b.admit()
	if err != nil {
		return err
	}

	err = op()
	b.settle(err, probe)
	return err
}

// admit decides whether a call may proceed, handling the OPEN -> HALF_OPEN
// probe transition. It reports whether the admitted call is the probe.
func (b *CircuitBreaker) admit() (bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	probe := false
	switch b.state {
	case BreakerOpen:
		if time.Since(b.lastFailureTime) < b.recoveryTimeout {
			remaining := b.recoveryTimeout - time.Since(b.lastFailureTime)
			slog.Warn("Circuit breaker is open, request blocked", "name", b.name, "time_until_reset", remaining)
			return false, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.state = BreakerHalfOpen
		b.probeInFlight = true
		probe = true
		slog.Info("Circuit breaker attempting reset", "name", b.name)
	case BreakerHalfOpen:
		// Exactly one probe call is allowed while half-open.
		if b.probeInFlight {
			slog.Warn("Circuit breaker probe in flight, request blocked", "name", b.name)
			return false, fmt.Errorf("%s: %w", b.name, ErrOpen)
		}
		b.probeInFlight = true
		probe = true
	}

	b.totalRequests++
	return probe, nil
}

// settle records the outcome of a guarded call. While half-open, only the
// probe's outcome may move the state or end the probe window: a slow call
// admitted before the breaker opened must not settle on the probe's behalf.
func (b *CircuitBreaker) settle(err error, probe bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if probe {
		b.probeInFlight = false
	}

	if err == nil {
		b.successfulRequests++
		if b.state == BreakerHalfOpen && !probe {
			slog.Debug("Circuit breaker ignoring stale success", "name", b.name)
			return
		}
		b.failureCount = 0
		b.lastFailureTime = time.Time{}
		b.state = BreakerClosed
		slog.Debug("Circuit breaker success", "name", b.name)
		return
	}

	b.failedRequests++
	if b.state == BreakerHalfOpen && !probe {
		slog.Debug("Circuit breaker ignoring stale failure", "name", b.name)
		return
	}

	b.failureCount++
	b.lastFailureTime = time.Now()

	if b.state == BreakerHalfOpen || b.failureCount >= b.failureThreshold {
		b.state = BreakerOpen
		slog.Warn("Circuit breaker opened", "name", b.name,
			"failure_count", b.failureCount, "threshold", b.failureThreshold)
	} else {
		slog.Debug("Circuit breaker failure", "name", b.name, "failure_count", b.failureCount)
	}
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// BreakerMetrics is a snapshot of a breaker's cumulative counters.
type BreakerMetrics struct {
	Name               string       `json:"name"`
	State              BreakerState `json:"state"`
	FailureCount       int          `json:"failure_count"`
	TotalRequests      int64        `json:"total_requests"`
	FailedRequests     int64        `json:"failed_requests"`
	SuccessfulRequests int64        `json:"successful_requests"`
	FailureRate        float64      `json:"failure_rate"`
}

// Metrics returns a snapshot of the breaker's counters.
func (b *CircuitBreaker) Metrics() BreakerMetrics {
	b.mu.Lock()
	defer b.mu.Unlock()

	total := b.totalRequests
	if total == 0 {
		total = 1
	}
	return BreakerMetrics{
		Name:               b.name,
		State:              b.state,
		FailureCount:       b.failureCount,
		TotalRequests:      b.totalRequests,
		FailedRequests:     b.failedRequests,
		SuccessfulRequests: b.successfulRequests,
		FailureRate:        float64(b.failedRequests) / float64(total),
	}
}

// Reset manually closes the breaker and clears its failure tracking.
func (b *CircuitBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.state = BreakerClosed
	b.probeInFlight = false
	slog.Info("Circuit breaker manually reset", "name", b.name)
}
