package platform

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var ErrCircuitOpen = errors.New("circuit breaker open")

type circuitState int

const (
	stateClosed circuitState = iota
	stateOpen
	stateHalfOpen
)

func (s circuitState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateHalfOpen:
		return "half-open"
	}
	return "closed"
}

// circuitBreaker stops calling the platform API after consecutive failures
// and lets a single probe through once openDuration has passed.
type circuitBreaker struct {
	mu               sync.Mutex
	state            circuitState
	failures         int
	lastFailure      time.Time
	failureThreshold int
	openDuration     time.Duration
	now              func() time.Time
	logger           *zap.Logger
}

func newCircuitBreaker(threshold int, openDuration time.Duration, logger *zap.Logger) *circuitBreaker {
	return &circuitBreaker{
		failureThreshold: threshold,
		openDuration:     openDuration,
		now:              time.Now,
		logger:           logger,
	}
}

// canAttempt reports whether a call may go out. An open circuit whose open
// period elapsed becomes half-open.
func (cb *circuitBreaker) canAttempt() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == stateOpen {
		if cb.now().Sub(cb.lastFailure) <= cb.openDuration {
			return fmt.Errorf("%w (failures: %d, next retry: %s)",
				ErrCircuitOpen, cb.failures, cb.lastFailure.Add(cb.openDuration).Format("15:04:05"))
		}
		cb.setState(stateHalfOpen)
	}
	return nil
}

func (cb *circuitBreaker) recordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures = 0
	cb.lastFailure = time.Time{}
	if cb.state != stateClosed {
		cb.setState(stateClosed)
	}
}

func (cb *circuitBreaker) recordFailure(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.lastFailure = cb.now()

	if cb.state == stateHalfOpen || cb.failures >= cb.failureThreshold {
		if cb.state != stateOpen {
			cb.logger.Warn("opening circuit",
				zap.Int("failures", cb.failures),
				zap.Error(err))
		}
		cb.state = stateOpen
		return
	}
	cb.logger.Info("platform call failed",
		zap.Int("failures", cb.failures),
		zap.Int("threshold", cb.failureThreshold),
		zap.Error(err))
}

// setState must be called with mu held.
func (cb *circuitBreaker) setState(s circuitState) {
	cb.logger.Info("circuit state changed", zap.Stringer("from", cb.state), zap.Stringer("to", s))
	cb.state = s
}
