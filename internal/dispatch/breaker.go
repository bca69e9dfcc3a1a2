package dispatch

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// breakerState transitions: closed -> open after maxFailures consecutive
// failures; open -> halfOpen after the recovery timeout; halfOpen -> closed
// on a successful probe, back to open on a failed one.
type breakerState int

const (
	stateClosed breakerState = iota
	stateOpen
	stateHalfOpen
)

const (
	breakerMaxFailures     = 5
	breakerRecoveryTimeout = 30 * time.Second
)

// breaker protects a single gateway from cascade failures. While open,
// Send calls fail fast with a retryable result; the queue processor's
// backoff naturally spaces out the probes.
type breaker struct {
	mu sync.Mutex

	name   string
	logger *zap.Logger

	state       breakerState
	failures    int
	lastFailure time.Time
	probing     bool
}

func newBreaker(name string, logger *zap.Logger) *breaker {
	return &breaker{name: name, logger: logger}
}

// Allow reports whether a send may proceed.
func (b *breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case stateClosed:
		return true
	case stateOpen:
		if time.Since(b.lastFailure) >= breakerRecoveryTimeout {
			b.state = stateHalfOpen
			b.probing = true
			b.logger.Info("circuit breaker probing", zap.String("gateway", b.name))
			return true
		}
		return false
	case stateHalfOpen:
		// One probe in flight at a time.
		if !b.probing {
			b.probing = true
			return true
		}
		return false
	}
	return false
}

func (b *breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures = 0
	b.probing = false
	if b.state != stateClosed {
		b.state = stateClosed
		b.logger.Info("circuit breaker closed", zap.String("gateway", b.name))
	}
}

func (b *breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	b.lastFailure = time.Now()
	b.probing = false

	switch b.state {
	case stateClosed:
		if b.failures >= breakerMaxFailures {
			b.state = stateOpen
			b.logger.Warn("circuit breaker opened",
				zap.String("gateway", b.name),
				zap.Int("failures", b.failures),
			)
		}
	case stateHalfOpen:
		b.state = stateOpen
		b.logger.Warn("circuit breaker reopened, probe failed",
			zap.String("gateway", b.name),
		)
	}
}
