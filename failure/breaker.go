package failure

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// BreakerState is a circuit breaker's position.
type BreakerState string

const (
	// BreakerClosed passes requests through and counts failures.
	BreakerClosed BreakerState = "closed"
	// BreakerOpen rejects requests until the open timeout elapses.
	BreakerOpen BreakerState = "open"
	// BreakerHalfOpen lets probe requests through to test recovery.
	BreakerHalfOpen BreakerState = "half_open"
)

// BreakerConfig parameterizes a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that trips the
	// breaker open.
	FailureThreshold int `json:"failure_threshold"`
	// OpenTimeout is how long the breaker stays open before probing.
	OpenTimeout time.Duration `json:"open_timeout_ms"`
	// SuccessThreshold is the consecutive-success count in half-open
	// that closes the breaker again.
	SuccessThreshold int `json:"success_threshold"`
}

// DefaultBreakerConfig trips after five failures, waits a minute, and
// closes after two successful probes.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		OpenTimeout:      60 * time.Second,
		SuccessThreshold: 2,
	}
}

// Breaker is a three-state circuit breaker for one target. All state
// transitions happen under its lock and are therefore totally ordered.
type Breaker struct {
	config          BreakerConfig
	state           BreakerState
	failureCount    int
	successCount    int
	lastFailureTime int64
	lastStateChange int64
	mu              sync.Mutex
	logger          *zap.Logger
}

// BreakerStats is an observable snapshot of a breaker.
type BreakerStats struct {
	State           BreakerState `json:"state"`
	FailureCount    int          `json:"failure_count"`
	SuccessCount    int          `json:"success_count"`
	LastFailureTime int64        `json:"last_failure_time"`
	LastStateChange int64        `json:"last_state_change"`
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig, logger *zap.Logger) *Breaker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.OpenTimeout <= 0 {
		config.OpenTimeout = DefaultBreakerConfig().OpenTimeout
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = DefaultBreakerConfig().SuccessThreshold
	}
	return &Breaker{
		config:          config,
		state:           BreakerClosed,
		lastStateChange: types.TimestampMs(),
		logger:          logger.With(zap.String("component", "circuit_breaker")),
	}
}

// AllowRequest reports whether a call to the target may proceed. An open
// breaker whose timeout has elapsed transitions to half-open and admits
// the probe in the same step.
func (b *Breaker) AllowRequest() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return true
	case BreakerOpen:
		if types.TimestampMs()-b.lastStateChange >= b.config.OpenTimeout.Milliseconds() {
			b.transitionLocked(BreakerHalfOpen)
			b.successCount = 0
			return true
		}
		return false
	case BreakerHalfOpen:
		return true
	}
	return false
}

// RecordSuccess notes a successful call. In closed state it clears the
// failure count; in half-open it counts toward closing.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		b.failureCount = 0
	case BreakerHalfOpen:
		b.successCount++
		if b.successCount >= b.config.SuccessThreshold {
			b.transitionLocked(BreakerClosed)
			b.failureCount = 0
			b.successCount = 0
		}
	}
}

// RecordFailure notes a failed call. Reaching the threshold in closed
// state opens the breaker; any failure in half-open reopens it.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = types.TimestampMs()

	switch b.state {
	case BreakerClosed:
		if b.failureCount >= b.config.FailureThreshold {
			b.transitionLocked(BreakerOpen)
		}
	case BreakerHalfOpen:
		b.successCount = 0
		b.failureCount = 0
		b.transitionLocked(BreakerOpen)
	}
}

// State returns the current position.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Stats returns an observable snapshot.
func (b *Breaker) Stats() BreakerStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return BreakerStats{
		State:           b.state,
		FailureCount:    b.failureCount,
		SuccessCount:    b.successCount,
		LastFailureTime: b.lastFailureTime,
		LastStateChange: b.lastStateChange,
	}
}

// Reset forces the breaker closed and clears its counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transitionLocked(BreakerClosed)
	b.failureCount = 0
	b.successCount = 0
}

func (b *Breaker) transitionLocked(to BreakerState) {
	if b.state == to {
		return
	}
	b.logger.Debug("breaker state change",
		zap.String("from", string(b.state)),
		zap.String("to", string(to)),
		zap.Int("failures", b.failureCount))
	b.state = to
	b.lastStateChange = types.TimestampMs()
}
