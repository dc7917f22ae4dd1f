// Package failure implements the partial-failure machinery: retry
// policies with exponential backoff, per-target circuit breakers, the
// dead-letter queue, and the failure manager that ties them together.
//
// The retry loop itself lives in the orchestrator's
// SendRequestWithPolicy; this package only defines the policy shape and
// the bookkeeping around failures, so retry behavior exists in exactly
// one place.
package failure

import (
	"math"
	"time"
)

// Policy configures retry, timeout, and failover behavior for a request.
type Policy struct {
	MaxRetries        int           `json:"max_retries"`
	RetryDelay        time.Duration `json:"retry_delay_ms"`
	BackoffMultiplier float64       `json:"backoff_multiplier"`
	MaxRetryDelay     time.Duration `json:"max_retry_delay_ms"`
	Timeout           time.Duration `json:"timeout_ms"`
	EnableFailover    bool          `json:"enable_failover"`
	FallbackAgents    []string      `json:"fallback_agents,omitempty"`
	LogFailures       bool          `json:"log_failures"`
}

// DefaultPolicy retries three times with a doubling one-second backoff.
func DefaultPolicy() Policy {
	return Policy{
		MaxRetries:        3,
		RetryDelay:        time.Second,
		BackoffMultiplier: 2.0,
		MaxRetryDelay:     30 * time.Second,
		Timeout:           30 * time.Second,
		LogFailures:       true,
	}
}

// AggressivePolicy retries five times with a fast ramp and failover on.
func AggressivePolicy() Policy {
	return Policy{
		MaxRetries:        5,
		RetryDelay:        500 * time.Millisecond,
		BackoffMultiplier: 1.5,
		MaxRetryDelay:     10 * time.Second,
		Timeout:           60 * time.Second,
		EnableFailover:    true,
		LogFailures:       true,
	}
}

// ConservativePolicy retries once, slowly.
func ConservativePolicy() Policy {
	return Policy{
		MaxRetries:        1,
		RetryDelay:        2 * time.Second,
		BackoffMultiplier: 2.0,
		MaxRetryDelay:     60 * time.Second,
		Timeout:           15 * time.Second,
		LogFailures:       true,
	}
}

// DelayFor returns the backoff before retrying after failed attempt k
// (0-based): min(retry_delay × multiplier^k, max_retry_delay).
func (p Policy) DelayFor(attempt int) time.Duration {
	delay := float64(p.RetryDelay) * math.Pow(p.BackoffMultiplier, float64(attempt))
	if capped := float64(p.MaxRetryDelay); delay > capped {
		delay = capped
	}
	return time.Duration(delay)
}
