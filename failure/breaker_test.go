package failure

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testBreaker(openTimeout time.Duration) *Breaker {
	return NewBreaker(BreakerConfig{
		FailureThreshold: 3,
		OpenTimeout:      openTimeout,
		SuccessThreshold: 2,
	}, nil)
}

func TestBreakerOpensAndRecovers(t *testing.T) {
	b := testBreaker(100 * time.Millisecond)

	require.Equal(t, BreakerClosed, b.State())
	require.True(t, b.AllowRequest())

	b.RecordFailure()
	b.RecordFailure()
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.AllowRequest())

	time.Sleep(110 * time.Millisecond)
	assert.True(t, b.AllowRequest(), "probe admitted after open timeout")
	assert.Equal(t, BreakerHalfOpen, b.State())

	b.RecordSuccess()
	assert.Equal(t, BreakerHalfOpen, b.State())
	b.RecordSuccess()
	assert.Equal(t, BreakerClosed, b.State())
	assert.Zero(t, b.Stats().FailureCount)
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b := testBreaker(50 * time.Millisecond)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	time.Sleep(60 * time.Millisecond)
	require.True(t, b.AllowRequest())
	require.Equal(t, BreakerHalfOpen, b.State())

	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
	assert.False(t, b.AllowRequest())
}

func TestBreakerSuccessResetsClosedCount(t *testing.T) {
	b := testBreaker(time.Minute)
	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()
	b.RecordFailure()
	// Two failures since the success: still under the threshold of 3.
	assert.Equal(t, BreakerClosed, b.State())
	b.RecordFailure()
	assert.Equal(t, BreakerOpen, b.State())
}

func TestBreakerReset(t *testing.T) {
	b := testBreaker(time.Minute)
	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	require.Equal(t, BreakerOpen, b.State())
	b.Reset()
	assert.Equal(t, BreakerClosed, b.State())
	assert.True(t, b.AllowRequest())
}

// Property: a closed breaker only opens after FailureThreshold
// consecutive failures, and closed-state requests are always allowed.
func TestBreakerStateMachineProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		threshold := rapid.IntRange(1, 8).Draw(t, "threshold")
		b := NewBreaker(BreakerConfig{
			FailureThreshold: threshold,
			OpenTimeout:      time.Hour, // never probes during the run
			SuccessThreshold: 2,
		}, nil)

		consecutive := 0
		ops := rapid.IntRange(1, 200).Draw(t, "ops")
		for i := 0; i < ops; i++ {
			if b.State() == BreakerOpen {
				if b.AllowRequest() {
					t.Fatal("open breaker admitted a request before timeout")
				}
				return
			}
			if !b.AllowRequest() {
				t.Fatal("closed breaker rejected a request")
			}
			if rapid.Bool().Draw(t, "fail") {
				b.RecordFailure()
				consecutive++
				if consecutive >= threshold && b.State() != BreakerOpen {
					t.Fatalf("breaker closed after %d consecutive failures (threshold %d)", consecutive, threshold)
				}
				if consecutive < threshold && b.State() != BreakerClosed {
					t.Fatalf("breaker opened after only %d failures (threshold %d)", consecutive, threshold)
				}
			} else {
				b.RecordSuccess()
				consecutive = 0
			}
		}
	})
}

func TestPolicyBackoffDelays(t *testing.T) {
	p := Policy{
		RetryDelay:        10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxRetryDelay:     25 * time.Millisecond,
	}
	assert.Equal(t, 10*time.Millisecond, p.DelayFor(0))
	assert.Equal(t, 20*time.Millisecond, p.DelayFor(1))
	assert.Equal(t, 25*time.Millisecond, p.DelayFor(2), "capped")

	def := DefaultPolicy()
	assert.Equal(t, 3, def.MaxRetries)
	assert.Equal(t, time.Second, def.RetryDelay)
	assert.Equal(t, 30*time.Second, def.MaxRetryDelay)
	assert.False(t, def.EnableFailover)

	agg := AggressivePolicy()
	assert.Equal(t, 5, agg.MaxRetries)
	assert.True(t, agg.EnableFailover)

	con := ConservativePolicy()
	assert.Equal(t, 1, con.MaxRetries)
}
