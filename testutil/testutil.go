// Package testutil provides shared helpers for agentmesh tests.
package testutil

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
)

// TestContext returns a context that expires with the test.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// Logger returns a zap logger that writes through the test harness.
func Logger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// AssertEventuallyTrue polls the condition until it holds or the timeout
// elapses.
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not satisfied within timeout")
}

// EchoInference returns an inference callback echoing its prompt behind
// a fixed prefix.
func EchoInference(prefix string) func(prompt string, params map[string]string) (string, error) {
	return func(prompt string, params map[string]string) (string, error) {
		return prefix + prompt, nil
	}
}

// FlakyInference fails with err until remaining failures are exhausted,
// then succeeds with content.
func FlakyInference(failures int, err error, content string) func(string, map[string]string) (string, error) {
	var remaining atomic.Int32
	remaining.Store(int32(failures))
	return func(prompt string, params map[string]string) (string, error) {
		if remaining.Add(-1) >= 0 {
			return "", err
		}
		return content, nil
	}
}

// CountingInference numbers its responses, for tests that care how many
// calls landed.
func CountingInference() (*atomic.Int32, func(string, map[string]string) (string, error)) {
	var calls atomic.Int32
	return &calls, func(prompt string, params map[string]string) (string, error) {
		n := calls.Add(1)
		return fmt.Sprintf("response-%d", n), nil
	}
}
