package types

import (
	"time"

	"github.com/google/uuid"
)

// NewID returns a fresh RFC-4122 v4 identifier.
// Every entity in the runtime (agents, messages, threads, tasks, votes)
// carries one of these as its primary key.
func NewID() string {
	return uuid.NewString()
}

// TimestampMs returns the current wall clock as a signed millisecond epoch.
// Ordering within a single process is assumed monotonic at this granularity.
func TimestampMs() int64 {
	return time.Now().UnixMilli()
}
