// Package mailbox implements the per-agent message queues behind the bus.
//
// Each agent owns one bounded FIFO mailbox. Delivery is best-effort
// at-most-once: a push against a full mailbox is rejected rather than
// blocking the sender, and a shut-down mailbox drops everything it held.
package mailbox

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// DefaultCapacity bounds a mailbox when no explicit capacity is given.
const DefaultCapacity = 10_000

// Mailbox is a bounded FIFO queue of messages for one agent.
// Push never blocks; Pop blocks up to a timeout. Priority on the envelope
// is advisory metadata only - the mailbox does not reorder.
type Mailbox struct {
	ch     chan types.Message
	done   chan struct{}
	closed atomic.Bool
	once   sync.Once
}

// New creates a mailbox with the given capacity (DefaultCapacity if <= 0).
func New(capacity int) *Mailbox {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Mailbox{
		ch:   make(chan types.Message, capacity),
		done: make(chan struct{}),
	}
}

// Push enqueues a message. It returns false, without mutating the queue,
// when the mailbox is full or shut down.
func (m *Mailbox) Push(msg types.Message) bool {
	if m.closed.Load() {
		return false
	}
	select {
	case m.ch <- msg:
		return true
	default:
		return false
	}
}

// Pop dequeues the oldest message, waiting up to timeout. A zero timeout
// polls without blocking. Returns ok=false on timeout or shutdown.
func (m *Mailbox) Pop(timeout time.Duration) (types.Message, bool) {
	if m.closed.Load() {
		return types.Message{}, false
	}
	if timeout <= 0 {
		select {
		case msg := <-m.ch:
			return msg, true
		default:
			return types.Message{}, false
		}
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case msg := <-m.ch:
		return msg, true
	case <-m.done:
		return types.Message{}, false
	case <-timer.C:
		return types.Message{}, false
	}
}

// Len returns the number of queued messages.
func (m *Mailbox) Len() int {
	return len(m.ch)
}

// Closed reports whether the mailbox has been shut down.
func (m *Mailbox) Closed() bool {
	return m.closed.Load()
}

// Close shuts the mailbox down and drops any queued messages. Subsequent
// pushes are rejected and pops return immediately.
func (m *Mailbox) Close() {
	m.once.Do(func() {
		m.closed.Store(true)
		close(m.done)
		for {
			select {
			case <-m.ch:
			default:
				return
			}
		}
	})
}
