package failure

import (
	"sync"

	"github.com/BaSui01/agentmesh/types"
)

// DefaultDeadLetterCapacity bounds the queue when no capacity is given.
const DefaultDeadLetterCapacity = 1000

// DeadLetter is a payload whose delivery failed repeatedly, set aside for
// inspection.
type DeadLetter struct {
	MessageID string `json:"message_id"`
	Payload   string `json:"payload"`
	Failure   Record `json:"failure"`
	QueuedAt  int64  `json:"queued_at"`
}

// DeadLetterQueue is a bounded FIFO of dead letters. On overflow the
// oldest entry is evicted.
type DeadLetterQueue struct {
	letters  []DeadLetter
	capacity int
	mu       sync.Mutex
}

// NewDeadLetterQueue creates a queue with the given capacity
// (DefaultDeadLetterCapacity if <= 0).
func NewDeadLetterQueue(capacity int) *DeadLetterQueue {
	if capacity <= 0 {
		capacity = DefaultDeadLetterCapacity
	}
	return &DeadLetterQueue{capacity: capacity}
}

// Add queues a dead letter, evicting the oldest entry when full.
func (q *DeadLetterQueue) Add(messageID, payload string, failure Record) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.letters) >= q.capacity {
		q.letters = q.letters[1:]
	}
	q.letters = append(q.letters, DeadLetter{
		MessageID: messageID,
		Payload:   payload,
		Failure:   failure,
		QueuedAt:  types.TimestampMs(),
	})
}

// List returns up to limit dead letters, oldest first (0 = all).
func (q *DeadLetterQueue) List(limit int) []DeadLetter {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.letters)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]DeadLetter, n)
	copy(out, q.letters[:n])
	return out
}

// Remove deletes the dead letter with the given message id.
func (q *DeadLetterQueue) Remove(messageID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, letter := range q.letters {
		if letter.MessageID == messageID {
			q.letters = append(q.letters[:i], q.letters[i+1:]...)
			return true
		}
	}
	return false
}

// Take removes and returns the dead letter with the given message id, for
// re-delivery by the caller.
func (q *DeadLetterQueue) Take(messageID string) (DeadLetter, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, letter := range q.letters {
		if letter.MessageID == messageID {
			q.letters = append(q.letters[:i], q.letters[i+1:]...)
			return letter, true
		}
	}
	return DeadLetter{}, false
}

// Len returns the number of queued dead letters.
func (q *DeadLetterQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.letters)
}

// Clear drops every queued dead letter.
func (q *DeadLetterQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.letters = nil
}
