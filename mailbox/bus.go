package mailbox

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// Bus owns the mailboxes of every registered agent and fans messages out
// to them. The orchestrator is the only writer of the attach/detach set.
type Bus struct {
	boxes    map[string]*Mailbox
	capacity int
	mu       sync.RWMutex
	logger   *zap.Logger
}

// NewBus creates an empty bus whose mailboxes use the given capacity.
func NewBus(capacity int, logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		boxes:    make(map[string]*Mailbox),
		capacity: capacity,
		logger:   logger.With(zap.String("component", "mailbox_bus")),
	}
}

// Attach creates (or returns) the mailbox for an agent id.
func (b *Bus) Attach(agentID string) *Mailbox {
	b.mu.Lock()
	defer b.mu.Unlock()
	if box, ok := b.boxes[agentID]; ok && !box.Closed() {
		return box
	}
	box := New(b.capacity)
	b.boxes[agentID] = box
	return box
}

// AttachMailbox adopts an existing mailbox (typically one owned by an
// agent runtime) for the agent id.
func (b *Bus) AttachMailbox(agentID string, box *Mailbox) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.boxes[agentID] = box
}

// Detach shuts down and removes the agent's mailbox.
func (b *Bus) Detach(agentID string) {
	b.mu.Lock()
	box, ok := b.boxes[agentID]
	delete(b.boxes, agentID)
	b.mu.Unlock()
	if ok {
		box.Close()
	}
}

// Get returns the agent's mailbox, if attached.
func (b *Bus) Get(agentID string) (*Mailbox, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	box, ok := b.boxes[agentID]
	return box, ok
}

// Push routes a message to its target mailbox. It returns false when the
// target is unknown or its mailbox rejected the message.
func (b *Bus) Push(msg types.Message) bool {
	box, ok := b.Get(msg.To)
	if !ok {
		return false
	}
	if !box.Push(msg) {
		b.logger.Warn("mailbox rejected message",
			zap.String("to", msg.To),
			zap.String("message_id", msg.MessageID))
		return false
	}
	return true
}

// Broadcast enqueues a copy of msg into each target's mailbox. A copy that
// cannot be delivered does not stop the remainder. Returns the ids that
// accepted the message.
func (b *Bus) Broadcast(msg types.Message, targets []string) []string {
	delivered := make([]string, 0, len(targets))
	for _, target := range targets {
		copied := msg
		copied.To = target
		box, ok := b.Get(target)
		if !ok || !box.Push(copied) {
			continue
		}
		delivered = append(delivered, target)
	}
	return delivered
}

// Targets returns the ids of all attached mailboxes.
func (b *Bus) Targets() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	ids := make([]string, 0, len(b.boxes))
	for id := range b.boxes {
		ids = append(ids, id)
	}
	return ids
}

// Close shuts down every mailbox on the bus.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for id, box := range b.boxes {
		box.Close()
		delete(b.boxes, id)
	}
}
