package agent

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/agentmesh/types"
)

// docSection is one lockable slice of the shared document.
type docSection struct {
	content  []byte
	lockedBy string
}

// Coordinator serializes concurrent edits to a shared document. Agents
// lock a section, edit it, and release; updates are broadcast to every
// agent on the bus.
type Coordinator struct {
	*Runtime

	sections []docSection
	locks    map[string][]int
	docMu    sync.Mutex
}

// lockPayload is the body of lock_request / lock_release / doc_edit
// messages.
type lockPayload struct {
	Section int    `json:"section"`
	Content string `json:"content,omitempty"`
}

// NewCoordinator creates a coordinator agent managing numSections
// document sections.
func NewCoordinator(info types.AgentInfo, numSections int, runtimeOpts ...RuntimeOption) *Coordinator {
	if numSections <= 0 {
		numSections = 10
	}
	c := &Coordinator{
		Runtime:  NewRuntime(info, runtimeOpts...),
		sections: make([]docSection, numSections),
		locks:    make(map[string][]int),
	}
	c.RegisterHandler(types.KindLockRequest, c.handleLockRequest)
	c.RegisterHandler(types.KindLockRelease, c.handleLockRelease)
	c.RegisterHandler(types.KindDocEdit, c.handleDocEdit)
	return c
}

// TryLock claims a section for an agent. Re-locking an owned section
// succeeds.
func (c *Coordinator) TryLock(agentID string, section int) bool {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	if section < 0 || section >= len(c.sections) {
		return false
	}
	owner := c.sections[section].lockedBy
	if owner != "" && owner != agentID {
		return false
	}
	if owner == "" {
		c.sections[section].lockedBy = agentID
		c.locks[agentID] = append(c.locks[agentID], section)
	}
	return true
}

// Release gives a section back. Only the owner may release.
func (c *Coordinator) Release(agentID string, section int) bool {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	if section < 0 || section >= len(c.sections) {
		return false
	}
	if c.sections[section].lockedBy != agentID {
		return false
	}
	c.sections[section].lockedBy = ""
	held := c.locks[agentID]
	for i, s := range held {
		if s == section {
			c.locks[agentID] = append(held[:i], held[i+1:]...)
			break
		}
	}
	return true
}

// ApplyEdit replaces a section's content. The editor must hold the lock.
func (c *Coordinator) ApplyEdit(agentID string, section int, content []byte) bool {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	if section < 0 || section >= len(c.sections) {
		return false
	}
	if c.sections[section].lockedBy != agentID {
		return false
	}
	c.sections[section].content = append([]byte(nil), content...)
	return true
}

// Section returns a copy of a section's content and its lock owner.
func (c *Coordinator) Section(section int) ([]byte, string, bool) {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	if section < 0 || section >= len(c.sections) {
		return nil, "", false
	}
	s := c.sections[section]
	return append([]byte(nil), s.content...), s.lockedBy, true
}

// Document concatenates every section in order.
func (c *Coordinator) Document() []byte {
	c.docMu.Lock()
	defer c.docMu.Unlock()
	var out []byte
	for _, s := range c.sections {
		out = append(out, s.content...)
	}
	return out
}

func (c *Coordinator) handleLockRequest(msg types.Message) error {
	var req lockPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("bad lock request: %w", err)
	}
	kind := types.KindLockDenied
	if c.TryLock(msg.From, req.Section) {
		kind = types.KindLockAcquired
	}
	c.reply(msg, kind, req.Section)
	return nil
}

func (c *Coordinator) handleLockRelease(msg types.Message) error {
	var req lockPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("bad lock release: %w", err)
	}
	c.Release(msg.From, req.Section)
	return nil
}

func (c *Coordinator) handleDocEdit(msg types.Message) error {
	var req lockPayload
	if err := json.Unmarshal(msg.Payload, &req); err != nil {
		return fmt.Errorf("bad doc edit: %w", err)
	}
	if !c.ApplyEdit(msg.From, req.Section, []byte(req.Content)) {
		return fmt.Errorf("edit of section %d rejected: not locked by %s", req.Section, msg.From)
	}
	// Broadcast the new content to everyone on the bus.
	c.refMu.RLock()
	send := c.send
	c.refMu.RUnlock()
	if send != nil {
		payload, _ := json.Marshal(lockPayload{Section: req.Section, Content: req.Content})
		update := types.NewMessage(c.ID(), "", types.KindDocUpdate).WithPayload(payload)
		send(update)
	}
	return nil
}

func (c *Coordinator) reply(msg types.Message, kind types.MessageKind, section int) {
	c.refMu.RLock()
	send := c.send
	c.refMu.RUnlock()
	if send == nil || msg.From == "" {
		return
	}
	payload, _ := json.Marshal(lockPayload{Section: section})
	out := types.NewMessage(c.ID(), msg.From, kind).
		WithCorrelation(msg.MessageID).
		WithPayload(payload)
	send(out)
}
