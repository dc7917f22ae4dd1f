package conversation

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

const (
	// DefaultTTL keeps a thread alive for three hours after creation or
	// the last touch.
	DefaultTTL = 3 * time.Hour

	// DefaultMaxThreads is the soft capacity of the store. Capacity is
	// best-effort: creation sweeps expired threads when at the limit but
	// still proceeds if the sweep frees nothing.
	DefaultMaxThreads = 10_000
)

// Memory is the process-wide conversation store. All methods are safe for
// concurrent use.
type Memory struct {
	threads    map[string]*Thread
	ttl        time.Duration
	maxThreads int
	estimator  types.Estimator
	mu         sync.Mutex
	logger     *zap.Logger
}

// Option configures a Memory.
type Option func(*Memory)

// WithTTL overrides the thread time-to-live.
func WithTTL(ttl time.Duration) Option {
	return func(m *Memory) { m.ttl = ttl }
}

// WithMaxThreads overrides the soft thread capacity.
func WithMaxThreads(max int) Option {
	return func(m *Memory) { m.maxThreads = max }
}

// WithEstimator overrides the token estimator used by the context builder.
func WithEstimator(est types.Estimator) Option {
	return func(m *Memory) { m.estimator = est }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(m *Memory) { m.logger = logger }
}

// NewMemory creates a conversation store.
func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		threads:    make(map[string]*Thread),
		ttl:        DefaultTTL,
		maxThreads: DefaultMaxThreads,
		estimator:  types.NewLinearEstimator(),
		logger:     zap.NewNop(),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = m.logger.With(zap.String("component", "conversation_memory"))
	return m
}

// CreateThread opens a new thread for an agent. The initial request's
// params become the thread's context map and its thread id (if any) is
// recorded as the parent.
func (m *Memory) CreateThread(agentID string, initial types.Request) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(m.threads) >= m.maxThreads {
		m.removeExpiredLocked()
	}

	now := types.TimestampMs()
	thread := &Thread{
		ThreadID:        types.NewID(),
		ParentID:        initial.ThreadID,
		InitiatingAgent: agentID,
		CreatedAt:       now,
		UpdatedAt:       now,
		ExpiresAt:       now + m.ttl.Milliseconds(),
		Context:         copyMap(initial.Params),
	}
	m.threads[thread.ThreadID] = thread
	return thread.ThreadID
}

// AddTurn appends a turn to a thread. It bumps updated_at but does not
// extend the TTL; use Touch for that. Returns false when the thread is
// missing or was found expired (in which case it is removed).
func (m *Memory) AddTurn(threadID, role, content string, files, images []string, agentID, model string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return false
	}
	now := types.TimestampMs()
	if thread.expired(now) {
		delete(m.threads, threadID)
		return false
	}

	turn := Turn{
		Role:      role,
		Content:   content,
		Timestamp: now,
		Files:     append([]string(nil), files...),
		Images:    append([]string(nil), images...),
		AgentID:   agentID,
		Model:     model,
	}
	thread.Turns = append(thread.Turns, turn)
	thread.UpdatedAt = turn.Timestamp
	return true
}

// GetThread returns a deep copy of the thread. A read that observes
// expiration removes the thread and reports not-found.
func (m *Memory) GetThread(threadID string) (Thread, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return Thread{}, false
	}
	if thread.expired(types.TimestampMs()) {
		delete(m.threads, threadID)
		return Thread{}, false
	}
	return thread.clone(), true
}

// Touch bumps updated_at and pushes expires_at out by one TTL.
func (m *Memory) Touch(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	thread, ok := m.threads[threadID]
	if !ok {
		return false
	}
	thread.UpdatedAt = types.TimestampMs()
	thread.ExpiresAt = thread.UpdatedAt + m.ttl.Milliseconds()
	return true
}

// DeleteThread removes a thread. Deletion is idempotent.
func (m *Memory) DeleteThread(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.threads[threadID]
	delete(m.threads, threadID)
	return ok
}

// HasThread reports whether the thread is currently stored.
func (m *Memory) HasThread(threadID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.threads[threadID]
	return ok
}

// CleanupExpired removes every expired thread and returns the count.
func (m *Memory) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeExpiredLocked()
}

func (m *Memory) removeExpiredLocked() int {
	now := types.TimestampMs()
	removed := 0
	for id, thread := range m.threads {
		if thread.expired(now) {
			delete(m.threads, id)
			removed++
		}
	}
	if removed > 0 {
		m.logger.Debug("swept expired threads", zap.Int("removed", removed))
	}
	return removed
}

// Count returns the number of stored threads, expired or not.
func (m *Memory) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.threads)
}

// AgentThreads lists the ids of threads initiated by the given agent.
func (m *Memory) AgentThreads(agentID string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []string
	for id, thread := range m.threads {
		if thread.InitiatingAgent == agentID {
			ids = append(ids, id)
		}
	}
	return ids
}

// Branch creates a child thread whose context and turns are deep copies of
// the parent at the moment of branching. The parent is unaffected by later
// mutations of either side.
func (m *Memory) Branch(parentID, agentID string) (string, bool) {
	parent, ok := m.GetThread(parentID)
	if !ok {
		return "", false
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := types.TimestampMs()
	child := parent.clone()
	child.ThreadID = types.NewID()
	child.ParentID = parentID
	child.InitiatingAgent = agentID
	child.CreatedAt = now
	child.UpdatedAt = now
	child.ExpiresAt = now + m.ttl.Milliseconds()

	m.threads[child.ThreadID] = &child
	return child.ThreadID, true
}

// ExportThread serializes a stored thread to JSON.
func (m *Memory) ExportThread(threadID string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	thread, ok := m.threads[threadID]
	if !ok {
		return nil, false
	}
	data, err := thread.Encode()
	if err != nil {
		return nil, false
	}
	return data, true
}

// ImportThread stores a thread parsed from JSON under its own thread_id,
// overwriting any existing thread with the same id.
func (m *Memory) ImportThread(data []byte) error {
	thread, err := DecodeThread(data)
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[thread.ThreadID] = &thread
	return nil
}

func copyMap(src map[string]string) map[string]string {
	if src == nil {
		return nil
	}
	dst := make(map[string]string, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
