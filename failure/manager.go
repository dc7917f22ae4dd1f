package failure

import (
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// historyLimit bounds the per-agent failure history.
const historyLimit = 100

// Handler recovers from a class of failures. Handlers perform
// bookkeeping (choosing a fallback, parking a dead letter); they never
// re-execute requests themselves.
type Handler interface {
	// CanHandle reports whether this handler applies to the error kind.
	CanHandle(kind types.ErrorKind) bool
	// Handle attempts recovery, mutating the record (e.g. recovery
	// agent). It returns true when the failure is considered recovered.
	Handle(record *Record) bool
}

// Manager keeps per-agent failure histories, lazily created breakers, the
// dead-letter queue, and the handler chain.
type Manager struct {
	histories  map[string][]Record
	breakers   map[string]*Breaker
	handlers   []Handler
	dlq        *DeadLetterQueue
	breakerCfg BreakerConfig

	totalFailures     int64
	recoveredFailures int64
	byKind            map[types.ErrorKind]int64

	mu     sync.Mutex
	logger *zap.Logger
}

// ManagerStats summarizes everything the manager has seen.
type ManagerStats struct {
	TotalFailures     int64                     `json:"total_failures"`
	RecoveredFailures int64                     `json:"recovered_failures"`
	FailuresByKind    map[types.ErrorKind]int64 `json:"failures_by_kind"`
	FailuresByAgent   map[string]int64          `json:"failures_by_agent"`
	DeadLetters       int                       `json:"dead_letters"`
}

// NewManager creates a failure manager with the given breaker config for
// lazily created per-agent breakers.
func NewManager(breakerCfg BreakerConfig, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{
		histories:  make(map[string][]Record),
		breakers:   make(map[string]*Breaker),
		byKind:     make(map[types.ErrorKind]int64),
		dlq:        NewDeadLetterQueue(DefaultDeadLetterCapacity),
		breakerCfg: breakerCfg,
		logger:     logger.With(zap.String("component", "failure_manager")),
	}
}

// AddHandler appends a handler to the chain. Dispatch order is
// registration order; the first handler whose CanHandle matches wins.
func (m *Manager) AddHandler(handler Handler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// RecordFailure appends the record to the agent's history (bounded) and
// feeds the agent's breaker.
func (m *Manager) RecordFailure(record Record) {
	m.mu.Lock()
	history := append(m.histories[record.AgentID], record)
	if len(history) > historyLimit {
		history = history[len(history)-historyLimit:]
	}
	m.histories[record.AgentID] = history
	m.totalFailures++
	m.byKind[record.ErrorKind]++
	breaker := m.breakerLocked(record.AgentID)
	m.mu.Unlock()

	breaker.RecordFailure()
	m.logger.Warn("failure recorded",
		zap.String("agent_id", record.AgentID),
		zap.String("error_kind", string(record.ErrorKind)),
		zap.String("error_message", record.ErrorMessage))
}

// HandleFailure dispatches the record to the first handler that can
// handle its kind. On success the record is marked recovered.
func (m *Manager) HandleFailure(record *Record) bool {
	m.mu.Lock()
	handlers := append([]Handler(nil), m.handlers...)
	m.mu.Unlock()

	for _, handler := range handlers {
		if !handler.CanHandle(record.ErrorKind) {
			continue
		}
		if handler.Handle(record) {
			record.Recovered = true
			m.mu.Lock()
			m.recoveredFailures++
			m.mu.Unlock()
			return true
		}
		return false
	}
	return false
}

// History returns up to limit of the agent's most recent failures.
func (m *Manager) History(agentID string, limit int) []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.histories[agentID]
	if limit > 0 && limit < len(history) {
		history = history[len(history)-limit:]
	}
	return append([]Record(nil), history...)
}

// LastFailure returns the agent's most recent failure record.
func (m *Manager) LastFailure(agentID string) (Record, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	history := m.histories[agentID]
	if len(history) == 0 {
		return Record{}, false
	}
	return history[len(history)-1], true
}

// Breaker returns (creating if needed) the agent's circuit breaker.
func (m *Manager) Breaker(agentID string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.breakerLocked(agentID)
}

func (m *Manager) breakerLocked(agentID string) *Breaker {
	if breaker, ok := m.breakers[agentID]; ok {
		return breaker
	}
	breaker := NewBreaker(m.breakerCfg, m.logger)
	m.breakers[agentID] = breaker
	return breaker
}

// DeadLetters returns the dead-letter queue.
func (m *Manager) DeadLetters() *DeadLetterQueue {
	return m.dlq
}

// ClearHistory drops all failure histories and counters.
func (m *Manager) ClearHistory() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histories = make(map[string][]Record)
	m.totalFailures = 0
	m.recoveredFailures = 0
	m.byKind = make(map[types.ErrorKind]int64)
}

// Stats summarizes recorded failures.
func (m *Manager) Stats() ManagerStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	byAgent := make(map[string]int64, len(m.histories))
	for agentID, history := range m.histories {
		byAgent[agentID] = int64(len(history))
	}
	byKind := make(map[types.ErrorKind]int64, len(m.byKind))
	for kind, count := range m.byKind {
		byKind[kind] = count
	}
	return ManagerStats{
		TotalFailures:     m.totalFailures,
		RecoveredFailures: m.recoveredFailures,
		FailuresByKind:    byKind,
		FailuresByAgent:   byAgent,
		DeadLetters:       m.dlq.Len(),
	}
}

// FailoverHandler picks the next fallback agent for retryable failures.
// It only nominates the recovery agent; the orchestrator performs the
// actual handover.
type FailoverHandler struct {
	fallbacks []string
	next      int
	mu        sync.Mutex
}

// NewFailoverHandler creates a handler cycling through fallbacks in order.
func NewFailoverHandler(fallbacks []string) *FailoverHandler {
	return &FailoverHandler{fallbacks: append([]string(nil), fallbacks...)}
}

// CanHandle reports whether the kind is transient enough to fail over.
func (h *FailoverHandler) CanHandle(kind types.ErrorKind) bool {
	return kind.IsRetryable()
}

// Handle nominates the next fallback agent.
func (h *FailoverHandler) Handle(record *Record) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fallbacks) == 0 {
		return false
	}
	record.RecoveryAgent = h.fallbacks[h.next%len(h.fallbacks)]
	h.next++
	return true
}

// NextFallback returns the fallback the handler would nominate next.
func (h *FailoverHandler) NextFallback() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.fallbacks) == 0 {
		return ""
	}
	return h.fallbacks[h.next%len(h.fallbacks)]
}
