package agent

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/failure"
	"github.com/BaSui01/agentmesh/mailbox"
	"github.com/BaSui01/agentmesh/types"
)

// pollInterval is how long the inbox loop blocks on an empty mailbox
// before re-checking the stop signal.
const pollInterval = 100 * time.Millisecond

// ErrAlreadyRunning is returned when Start is called on a running agent.
var ErrAlreadyRunning = errors.New("agent already running")

// Runtime is the shared machinery of every agent variant: the state
// machine, mailbox, handler table, health beacon, breaker, and counters.
type Runtime struct {
	info   types.AgentInfo
	infoMu sync.RWMutex

	state   State
	stateMu sync.Mutex

	box      *mailbox.Mailbox
	handlers map[types.MessageKind]HandlerFunc
	onAny    HandlerFunc
	handMu   sync.RWMutex

	send         SendFunc
	supervisorID string
	refMu        sync.RWMutex

	breaker       *failure.Breaker
	retry         failure.Policy
	lastHeartbeat atomic.Int64
	healthTimeout time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup

	totalRequests      atomic.Int64
	successfulRequests atomic.Int64
	failedRequests     atomic.Int64
	totalTokens        atomic.Int64
	totalLatencyMs     atomic.Int64
	lastRequestTime    atomic.Int64

	logger *zap.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithMailboxCapacity overrides the mailbox bound.
func WithMailboxCapacity(capacity int) RuntimeOption {
	return func(r *Runtime) { r.box = mailbox.New(capacity) }
}

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) RuntimeOption {
	return func(r *Runtime) { r.logger = logger }
}

// WithBreakerConfig overrides the agent's circuit breaker parameters.
func WithBreakerConfig(cfg failure.BreakerConfig) RuntimeOption {
	return func(r *Runtime) { r.breaker = failure.NewBreaker(cfg, r.logger) }
}

// WithRetryPolicy overrides the agent's default retry policy.
func WithRetryPolicy(policy failure.Policy) RuntimeOption {
	return func(r *Runtime) { r.retry = policy }
}

// WithHealthTimeout overrides how stale the heartbeat may grow before
// CheckHealth fails.
func WithHealthTimeout(timeout time.Duration) RuntimeOption {
	return func(r *Runtime) { r.healthTimeout = timeout }
}

// NewRuntime creates the runtime for an agent with the given identity.
// The heartbeat handler is always registered; shutdown messages are
// handled by the inbox loop itself.
func NewRuntime(info types.AgentInfo, opts ...RuntimeOption) *Runtime {
	if info.ID == "" {
		info.ID = types.NewID()
	}
	if info.CreatedAt == 0 {
		info.CreatedAt = types.TimestampMs()
	}
	if info.Status == "" {
		info.Status = types.StatusIdle
	}
	info.LastHeartbeat = types.TimestampMs()

	r := &Runtime{
		info:          info,
		state:         StateCreated,
		box:           mailbox.New(mailbox.DefaultCapacity),
		handlers:      make(map[types.MessageKind]HandlerFunc),
		retry:         failure.DefaultPolicy(),
		healthTimeout: types.DefaultHeartbeatTimeoutMs * time.Millisecond,
		logger:        zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With(
		zap.String("component", "agent"),
		zap.String("agent_id", info.ID),
		zap.String("role", info.Role))
	if r.breaker == nil {
		r.breaker = failure.NewBreaker(failure.DefaultBreakerConfig(), r.logger)
	}
	r.lastHeartbeat.Store(info.LastHeartbeat)

	r.RegisterHandler(types.KindHeartbeat, r.heartbeatHandler)
	return r
}

// ID returns the agent id.
func (r *Runtime) ID() string {
	return r.info.ID
}

// Info returns a snapshot of the agent identity.
func (r *Runtime) Info() types.AgentInfo {
	r.infoMu.RLock()
	defer r.infoMu.RUnlock()
	info := r.info
	info.Capabilities = append([]string(nil), r.info.Capabilities...)
	info.LastHeartbeat = r.lastHeartbeat.Load()
	return info
}

// State returns the lifecycle state.
func (r *Runtime) State() State {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	return r.state
}

func (r *Runtime) setState(s State) {
	r.stateMu.Lock()
	r.state = s
	r.stateMu.Unlock()
}

// Mailbox returns the inbound queue.
func (r *Runtime) Mailbox() *mailbox.Mailbox {
	return r.box
}

// Send enqueues a message for the inbox loop.
func (r *Runtime) Send(msg types.Message) bool {
	return r.box.Push(msg)
}

// SetSender installs the outbound delivery hook.
func (r *Runtime) SetSender(send SendFunc) {
	r.refMu.Lock()
	defer r.refMu.Unlock()
	r.send = send
}

// SetSupervisor installs (or, with an empty id, clears) the supervisor
// back-reference.
func (r *Runtime) SetSupervisor(id string) {
	r.refMu.Lock()
	defer r.refMu.Unlock()
	r.supervisorID = id
}

// Supervisor returns the supervising agent id, if any.
func (r *Runtime) Supervisor() string {
	r.refMu.RLock()
	defer r.refMu.RUnlock()
	return r.supervisorID
}

// RegisterHandler binds a handler to a message kind, replacing any
// previous binding.
func (r *Runtime) RegisterHandler(kind types.MessageKind, fn HandlerFunc) {
	r.handMu.Lock()
	defer r.handMu.Unlock()
	r.handlers[kind] = fn
}

// OnMessage installs the fallback hook for kinds without a handler.
func (r *Runtime) OnMessage(fn HandlerFunc) {
	r.handMu.Lock()
	defer r.handMu.Unlock()
	r.onAny = fn
}

// Start launches the inbox loop.
func (r *Runtime) Start() error {
	r.stateMu.Lock()
	switch r.state {
	case StateStarting, StateRunning, StateStopping:
		r.stateMu.Unlock()
		return ErrAlreadyRunning
	}
	r.state = StateStarting
	r.stopCh = make(chan struct{})
	stop := r.stopCh
	r.state = StateRunning
	r.stateMu.Unlock()

	r.Heartbeat()
	r.wg.Add(1)
	go r.run(stop)
	r.logger.Info("agent started")
	return nil
}

// run is the inbox loop: drain the mailbox, dispatch by kind, surface
// handler failures to the supervisor, and exit on shutdown.
func (r *Runtime) run(stop <-chan struct{}) {
	defer r.wg.Done()
	for {
		select {
		case <-stop:
			r.setState(StateStopped)
			return
		default:
		}

		msg, ok := r.box.Pop(pollInterval)
		if !ok {
			if r.box.Closed() {
				r.setState(StateStopped)
				return
			}
			continue
		}
		if msg.Kind == types.KindShutdown {
			r.setState(StateStopped)
			return
		}
		r.dispatch(msg)
	}
}

// dispatch routes one message through the handler table. Handler failure
// feeds the breaker and notifies the supervisor; it never kills the loop.
func (r *Runtime) dispatch(msg types.Message) {
	r.handMu.RLock()
	handler, ok := r.handlers[msg.Kind]
	fallback := r.onAny
	r.handMu.RUnlock()

	if !ok {
		handler = fallback
	}
	if handler == nil {
		r.logger.Debug("no handler for message",
			zap.String("kind", string(msg.Kind)),
			zap.String("from", msg.From))
		return
	}

	if err := handler(msg); err != nil {
		r.breaker.RecordFailure()
		r.notifySupervisor(msg, err)
		r.logger.Warn("handler failed",
			zap.String("kind", string(msg.Kind)),
			zap.String("message_id", msg.MessageID),
			zap.Error(err))
		return
	}
	r.lastHeartbeat.Store(types.TimestampMs())
	r.breaker.RecordSuccess()
}

// notifySupervisor posts an error message upward, when supervised.
func (r *Runtime) notifySupervisor(msg types.Message, err error) {
	r.refMu.RLock()
	supervisor := r.supervisorID
	send := r.send
	r.refMu.RUnlock()
	if supervisor == "" || send == nil {
		return
	}

	payload, _ := json.Marshal(map[string]string{
		"failed_message_id": msg.MessageID,
		"kind":              string(msg.Kind),
		"error":             err.Error(),
	})
	errMsg := types.NewMessage(r.info.ID, supervisor, types.KindError).
		WithCorrelation(msg.MessageID).
		WithPayload(payload)
	send(errMsg)
}

// heartbeatHandler answers pings with an ack to the sender.
func (r *Runtime) heartbeatHandler(msg types.Message) error {
	r.Heartbeat()
	r.refMu.RLock()
	send := r.send
	r.refMu.RUnlock()
	if send != nil && msg.From != "" {
		ack := types.NewMessage(r.info.ID, msg.From, types.KindHeartbeatAck).
			WithCorrelation(msg.MessageID)
		send(ack)
	}
	return nil
}

// Stop signals the inbox loop to exit.
func (r *Runtime) Stop() {
	r.stateMu.Lock()
	defer r.stateMu.Unlock()
	if r.state != StateRunning && r.state != StateStarting {
		return
	}
	r.state = StateStopping
	close(r.stopCh)
}

// Join blocks until the inbox loop has exited.
func (r *Runtime) Join() {
	r.wg.Wait()
}

// Shutdown stops the loop and marks the agent offline.
func (r *Runtime) Shutdown() {
	r.Stop()
	r.Join()
	r.SetStatus(types.StatusOffline)
	r.logger.Info("agent shut down")
}

// MarkFailed parks the agent in the failed state. Used by supervisors
// when the restart budget is exhausted.
func (r *Runtime) MarkFailed() {
	r.setState(StateFailed)
	r.SetStatus(types.StatusFailed)
}

// SetStatus updates the advertised status.
func (r *Runtime) SetStatus(status types.AgentStatus) {
	r.infoMu.Lock()
	defer r.infoMu.Unlock()
	r.info.Status = status
}

// Status returns the advertised status.
func (r *Runtime) Status() types.AgentStatus {
	r.infoMu.RLock()
	defer r.infoMu.RUnlock()
	return r.info.Status
}

// Heartbeat refreshes the health beacon.
func (r *Runtime) Heartbeat() {
	now := types.TimestampMs()
	r.lastHeartbeat.Store(now)
	r.infoMu.Lock()
	r.info.LastHeartbeat = now
	r.infoMu.Unlock()
}

// CheckHealth reports whether the status is healthy and the beacon fresh.
func (r *Runtime) CheckHealth() bool {
	return r.Info().IsHealthy(r.healthTimeout.Milliseconds())
}

// Breaker exposes the agent's circuit breaker.
func (r *Runtime) Breaker() *failure.Breaker {
	return r.breaker
}

// RetryPolicy returns the agent's default retry policy.
func (r *Runtime) RetryPolicy() failure.Policy {
	return r.retry
}

// Stats returns the request counters.
func (r *Runtime) Stats() types.AgentStats {
	total := r.totalRequests.Load()
	avg := 0.0
	if total > 0 {
		avg = float64(r.totalLatencyMs.Load()) / float64(total)
	}
	return types.AgentStats{
		AgentID:            r.info.ID,
		TotalRequests:      total,
		SuccessfulRequests: r.successfulRequests.Load(),
		FailedRequests:     r.failedRequests.Load(),
		TotalTokens:        r.totalTokens.Load(),
		AvgResponseTimeMs:  avg,
		LastRequestTime:    r.lastRequestTime.Load(),
	}
}

// recordRequest folds one request outcome into the counters.
func (r *Runtime) recordRequest(ok bool, tokens int, startedAt int64) {
	r.totalRequests.Add(1)
	r.lastRequestTime.Store(startedAt)
	r.totalLatencyMs.Add(types.TimestampMs() - startedAt)
	if ok {
		r.successfulRequests.Add(1)
		r.totalTokens.Add(int64(tokens))
	} else {
		r.failedRequests.Add(1)
	}
}

// ProcessRequest on the bare runtime has no inference path.
func (r *Runtime) ProcessRequest(types.Request) types.Response {
	return types.ErrorResponse(types.ErrKindNoInferenceCallback,
		fmt.Sprintf("agent %s cannot process requests", r.info.ID))
}

// HandleMessage is the synchronous message surface shared by variants.
func (r *Runtime) HandleMessage(msg types.Message) types.Response {
	switch msg.Kind {
	case types.KindHeartbeat:
		r.Heartbeat()
		return types.Response{Status: types.StatusSuccess, Content: "heartbeat_ack"}
	case types.KindShutdown:
		r.Stop()
		return types.Response{Status: types.StatusSuccess, Content: "stopping"}
	default:
		// Anything else is accepted as a notification.
		return types.Response{Status: types.StatusSuccess}
	}
}
