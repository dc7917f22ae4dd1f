// Package orchestrator implements the registry and lifecycle facade that
// ties the kernel together: agent lookup and routing, request dispatch
// with retry and failover, broadcast and consensus fan-out, health
// checks, and process-wide stats.
package orchestrator

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/consensus"
	"github.com/BaSui01/agentmesh/conversation"
	"github.com/BaSui01/agentmesh/failure"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/knowledge"
	"github.com/BaSui01/agentmesh/mailbox"
	"github.com/BaSui01/agentmesh/scheduler"
	"github.com/BaSui01/agentmesh/types"
)

var (
	// ErrDuplicateAgent is returned when an agent id is registered twice.
	ErrDuplicateAgent = errors.New("agent id already registered")
	// ErrAgentNotFound is returned for operations on unknown agents.
	ErrAgentNotFound = errors.New("agent not found")
)

// MessageHandler observes every synchronously dispatched message and the
// response it produced.
type MessageHandler func(msg types.Message, resp types.Response)

// Event is a runtime occurrence published to the event hook (agent
// registered, task completed, vote finalized, ...).
type Event struct {
	Kind      string            `json:"kind"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp int64             `json:"timestamp"`
}

// EventFunc consumes runtime events. It must not block.
type EventFunc func(Event)

// Orchestrator is the process-wide registry and routing facade. It
// exclusively owns the registered agent instances and the shared
// singletons (bus, conversation memory, knowledge base, scheduler,
// voter, failure manager).
type Orchestrator struct {
	agents map[string]agent.Agent
	order  []string
	slots  map[int]string
	mu     sync.RWMutex

	bus      *mailbox.Bus
	memory   *conversation.Memory
	kb       *knowledge.Base
	sched    *scheduler.Scheduler
	voter    *consensus.Voter
	failures *failure.Manager

	inference agent.InferenceFunc
	metrics   *metrics.Collector

	totalMessages atomic.Int64
	totalRequests atomic.Int64
	totalFailures atomic.Int64

	msgHandler MessageHandler
	eventHook  EventFunc
	hookMu     sync.RWMutex

	queue     *mailbox.Mailbox
	procStop  chan struct{}
	procWG    sync.WaitGroup
	procMu    sync.Mutex
	procAlive bool

	logger *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger attaches a logger.
func WithLogger(logger *zap.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMemory attaches the shared conversation memory handed to spawned
// local agents.
func WithMemory(memory *conversation.Memory) Option {
	return func(o *Orchestrator) { o.memory = memory }
}

// WithInference installs the default inference callback for spawned
// local agents.
func WithInference(callback agent.InferenceFunc) Option {
	return func(o *Orchestrator) { o.inference = callback }
}

// WithBreakerConfig overrides the per-agent breaker parameters used by
// the failure manager.
func WithBreakerConfig(cfg failure.BreakerConfig) Option {
	return func(o *Orchestrator) { o.failures = failure.NewManager(cfg, o.logger) }
}

// WithMetrics attaches the prometheus collector fed by request
// dispatch, vote finalization, and stats snapshots.
func WithMetrics(collector *metrics.Collector) Option {
	return func(o *Orchestrator) { o.metrics = collector }
}

// New creates an orchestrator and its owned singletons.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{
		agents: make(map[string]agent.Agent),
		slots:  make(map[int]string),
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = o.logger.With(zap.String("component", "orchestrator"))
	o.bus = mailbox.NewBus(mailbox.DefaultCapacity, o.logger)
	if o.memory == nil {
		o.memory = conversation.NewMemory(conversation.WithLogger(o.logger))
	}
	o.kb = knowledge.NewBase(o.logger)
	o.sched = scheduler.New(o.logger)
	o.voter = consensus.NewVoter(o.logger)
	if o.failures == nil {
		o.failures = failure.NewManager(failure.DefaultBreakerConfig(), o.logger)
	}
	o.queue = mailbox.New(mailbox.DefaultCapacity)

	o.voter.SetFinalizeCallback(func(voteID string, vote consensus.Vote) {
		if o.metrics != nil {
			o.metrics.ObserveVoteFinalized()
		}
		o.emit("vote_finalized", map[string]string{
			"vote_id": voteID,
			"result":  vote.Result,
		})
	})
	o.kb.SetUpdateCallback(func(agentID string, entry knowledge.Entry) {
		o.emit("knowledge_updated", map[string]string{
			"subscriber": agentID,
			"key":        entry.Key,
			"version":    fmt.Sprint(entry.Version),
		})
	})
	return o
}

// Memory returns the shared conversation memory.
func (o *Orchestrator) Memory() *conversation.Memory { return o.memory }

// Knowledge returns the shared knowledge base.
func (o *Orchestrator) Knowledge() *knowledge.Base { return o.kb }

// Scheduler returns the shared task scheduler.
func (o *Orchestrator) Scheduler() *scheduler.Scheduler { return o.sched }

// Voter returns the shared consensus voter.
func (o *Orchestrator) Voter() *consensus.Voter { return o.voter }

// Failures returns the shared failure manager.
func (o *Orchestrator) Failures() *failure.Manager { return o.failures }

// SetMessageHandler installs the synchronous dispatch observer.
func (o *Orchestrator) SetMessageHandler(handler MessageHandler) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.msgHandler = handler
}

// SetEventHook installs the runtime event consumer.
func (o *Orchestrator) SetEventHook(hook EventFunc) {
	o.hookMu.Lock()
	defer o.hookMu.Unlock()
	o.eventHook = hook
}

func (o *Orchestrator) emit(kind string, fields map[string]string) {
	o.hookMu.RLock()
	hook := o.eventHook
	o.hookMu.RUnlock()
	if hook != nil {
		hook(Event{Kind: kind, Fields: fields, Timestamp: types.TimestampMs()})
	}
}

// Register adds an agent to the registry, adopts its mailbox onto the
// bus, and wires its outbound sender. Ids are unique; a slot id above
// zero is claimed in the slot index.
func (o *Orchestrator) Register(a agent.Agent) error {
	info := a.Info()

	o.mu.Lock()
	if _, dup := o.agents[info.ID]; dup {
		o.mu.Unlock()
		return ErrDuplicateAgent
	}
	o.agents[info.ID] = a
	o.order = append(o.order, info.ID)
	if info.SlotID > 0 {
		o.slots[info.SlotID] = info.ID
	}
	o.mu.Unlock()

	o.bus.AttachMailbox(info.ID, a.Mailbox())
	a.SetSender(o.Post)

	o.logger.Info("agent registered",
		zap.String("agent_id", info.ID),
		zap.String("role", info.Role),
		zap.Strings("capabilities", info.Capabilities))
	o.emit("agent_registered", map[string]string{"agent_id": info.ID, "role": info.Role})
	return nil
}

// Unregister shuts the agent down, clears its supervisor back-reference,
// and removes it from the registry and bus.
func (o *Orchestrator) Unregister(agentID string) error {
	o.mu.Lock()
	a, ok := o.agents[agentID]
	if !ok {
		o.mu.Unlock()
		return ErrAgentNotFound
	}
	delete(o.agents, agentID)
	for i, id := range o.order {
		if id == agentID {
			o.order = append(o.order[:i], o.order[i+1:]...)
			break
		}
	}
	for slot, id := range o.slots {
		if id == agentID {
			delete(o.slots, slot)
		}
	}
	o.mu.Unlock()

	a.SetSupervisor("")
	a.Shutdown()
	o.bus.Detach(agentID)

	o.logger.Info("agent unregistered", zap.String("agent_id", agentID))
	o.emit("agent_unregistered", map[string]string{"agent_id": agentID})
	return nil
}

// Get returns the agent registered under id.
func (o *Orchestrator) Get(agentID string) (agent.Agent, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	a, ok := o.agents[agentID]
	return a, ok
}

// GetBySlot returns the agent bound to an inference slot.
func (o *Orchestrator) GetBySlot(slotID int) (agent.Agent, bool) {
	o.mu.RLock()
	agentID, ok := o.slots[slotID]
	o.mu.RUnlock()
	if !ok {
		return nil, false
	}
	return o.Get(agentID)
}

// List returns the info of every registered agent in registration order.
func (o *Orchestrator) List() []types.AgentInfo {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]types.AgentInfo, 0, len(o.order))
	for _, id := range o.order {
		out = append(out, o.agents[id].Info())
	}
	return out
}

// statusRank orders statuses from healthiest to worst for Query.MinStatus
// comparisons.
var statusRank = map[types.AgentStatus]int{
	types.StatusActive:  0,
	types.StatusIdle:    1,
	types.StatusBusy:    2,
	types.StatusFailed:  3,
	types.StatusOffline: 4,
	types.StatusUnknown: 5,
}

// Query filters agents during discovery.
type Query struct {
	// Capabilities the agent must carry; RequireAll selects AND vs OR.
	Capabilities []string `json:"capabilities,omitempty"`
	RequireAll   bool     `json:"require_all_capabilities"`
	// MinStatus is the worst acceptable status (default: idle).
	MinStatus types.AgentStatus `json:"min_status,omitempty"`
	// Metadata entries that must all match exactly.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Find returns the agents matching the query, in registration order.
func (o *Orchestrator) Find(q Query) []types.AgentInfo {
	minStatus := q.MinStatus
	if minStatus == "" {
		minStatus = types.StatusIdle
	}
	maxRank := statusRank[minStatus]

	var out []types.AgentInfo
	for _, info := range o.List() {
		if statusRank[info.Status] > maxRank {
			continue
		}
		if !capabilitiesMatch(info, q.Capabilities, q.RequireAll) {
			continue
		}
		if !metadataMatch(info.Metadata, q.Metadata) {
			continue
		}
		out = append(out, info)
	}
	return out
}

func capabilitiesMatch(info types.AgentInfo, wanted []string, requireAll bool) bool {
	if len(wanted) == 0 {
		return true
	}
	matched := 0
	for _, c := range wanted {
		if info.HasCapability(c) {
			matched++
		}
	}
	if requireAll {
		return matched == len(wanted)
	}
	return matched > 0
}

func metadataMatch(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// Post enqueues a message asynchronously: into the target's mailbox, or
// into every mailbox for a broadcast envelope. A directed message that
// cannot be delivered is parked in the dead-letter queue.
func (o *Orchestrator) Post(msg types.Message) bool {
	o.totalMessages.Add(1)
	if msg.IsBroadcast() {
		targets := o.bus.Targets()
		return len(o.bus.Broadcast(msg, targets)) > 0
	}
	if o.bus.Push(msg) {
		return true
	}

	kind := types.ErrKindOverload
	if _, known := o.Get(msg.To); !known {
		kind = types.ErrKindAgentNotFound
	}
	record := failure.NewRecord(msg.To, kind, "message delivery failed")
	record.MessageID = msg.MessageID
	record.ThreadID = msg.ThreadID
	o.failures.DeadLetters().Add(msg.MessageID, string(msg.Payload), record)
	return false
}

// SendMessage dispatches a message synchronously to its target and
// returns the handler's response.
func (o *Orchestrator) SendMessage(msg types.Message) types.Response {
	o.totalMessages.Add(1)

	target, ok := o.Get(msg.To)
	if !ok {
		return types.ErrorResponse(types.ErrKindAgentNotFound,
			fmt.Sprintf("agent not found: %s", msg.To))
	}
	resp := target.HandleMessage(msg)

	o.hookMu.RLock()
	handler := o.msgHandler
	o.hookMu.RUnlock()
	if handler != nil {
		handler(msg, resp)
	}
	return resp
}

// SendRequest dispatches an inference request to one agent, guarded by
// the agent's circuit breaker. An open breaker synthesizes an
// unavailable response without invoking the target.
func (o *Orchestrator) SendRequest(agentID string, req types.Request) types.Response {
	o.totalRequests.Add(1)

	target, ok := o.Get(agentID)
	if !ok {
		return types.ErrorResponse(types.ErrKindAgentNotFound,
			fmt.Sprintf("agent not found: %s", agentID))
	}

	breaker := o.failures.Breaker(agentID)
	if !breaker.AllowRequest() {
		resp := types.Response{
			Status:       types.StatusUnavailable,
			ErrorKind:    types.ErrKindUnavailable,
			ErrorMessage: fmt.Sprintf("circuit breaker open for agent %s", agentID),
		}
		o.observeRequest(resp)
		return resp
	}

	resp := target.ProcessRequest(req)
	o.observeRequest(resp)
	if resp.OK() {
		breaker.RecordSuccess()
		return resp
	}

	breaker.RecordFailure()
	o.totalFailures.Add(1)
	return resp
}

func (o *Orchestrator) observeRequest(resp types.Response) {
	if o.metrics != nil {
		o.metrics.ObserveAgentRequest(string(resp.Status))
	}
}

// SendRequestWithPolicy wraps SendRequest with the retry loop: up to
// MaxRetries retries with exponential backoff for retryable error kinds,
// then failover through the policy's fallback agents in order. This is
// the only place retry logic lives.
func (o *Orchestrator) SendRequestWithPolicy(agentID string, req types.Request, policy failure.Policy) types.Response {
	var last types.Response
	for attempt := 0; attempt <= policy.MaxRetries; attempt++ {
		last = o.SendRequest(agentID, req)
		if last.OK() {
			return last
		}

		if policy.LogFailures {
			record := failure.NewRecord(agentID, last.ErrorKind, last.ErrorMessage)
			record.ThreadID = req.ThreadID
			record.RetryCount = attempt
			o.failures.RecordFailure(record)
		}
		if !last.ErrorKind.IsRetryable() {
			break
		}
		if attempt == policy.MaxRetries {
			break
		}
		time.Sleep(policy.DelayFor(attempt))
	}

	if policy.EnableFailover {
		for _, fallbackID := range policy.FallbackAgents {
			resp := o.SendRequest(fallbackID, req)
			if resp.OK() {
				if resp.Metadata == nil {
					resp.Metadata = make(map[string]string)
				}
				resp.Metadata["failover_from"] = agentID
				resp.Metadata["recovery_agent"] = fallbackID
				o.logger.Info("request failed over",
					zap.String("from", agentID),
					zap.String("to", fallbackID))
				return resp
			}
		}
	}
	return last
}

// BroadcastMessage fans the message out to every registered agent
// concurrently and returns their responses keyed by agent id.
func (o *Orchestrator) BroadcastMessage(msg types.Message) map[string]types.Response {
	infos := o.List()
	out := make(map[string]types.Response, len(infos))
	var outMu sync.Mutex

	var g errgroup.Group
	for _, info := range infos {
		if info.ID == msg.From {
			continue
		}
		id := info.ID
		g.Go(func() error {
			copied := msg
			copied.To = id
			resp := o.SendMessage(copied)
			outMu.Lock()
			out[id] = resp
			outMu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

// ConsensusResult collects the responses of a consensus fan-out.
type ConsensusResult struct {
	Responses   []types.Response `json:"responses"`
	Synthesized string           `json:"synthesized_response,omitempty"`
}

// ConsensusRequest sends the request to every listed agent concurrently.
// With synthesize set, the contents are concatenated under a consensus
// header with one section per agent.
func (o *Orchestrator) ConsensusRequest(agentIDs []string, req types.Request, synthesize bool) ConsensusResult {
	result := ConsensusResult{Responses: make([]types.Response, len(agentIDs))}

	var g errgroup.Group
	for i, id := range agentIDs {
		i, id := i, id
		g.Go(func() error {
			result.Responses[i] = o.SendRequest(id, req)
			return nil
		})
	}
	_ = g.Wait()

	if synthesize && len(result.Responses) > 0 {
		var sb strings.Builder
		sb.WriteString("=== Multi-Agent Consensus ===\n\n")
		for i, resp := range result.Responses {
			fmt.Fprintf(&sb, "Agent %d (%s):\n%s\n\n", i+1, agentIDs[i], resp.Content)
		}
		result.Synthesized = sb.String()
	}
	return result
}

// RouteRequest picks an agent for the request: the first idle or active
// agent carrying params["capability"] when set, otherwise the first idle
// or active agent. Returns false when no agent qualifies.
func (o *Orchestrator) RouteRequest(req types.Request) (string, bool) {
	capability := req.Params["capability"]
	for _, info := range o.List() {
		if statusRank[info.Status] > statusRank[types.StatusIdle] {
			continue
		}
		if capability != "" && !info.HasCapability(capability) {
			continue
		}
		return info.ID, true
	}
	return "", false
}

// HealthCheck marks unhealthy agents offline, then pings every agent
// through its mailbox.
func (o *Orchestrator) HealthCheck() {
	for _, info := range o.List() {
		a, ok := o.Get(info.ID)
		if !ok {
			continue
		}
		if !a.CheckHealth() {
			a.SetStatus(types.StatusOffline)
			o.logger.Warn("agent marked offline", zap.String("agent_id", info.ID))
		}
		o.Post(types.NewMessage("", info.ID, types.KindHeartbeat))
	}
}

// ReceiveMessages drains up to maxCount queued messages from an agent's
// mailbox without blocking.
func (o *Orchestrator) ReceiveMessages(agentID string, maxCount int) ([]types.Message, error) {
	a, ok := o.Get(agentID)
	if !ok {
		return nil, ErrAgentNotFound
	}
	if maxCount <= 0 {
		maxCount = 100
	}
	var out []types.Message
	for len(out) < maxCount {
		msg, ok := a.Mailbox().Pop(0)
		if !ok {
			break
		}
		out = append(out, msg)
	}
	return out, nil
}

// Enqueue puts a message onto the orchestrator's async processing queue.
func (o *Orchestrator) Enqueue(msg types.Message) bool {
	return o.queue.Push(msg)
}

// StartMessageProcessor launches the background drain loop that pops
// from the queue and dispatches via SendMessage.
func (o *Orchestrator) StartMessageProcessor() {
	o.procMu.Lock()
	defer o.procMu.Unlock()
	if o.procAlive {
		return
	}
	o.procAlive = true
	o.procStop = make(chan struct{})
	stop := o.procStop
	o.procWG.Add(1)
	go func() {
		defer o.procWG.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			msg, ok := o.queue.Pop(100 * time.Millisecond)
			if !ok {
				continue
			}
			o.SendMessage(msg)
		}
	}()
	o.logger.Info("message processor started")
}

// StopMessageProcessor halts the drain loop.
func (o *Orchestrator) StopMessageProcessor() {
	o.procMu.Lock()
	defer o.procMu.Unlock()
	if !o.procAlive {
		return
	}
	close(o.procStop)
	o.procWG.Wait()
	o.procAlive = false
	o.logger.Info("message processor stopped")
}

// Shutdown stops the processor and every registered agent.
func (o *Orchestrator) Shutdown() {
	o.StopMessageProcessor()
	for _, info := range o.List() {
		_ = o.Unregister(info.ID)
	}
	o.bus.Close()
	o.queue.Close()
}
