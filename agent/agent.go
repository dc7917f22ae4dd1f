// Package agent implements the worker runtime: the agent contract, the
// per-agent inbox loop with its handler table, health beacon and circuit
// breaker, the local and remote agent variants, and the supervisor.
package agent

import (
	"github.com/BaSui01/agentmesh/mailbox"
	"github.com/BaSui01/agentmesh/types"
)

// State is an agent's lifecycle position. Transitions are atomic.
type State string

const (
	StateCreated  State = "created"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
	StateFailed   State = "failed"
)

// Agent is the capability set shared by every agent variant. Local and
// Remote are the two implementations; there is no deeper hierarchy.
type Agent interface {
	// ID returns the agent's unique identifier.
	ID() string
	// Info returns a snapshot of the registry-visible identity.
	Info() types.AgentInfo
	// State returns the lifecycle state.
	State() State

	// Start launches the inbox loop. An agent can be restarted after
	// Stop+Join; its id, capabilities, and mailbox survive a restart,
	// volatile in-agent state does not.
	Start() error
	// Stop signals the inbox loop to exit.
	Stop()
	// Join blocks until the inbox loop has exited.
	Join()
	// Shutdown stops, joins, and marks the agent offline.
	Shutdown()
	// MarkFailed parks the agent in the failed state.
	MarkFailed()

	// Mailbox returns the agent's inbound queue.
	Mailbox() *mailbox.Mailbox
	// Send enqueues a message for the agent's inbox loop.
	Send(msg types.Message) bool

	// ProcessRequest executes an inference request synchronously.
	ProcessRequest(req types.Request) types.Response
	// HandleMessage processes a message synchronously and returns the
	// handler's response.
	HandleMessage(msg types.Message) types.Response

	// SetStatus updates the advertised status.
	SetStatus(status types.AgentStatus)
	// Heartbeat refreshes the agent's health beacon.
	Heartbeat()
	// CheckHealth reports whether the beacon is fresh and the status
	// healthy.
	CheckHealth() bool

	// Stats returns the request counters.
	Stats() types.AgentStats

	// SetSender installs the outbound delivery hook used for acks,
	// replies, and supervisor notifications.
	SetSender(send SendFunc)
	// SetSupervisor installs the supervisor back-reference (its agent
	// id); an empty id clears it.
	SetSupervisor(id string)
	// Supervisor returns the supervising agent id, if any.
	Supervisor() string
}

// InferenceFunc is the inference callback contract: (prompt, params) →
// text. Params always include max_tokens and temperature as decimal
// strings. A returned error becomes error_kind = inference_error.
type InferenceFunc func(prompt string, params map[string]string) (string, error)

// SendFunc delivers an outbound message on behalf of an agent. The
// orchestrator installs one at registration time.
type SendFunc func(msg types.Message) bool

// HandlerFunc consumes one inbound message from the inbox loop.
type HandlerFunc func(msg types.Message) error
