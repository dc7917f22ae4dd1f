package types

// AgentStatus describes what an agent is currently doing.
type AgentStatus string

const (
	StatusActive  AgentStatus = "active"
	StatusIdle    AgentStatus = "idle"
	StatusBusy    AgentStatus = "busy"
	StatusFailed  AgentStatus = "error"
	StatusOffline AgentStatus = "offline"
	StatusUnknown AgentStatus = "unknown"
)

// DefaultHeartbeatTimeoutMs is how stale a heartbeat may be before the
// agent is considered unhealthy.
const DefaultHeartbeatTimeoutMs = 60_000

// AgentInfo is the registry-visible identity of an agent.
type AgentInfo struct {
	ID            string            `json:"id"`
	Role          string            `json:"role"`
	Description   string            `json:"description,omitempty"`
	Capabilities  []string          `json:"capabilities,omitempty"`
	Endpoint      string            `json:"endpoint,omitempty"`
	Status        AgentStatus       `json:"status"`
	LastHeartbeat int64             `json:"last_heartbeat"`
	CreatedAt     int64             `json:"created_at"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	SlotID        int               `json:"slot_id,omitempty"`
}

// HasCapability reports whether the agent carries the given capability tag.
func (a AgentInfo) HasCapability(capability string) bool {
	for _, c := range a.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// IsHealthy reports whether the agent is reachable: its status is not
// offline or error and its heartbeat is fresher than timeoutMs.
func (a AgentInfo) IsHealthy(timeoutMs int64) bool {
	if a.Status == StatusOffline || a.Status == StatusFailed {
		return false
	}
	if timeoutMs <= 0 {
		timeoutMs = DefaultHeartbeatTimeoutMs
	}
	return TimestampMs()-a.LastHeartbeat < timeoutMs
}

// AgentStats accumulates per-agent request counters.
type AgentStats struct {
	AgentID            string  `json:"agent_id"`
	TotalRequests      int64   `json:"total_requests"`
	SuccessfulRequests int64   `json:"successful_requests"`
	FailedRequests     int64   `json:"failed_requests"`
	TotalTokens        int64   `json:"total_tokens"`
	AvgResponseTimeMs  float64 `json:"avg_response_time_ms"`
	LastRequestTime    int64   `json:"last_request_time"`
	ActiveThreads      int     `json:"active_threads"`
}
