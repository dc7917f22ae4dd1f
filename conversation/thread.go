// Package conversation implements the shared conversation memory: TTL-bound
// threads of role-labeled turns, branching, and token-budgeted context
// reconstruction for continuation requests.
package conversation

import "encoding/json"

// Turn is a single role-labeled message within a thread. Turns are owned
// by their thread and ordered by insertion; timestamps are advisory.
type Turn struct {
	Role      string            `json:"role"`
	Content   string            `json:"content"`
	Timestamp int64             `json:"timestamp"`
	Files     []string          `json:"files,omitempty"`
	Images    []string          `json:"images,omitempty"`
	AgentID   string            `json:"agent_id,omitempty"`
	Model     string            `json:"model,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Thread is an ordered conversation with a TTL and optional parent (set
// when the thread was created by branching).
type Thread struct {
	ThreadID        string            `json:"thread_id"`
	ParentID        string            `json:"parent_id,omitempty"`
	InitiatingAgent string            `json:"initiating_agent"`
	CreatedAt       int64             `json:"created_at"`
	UpdatedAt       int64             `json:"updated_at"`
	ExpiresAt       int64             `json:"expires_at"`
	Turns           []Turn            `json:"turns"`
	Context         map[string]string `json:"context,omitempty"`
}

// clone deep-copies the thread so callers and branches never alias the
// stored turn list or context map.
func (t Thread) clone() Thread {
	copied := t
	copied.Turns = make([]Turn, len(t.Turns))
	copy(copied.Turns, t.Turns)
	if t.Context != nil {
		copied.Context = make(map[string]string, len(t.Context))
		for k, v := range t.Context {
			copied.Context[k] = v
		}
	}
	return copied
}

// expired reports whether the thread's TTL has elapsed at the given time.
func (t Thread) expired(nowMs int64) bool {
	return nowMs >= t.ExpiresAt
}

// Encode serializes the thread to JSON.
func (t Thread) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeThread parses a thread from JSON.
func DecodeThread(data []byte) (Thread, error) {
	var t Thread
	err := json.Unmarshal(data, &t)
	return t, err
}

// ReconstructedContext is the output of the context builder.
type ReconstructedContext struct {
	FullContext   string   `json:"full_context"`
	TokensUsed    int      `json:"tokens_used"`
	TurnsIncluded int      `json:"turns_included"`
	FilesIncluded []string `json:"files_included,omitempty"`
	Truncated     bool     `json:"truncated"`
}
