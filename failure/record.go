package failure

import (
	"encoding/json"

	"github.com/BaSui01/agentmesh/types"
)

// Record captures one observed failure of an agent.
type Record struct {
	AgentID       string          `json:"agent_id"`
	ErrorKind     types.ErrorKind `json:"error_kind"`
	ErrorMessage  string          `json:"error_message,omitempty"`
	Timestamp     int64           `json:"timestamp"`
	ThreadID      string          `json:"thread_id,omitempty"`
	MessageID     string          `json:"message_id,omitempty"`
	RetryCount    int             `json:"retry_count"`
	Recovered     bool            `json:"recovered"`
	RecoveryAgent string          `json:"recovery_agent,omitempty"`
}

// NewRecord creates a failure record stamped with the current time.
func NewRecord(agentID string, kind types.ErrorKind, message string) Record {
	return Record{
		AgentID:      agentID,
		ErrorKind:    kind,
		ErrorMessage: message,
		Timestamp:    types.TimestampMs(),
	}
}

// Encode serializes the record to JSON.
func (r Record) Encode() ([]byte, error) {
	return json.Marshal(r)
}

// DecodeRecord parses a record from JSON.
func DecodeRecord(data []byte) (Record, error) {
	var r Record
	err := json.Unmarshal(data, &r)
	return r, err
}
