package types

import "encoding/json"

// MessageKind classifies an envelope on the bus.
type MessageKind string

const (
	KindRequest      MessageKind = "request"
	KindResponse     MessageKind = "response"
	KindNotification MessageKind = "notification"
	KindError        MessageKind = "error"
	KindHeartbeat    MessageKind = "heartbeat"
	KindHeartbeatAck MessageKind = "heartbeat_ack"
	KindBroadcast    MessageKind = "broadcast"
	KindShutdown     MessageKind = "shutdown"
	KindTask         MessageKind = "task"
	KindTaskResult   MessageKind = "task_result"
	KindLockRequest  MessageKind = "lock_request"
	KindLockRelease  MessageKind = "lock_release"
	KindLockAcquired MessageKind = "lock_acquired"
	KindLockDenied   MessageKind = "lock_denied"
	KindDocEdit      MessageKind = "doc_edit"
	KindDocUpdate    MessageKind = "doc_update"
	KindConsensus    MessageKind = "consensus"
)

// Message is the immutable envelope exchanged between agents.
// An empty To means broadcast. (From, MessageID) is unique.
type Message struct {
	MessageID     string            `json:"message_id"`
	From          string            `json:"from"`
	To            string            `json:"to"`
	Kind          MessageKind       `json:"kind"`
	ThreadID      string            `json:"thread_id,omitempty"`
	Payload       json.RawMessage   `json:"payload,omitempty"`
	Timestamp     int64             `json:"timestamp"`
	Priority      int               `json:"priority"`
	CorrelationID string            `json:"correlation_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewMessage creates an envelope with a fresh id and timestamp.
func NewMessage(from, to string, kind MessageKind) Message {
	return Message{
		MessageID: NewID(),
		From:      from,
		To:        to,
		Kind:      kind,
		Timestamp: TimestampMs(),
	}
}

// WithPayload attaches a raw JSON payload to the message.
func (m Message) WithPayload(payload json.RawMessage) Message {
	m.Payload = payload
	return m
}

// WithThread associates the message with a conversation thread.
func (m Message) WithThread(threadID string) Message {
	m.ThreadID = threadID
	return m
}

// WithPriority sets the advisory priority (0-10, higher is more urgent).
// Mailboxes do not reorder on priority.
func (m Message) WithPriority(priority int) Message {
	m.Priority = priority
	return m
}

// WithCorrelation sets the correlation id for request/response tracking.
func (m Message) WithCorrelation(correlationID string) Message {
	m.CorrelationID = correlationID
	return m
}

// WithMetadata attaches custom metadata to the message.
func (m Message) WithMetadata(metadata map[string]string) Message {
	m.Metadata = metadata
	return m
}

// IsBroadcast reports whether the message addresses every agent.
func (m Message) IsBroadcast() bool {
	return m.To == ""
}

// Encode serializes the message to JSON.
func (m Message) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeMessage parses a message from JSON.
func DecodeMessage(data []byte) (Message, error) {
	var m Message
	err := json.Unmarshal(data, &m)
	return m, err
}
