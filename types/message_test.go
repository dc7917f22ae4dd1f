package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageRoundTrip(t *testing.T) {
	msg := NewMessage("agent-a", "agent-b", KindRequest).
		WithThread("thread-1").
		WithPayload(json.RawMessage(`{"prompt":"hi"}`)).
		WithPriority(7).
		WithCorrelation("corr-1").
		WithMetadata(map[string]string{"origin": "test"})

	data, err := msg.Encode()
	require.NoError(t, err)

	decoded, err := DecodeMessage(data)
	require.NoError(t, err)
	assert.Equal(t, msg.MessageID, decoded.MessageID)
	assert.Equal(t, msg.From, decoded.From)
	assert.Equal(t, msg.To, decoded.To)
	assert.Equal(t, KindRequest, decoded.Kind)
	assert.Equal(t, "thread-1", decoded.ThreadID)
	assert.JSONEq(t, string(msg.Payload), string(decoded.Payload))
	assert.Equal(t, 7, decoded.Priority)
	assert.Equal(t, "corr-1", decoded.CorrelationID)
	assert.Equal(t, msg.Metadata, decoded.Metadata)
	assert.Equal(t, msg.Timestamp, decoded.Timestamp)
}

func TestMessageKindSerializesLowercase(t *testing.T) {
	for _, kind := range []MessageKind{
		KindRequest, KindResponse, KindNotification, KindError,
		KindHeartbeat, KindHeartbeatAck, KindBroadcast, KindShutdown,
		KindTask, KindTaskResult, KindLockRequest, KindLockRelease,
		KindLockAcquired, KindLockDenied, KindDocEdit, KindDocUpdate,
		KindConsensus,
	} {
		data, err := json.Marshal(NewMessage("a", "b", kind))
		require.NoError(t, err)
		assert.Contains(t, string(data), `"kind":"`+string(kind)+`"`)
	}
}

func TestMessageIsBroadcast(t *testing.T) {
	assert.True(t, NewMessage("a", "", KindBroadcast).IsBroadcast())
	assert.False(t, NewMessage("a", "b", KindBroadcast).IsBroadcast())
}

func TestRequestResponseRoundTrip(t *testing.T) {
	req := Request{
		Prompt:      "summarize",
		ThreadID:    "t-1",
		Files:       []string{"a.txt"},
		Params:      map[string]string{"capability": "summarize"},
		MaxTokens:   512,
		Temperature: 0.7,
	}
	data, err := req.Encode()
	require.NoError(t, err)
	decoded, err := DecodeRequest(data)
	require.NoError(t, err)
	assert.Equal(t, req, decoded)

	resp := Response{
		Status:     StatusSuccess,
		Content:    "done",
		ThreadID:   "t-1",
		TokensUsed: 12,
	}
	out, err := json.Marshal(resp)
	require.NoError(t, err)
	var back Response
	require.NoError(t, json.Unmarshal(out, &back))
	assert.Equal(t, resp, back)
}

func TestTaskRoundTrip(t *testing.T) {
	task := NewTask("analyze", "inspect the diff")
	task.Dependencies = []string{"t-0"}
	task.RequiredRoles = []string{"qa"}
	task.Priority = 9

	data, err := task.Encode()
	require.NoError(t, err)
	decoded, err := DecodeTask(data)
	require.NoError(t, err)
	assert.Equal(t, task, decoded)
	assert.Equal(t, TaskPending, decoded.Status)
}
