package agent

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/conversation"
	"github.com/BaSui01/agentmesh/types"
)

func echoCallback(prompt string, params map[string]string) (string, error) {
	return "echo:" + prompt, nil
}

func TestLocalProcessRequestNoCallback(t *testing.T) {
	l := NewLocal(types.AgentInfo{Role: "worker"}, nil)
	resp := l.ProcessRequest(types.Request{Prompt: "hi"})
	assert.Equal(t, types.StatusError, resp.Status)
	assert.Equal(t, types.ErrKindNoInferenceCallback, resp.ErrorKind)
	assert.Equal(t, types.StatusIdle, l.Status())
}

func TestLocalProcessRequestEcho(t *testing.T) {
	l := NewLocal(types.AgentInfo{Role: "worker"}, nil, WithInference(echoCallback))
	resp := l.ProcessRequest(types.Request{Prompt: "hello", MaxTokens: 64, Temperature: 0.5})
	require.True(t, resp.OK())
	assert.Equal(t, "echo:hello", resp.Content)
	assert.Equal(t, len("echo:hello")/4, resp.TokensUsed)
	assert.Empty(t, resp.ThreadID, "no memory attached")

	stats := l.Stats()
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessfulRequests)
}

func TestLocalCallbackReceivesParams(t *testing.T) {
	var gotParams map[string]string
	l := NewLocal(types.AgentInfo{Role: "worker"}, nil,
		WithInference(func(prompt string, params map[string]string) (string, error) {
			gotParams = params
			return "ok", nil
		}))
	l.ProcessRequest(types.Request{
		Prompt:      "p",
		Params:      map[string]string{"capability": "summarize"},
		MaxTokens:   128,
		Temperature: 0.25,
	})
	assert.Equal(t, "128", gotParams["max_tokens"])
	assert.Equal(t, "0.25", gotParams["temperature"])
	assert.Equal(t, "summarize", gotParams["capability"])
}

func TestLocalInferenceErrorSetsErrorStatus(t *testing.T) {
	l := NewLocal(types.AgentInfo{Role: "worker"}, nil,
		WithInference(func(string, map[string]string) (string, error) {
			return "", errors.New("model crashed")
		}))
	resp := l.ProcessRequest(types.Request{Prompt: "hi"})
	assert.Equal(t, types.ErrKindInference, resp.ErrorKind)
	assert.Contains(t, resp.ErrorMessage, "model crashed")
	// Error, not offline: the agent stays registered and observable.
	assert.Equal(t, types.StatusFailed, l.Status())
	assert.Equal(t, int64(1), l.Stats().FailedRequests)
}

func TestLocalMultiTurnConversation(t *testing.T) {
	memory := conversation.NewMemory(conversation.WithTTL(time.Hour))
	l := NewLocal(types.AgentInfo{Role: "assistant"}, nil,
		WithMemory(memory),
		WithInference(echoCallback),
		WithModel("test-model"))

	first := l.ProcessRequest(types.Request{Prompt: "hello"})
	require.True(t, first.OK())
	require.NotEmpty(t, first.ThreadID)
	assert.Equal(t, "echo:hello", first.Content)

	second := l.ProcessRequest(types.Request{Prompt: "again", ThreadID: first.ThreadID, MaxTokens: 8192})
	require.True(t, second.OK())
	assert.Equal(t, first.ThreadID, second.ThreadID)
	assert.True(t, strings.HasPrefix(second.Content, "echo:"))
	// The builder prepended the thread header to the prompt the model saw.
	assert.Contains(t, second.Content, "=== Conversation Thread: "+first.ThreadID+" ===")
	assert.Contains(t, second.Content, "[Current Request]:\nagain")

	thread, ok := memory.GetThread(first.ThreadID)
	require.True(t, ok)
	require.Len(t, thread.Turns, 4)
	assert.Equal(t, "user", thread.Turns[0].Role)
	assert.Equal(t, "hello", thread.Turns[0].Content)
	assert.Equal(t, "assistant", thread.Turns[1].Role)
	assert.Equal(t, "echo:hello", thread.Turns[1].Content)
	assert.Equal(t, "user", thread.Turns[2].Role)
	assert.Equal(t, "again", thread.Turns[2].Content)
	assert.Equal(t, "assistant", thread.Turns[3].Role)
	assert.Equal(t, "test-model", thread.Turns[3].Model)
}

func TestLocalHandleMessageRequest(t *testing.T) {
	l := NewLocal(types.AgentInfo{Role: "worker"}, nil, WithInference(echoCallback))

	req := types.Request{Prompt: "via message"}
	payload, err := req.Encode()
	require.NoError(t, err)

	msg := types.NewMessage("caller", l.ID(), types.KindRequest).WithPayload(payload)
	resp := l.HandleMessage(msg)
	require.True(t, resp.OK())
	assert.Equal(t, "echo:via message", resp.Content)

	bad := types.NewMessage("caller", l.ID(), types.KindRequest).WithPayload([]byte("{not json"))
	resp = l.HandleMessage(bad)
	assert.Equal(t, types.ErrKindInvalidRequest, resp.ErrorKind)
}

func TestLocalRequestOverMailboxRepliesToSender(t *testing.T) {
	l := NewLocal(types.AgentInfo{Role: "worker"}, nil, WithInference(echoCallback))
	out := &collector{}
	l.SetSender(out.send)
	require.NoError(t, l.Start())
	defer l.Shutdown()

	req := types.Request{Prompt: "async"}
	payload, err := req.Encode()
	require.NoError(t, err)
	msg := types.NewMessage("caller", l.ID(), types.KindRequest).WithPayload(payload)
	require.True(t, l.Send(msg))

	waitFor(t, func() bool { return len(out.byKind(types.KindResponse)) == 1 })
	reply := out.byKind(types.KindResponse)[0]
	assert.Equal(t, "caller", reply.To)
	assert.Equal(t, msg.MessageID, reply.CorrelationID)

	resp, err := decodeResponse(reply.Payload)
	require.NoError(t, err)
	assert.Equal(t, "echo:async", resp.Content)
}

func decodeResponse(data []byte) (types.Response, error) {
	var resp types.Response
	err := json.Unmarshal(data, &resp)
	return resp, err
}
