package agent

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/BaSui01/agentmesh/conversation"
	"github.com/BaSui01/agentmesh/types"
)

// Local is an agent backed by an in-process inference callback, usually
// bound to an inference slot. When a conversation memory is attached it
// records turns and reconstructs context for continuation requests.
type Local struct {
	*Runtime

	memory    *conversation.Memory
	callback  InferenceFunc
	estimator types.Estimator
	model     string
}

// LocalOption configures a Local agent.
type LocalOption func(*Local)

// WithMemory attaches the shared conversation memory.
func WithMemory(memory *conversation.Memory) LocalOption {
	return func(l *Local) { l.memory = memory }
}

// WithInference installs the inference callback.
func WithInference(callback InferenceFunc) LocalOption {
	return func(l *Local) { l.callback = callback }
}

// WithEstimator overrides the token estimator.
func WithEstimator(est types.Estimator) LocalOption {
	return func(l *Local) { l.estimator = est }
}

// WithModel records the model name stamped onto assistant turns.
func WithModel(model string) LocalOption {
	return func(l *Local) { l.model = model }
}

// NewLocal creates a local agent. Runtime options apply to the embedded
// runtime; the request handler for inbound request messages is always
// registered.
func NewLocal(info types.AgentInfo, runtimeOpts []RuntimeOption, opts ...LocalOption) *Local {
	l := &Local{
		Runtime:   NewRuntime(info, runtimeOpts...),
		estimator: types.NewLinearEstimator(),
	}
	for _, opt := range opts {
		opt(l)
	}
	l.RegisterHandler(types.KindRequest, l.requestHandler)
	return l
}

// SetInferenceCallback swaps the inference callback.
func (l *Local) SetInferenceCallback(callback InferenceFunc) {
	l.callback = callback
}

// ProcessRequest runs one inference request: reconstruct continuation
// context, invoke the callback, record the turns, and account the stats.
func (l *Local) ProcessRequest(req types.Request) types.Response {
	startedAt := types.TimestampMs()
	l.SetStatus(types.StatusBusy)

	resp := l.processLocked(req)

	l.recordRequest(resp.OK(), resp.TokensUsed, startedAt)
	if resp.OK() || resp.ErrorKind == types.ErrKindNoInferenceCallback {
		l.SetStatus(types.StatusIdle)
	} else {
		// Inference blew up: the agent is in error, not offline.
		l.SetStatus(types.StatusFailed)
	}
	return resp
}

func (l *Local) processLocked(req types.Request) types.Response {
	if l.callback == nil {
		return types.ErrorResponse(types.ErrKindNoInferenceCallback,
			"no inference callback set for local agent")
	}

	// Continuations get the thread's prior context prepended.
	full := req
	if req.ThreadID != "" && l.memory != nil {
		full = l.memory.ReconstructRequest(req)
	}

	params := make(map[string]string, len(full.Params)+2)
	for k, v := range full.Params {
		params[k] = v
	}
	params["max_tokens"] = strconv.Itoa(full.MaxTokens)
	params["temperature"] = strconv.FormatFloat(float64(full.Temperature), 'f', -1, 32)

	content, err := l.callback(full.Prompt, params)
	if err != nil {
		return types.ErrorResponse(types.ErrKindInference, err.Error())
	}

	resp := types.Response{
		Status:     types.StatusSuccess,
		Content:    content,
		TokensUsed: l.estimator.EstimateTokens(content),
	}

	if l.memory != nil {
		threadID := req.ThreadID
		if threadID == "" {
			threadID = l.memory.CreateThread(l.ID(), req)
		}
		// The user turn carries the request as the caller wrote it, not
		// the reconstructed prompt.
		l.memory.AddTurn(threadID, "user", req.Prompt, req.Files, req.Images, l.ID(), "")
		l.memory.AddTurn(threadID, "assistant", content, nil, nil, l.ID(), l.model)
		resp.ThreadID = threadID
	} else {
		resp.ThreadID = req.ThreadID
	}
	return resp
}

// HandleMessage treats request messages as synchronous inference calls;
// everything else falls through to the runtime default.
func (l *Local) HandleMessage(msg types.Message) types.Response {
	if msg.Kind != types.KindRequest {
		return l.Runtime.HandleMessage(msg)
	}
	req, err := types.DecodeRequest(msg.Payload)
	if err != nil {
		return types.ErrorResponse(types.ErrKindInvalidRequest,
			fmt.Sprintf("failed to parse request payload: %v", err))
	}
	if msg.ThreadID != "" {
		req.ThreadID = msg.ThreadID
	}
	return l.ProcessRequest(req)
}

// requestHandler serves request messages arriving through the mailbox,
// replying to the sender with a response message.
func (l *Local) requestHandler(msg types.Message) error {
	resp := l.HandleMessage(msg)

	l.refMu.RLock()
	send := l.send
	l.refMu.RUnlock()
	if send == nil || msg.From == "" {
		return nil
	}
	payload, err := json.Marshal(resp)
	if err != nil {
		return err
	}
	reply := types.NewMessage(l.ID(), msg.From, types.KindResponse).
		WithCorrelation(msg.MessageID).
		WithThread(resp.ThreadID).
		WithPayload(payload)
	send(reply)
	if !resp.OK() {
		return fmt.Errorf("request %s failed: %s", msg.MessageID, resp.ErrorMessage)
	}
	return nil
}
