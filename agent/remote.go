package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/agentmesh/types"
)

// defaultRemoteTimeout bounds one HTTP round trip to a remote agent.
const defaultRemoteTimeout = 30 * time.Second

// Remote is an agent that proxies requests to an external endpoint over
// HTTP. The endpoint receives the request JSON via POST and answers with
// a response JSON.
type Remote struct {
	*Runtime

	endpoint string
	client   *http.Client
}

// NewRemote creates a remote agent for the endpoint recorded in info.
func NewRemote(info types.AgentInfo, runtimeOpts ...RuntimeOption) *Remote {
	r := &Remote{
		Runtime:  NewRuntime(info, runtimeOpts...),
		endpoint: info.Endpoint,
		client:   &http.Client{Timeout: defaultRemoteTimeout},
	}
	r.RegisterHandler(types.KindRequest, r.requestHandler)
	return r
}

// SetTimeout adjusts the HTTP round-trip budget.
func (r *Remote) SetTimeout(timeout time.Duration) {
	r.client.Timeout = timeout
}

// ProcessRequest forwards the request to the remote endpoint.
func (r *Remote) ProcessRequest(req types.Request) types.Response {
	startedAt := types.TimestampMs()
	r.SetStatus(types.StatusBusy)
	resp := r.forward(req)
	r.recordRequest(resp.OK(), resp.TokensUsed, startedAt)
	r.SetStatus(types.StatusIdle)
	return resp
}

func (r *Remote) forward(req types.Request) types.Response {
	if r.endpoint == "" {
		return types.ErrorResponse(types.ErrKindConnection, "remote agent has no endpoint")
	}
	body, err := req.Encode()
	if err != nil {
		return types.ErrorResponse(types.ErrKindInvalidRequest, err.Error())
	}

	httpResp, err := r.client.Post(r.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return types.ErrorResponse(types.ErrKindConnection,
			fmt.Sprintf("remote agent unreachable: %v", err))
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return types.ErrorResponse(types.ErrKindConnection, err.Error())
	}
	if httpResp.StatusCode != http.StatusOK {
		return types.ErrorResponse(types.ErrKindUnavailable,
			fmt.Sprintf("remote agent returned %d", httpResp.StatusCode))
	}

	var resp types.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		return types.ErrorResponse(types.ErrKindInvalidResponse, err.Error())
	}
	return resp
}

// HandleMessage treats request messages as proxied inference calls.
func (r *Remote) HandleMessage(msg types.Message) types.Response {
	if msg.Kind != types.KindRequest {
		return r.Runtime.HandleMessage(msg)
	}
	req, err := types.DecodeRequest(msg.Payload)
	if err != nil {
		return types.ErrorResponse(types.ErrKindInvalidRequest, err.Error())
	}
	if msg.ThreadID != "" {
		req.ThreadID = msg.ThreadID
	}
	return r.ProcessRequest(req)
}

func (r *Remote) requestHandler(msg types.Message) error {
	resp := r.HandleMessage(msg)
	if !resp.OK() {
		return fmt.Errorf("remote request %s failed: %s", msg.MessageID, resp.ErrorMessage)
	}
	return nil
}
