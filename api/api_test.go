package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/orchestrator"
	"github.com/BaSui01/agentmesh/types"
)

func newTestServer(t *testing.T) (*httptest.Server, *orchestrator.Orchestrator) {
	t.Helper()
	collector := metrics.NewCollector("agentmesh_test")
	orch := orchestrator.New(
		orchestrator.WithMetrics(collector),
		orchestrator.WithInference(
			func(prompt string, params map[string]string) (string, error) {
				return "echo:" + prompt, nil
			}))
	srv := NewServer(orch, WithMetrics(collector))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		orch.Shutdown()
	})
	return ts, orch
}

func doJSON(t *testing.T, method, url string, body any) (*http.Response, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, url, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var decoded map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func TestAgentLifecycleEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/agents/spawn", map[string]any{
		"role":         "coder",
		"capabilities": []string{"code"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "spawned", body["status"])
	agentID := body["agent_id"].(string)
	require.NotEmpty(t, agentID)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/agents", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/agents/"+agentID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "coder", body["role"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/agents/nope", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, body = doJSON(t, http.MethodDelete, ts.URL+"/v1/agents/"+agentID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "terminated", body["status"])

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/v1/agents/"+agentID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSpawnValidation(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, _ := doJSON(t, http.MethodPost, ts.URL+"/v1/agents/spawn", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestTaskEndpoints(t *testing.T) {
	ts, orch := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks/submit", map[string]any{
		"kind":        "analyze",
		"description": "look at the code",
		"priority":    7,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	taskID := body["task_id"].(string)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	task := body["task"].(map[string]any)
	assert.Equal(t, "analyze", task["kind"])

	// Completed tasks expose their result on the same endpoint.
	require.NoError(t, orch.CompleteTask(taskID, types.TaskResult{AgentID: "a", Success: true, Result: "done"}))
	_, body = doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/"+taskID, nil)
	require.Contains(t, body, "result")

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/tasks", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/tasks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestWorkflowEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks/workflow", map[string]any{
		"tasks": []map[string]any{
			{"kind": "analyze", "task_id": "wf-a"},
			{"kind": "generate", "task_id": "wf-b", "dependencies": []string{"wf-a"}},
		},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "scheduled", body["status"])
	assert.Len(t, body["task_ids"], 2)
	assert.NotEmpty(t, body["workflow_id"])
}

func TestCancelTaskEndpoint(t *testing.T) {
	ts, _ := newTestServer(t)
	_, body := doJSON(t, http.MethodPost, ts.URL+"/v1/tasks/submit", map[string]any{"kind": "analyze"})
	taskID := body["task_id"].(string)

	resp, body := doJSON(t, http.MethodDelete, ts.URL+"/v1/tasks/"+taskID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "cancelled", body["status"])

	resp, _ = doJSON(t, http.MethodDelete, ts.URL+"/v1/tasks/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestKnowledgeEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/knowledge", map[string]any{
		"key":      "design",
		"value":    "the plan",
		"agent_id": "a1",
		"tags":     []string{"docs"},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/knowledge/design", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "the plan", body["value"])
	assert.Equal(t, float64(1), body["version"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/knowledge/query?tags=docs", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	// All queried tags must be present on an entry.
	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/knowledge/query?tags=docs,missing", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(0), body["count"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/knowledge/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestMessageEndpoints(t *testing.T) {
	ts, orch := newTestServer(t)
	_, body := doJSON(t, http.MethodPost, ts.URL+"/v1/agents/spawn", map[string]any{"role": "worker"})
	agentID := body["agent_id"].(string)

	// Stop the inbox loop so queued messages stay queued for pickup.
	a, ok := orch.Get(agentID)
	require.True(t, ok)
	a.Stop()
	a.Join()

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/messages/send", map[string]any{
		"from": "external",
		"to":   agentID,
		"kind": "notification",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["message_id"])

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/messages/"+agentID+"?max_count=10", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, float64(1), body["count"])

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v1/messages/broadcast", map[string]any{
		"from": "external",
		"kind": "broadcast",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/messages/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/messages/send", map[string]any{
		"from": "external",
		"kind": "notification",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing to")
}

func TestConsensusEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodPost, ts.URL+"/v1/consensus/vote/create", map[string]any{
		"question": "ship?",
		"options":  []string{"yes", "no"},
		"type":     "supermajority",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	voteID := body["vote_id"].(string)

	resp, body = doJSON(t, http.MethodPost, ts.URL+"/v1/consensus/vote/"+voteID+"/cast", map[string]any{
		"agent_id": "a1",
		"option":   "yes",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, true, body["success"])

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/consensus/vote/"+voteID+"/cast", map[string]any{
		"agent_id": "a1",
		"option":   "unlisted",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/v1/consensus/vote/"+voteID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ship?", body["question"])

	resp, _ = doJSON(t, http.MethodGet, ts.URL+"/v1/consensus/vote/ghost", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = doJSON(t, http.MethodPost, ts.URL+"/v1/consensus/vote/create", map[string]any{
		"question": "q",
		"options":  []string{"a"},
		"type":     "bogus",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStatsAndHealthEndpoints(t *testing.T) {
	ts, _ := newTestServer(t)

	resp, body := doJSON(t, http.MethodGet, ts.URL+"/v1/agents/stats", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "total_agents")

	resp, body = doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body["status"])

	httpResp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer httpResp.Body.Close()
	assert.Equal(t, http.StatusOK, httpResp.StatusCode)
}

func TestRateLimiting(t *testing.T) {
	orch := orchestrator.New()
	srv := NewServer(orch, WithRateLimit(1, 1))
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		orch.Shutdown()
	})

	first, _ := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusOK, first.StatusCode)
	second, _ := doJSON(t, http.MethodGet, ts.URL+"/healthz", nil)
	assert.Equal(t, http.StatusTooManyRequests, second.StatusCode)
}
