package orchestrator

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/failure"
	"github.com/BaSui01/agentmesh/internal/metrics"
	"github.com/BaSui01/agentmesh/types"
)

func newEchoAgent(role string, capabilities ...string) *agent.Local {
	return agent.NewLocal(
		types.AgentInfo{Role: role, Capabilities: capabilities},
		nil,
		agent.WithInference(func(prompt string, params map[string]string) (string, error) {
			return "echo:" + prompt, nil
		}))
}

func newFailingAgent(role string) *agent.Local {
	return agent.NewLocal(
		types.AgentInfo{Role: role},
		nil,
		agent.WithInference(func(string, map[string]string) (string, error) {
			return "", errors.New("always down")
		}))
}

func TestRegisterUnregister(t *testing.T) {
	o := New()
	a := newEchoAgent("worker")
	require.NoError(t, o.Register(a))
	assert.ErrorIs(t, o.Register(a), ErrDuplicateAgent)

	got, ok := o.Get(a.ID())
	require.True(t, ok)
	assert.Equal(t, a.ID(), got.ID())
	assert.Len(t, o.List(), 1)

	require.NoError(t, o.Unregister(a.ID()))
	assert.ErrorIs(t, o.Unregister(a.ID()), ErrAgentNotFound)
	assert.Empty(t, o.List())
	assert.Equal(t, types.StatusOffline, a.Info().Status)
}

func TestSlotLookup(t *testing.T) {
	o := New()
	a := agent.NewLocal(types.AgentInfo{Role: "worker", SlotID: 3}, nil)
	require.NoError(t, o.Register(a))

	got, ok := o.GetBySlot(3)
	require.True(t, ok)
	assert.Equal(t, a.ID(), got.ID())
	_, ok = o.GetBySlot(4)
	assert.False(t, ok)
}

func TestFindByCapabilityAndStatus(t *testing.T) {
	o := New()
	coder := newEchoAgent("coder", "code", "review")
	tester := newEchoAgent("tester", "test")
	offline := newEchoAgent("gone", "code")
	require.NoError(t, o.Register(coder))
	require.NoError(t, o.Register(tester))
	require.NoError(t, o.Register(offline))
	offline.SetStatus(types.StatusOffline)

	both := o.Find(Query{Capabilities: []string{"code", "review"}, RequireAll: true})
	require.Len(t, both, 1)
	assert.Equal(t, coder.ID(), both[0].ID)

	either := o.Find(Query{Capabilities: []string{"code", "test"}})
	assert.Len(t, either, 2, "offline agent filtered by min status")

	meta := o.Find(Query{Metadata: map[string]string{"zone": "eu"}})
	assert.Empty(t, meta)
}

func TestSendMessageSynchronous(t *testing.T) {
	o := New()
	a := newEchoAgent("worker")
	require.NoError(t, o.Register(a))

	var observed atomic.Int32
	o.SetMessageHandler(func(msg types.Message, resp types.Response) {
		observed.Add(1)
	})

	payload, _ := types.Request{Prompt: "ping"}.Encode()
	msg := types.NewMessage("caller", a.ID(), types.KindRequest).WithPayload(payload)
	resp := o.SendMessage(msg)
	require.True(t, resp.OK())
	assert.Equal(t, "echo:ping", resp.Content)
	assert.Equal(t, int32(1), observed.Load())

	missing := o.SendMessage(types.NewMessage("caller", "ghost", types.KindRequest))
	assert.Equal(t, types.ErrKindAgentNotFound, missing.ErrorKind)
}

func TestSendRequestBreakerOpens(t *testing.T) {
	o := New(WithBreakerConfig(failure.BreakerConfig{
		FailureThreshold: 2,
		OpenTimeout:      time.Minute,
		SuccessThreshold: 1,
	}))
	a := newFailingAgent("worker")
	require.NoError(t, o.Register(a))

	for i := 0; i < 2; i++ {
		resp := o.SendRequest(a.ID(), types.Request{Prompt: "x"})
		assert.Equal(t, types.ErrKindInference, resp.ErrorKind)
	}
	// Breaker now open: target not invoked, unavailable synthesized.
	before := a.Stats().TotalRequests
	resp := o.SendRequest(a.ID(), types.Request{Prompt: "x"})
	assert.Equal(t, types.StatusUnavailable, resp.Status)
	assert.Equal(t, types.ErrKindUnavailable, resp.ErrorKind)
	assert.Equal(t, before, a.Stats().TotalRequests, "open breaker short-circuits")
}

func TestRetryWithFailover(t *testing.T) {
	o := New()

	var attempts atomic.Int32
	flaky := agent.NewLocal(types.AgentInfo{Role: "primary"}, nil,
		agent.WithInference(func(string, map[string]string) (string, error) {
			attempts.Add(1)
			return "", errors.New("unavailable")
		}))
	backup := newEchoAgent("backup")
	require.NoError(t, o.Register(flaky))
	require.NoError(t, o.Register(backup))

	policy := failure.Policy{
		MaxRetries:        2,
		RetryDelay:        10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxRetryDelay:     time.Second,
		EnableFailover:    true,
		FallbackAgents:    []string{backup.ID()},
		LogFailures:       true,
	}

	resp := o.SendRequestWithPolicy(flaky.ID(), types.Request{Prompt: "job"}, policy)

	require.True(t, resp.OK())
	assert.Equal(t, "echo:job", resp.Content)
	assert.Equal(t, flaky.ID(), resp.Metadata["failover_from"])
	assert.Equal(t, backup.ID(), resp.Metadata["recovery_agent"])

	// inference_error is not retryable, so only one attempt lands on the
	// primary before the handover.
	assert.Equal(t, int32(1), attempts.Load())

	history := o.Failures().History(flaky.ID(), 0)
	require.NotEmpty(t, history)
}

func TestRetryBackoffOnRetryableKinds(t *testing.T) {
	o := New()
	// An unregistered agent yields agent_not_found (fail fast); a remote
	// agent with no endpoint yields connection errors (retryable).
	remote := agent.NewRemote(types.AgentInfo{Role: "remote"})
	require.NoError(t, o.Register(remote))

	policy := failure.Policy{
		MaxRetries:        2,
		RetryDelay:        10 * time.Millisecond,
		BackoffMultiplier: 2,
		MaxRetryDelay:     time.Second,
		LogFailures:       true,
	}

	start := time.Now()
	resp := o.SendRequestWithPolicy(remote.ID(), types.Request{Prompt: "x"}, policy)
	elapsed := time.Since(start)

	assert.Equal(t, types.ErrKindConnection, resp.ErrorKind)
	// Three attempts with sleeps of 10ms and 20ms between them.
	assert.GreaterOrEqual(t, elapsed, 30*time.Millisecond)
	assert.Equal(t, int64(3), remote.Stats().TotalRequests)
}

func TestBroadcastMessage(t *testing.T) {
	o := New()
	a := newEchoAgent("a")
	b := newEchoAgent("b")
	require.NoError(t, o.Register(a))
	require.NoError(t, o.Register(b))

	msg := types.NewMessage(a.ID(), "", types.KindHeartbeat)
	responses := o.BroadcastMessage(msg)
	require.Len(t, responses, 1, "sender excluded")
	assert.True(t, responses[b.ID()].OK())
}

func TestConsensusRequestSynthesis(t *testing.T) {
	o := New()
	a := newEchoAgent("a")
	b := newEchoAgent("b")
	require.NoError(t, o.Register(a))
	require.NoError(t, o.Register(b))

	result := o.ConsensusRequest([]string{a.ID(), b.ID()}, types.Request{Prompt: "opine"}, true)
	require.Len(t, result.Responses, 2)
	assert.True(t, result.Responses[0].OK())
	assert.Contains(t, result.Synthesized, "=== Multi-Agent Consensus ===\n\n")
	assert.Contains(t, result.Synthesized, "Agent 1 ("+a.ID()+"):\necho:opine\n")
	assert.Contains(t, result.Synthesized, "Agent 2 ("+b.ID()+"):\necho:opine\n")
}

func TestRouteRequest(t *testing.T) {
	o := New()
	coder := newEchoAgent("coder", "code")
	tester := newEchoAgent("tester", "test")
	require.NoError(t, o.Register(coder))
	require.NoError(t, o.Register(tester))

	id, ok := o.RouteRequest(types.Request{Params: map[string]string{"capability": "test"}})
	require.True(t, ok)
	assert.Equal(t, tester.ID(), id)

	id, ok = o.RouteRequest(types.Request{})
	require.True(t, ok)
	assert.Equal(t, coder.ID(), id, "first registered wins without capability")

	coder.SetStatus(types.StatusBusy)
	tester.SetStatus(types.StatusOffline)
	_, ok = o.RouteRequest(types.Request{})
	assert.False(t, ok)
}

func TestMetricsWiring(t *testing.T) {
	o := New(WithMetrics(metrics.NewCollector("orch_test")))
	a := newEchoAgent("worker")
	require.NoError(t, o.Register(a))

	// Request outcomes, vote finalization, and stats snapshots all feed
	// the collector without disturbing the results.
	resp := o.SendRequest(a.ID(), types.Request{Prompt: "x"})
	require.True(t, resp.OK())

	id := o.Voter().Create("q", []string{"a"}, "weighted", 0)
	require.NoError(t, o.Voter().Cast(id, "a1", "a", 1))
	_, err := o.Voter().Finalize(id)
	require.NoError(t, err)

	stats := o.GetStats()
	assert.Equal(t, 1, stats.TotalAgents)
	assert.Equal(t, int64(1), stats.TotalRequests)
}

func TestUndeliverablePostGoesToDeadLetters(t *testing.T) {
	o := New()
	msg := types.NewMessage("ext", "ghost", types.KindNotification).
		WithPayload([]byte(`{"note":"lost"}`))
	require.False(t, o.Post(msg))

	letters := o.Failures().DeadLetters().List(0)
	require.Len(t, letters, 1)
	assert.Equal(t, msg.MessageID, letters[0].MessageID)
	assert.Equal(t, types.ErrKindAgentNotFound, letters[0].Failure.ErrorKind)
	assert.Contains(t, letters[0].Payload, "lost")
}

func TestHealthCheckMarksOffline(t *testing.T) {
	o := New()
	stale := agent.NewLocal(types.AgentInfo{Role: "stale"},
		[]agent.RuntimeOption{agent.WithHealthTimeout(5 * time.Millisecond)})
	require.NoError(t, o.Register(stale))

	time.Sleep(20 * time.Millisecond)
	o.HealthCheck()
	assert.Equal(t, types.StatusOffline, stale.Info().Status)
}

func TestMessageProcessorDrainsQueue(t *testing.T) {
	o := New()
	a := newEchoAgent("worker")
	require.NoError(t, o.Register(a))

	var handled atomic.Int32
	o.SetMessageHandler(func(types.Message, types.Response) { handled.Add(1) })

	o.StartMessageProcessor()
	defer o.StopMessageProcessor()

	for i := 0; i < 3; i++ {
		require.True(t, o.Enqueue(types.NewMessage("ext", a.ID(), types.KindNotification)))
	}
	deadline := time.Now().Add(2 * time.Second)
	for handled.Load() < 3 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	assert.Equal(t, int32(3), handled.Load())
}

func TestStatsAndExportImport(t *testing.T) {
	o := New()
	a := newEchoAgent("worker")
	require.NoError(t, o.Register(a))
	o.SendRequest(a.ID(), types.Request{Prompt: "x"})

	stats := o.GetStats()
	assert.Equal(t, 1, stats.TotalAgents)
	assert.Equal(t, int64(1), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.AgentStats[a.ID()].TotalRequests)

	data, err := o.Export()
	require.NoError(t, err)
	assert.Contains(t, string(data), `"total_requests":1`)

	restored := New()
	require.NoError(t, restored.Import(data))
	assert.Equal(t, int64(1), restored.GetStats().TotalRequests)
}

func TestSpawnAndTerminate(t *testing.T) {
	o := New(WithInference(func(prompt string, params map[string]string) (string, error) {
		return "spawned:" + prompt, nil
	}))

	var events []string
	o.SetEventHook(func(e Event) { events = append(events, e.Kind) })

	info, err := o.Spawn(SpawnConfig{Role: "helper", Capabilities: []string{"chat"}})
	require.NoError(t, err)
	require.NotEmpty(t, info.ID)

	a, ok := o.Get(info.ID)
	require.True(t, ok)
	assert.Equal(t, agent.StateRunning, a.State())

	resp := o.SendRequest(info.ID, types.Request{Prompt: "hi"})
	require.True(t, resp.OK())
	assert.Equal(t, "spawned:hi", resp.Content)

	require.NoError(t, o.Terminate(info.ID))
	assert.Contains(t, events, "agent_registered")
	assert.Contains(t, events, "agent_spawned")
	assert.Contains(t, events, "agent_unregistered")
}

func TestWorkflowSubmission(t *testing.T) {
	o := New()
	t1 := types.NewTask("analyze", "first")
	t2 := types.NewTask("generate", "second")
	t2.Dependencies = []string{t1.TaskID}

	workflowID, ids, err := o.SubmitWorkflow([]types.Task{t1, t2})
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.NotEmpty(t, workflowID)

	task, ok := o.Scheduler().GetTask(ids[1])
	require.True(t, ok)
	assert.Equal(t, workflowID, task.ParentTaskID)
}
