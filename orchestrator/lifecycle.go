package orchestrator

import (
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/agent"
	"github.com/BaSui01/agentmesh/failure"
	"github.com/BaSui01/agentmesh/types"
)

// SpawnConfig shapes a spawned local agent.
type SpawnConfig struct {
	Role         string            `json:"role"`
	Description  string            `json:"description,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	SlotID       int               `json:"slot_id,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	Model        string            `json:"model,omitempty"`
}

// Spawn creates, registers, and starts a local agent bound to the
// orchestrator's conversation memory and default inference callback.
func (o *Orchestrator) Spawn(cfg SpawnConfig) (types.AgentInfo, error) {
	info := types.AgentInfo{
		Role:         cfg.Role,
		Description:  cfg.Description,
		Capabilities: cfg.Capabilities,
		SlotID:       cfg.SlotID,
		Metadata:     cfg.Metadata,
		Status:       types.StatusIdle,
	}
	a := agent.NewLocal(info,
		[]agent.RuntimeOption{agent.WithLogger(o.logger)},
		agent.WithMemory(o.memory),
		agent.WithInference(o.inference),
		agent.WithModel(cfg.Model))

	if err := o.Register(a); err != nil {
		return types.AgentInfo{}, err
	}
	if err := a.Start(); err != nil {
		_ = o.Unregister(a.ID())
		return types.AgentInfo{}, fmt.Errorf("spawned agent failed to start: %w", err)
	}
	o.emit("agent_spawned", map[string]string{"agent_id": a.ID(), "role": cfg.Role})
	return a.Info(), nil
}

// Terminate unregisters and shuts down an agent.
func (o *Orchestrator) Terminate(agentID string) error {
	return o.Unregister(agentID)
}

// SubmitTask registers a task with the scheduler.
func (o *Orchestrator) SubmitTask(task types.Task) (string, error) {
	if task.TaskID == "" {
		task.TaskID = types.NewID()
	}
	if err := o.sched.Submit(task); err != nil {
		return "", err
	}
	o.emit("task_submitted", map[string]string{"task_id": task.TaskID, "kind": task.Kind})
	return task.TaskID, nil
}

// SubmitWorkflow submits a batch of interdependent tasks as one unit and
// returns the workflow id plus the task ids in submission order.
func (o *Orchestrator) SubmitWorkflow(tasks []types.Task) (string, []string, error) {
	workflowID := types.NewID()
	ids := make([]string, 0, len(tasks))
	for _, task := range tasks {
		if task.ParentTaskID == "" {
			task.ParentTaskID = workflowID
		}
		id, err := o.SubmitTask(task)
		if err != nil {
			return "", nil, err
		}
		ids = append(ids, id)
	}
	return workflowID, ids, nil
}

// CompleteTask records a task result and releases eligible dependents.
func (o *Orchestrator) CompleteTask(taskID string, result types.TaskResult) error {
	if err := o.sched.Complete(taskID, result); err != nil {
		return err
	}
	o.emit("task_completed", map[string]string{
		"task_id":  taskID,
		"agent_id": result.AgentID,
		"success":  fmt.Sprint(result.Success),
	})
	return nil
}

// RecordFailure files a failure record with the failure manager and
// bumps the process counter.
func (o *Orchestrator) RecordFailure(record failure.Record) {
	o.totalFailures.Add(1)
	o.failures.RecordFailure(record)
}

// Stats is the registry-wide counter snapshot.
type Stats struct {
	TotalAgents   int                         `json:"total_agents"`
	ActiveAgents  int                         `json:"active_agents"`
	IdleAgents    int                         `json:"idle_agents"`
	BusyAgents    int                         `json:"busy_agents"`
	ErrorAgents   int                         `json:"error_agents"`
	OfflineAgents int                         `json:"offline_agents"`
	TotalMessages int64                       `json:"total_messages"`
	TotalRequests int64                       `json:"total_requests"`
	TotalFailures int64                       `json:"total_failures"`
	PendingTasks  int                         `json:"pending_tasks"`
	ThreadCount   int                         `json:"thread_count"`
	AgentStats    map[string]types.AgentStats `json:"agent_stats"`
}

// GetStats snapshots the registry counters and per-agent stats.
func (o *Orchestrator) GetStats() Stats {
	stats := Stats{
		TotalMessages: o.totalMessages.Load(),
		TotalRequests: o.totalRequests.Load(),
		TotalFailures: o.totalFailures.Load(),
		PendingTasks:  o.sched.PendingCount(),
		ThreadCount:   o.memory.Count(),
		AgentStats:    make(map[string]types.AgentStats),
	}
	for _, info := range o.List() {
		stats.TotalAgents++
		switch info.Status {
		case types.StatusActive:
			stats.ActiveAgents++
		case types.StatusIdle:
			stats.IdleAgents++
		case types.StatusBusy:
			stats.BusyAgents++
		case types.StatusFailed:
			stats.ErrorAgents++
		case types.StatusOffline:
			stats.OfflineAgents++
		}
		if a, ok := o.Get(info.ID); ok {
			stats.AgentStats[info.ID] = a.Stats()
		}
	}
	if o.metrics != nil {
		o.metrics.SetActiveThreads(stats.ThreadCount)
		o.metrics.SetRegisteredAgents(stats.TotalAgents)
	}
	return stats
}

// exportState is the JSON shape of an orchestrator export.
type exportState struct {
	Agents        []types.AgentInfo `json:"agents"`
	TotalMessages int64             `json:"total_messages"`
	TotalRequests int64             `json:"total_requests"`
	TotalFailures int64             `json:"total_failures"`
}

// Export serializes the registry state: agent identities and counters.
func (o *Orchestrator) Export() ([]byte, error) {
	return json.Marshal(exportState{
		Agents:        o.List(),
		TotalMessages: o.totalMessages.Load(),
		TotalRequests: o.totalRequests.Load(),
		TotalFailures: o.totalFailures.Load(),
	})
}

// Import restores the exported counters. Agent instances are not
// rebuilt: identities in the export are informational and live agents
// must be registered anew.
func (o *Orchestrator) Import(data []byte) error {
	var state exportState
	if err := json.Unmarshal(data, &state); err != nil {
		return err
	}
	o.totalMessages.Store(state.TotalMessages)
	o.totalRequests.Store(state.TotalRequests)
	o.totalFailures.Store(state.TotalFailures)
	o.logger.Info("registry state imported",
		zap.Int("exported_agents", len(state.Agents)))
	return nil
}
