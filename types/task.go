package types

import "encoding/json"

// TaskStatus is the scheduler-visible state of a task.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskAssigned  TaskStatus = "assigned"
	TaskExecuting TaskStatus = "executing"
	TaskCompleted TaskStatus = "completed"
	TaskFailed    TaskStatus = "failed"
	TaskCancelled TaskStatus = "cancelled"
)

// Task is a unit of dependency-ordered work. Dependencies must form a DAG;
// a task becomes eligible only when every dependency is completed.
type Task struct {
	TaskID          string            `json:"task_id"`
	Kind            string            `json:"kind"`
	Description     string            `json:"description,omitempty"`
	Parameters      map[string]string `json:"parameters,omitempty"`
	Dependencies    []string          `json:"dependencies,omitempty"`
	RequiredRoles   []string          `json:"required_roles,omitempty"`
	Priority        int               `json:"priority"`
	ParentTaskID    string            `json:"parent_task_id,omitempty"`
	CreatedAt       int64             `json:"created_at"`
	Deadline        int64             `json:"deadline"`
	Status          TaskStatus        `json:"status"`
	AssignedAgentID string            `json:"assigned_agent_id,omitempty"`
}

// NewTask creates a pending task with a fresh id and timestamp.
func NewTask(kind, description string) Task {
	return Task{
		TaskID:      NewID(),
		Kind:        kind,
		Description: description,
		CreatedAt:   TimestampMs(),
		Status:      TaskPending,
	}
}

// TaskResult is the terminal outcome of a task, written at most once.
type TaskResult struct {
	TaskID       string `json:"task_id"`
	AgentID      string `json:"agent_id"`
	Result       string `json:"result"`
	Success      bool   `json:"success"`
	ErrorMessage string `json:"error_message,omitempty"`
	DurationMs   int64  `json:"duration_ms"`
}

// Encode serializes the task to JSON.
func (t Task) Encode() ([]byte, error) {
	return json.Marshal(t)
}

// DecodeTask parses a task from JSON.
func DecodeTask(data []byte) (Task, error) {
	var t Task
	err := json.Unmarshal(data, &t)
	return t, err
}
