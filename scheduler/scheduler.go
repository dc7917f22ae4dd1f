// Package scheduler implements the dependency-ordered task scheduler:
// a priority queue over the ready set of a task DAG, with role-based
// matching at dispatch time.
package scheduler

import (
	"errors"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

var (
	// ErrDuplicateTask is returned when a task id is submitted twice.
	ErrDuplicateTask = errors.New("task id already submitted")
	// ErrTaskNotFound is returned for operations on unknown task ids.
	ErrTaskNotFound = errors.New("task not found")
)

// Scheduler owns the task graph. A task is eligible for dispatch only when
// every dependency has completed; failed or cancelled dependencies never
// release their dependents - successors of a failed dependency stay
// blocked indefinitely, by design.
type Scheduler struct {
	tasks      map[string]*types.Task
	results    map[string]types.TaskResult
	ready      map[string]struct{}
	deps       map[string][]string
	dependents map[string]map[string]struct{}
	mu         sync.Mutex
	logger     *zap.Logger
}

// New creates an empty scheduler.
func New(logger *zap.Logger) *Scheduler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{
		tasks:      make(map[string]*types.Task),
		results:    make(map[string]types.TaskResult),
		ready:      make(map[string]struct{}),
		deps:       make(map[string][]string),
		dependents: make(map[string]map[string]struct{}),
		logger:     logger.With(zap.String("component", "task_scheduler")),
	}
}

// Submit registers a task. If all of its dependencies have already
// completed it enters the ready set immediately.
func (s *Scheduler) Submit(task types.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, dup := s.tasks[task.TaskID]; dup {
		return ErrDuplicateTask
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = types.TimestampMs()
	}
	task.Status = types.TaskPending
	s.tasks[task.TaskID] = &task
	s.deps[task.TaskID] = append([]string(nil), task.Dependencies...)
	for _, dep := range task.Dependencies {
		if s.dependents[dep] == nil {
			s.dependents[dep] = make(map[string]struct{})
		}
		s.dependents[dep][task.TaskID] = struct{}{}
	}

	if s.readyLocked(task.TaskID) {
		s.ready[task.TaskID] = struct{}{}
	}
	s.logger.Debug("task submitted",
		zap.String("task_id", task.TaskID),
		zap.Int("priority", task.Priority),
		zap.Int("dependencies", len(task.Dependencies)))
	return nil
}

// readyLocked reports whether every dependency of the task is completed.
func (s *Scheduler) readyLocked(taskID string) bool {
	for _, dep := range s.deps[taskID] {
		depTask, ok := s.tasks[dep]
		if !ok || depTask.Status != types.TaskCompleted {
			return false
		}
	}
	return true
}

// GetNextTask dispatches the highest-priority ready task whose required
// roles are empty or intersect agentRoles. Ties break toward the earlier
// created_at. The returned task is marked assigned and leaves the ready
// set; ok is false when nothing matches.
func (s *Scheduler) GetNextTask(agentRoles []string) (types.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	candidates := make([]*types.Task, 0, len(s.ready))
	for id := range s.ready {
		candidates = append(candidates, s.tasks[id])
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].Priority != candidates[j].Priority {
			return candidates[i].Priority > candidates[j].Priority
		}
		return candidates[i].CreatedAt < candidates[j].CreatedAt
	})

	roles := make(map[string]struct{}, len(agentRoles))
	for _, r := range agentRoles {
		roles[r] = struct{}{}
	}

	for _, task := range candidates {
		if !roleMatch(task.RequiredRoles, roles) {
			continue
		}
		delete(s.ready, task.TaskID)
		task.Status = types.TaskAssigned
		return *task, true
	}
	return types.Task{}, false
}

func roleMatch(required []string, roles map[string]struct{}) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if _, ok := roles[r]; ok {
			return true
		}
	}
	return false
}

// UpdateStatus moves a task to the given status and records the agent it
// is assigned to.
func (s *Scheduler) UpdateStatus(taskID string, status types.TaskStatus, agentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = status
	if agentID != "" {
		task.AssignedAgentID = agentID
	}
	return nil
}

// Complete marks the task completed, records its result (first writer
// wins) and releases any dependents whose dependencies are now all
// completed.
func (s *Scheduler) Complete(taskID string, result types.TaskResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = types.TaskCompleted
	if _, written := s.results[taskID]; !written {
		result.TaskID = taskID
		s.results[taskID] = result
	}

	for dependent := range s.dependents[taskID] {
		depTask := s.tasks[dependent]
		if depTask == nil || depTask.Status != types.TaskPending {
			continue
		}
		if s.readyLocked(dependent) {
			s.ready[dependent] = struct{}{}
		}
	}
	return nil
}

// Fail marks the task failed and synthesizes an unsuccessful result.
// Dependents are NOT released: successors of a failed task remain blocked.
func (s *Scheduler) Fail(taskID, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = types.TaskFailed
	if _, written := s.results[taskID]; !written {
		s.results[taskID] = types.TaskResult{
			TaskID:       taskID,
			AgentID:      task.AssignedAgentID,
			Success:      false,
			ErrorMessage: reason,
		}
	}
	s.logger.Warn("task failed", zap.String("task_id", taskID), zap.String("reason", reason))
	return nil
}

// Cancel marks the task cancelled and removes it from the ready set.
// As with Fail, dependents are not released.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	task, ok := s.tasks[taskID]
	if !ok {
		return ErrTaskNotFound
	}
	task.Status = types.TaskCancelled
	delete(s.ready, taskID)
	return nil
}

// GetTask returns a copy of the task.
func (s *Scheduler) GetTask(taskID string) (types.Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[taskID]
	if !ok {
		return types.Task{}, false
	}
	return *task, true
}

// GetResult returns the task's result, if written.
func (s *Scheduler) GetResult(taskID string) (types.TaskResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, ok := s.results[taskID]
	return result, ok
}

// PendingCount returns the number of ready, unclaimed tasks: every
// dependency completed and not yet handed out by GetNextTask. Tasks
// still blocked on dependencies, or already assigned or executing, do
// not count.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ready)
}

// Tasks returns a copy of every known task.
func (s *Scheduler) Tasks() []types.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, *task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out
}
