package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/BaSui01/agentmesh/consensus"
	"github.com/BaSui01/agentmesh/orchestrator"
	"github.com/BaSui01/agentmesh/scheduler"
	"github.com/BaSui01/agentmesh/types"
)

// ---- agents ----

type spawnRequest struct {
	Role         string            `json:"role"`
	SlotID       int               `json:"slot_id,omitempty"`
	Capabilities []string          `json:"capabilities,omitempty"`
	Config       map[string]string `json:"config,omitempty"`
}

func (s *Server) handleSpawnAgent(w http.ResponseWriter, r *http.Request) {
	var req spawnRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid spawn request: "+err.Error())
		return
	}
	if req.Role == "" {
		writeError(w, http.StatusBadRequest, "role is required")
		return
	}

	info, err := s.orch.Spawn(orchestrator.SpawnConfig{
		Role:         req.Role,
		SlotID:       req.SlotID,
		Capabilities: req.Capabilities,
		Metadata:     req.Config,
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, "spawn failed: "+err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.SetRegisteredAgents(len(s.orch.List()))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_id": info.ID,
		"role":     info.Role,
		"slot_id":  info.SlotID,
		"status":   "spawned",
	})
}

func (s *Server) handleListAgents(w http.ResponseWriter, r *http.Request) {
	agents := s.orch.List()
	writeJSON(w, http.StatusOK, map[string]any{
		"agents": agents,
		"count":  len(agents),
	})
}

func (s *Server) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	a, ok := s.orch.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	writeJSON(w, http.StatusOK, a.Info())
}

func (s *Server) handleTerminateAgent(w http.ResponseWriter, r *http.Request) {
	agentID := r.PathValue("id")
	if err := s.orch.Terminate(agentID); err != nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if s.metrics != nil {
		s.metrics.SetRegisteredAgents(len(s.orch.List()))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"agent_id": agentID,
		"status":   "terminated",
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.orch.GetStats())
}

// ---- tasks ----

func (s *Server) handleSubmitTask(w http.ResponseWriter, r *http.Request) {
	var task types.Task
	if err := decodeBody(r, &task); err != nil {
		writeError(w, http.StatusBadRequest, "invalid task: "+err.Error())
		return
	}
	if task.Kind == "" {
		writeError(w, http.StatusBadRequest, "kind is required")
		return
	}
	taskID, err := s.orch.SubmitTask(task)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"task_id": taskID,
		"status":  "submitted",
	})
}

type workflowRequest struct {
	Tasks []types.Task `json:"tasks"`
}

func (s *Server) handleSubmitWorkflow(w http.ResponseWriter, r *http.Request) {
	var req workflowRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid workflow: "+err.Error())
		return
	}
	if len(req.Tasks) == 0 {
		writeError(w, http.StatusBadRequest, "tasks are required")
		return
	}
	workflowID, taskIDs, err := s.orch.SubmitWorkflow(req.Tasks)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"workflow_id": workflowID,
		"task_ids":    taskIDs,
		"status":      "scheduled",
	})
}

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks := s.orch.Scheduler().Tasks()
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"count": len(tasks),
	})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	taskID := r.PathValue("id")
	task, ok := s.orch.Scheduler().GetTask(taskID)
	if !ok {
		writeError(w, http.StatusNotFound, "task not found")
		return
	}
	body := map[string]any{"task": task}
	if result, ok := s.orch.Scheduler().GetResult(taskID); ok {
		body["result"] = result
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleCancelTask(w http.ResponseWriter, r *http.Request) {
	if err := s.orch.Scheduler().Cancel(r.PathValue("id")); err != nil {
		if errors.Is(err, scheduler.ErrTaskNotFound) {
			writeError(w, http.StatusNotFound, "task not found")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveTask("cancelled")
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"status":  "cancelled",
	})
}

// ---- knowledge ----

type knowledgeRequest struct {
	Key     string   `json:"key"`
	Value   string   `json:"value"`
	AgentID string   `json:"agent_id,omitempty"`
	Tags    []string `json:"tags,omitempty"`
}

func (s *Server) handlePutKnowledge(w http.ResponseWriter, r *http.Request) {
	var req knowledgeRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid knowledge entry: "+err.Error())
		return
	}
	if req.Key == "" {
		writeError(w, http.StatusBadRequest, "key is required")
		return
	}
	s.orch.Knowledge().Put(req.Key, req.Value, req.AgentID, req.Tags)
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"key":     req.Key,
	})
}

func (s *Server) handleGetKnowledge(w http.ResponseWriter, r *http.Request) {
	entry, ok := s.orch.Knowledge().Get(r.PathValue("key"))
	if !ok {
		writeError(w, http.StatusNotFound, "key not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleQueryKnowledge(w http.ResponseWriter, r *http.Request) {
	var tags []string
	if raw := r.URL.Query().Get("tags"); raw != "" {
		tags = strings.Split(raw, ",")
	}
	entries := s.orch.Knowledge().Query(tags)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

// ---- messages ----

func (s *Server) handleSendMessage(w http.ResponseWriter, r *http.Request) {
	var msg types.Message
	if err := decodeBody(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	if msg.To == "" {
		writeError(w, http.StatusBadRequest, "to is required; use broadcast for fan-out")
		return
	}
	if msg.MessageID == "" {
		msg.MessageID = types.NewID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = types.TimestampMs()
	}
	if !s.orch.Post(msg) {
		writeError(w, http.StatusBadRequest, "message rejected: unknown agent or full mailbox")
		return
	}
	if s.metrics != nil {
		s.metrics.ObserveMessage(string(msg.Kind))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message_id": msg.MessageID,
	})
}

func (s *Server) handleBroadcastMessage(w http.ResponseWriter, r *http.Request) {
	var msg types.Message
	if err := decodeBody(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, "invalid message: "+err.Error())
		return
	}
	if msg.MessageID == "" {
		msg.MessageID = types.NewID()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = types.TimestampMs()
	}
	msg.To = ""
	s.orch.Post(msg)
	if s.metrics != nil {
		s.metrics.ObserveMessage(string(msg.Kind))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":    true,
		"message_id": msg.MessageID,
	})
}

func (s *Server) handleReceiveMessages(w http.ResponseWriter, r *http.Request) {
	maxCount := 100
	if raw := r.URL.Query().Get("max_count"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 {
			maxCount = parsed
		}
	}
	msgs, err := s.orch.ReceiveMessages(r.PathValue("agent_id"), maxCount)
	if err != nil {
		writeError(w, http.StatusNotFound, "agent not found")
		return
	}
	if msgs == nil {
		msgs = []types.Message{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"messages": msgs,
		"count":    len(msgs),
	})
}

// ---- consensus ----

type createVoteRequest struct {
	Question string   `json:"question"`
	Options  []string `json:"options"`
	Type     string   `json:"type"`
	Deadline int64    `json:"deadline,omitempty"`
}

func (s *Server) handleCreateVote(w http.ResponseWriter, r *http.Request) {
	var req createVoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid vote: "+err.Error())
		return
	}
	if req.Question == "" || len(req.Options) == 0 {
		writeError(w, http.StatusBadRequest, "question and options are required")
		return
	}
	rule := consensus.Rule(req.Type)
	switch rule {
	case consensus.SimpleMajority, consensus.Supermajority, consensus.Unanimous, consensus.Weighted:
	case "":
		rule = consensus.SimpleMajority
	default:
		writeError(w, http.StatusBadRequest, "unknown consensus type: "+req.Type)
		return
	}
	voteID := s.orch.Voter().Create(req.Question, req.Options, rule, req.Deadline)
	writeJSON(w, http.StatusOK, map[string]any{
		"vote_id": voteID,
		"status":  "created",
	})
}

type castVoteRequest struct {
	AgentID string  `json:"agent_id"`
	Option  string  `json:"option"`
	Weight  float64 `json:"weight,omitempty"`
}

func (s *Server) handleCastVote(w http.ResponseWriter, r *http.Request) {
	voteID := r.PathValue("vid")
	var req castVoteRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid cast: "+err.Error())
		return
	}
	if req.AgentID == "" || req.Option == "" {
		writeError(w, http.StatusBadRequest, "agent_id and option are required")
		return
	}
	weight := req.Weight
	if weight == 0 {
		weight = 1
	}
	if err := s.orch.Voter().Cast(voteID, req.AgentID, req.Option, weight); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":  true,
		"vote_id":  voteID,
		"agent_id": req.AgentID,
	})
}

func (s *Server) handleGetVote(w http.ResponseWriter, r *http.Request) {
	vote, ok := s.orch.Voter().Get(r.PathValue("vid"))
	if !ok {
		writeError(w, http.StatusNotFound, "vote not found")
		return
	}
	writeJSON(w, http.StatusOK, vote)
}
