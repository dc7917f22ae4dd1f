package agent

import (
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/agentmesh/types"
)

// RestartStrategy decides which children restart when one fails.
type RestartStrategy string

const (
	// OneForOne restarts only the failed child.
	OneForOne RestartStrategy = "one_for_one"
	// OneForAll restarts every child.
	OneForAll RestartStrategy = "one_for_all"
	// RestForOne restarts the failed child and every child added after it.
	RestForOne RestartStrategy = "rest_for_one"
)

// SupervisorConfig parameterizes restart and health monitoring.
type SupervisorConfig struct {
	Strategy RestartStrategy `json:"strategy"`
	// MaxRestarts caps restarts of one child within the window; past it
	// the child is left failed.
	MaxRestarts int `json:"max_restarts"`
	// RestartWindow is the sliding interval the cap applies to.
	RestartWindow time.Duration `json:"restart_window_ms"`
	// HealthCheckInterval is the monitor tick.
	HealthCheckInterval time.Duration `json:"health_check_interval_ms"`
}

// DefaultSupervisorConfig allows three restarts per child per minute and
// checks health once a second.
func DefaultSupervisorConfig() SupervisorConfig {
	return SupervisorConfig{
		Strategy:            OneForOne,
		MaxRestarts:         3,
		RestartWindow:       time.Minute,
		HealthCheckInterval: time.Second,
	}
}

// Supervisor is itself an agent: it receives error messages from its
// children through its own mailbox and owns a background health monitor.
// Children are held strongly; each child holds only its supervisor's id.
type Supervisor struct {
	*Runtime

	cfg      SupervisorConfig
	children []Agent
	childMu  sync.Mutex

	restartHistory map[string][]int64

	monitorStop chan struct{}
	monitorWG   sync.WaitGroup
}

// NewSupervisor creates a supervisor agent.
func NewSupervisor(info types.AgentInfo, cfg SupervisorConfig, runtimeOpts ...RuntimeOption) *Supervisor {
	if cfg.Strategy == "" {
		cfg.Strategy = OneForOne
	}
	if cfg.MaxRestarts <= 0 {
		cfg.MaxRestarts = DefaultSupervisorConfig().MaxRestarts
	}
	if cfg.RestartWindow <= 0 {
		cfg.RestartWindow = DefaultSupervisorConfig().RestartWindow
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = DefaultSupervisorConfig().HealthCheckInterval
	}

	s := &Supervisor{
		Runtime:        NewRuntime(info, runtimeOpts...),
		cfg:            cfg,
		restartHistory: make(map[string][]int64),
	}
	s.RegisterHandler(types.KindError, func(msg types.Message) error {
		s.HandleChildFailure(msg.From)
		return nil
	})
	return s
}

// AddChild puts a child under supervision and installs the back-reference.
func (s *Supervisor) AddChild(child Agent) {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	s.children = append(s.children, child)
	child.SetSupervisor(s.ID())
}

// RemoveChild releases a child from supervision, clearing its
// back-reference.
func (s *Supervisor) RemoveChild(childID string) {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	for i, child := range s.children {
		if child.ID() == childID {
			child.SetSupervisor("")
			s.children = append(s.children[:i], s.children[i+1:]...)
			return
		}
	}
}

// Children returns the supervised agents in addition order.
func (s *Supervisor) Children() []Agent {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	return append([]Agent(nil), s.children...)
}

// Start launches the supervisor loop, its children, and the health
// monitor.
func (s *Supervisor) Start() error {
	if err := s.Runtime.Start(); err != nil {
		return err
	}
	for _, child := range s.Children() {
		if err := child.Start(); err != nil && err != ErrAlreadyRunning {
			s.logger.Warn("child failed to start",
				zap.String("child_id", child.ID()), zap.Error(err))
		}
	}

	s.monitorStop = make(chan struct{})
	s.monitorWG.Add(1)
	go s.monitorHealth(s.monitorStop)
	return nil
}

// Stop halts the monitor, the children, and the supervisor's own loop.
func (s *Supervisor) Stop() {
	if s.monitorStop != nil {
		select {
		case <-s.monitorStop:
		default:
			close(s.monitorStop)
		}
	}
	s.monitorWG.Wait()

	for _, child := range s.Children() {
		child.Stop()
		child.Join()
	}
	s.Runtime.Stop()
}

// Shutdown stops everything and marks the supervisor offline.
func (s *Supervisor) Shutdown() {
	s.Stop()
	s.Join()
	s.SetStatus(types.StatusOffline)
}

// monitorHealth pings every child each tick and triggers failure handling
// for children whose beacon has gone stale.
func (s *Supervisor) monitorHealth(stop <-chan struct{}) {
	defer s.monitorWG.Done()
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			for _, child := range s.Children() {
				child.Send(types.NewMessage(s.ID(), child.ID(), types.KindHeartbeat))
				if child.State() == StateRunning && !child.CheckHealth() {
					s.HandleChildFailure(child.ID())
				}
			}
		}
	}
}

// HandleChildFailure applies the restart strategy to a failed child. A
// child over its restart budget is parked in the failed state and left
// there; escalation beyond that is the caller's concern.
func (s *Supervisor) HandleChildFailure(childID string) {
	child := s.child(childID)
	if child == nil {
		return
	}

	if !s.shouldRestart(childID) {
		s.logger.Warn("restart budget exhausted, leaving child failed",
			zap.String("child_id", childID))
		child.Stop()
		child.Join()
		child.MarkFailed()
		return
	}

	s.logger.Info("restarting after child failure",
		zap.String("child_id", childID),
		zap.String("strategy", string(s.cfg.Strategy)))

	switch s.cfg.Strategy {
	case OneForAll:
		children := s.Children()
		for _, c := range children {
			c.Stop()
			c.Join()
		}
		for _, c := range children {
			s.restartChild(c)
		}
	case RestForOne:
		children := s.Children()
		idx := 0
		for i, c := range children {
			if c.ID() == childID {
				idx = i
				break
			}
		}
		for _, c := range children[idx:] {
			c.Stop()
			c.Join()
		}
		for _, c := range children[idx:] {
			s.restartChild(c)
		}
	default: // OneForOne
		child.Stop()
		child.Join()
		s.restartChild(child)
	}
}

// shouldRestart prunes restart timestamps older than the window and
// admits the restart only under the cap.
func (s *Supervisor) shouldRestart(childID string) bool {
	s.childMu.Lock()
	defer s.childMu.Unlock()

	now := types.TimestampMs()
	cutoff := now - s.cfg.RestartWindow.Milliseconds()
	var recent []int64
	for _, ts := range s.restartHistory[childID] {
		if ts >= cutoff {
			recent = append(recent, ts)
		}
	}
	if len(recent) >= s.cfg.MaxRestarts {
		s.restartHistory[childID] = recent
		return false
	}
	s.restartHistory[childID] = append(recent, now)
	return true
}

// restartChild brings a stopped child back up. Identity, capabilities,
// and any externally stored conversation state survive; in-memory agent
// state does not.
func (s *Supervisor) restartChild(child Agent) {
	child.SetStatus(types.StatusIdle)
	if err := child.Start(); err != nil && err != ErrAlreadyRunning {
		s.logger.Error("child restart failed",
			zap.String("child_id", child.ID()), zap.Error(err))
		child.MarkFailed()
	}
}

func (s *Supervisor) child(childID string) Agent {
	s.childMu.Lock()
	defer s.childMu.Unlock()
	for _, child := range s.children {
		if child.ID() == childID {
			return child
		}
	}
	return nil
}
