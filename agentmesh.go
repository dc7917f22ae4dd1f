// Package agentmesh provides a top-level convenience entry point for
// standing up a collaboration runtime with minimal boilerplate.
//
// Usage:
//
//	import "github.com/BaSui01/agentmesh"
//
//	mesh := agentmesh.New(agentmesh.WithInference(myCallback))
//	info, err := mesh.Spawn(orchestrator.SpawnConfig{Role: "coder"})
//	resp := mesh.SendRequest(info.ID, types.Request{Prompt: "hello"})
//
// This is a thin wrapper around [orchestrator.New]; both produce
// identical results. Use this package when you prefer the shorter
// import path.
package agentmesh

import (
	"github.com/BaSui01/agentmesh/orchestrator"
)

// Option configures the runtime created by [New].
type Option = orchestrator.Option

// New creates an [orchestrator.Orchestrator] with its owned singletons:
// the message bus, conversation memory, knowledge base, task scheduler,
// consensus voter, and failure manager.
func New(opts ...Option) *orchestrator.Orchestrator {
	return orchestrator.New(opts...)
}

// Re-export orchestrator options so callers never need a second import.

// WithLogger attaches a zap logger.
var WithLogger = orchestrator.WithLogger

// WithMemory attaches a custom conversation memory.
var WithMemory = orchestrator.WithMemory

// WithInference installs the default inference callback for spawned
// local agents.
var WithInference = orchestrator.WithInference

// WithBreakerConfig overrides the per-agent circuit breaker parameters.
var WithBreakerConfig = orchestrator.WithBreakerConfig
