// Package types provides core types used across the agentmesh runtime.
// This package has ZERO dependencies on other agentmesh packages to avoid
// circular imports. All other packages should import types from here.
package types
