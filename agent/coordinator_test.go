package agent

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/BaSui01/agentmesh/types"
)

func TestCoordinatorLocking(t *testing.T) {
	c := NewCoordinator(types.AgentInfo{Role: "coordinator"}, 3)

	require.True(t, c.TryLock("a1", 0))
	assert.True(t, c.TryLock("a1", 0), "re-lock by owner succeeds")
	assert.False(t, c.TryLock("a2", 0), "section held by a1")
	assert.False(t, c.TryLock("a1", 5), "out of range")

	assert.False(t, c.Release("a2", 0), "only the owner releases")
	require.True(t, c.Release("a1", 0))
	assert.True(t, c.TryLock("a2", 0))
}

func TestCoordinatorEditsRequireLock(t *testing.T) {
	c := NewCoordinator(types.AgentInfo{Role: "coordinator"}, 2)

	assert.False(t, c.ApplyEdit("a1", 0, []byte("nope")))
	require.True(t, c.TryLock("a1", 0))
	require.True(t, c.ApplyEdit("a1", 0, []byte("hello ")))
	require.True(t, c.TryLock("a2", 1))
	require.True(t, c.ApplyEdit("a2", 1, []byte("world")))

	content, owner, ok := c.Section(0)
	require.True(t, ok)
	assert.Equal(t, "hello ", string(content))
	assert.Equal(t, "a1", owner)
	assert.Equal(t, "hello world", string(c.Document()))
}

func TestCoordinatorMessageProtocol(t *testing.T) {
	c := NewCoordinator(types.AgentInfo{Role: "coordinator"}, 2)
	out := &collector{}
	c.SetSender(out.send)
	require.NoError(t, c.Start())
	defer c.Shutdown()

	lockReq := func(agentID string, section int) types.Message {
		payload, _ := json.Marshal(lockPayload{Section: section})
		return types.NewMessage(agentID, c.ID(), types.KindLockRequest).WithPayload(payload)
	}

	require.True(t, c.Send(lockReq("a1", 0)))
	waitFor(t, func() bool { return len(out.byKind(types.KindLockAcquired)) == 1 })
	assert.Equal(t, "a1", out.byKind(types.KindLockAcquired)[0].To)

	// A second claimant is denied.
	require.True(t, c.Send(lockReq("a2", 0)))
	waitFor(t, func() bool { return len(out.byKind(types.KindLockDenied)) == 1 })
	assert.Equal(t, "a2", out.byKind(types.KindLockDenied)[0].To)

	// A locked edit is applied and broadcast.
	editPayload, _ := json.Marshal(lockPayload{Section: 0, Content: "draft one"})
	require.True(t, c.Send(types.NewMessage("a1", c.ID(), types.KindDocEdit).WithPayload(editPayload)))
	waitFor(t, func() bool { return len(out.byKind(types.KindDocUpdate)) == 1 })
	update := out.byKind(types.KindDocUpdate)[0]
	assert.True(t, update.IsBroadcast())
	assert.Contains(t, string(update.Payload), "draft one")
	assert.Equal(t, "draft one", string(c.Document()))

	// Release over the wire frees the section for the second agent.
	releasePayload, _ := json.Marshal(lockPayload{Section: 0})
	require.True(t, c.Send(types.NewMessage("a1", c.ID(), types.KindLockRelease).WithPayload(releasePayload)))
	require.True(t, c.Send(lockReq("a2", 0)))
	waitFor(t, func() bool { return len(out.byKind(types.KindLockAcquired)) == 2 })
	assert.Equal(t, "a2", out.byKind(types.KindLockAcquired)[1].To)
}
