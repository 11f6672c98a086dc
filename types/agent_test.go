package types

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func narratorCaps() []Capability {
	return []Capability{
		{Name: "narrate_scene"},
		{Name: "describe_npc"},
		{Name: "improvise_dialogue"},
		{Name: "recap_session"},
		{Name: "foreshadow"},
	}
}

func TestNewAgentStatus(t *testing.T) {
	t.Parallel()
	st := NewAgentStatus("narrator-1", "narrative", narratorCaps())
	assert.Equal(t, AgentIdle, st.State)
	assert.Zero(t, st.Load)
	assert.False(t, st.LastHeartbeat.IsZero())
	assert.Empty(t, st.CurrentTasks)
}

func TestAgentStatus_LoadInvariant(t *testing.T) {
	t.Parallel()
	st := NewAgentStatus("narrator-1", "narrative", narratorCaps())

	// load = |current_tasks| / |capabilities|
	st.AddTask("t1")
	assert.InDelta(t, 0.2, st.Load, 1e-9)
	assert.Equal(t, AgentIdle, st.State)

	st.AddTask("t2")
	st.AddTask("t3")
	assert.InDelta(t, 0.6, st.Load, 1e-9)
	assert.Equal(t, AgentIdle, st.State)

	// Crossing the 0.8 threshold flips the agent to busy.
	st.AddTask("t4")
	assert.InDelta(t, 0.8, st.Load, 1e-9)
	assert.Equal(t, AgentBusy, st.State)

	st.RemoveTask("t4")
	assert.Equal(t, AgentIdle, st.State)
}

func TestAgentStatus_NoCapabilities(t *testing.T) {
	t.Parallel()
	st := NewAgentStatus("mystery", "unknown", nil)
	st.AddTask("t1")
	// Divisor clamps at 1.
	assert.InDelta(t, 1.0, st.Load, 1e-9)
	assert.Equal(t, AgentBusy, st.State)
}

func TestAgentStatus_OfflineSticky(t *testing.T) {
	t.Parallel()
	st := NewAgentStatus("artist-1", "art", []Capability{{Name: "draw_map"}})
	st.State = AgentOffline
	st.AddTask("t1")
	// Recalculating load never brings an agent back online.
	assert.Equal(t, AgentOffline, st.State)
	st.RemoveTask("t1")
	assert.Equal(t, AgentOffline, st.State)
}

func TestAgentStatus_HasCapability(t *testing.T) {
	t.Parallel()
	st := NewAgentStatus("narrator-1", "narrative", narratorCaps())
	assert.True(t, st.HasCapability("narrate_scene"))
	assert.False(t, st.HasCapability("cast_fireball"))
}

func TestAgentStatus_Clone(t *testing.T) {
	t.Parallel()
	st := NewAgentStatus("narrator-1", "narrative", narratorCaps())
	for i := 0; i < 3; i++ {
		st.AddTask(fmt.Sprintf("t%d", i))
	}

	cp := st.Clone()
	require.NotSame(t, st, cp)
	cp.AddTask("extra")
	cp.Capabilities[0].Name = "mutated"

	assert.Len(t, st.CurrentTasks, 3)
	assert.Equal(t, "narrate_scene", st.Capabilities[0].Name)
}
