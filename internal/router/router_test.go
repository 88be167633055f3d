package router

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewmesh/crewmesh/internal/registry"
	"github.com/crewmesh/crewmesh/internal/tracker"
	"github.com/crewmesh/crewmesh/pkg/types"
)

func setupTest(t *testing.T) (*registry.Registry, *tracker.Tracker, *Router) {
	t.Helper()

	reg := registry.New(nil)
	trk := tracker.New(reg, nil)
	return reg, trk, New(reg, trk, 0)
}

func registerAgent(t *testing.T, reg *registry.Registry, id string, max int, skills map[types.Capability]float64) {
	t.Helper()
	require.NoError(t, reg.Register(&types.Agent{
		ID:            id,
		Name:          id,
		Skills:        skills,
		MaxConcurrent: max,
	}))
}

func smsTask(id string) *types.TaskRequest {
	return &types.TaskRequest{
		ID:             id,
		Type:           "send-sms",
		RequiredSkills: []types.Capability{types.CapSMSIntegration},
		Priority:       types.PriorityMedium,
		CreatedAt:      time.Now(),
	}
}

func TestRoute_NoQualifiedAgent(t *testing.T) {
	reg, _, r := setupTest(t)
	registerAgent(t, reg, "agent-1", 2, map[types.Capability]float64{types.CapCalendarManagement: 0.9})

	_, err := r.Route(smsTask("task-1"))
	assert.ErrorIs(t, err, ErrNoAgentAvailable)
}

func TestRoute_PrefersHigherProficiency(t *testing.T) {
	reg, _, r := setupTest(t)
	registerAgent(t, reg, "agent-weak", 5, map[types.Capability]float64{types.CapSMSIntegration: 0.4})
	registerAgent(t, reg, "agent-strong", 5, map[types.Capability]float64{types.CapSMSIntegration: 0.9})

	d, err := r.Route(smsTask("task-1"))
	require.NoError(t, err)
	assert.Equal(t, "agent-strong", d.AgentID)
	assert.Equal(t, 2, d.Considered)

	// The claim is visible immediately.
	agent, err := reg.Get("agent-strong")
	require.NoError(t, err)
	assert.Equal(t, 1, agent.CurrentLoad)
}

func TestRoute_SkillWeights(t *testing.T) {
	reg, _, r := setupTest(t)
	registerAgent(t, reg, "agent-a", 5, map[types.Capability]float64{
		types.CapSMSIntegration:     0.9,
		types.CapCalendarManagement: 0.3,
	})
	registerAgent(t, reg, "agent-b", 5, map[types.Capability]float64{
		types.CapSMSIntegration:     0.3,
		types.CapCalendarManagement: 0.9,
	})

	task := &types.TaskRequest{
		ID:             "task-1",
		Type:           "schedule",
		RequiredSkills: []types.Capability{types.CapSMSIntegration, types.CapCalendarManagement},
		SkillWeights:   map[types.Capability]float64{types.CapCalendarManagement: 3.0},
		CreatedAt:      time.Now(),
	}

	d, err := r.Route(task)
	require.NoError(t, err)
	assert.Equal(t, "agent-b", d.AgentID)
}

// The worked scenario: A {x:0.9} capacity 2, B {x:0.5} capacity 5. First two
// tasks land on A; once A is full the third goes to B.
func TestRoute_CapacitySpillover(t *testing.T) {
	reg, _, r := setupTest(t)
	registerAgent(t, reg, "agent-a", 2, map[types.Capability]float64{types.CapSMSIntegration: 0.9})
	registerAgent(t, reg, "agent-b", 5, map[types.Capability]float64{types.CapSMSIntegration: 0.5})

	want := []string{"agent-a", "agent-a", "agent-b"}
	for i, expected := range want {
		d, err := r.Route(smsTask(fmt.Sprintf("task-%d", i)))
		require.NoError(t, err)
		assert.Equal(t, expected, d.AgentID, "task %d", i)
	}
}

// Two equally skilled agents: neither may be saturated while the other
// sits idle.
func TestRoute_LoadBalancesEqualAgents(t *testing.T) {
	reg, _, r := setupTest(t)
	skills := map[types.Capability]float64{types.CapSMSIntegration: 0.7}
	registerAgent(t, reg, "agent-a", 3, skills)
	registerAgent(t, reg, "agent-b", 3, skills)

	counts := map[string]int{}
	for i := 0; i < 6; i++ {
		d, err := r.Route(smsTask(fmt.Sprintf("task-%d", i)))
		require.NoError(t, err)
		counts[d.AgentID]++

		// Invariant along the way: load spread never exceeds one.
		a, _ := reg.Get("agent-a")
		b, _ := reg.Get("agent-b")
		diff := a.CurrentLoad - b.CurrentLoad
		if diff < 0 {
			diff = -diff
		}
		assert.LessOrEqual(t, diff, 1)
	}
	assert.Equal(t, 3, counts["agent-a"])
	assert.Equal(t, 3, counts["agent-b"])

	// Everyone is full now.
	_, err := r.Route(smsTask("task-overflow"))
	assert.ErrorIs(t, err, ErrNoAgentAvailable)
}

func TestRoute_Deterministic(t *testing.T) {
	reg, _, r := setupTest(t)
	skills := map[types.Capability]float64{types.CapSMSIntegration: 0.7}
	registerAgent(t, reg, "agent-b", 3, skills)
	registerAgent(t, reg, "agent-a", 3, skills)

	// Identical snapshot, identical task: ranking must be stable, so the
	// first pick is always the lexicographically smaller id.
	d, err := r.Route(smsTask("task-1"))
	require.NoError(t, err)
	assert.Equal(t, "agent-a", d.AgentID)
}

func TestRoute_TieBreakByCompletionTime(t *testing.T) {
	reg, trk, r := setupTest(t)
	skills := map[types.Capability]float64{types.CapSMSIntegration: 0.7}
	registerAgent(t, reg, "agent-fast", 3, skills)
	registerAgent(t, reg, "agent-slow", 3, skills)

	// Equal score and load; completion history separates them.
	_, err := reg.UpdateLoad("agent-slow", 1)
	require.NoError(t, err)
	require.NoError(t, trk.RecordOutcome("agent-slow", true, 10*time.Minute))
	_, err = reg.UpdateLoad("agent-fast", 1)
	require.NoError(t, err)
	require.NoError(t, trk.RecordOutcome("agent-fast", true, 1*time.Minute))

	d, err := r.Route(smsTask("task-1"))
	require.NoError(t, err)
	assert.Equal(t, "agent-fast", d.AgentID)
}

func TestRoute_SaturationPenaltyDominates(t *testing.T) {
	reg, _, r := setupTest(t)
	registerAgent(t, reg, "agent-skilled", 10, map[types.Capability]float64{types.CapSMSIntegration: 1.0})
	registerAgent(t, reg, "agent-spare", 10, map[types.Capability]float64{types.CapSMSIntegration: 0.6})

	// Push the skilled agent to 90% utilization.
	for i := 0; i < 9; i++ {
		_, err := reg.UpdateLoad("agent-skilled", 1)
		require.NoError(t, err)
	}

	d, err := r.Route(smsTask("task-1"))
	require.NoError(t, err)
	assert.Equal(t, "agent-spare", d.AgentID)
}

func TestAssignBatch_SequentialLoadVisibility(t *testing.T) {
	reg, _, r := setupTest(t)
	registerAgent(t, reg, "agent-a", 1, map[types.Capability]float64{types.CapSMSIntegration: 0.9})
	registerAgent(t, reg, "agent-b", 1, map[types.Capability]float64{types.CapSMSIntegration: 0.5})

	tasks := []*types.TaskRequest{smsTask("t1"), smsTask("t2"), smsTask("t3")}
	results := r.AssignBatch(tasks)
	require.Len(t, results, 3)

	require.NoError(t, results[0].Err)
	assert.Equal(t, "agent-a", results[0].Decision.AgentID)
	require.NoError(t, results[1].Err)
	assert.Equal(t, "agent-b", results[1].Decision.AgentID)
	assert.ErrorIs(t, results[2].Err, ErrNoAgentAvailable)
}

func TestLoadPenaltyShape(t *testing.T) {
	r := New(registry.New(nil), nil, 0)

	assert.Equal(t, 0.0, r.loadPenalty(0))
	assert.InDelta(t, 0.15, r.loadPenalty(0.5), 0.001)
	// Past the knee the slope jumps.
	below := r.loadPenalty(0.8)
	above := r.loadPenalty(0.9)
	assert.Greater(t, above-below, 0.3)
}
