package registry

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewmesh/crewmesh/pkg/types"
)

func testAgent(id string, max int) *types.Agent {
	return &types.Agent{
		ID:            id,
		Name:          id,
		Skills:        map[types.Capability]float64{types.CapSMSIntegration: 0.8},
		MaxConcurrent: max,
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New(nil)

	require.NoError(t, r.Register(testAgent("agent-1", 3)))

	got, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "agent-1", got.ID)
	assert.Equal(t, 0, got.CurrentLoad)
	assert.False(t, got.RegisteredAt.IsZero())

	_, err = r.Get("missing")
	assert.ErrorIs(t, err, ErrUnknownAgent)
}

func TestRegister_Validation(t *testing.T) {
	r := New(nil)

	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&types.Agent{ID: ""}))
	assert.Error(t, r.Register(&types.Agent{ID: "a", MaxConcurrent: 0}))
	assert.Error(t, r.Register(&types.Agent{
		ID:            "a",
		MaxConcurrent: 1,
		Skills:        map[types.Capability]float64{"never-registered-tag": 0.5},
	}))
	assert.Error(t, r.Register(&types.Agent{
		ID:            "a",
		MaxConcurrent: 1,
		Skills:        map[types.Capability]float64{types.CapSMSIntegration: 1.5},
	}))
}

func TestReRegister_ReplacesSkillsKeepsLoad(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(testAgent("agent-1", 3)))

	_, err := r.UpdateLoad("agent-1", 2)
	require.NoError(t, err)

	replacement := &types.Agent{
		ID:            "agent-1",
		Name:          "renamed",
		Skills:        map[types.Capability]float64{types.CapCalendarManagement: 0.6},
		MaxConcurrent: 4,
	}
	require.NoError(t, r.Register(replacement))

	got, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, "renamed", got.Name)
	assert.NotContains(t, got.Skills, types.CapSMSIntegration)
	assert.Contains(t, got.Skills, types.CapCalendarManagement)
	assert.Equal(t, 2, got.CurrentLoad)
}

func TestReRegister_CapacityBelowLoadRejected(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(testAgent("agent-1", 3)))
	_, err := r.UpdateLoad("agent-1", 3)
	require.NoError(t, err)

	err = r.Register(testAgent("agent-1", 2))
	assert.ErrorIs(t, err, ErrCapacityExceeded)
}

func TestDeregister(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(testAgent("agent-1", 1)))

	require.NoError(t, r.Deregister("agent-1"))
	assert.ErrorIs(t, r.Deregister("agent-1"), ErrUnknownAgent)
	assert.Equal(t, 0, r.Count())
}

func TestUpdateLoad_Bounds(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(testAgent("agent-1", 2)))

	load, err := r.UpdateLoad("agent-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 1, load)

	load, err = r.UpdateLoad("agent-1", 1)
	require.NoError(t, err)
	assert.Equal(t, 2, load)

	// Increment past capacity fails and leaves load untouched.
	load, err = r.UpdateLoad("agent-1", 1)
	assert.ErrorIs(t, err, ErrCapacityExceeded)
	assert.Equal(t, 2, load)

	// Decrements floor at zero.
	_, err = r.UpdateLoad("agent-1", -5)
	require.NoError(t, err)
	got, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentLoad)
}

func TestUpdateLoad_ConcurrentNeverOverruns(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(testAgent("agent-1", 5)))

	var wg sync.WaitGroup
	granted := make(chan struct{}, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.UpdateLoad("agent-1", 1); err == nil {
				granted <- struct{}{}
			}
		}()
	}
	wg.Wait()
	close(granted)

	count := 0
	for range granted {
		count++
	}
	assert.Equal(t, 5, count)

	got, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 5, got.CurrentLoad)
}

func TestList_SortedCopies(t *testing.T) {
	r := New(nil)
	require.NoError(t, r.Register(testAgent("agent-b", 1)))
	require.NoError(t, r.Register(testAgent("agent-a", 1)))

	agents := r.List()
	require.Len(t, agents, 2)
	assert.Equal(t, "agent-a", agents[0].ID)
	assert.Equal(t, "agent-b", agents[1].ID)

	// Mutating the returned copy must not leak into the registry.
	agents[0].Skills[types.CapSMSIntegration] = 0.0
	got, err := r.Get("agent-a")
	require.NoError(t, err)
	assert.Equal(t, 0.8, got.Skills[types.CapSMSIntegration])
}

func TestRestore_ResetsLoad(t *testing.T) {
	r := New(nil)
	a := testAgent("agent-1", 3)
	a.CurrentLoad = 2

	r.Restore(map[string]*types.Agent{"agent-1": a})

	got, err := r.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, got.CurrentLoad)
}
