package tracker

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewmesh/crewmesh/internal/registry"
	"github.com/crewmesh/crewmesh/pkg/types"
)

func setupTest(t *testing.T) (*registry.Registry, *Tracker) {
	t.Helper()

	reg := registry.New(nil)
	require.NoError(t, reg.Register(&types.Agent{
		ID:            "agent-1",
		Name:          "agent-1",
		Skills:        map[types.Capability]float64{types.CapSMSIntegration: 0.9},
		MaxConcurrent: 5,
	}))
	return reg, New(reg, nil)
}

func TestRecordOutcome_UpdatesMetrics(t *testing.T) {
	reg, tr := setupTest(t)

	_, err := reg.UpdateLoad("agent-1", 2)
	require.NoError(t, err)

	require.NoError(t, tr.RecordOutcome("agent-1", true, 60*time.Second))
	require.NoError(t, tr.RecordOutcome("agent-1", false, 120*time.Second))

	m := tr.GetMetrics("agent-1")
	assert.Equal(t, 1, m.TasksCompleted)
	assert.Equal(t, 1, m.TasksFailed)
	assert.InDelta(t, 0.5, m.SuccessRate, 0.001)
	assert.Equal(t, 90*time.Second, m.AverageCompletionTime)
	assert.Equal(t, 0, m.CurrentLoad)

	// The registry's load counter was released alongside.
	agent, err := reg.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, agent.CurrentLoad)
}

func TestRecordOutcome_RunningMean(t *testing.T) {
	_, tr := setupTest(t)

	durations := []time.Duration{10 * time.Second, 20 * time.Second, 30 * time.Second}
	for _, d := range durations {
		require.NoError(t, tr.RecordOutcome("agent-1", true, d))
	}

	m := tr.GetMetrics("agent-1")
	assert.Equal(t, 20*time.Second, m.AverageCompletionTime)
	assert.Equal(t, 1.0, m.SuccessRate)
}

func TestRecordOutcome_UnknownAgent(t *testing.T) {
	_, tr := setupTest(t)
	err := tr.RecordOutcome("ghost", true, time.Second)
	assert.ErrorIs(t, err, registry.ErrUnknownAgent)
}

func TestRecordOutcome_LoadFloorsAtZero(t *testing.T) {
	reg, tr := setupTest(t)

	// No load was ever taken; an outcome report still succeeds.
	require.NoError(t, tr.RecordOutcome("agent-1", true, time.Second))

	agent, err := reg.Get("agent-1")
	require.NoError(t, err)
	assert.Equal(t, 0, agent.CurrentLoad)
}

func TestRecordOutcome_ConcurrentNoLostUpdates(t *testing.T) {
	_, tr := setupTest(t)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(success bool) {
			defer wg.Done()
			require.NoError(t, tr.RecordOutcome("agent-1", success, time.Second))
		}(i%2 == 0)
	}
	wg.Wait()

	m := tr.GetMetrics("agent-1")
	assert.Equal(t, n, m.TotalTasks())
	assert.Equal(t, 25, m.TasksCompleted)
	assert.Equal(t, 25, m.TasksFailed)
}

func TestSystemSuccessRate(t *testing.T) {
	reg, tr := setupTest(t)
	require.NoError(t, reg.Register(&types.Agent{
		ID:            "agent-2",
		Skills:        map[types.Capability]float64{types.CapSMSIntegration: 0.5},
		MaxConcurrent: 2,
	}))

	rate, total := tr.SystemSuccessRate()
	assert.Equal(t, 0.0, rate)
	assert.Equal(t, 0, total)

	require.NoError(t, tr.RecordOutcome("agent-1", true, time.Second))
	require.NoError(t, tr.RecordOutcome("agent-1", true, time.Second))
	require.NoError(t, tr.RecordOutcome("agent-2", false, time.Second))

	rate, total = tr.SystemSuccessRate()
	assert.InDelta(t, 2.0/3.0, rate, 0.001)
	assert.Equal(t, 3, total)
}

func TestCompletionTrend(t *testing.T) {
	_, tr := setupTest(t)

	_, _, ok := tr.CompletionTrend(3)
	assert.False(t, ok)

	// Three fast outcomes, then three slow ones.
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.RecordOutcome("agent-1", true, 10*time.Second))
	}
	for i := 0; i < 3; i++ {
		require.NoError(t, tr.RecordOutcome("agent-1", true, 30*time.Second))
	}

	recent, previous, ok := tr.CompletionTrend(3)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, recent)
	assert.Equal(t, 10*time.Second, previous)
}

func TestRestore(t *testing.T) {
	_, tr := setupTest(t)

	tr.Restore(map[string]*types.PerformanceMetrics{
		"agent-1": {
			AgentID:        "agent-1",
			TasksCompleted: 9,
			TasksFailed:    1,
			SuccessRate:    0.9,
			CurrentLoad:    3,
		},
	})

	m := tr.GetMetrics("agent-1")
	assert.Equal(t, 9, m.TasksCompleted)
	assert.Equal(t, 0, m.CurrentLoad)
}
