package audit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewmesh/crewmesh/internal/database"
	"github.com/crewmesh/crewmesh/pkg/types"
)

func TestRecordAndRecent(t *testing.T) {
	trail := New(nil)

	trail.Record(types.AuditTaskRouted, "task-1", "agent-a", map[string]string{"score": "0.75"})
	trail.Record(types.AuditOutcome, "task-1", "agent-a", nil)
	trail.Record(types.AuditTaskRouted, "task-2", "agent-b", nil)

	events := trail.Recent(database.AuditFilter{})
	require.Len(t, events, 3)
	// Newest first.
	assert.Equal(t, "task-2", events[0].TaskID)
	assert.Equal(t, "task-1", events[2].TaskID)
	assert.Equal(t, "0.75", events[2].Detail["score"])
	assert.NotEmpty(t, events[0].ID)
	assert.False(t, events[0].Recorded.IsZero())
}

func TestRecentFilters(t *testing.T) {
	trail := New(nil)
	trail.Record(types.AuditTaskRouted, "task-1", "agent-a", nil)
	trail.Record(types.AuditTaskRouted, "task-2", "agent-b", nil)
	trail.Record(types.AuditOutcome, "task-2", "agent-b", nil)

	byKind := trail.Recent(database.AuditFilter{Kind: types.AuditOutcome})
	require.Len(t, byKind, 1)
	assert.Equal(t, "task-2", byKind[0].TaskID)

	byAgent := trail.Recent(database.AuditFilter{AgentID: "agent-b"})
	assert.Len(t, byAgent, 2)

	byTask := trail.Recent(database.AuditFilter{TaskID: "task-1"})
	require.Len(t, byTask, 1)
	assert.Equal(t, types.AuditTaskRouted, byTask[0].Kind)
}

func TestRecentLimit(t *testing.T) {
	trail := New(nil)
	for i := 0; i < 10; i++ {
		trail.Record(types.AuditOutcome, "task", "agent", nil)
	}
	assert.Len(t, trail.Recent(database.AuditFilter{Limit: 4}), 4)
}

func TestRecentSince(t *testing.T) {
	trail := New(nil)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	current := base
	trail.now = func() time.Time { return current }

	trail.Record(types.AuditTaskRouted, "old", "agent-a", nil)
	current = base.Add(time.Hour)
	trail.Record(types.AuditTaskRouted, "new", "agent-a", nil)

	events := trail.Recent(database.AuditFilter{Since: base.Add(30 * time.Minute)})
	require.Len(t, events, 1)
	assert.Equal(t, "new", events[0].TaskID)
}

func TestHandlersReceiveEvents(t *testing.T) {
	trail := New(nil)
	received := make(chan types.AuditEvent, 1)
	trail.AddHandler(func(e types.AuditEvent) { received <- e })

	trail.Record(types.AuditAgentChange, "", "agent-a", map[string]string{"action": "registered"})

	select {
	case e := <-received:
		assert.Equal(t, types.AuditAgentChange, e.Kind)
		assert.Equal(t, "agent-a", e.AgentID)
	case <-time.After(2 * time.Second):
		t.Fatal("handler was not invoked")
	}
}

func TestQueryWithoutStoreFallsBack(t *testing.T) {
	trail := New(nil)
	trail.Record(types.AuditImprovement, "", "", nil)

	events, err := trail.Query(database.AuditFilter{})
	require.NoError(t, err)
	assert.Len(t, events, 1)
}
