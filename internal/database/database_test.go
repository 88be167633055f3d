package database

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crewmesh/crewmesh/pkg/config"
	"github.com/crewmesh/crewmesh/pkg/types"
)

func setupTestDB(t *testing.T) *Database {
	t.Helper()

	db, err := New(config.DatabaseConfig{
		Type: "sqlite",
		Path: filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestAgentRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	agent := &types.Agent{
		ID:            "agent-1",
		Name:          "SMS Agent",
		Skills:        map[types.Capability]float64{types.CapSMSIntegration: 0.9},
		MaxConcurrent: 3,
		RegisteredAt:  time.Now().UTC(),
	}
	require.NoError(t, db.SaveAgent(agent))

	agents, _, err := db.LoadAgents()
	require.NoError(t, err)
	require.Contains(t, agents, "agent-1")
	assert.Equal(t, "SMS Agent", agents["agent-1"].Name)
	assert.Equal(t, 0.9, agents["agent-1"].Skills[types.CapSMSIntegration])

	// Re-save replaces declared state.
	agent.Skills[types.CapCalendarManagement] = 0.5
	require.NoError(t, db.SaveAgent(agent))
	agents, _, err = db.LoadAgents()
	require.NoError(t, err)
	assert.Len(t, agents["agent-1"].Skills, 2)

	require.NoError(t, db.DeleteAgent("agent-1"))
	agents, _, err = db.LoadAgents()
	require.NoError(t, err)
	assert.Empty(t, agents)
}

func TestMetricsUpsert(t *testing.T) {
	db := setupTestDB(t)

	m := &types.PerformanceMetrics{
		AgentID:               "agent-1",
		TasksCompleted:        4,
		TasksFailed:           1,
		SuccessRate:           0.8,
		AverageCompletionTime: 90 * time.Second,
		CurrentLoad:           2,
		UpdatedAt:             time.Now().UTC(),
	}
	require.NoError(t, db.SaveMetrics(m))

	m.TasksCompleted = 5
	m.SuccessRate = 5.0 / 6.0
	require.NoError(t, db.SaveMetrics(m))

	loaded, err := db.GetMetrics("agent-1")
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 5, loaded.TasksCompleted)
	assert.Equal(t, 90*time.Second, loaded.AverageCompletionTime)

	missing, err := db.GetMetrics("nobody")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestMessageReadAndArchive(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	msg := &types.Message{
		ID:        "msg-1",
		From:      "coordinator",
		To:        "agent-1",
		Type:      types.MessageTypeTaskAssignment,
		Content:   map[string]interface{}{"task_id": "task-1"},
		Timestamp: time.Now().UTC(),
	}
	require.NoError(t, db.AppendMessage(ctx, msg))

	n, err := db.PendingMessageCount(ctx, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	// First read delivers the message exactly once.
	got, err := db.ReadAndArchiveMessages(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "msg-1", got[0].ID)
	assert.Equal(t, "task-1", got[0].Content["task_id"])

	// Second read finds nothing.
	got, err = db.ReadAndArchiveMessages(ctx, "agent-1")
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestMessageReadOrder(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"msg-a", "msg-b", "msg-c"} {
		require.NoError(t, db.AppendMessage(ctx, &types.Message{
			ID:        id,
			From:      "coordinator",
			To:        "agent-1",
			Type:      types.MessageTypeNotification,
			Timestamp: base.Add(time.Duration(i) * time.Second),
		}))
	}

	got, err := db.ReadAndArchiveMessages(ctx, "agent-1")
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "msg-a", got[0].ID)
	assert.Equal(t, "msg-c", got[2].ID)
}

func TestMessageIsolationPerRecipient(t *testing.T) {
	db := setupTestDB(t)
	ctx := context.Background()

	require.NoError(t, db.AppendMessage(ctx, &types.Message{
		ID: "for-a", From: "x", To: "agent-a",
		Type: types.MessageTypeDirect, Timestamp: time.Now().UTC(),
	}))
	require.NoError(t, db.AppendMessage(ctx, &types.Message{
		ID: "for-b", From: "x", To: "agent-b",
		Type: types.MessageTypeDirect, Timestamp: time.Now().UTC(),
	}))

	got, err := db.ReadAndArchiveMessages(ctx, "agent-a")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "for-a", got[0].ID)

	n, err := db.PendingMessageCount(ctx, "agent-b")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestTaskPatternUpsert(t *testing.T) {
	db := setupTestDB(t)

	p := &types.TaskPattern{
		ID:            "caps:sms-integration",
		Type:          types.PatternTypeSuccess,
		Condition:     "sms-integration",
		SampleSize:    3,
		Confidence:    0.3,
		SuccessRate:   1.0,
		Examples:      []string{"task-1"},
		FirstObserved: time.Now().UTC(),
		LastObserved:  time.Now().UTC(),
	}
	require.NoError(t, db.SaveTaskPattern(p))

	p.SampleSize = 4
	p.Confidence = 0.4
	require.NoError(t, db.SaveTaskPattern(p))

	patterns, err := db.LoadTaskPatterns()
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, 4, patterns[p.ID].SampleSize)
	assert.Equal(t, []string{"task-1"}, patterns[p.ID].Examples)

	require.NoError(t, db.DeleteTaskPattern(p.ID))
	patterns, err = db.LoadTaskPatterns()
	require.NoError(t, err)
	assert.Empty(t, patterns)
}

func TestFailurePatternRoundTrip(t *testing.T) {
	db := setupTestDB(t)

	p := &types.FailurePattern{
		ID:           "fail:timeout:agent-1",
		Category:     types.FailureTimeout,
		AgentID:      "agent-1",
		Frequency:    6,
		ImpactScore:  0.3,
		Mitigations:  types.FailureTimeout.Mitigations(),
		LastObserved: time.Now().UTC(),
	}
	require.NoError(t, db.SaveFailurePattern(p))

	patterns, err := db.LoadFailurePatterns()
	require.NoError(t, err)
	require.Len(t, patterns, 1)
	assert.Equal(t, types.FailureTimeout, patterns[p.ID].Category)
	assert.Equal(t, 6, patterns[p.ID].Frequency)
	assert.NotEmpty(t, patterns[p.ID].Mitigations)
}

func TestImprovementUpsertByStableID(t *testing.T) {
	db := setupTestDB(t)

	imp := &types.ArchitectureImprovement{
		ID:         "dominant-failure",
		Category:   types.ImprovementReliability,
		Title:      "Address recurring timeout failures",
		Rationale:  "timeout is the dominant failure category",
		Priority:   types.PriorityCritical,
		Confidence: 0.8,
		Generated:  time.Now().UTC(),
	}
	require.NoError(t, db.SaveImprovement(imp))

	imp.Confidence = 0.9
	require.NoError(t, db.SaveImprovement(imp))

	improvements, err := db.LoadImprovements()
	require.NoError(t, err)
	require.Len(t, improvements, 1)
	assert.Equal(t, 0.9, improvements["dominant-failure"].Confidence)
	assert.Equal(t, types.PriorityCritical, improvements["dominant-failure"].Priority)
}

func TestSQLitePragmasApplyToEveryConnection(t *testing.T) {
	db := setupTestDB(t)

	ctx := context.Background()

	// Pin two pooled connections at once; the pragmas live in the DSN, so
	// both must see them, not just the first connection opened.
	conn1, err := db.db.Conn(ctx)
	require.NoError(t, err)
	defer conn1.Close()
	conn2, err := db.db.Conn(ctx)
	require.NoError(t, err)
	defer conn2.Close()

	for _, conn := range []*sql.Conn{conn1, conn2} {
		var timeout int
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout))
		assert.Equal(t, 5000, timeout)

		var mode string
		require.NoError(t, conn.QueryRowContext(ctx, "PRAGMA journal_mode").Scan(&mode))
		assert.Equal(t, "wal", mode)
	}
}
