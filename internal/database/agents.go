package database

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/crewmesh/crewmesh/pkg/types"
)

// SaveAgent upserts an agent's declared state by id.
func (d *Database) SaveAgent(agent *types.Agent) error {
	skills, err := json.Marshal(agent.Skills)
	if err != nil {
		return fmt.Errorf("failed to encode skills: %w", err)
	}

	_, err = d.exec(`
		INSERT INTO agents (id, name, skills, max_concurrent, registered_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			skills = excluded.skills,
			max_concurrent = excluded.max_concurrent`,
		agent.ID, agent.Name, string(skills), agent.MaxConcurrent, agent.RegisteredAt)
	if err != nil {
		return fmt.Errorf("failed to save agent %s: %w", agent.ID, err)
	}
	return nil
}

// DeleteAgent removes an agent and its metrics record.
func (d *Database) DeleteAgent(id string) error {
	if _, err := d.exec(`DELETE FROM agent_metrics WHERE agent_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete metrics for %s: %w", id, err)
	}
	if _, err := d.exec(`DELETE FROM agents WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete agent %s: %w", id, err)
	}
	return nil
}

// LoadAgents returns all persisted agents with their metrics, keyed by id.
func (d *Database) LoadAgents() (map[string]*types.Agent, map[string]*types.PerformanceMetrics, error) {
	rows, err := d.query(`SELECT id, name, skills, max_concurrent, registered_at FROM agents`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load agents: %w", err)
	}
	defer rows.Close()

	agents := make(map[string]*types.Agent)
	for rows.Next() {
		var (
			a      types.Agent
			skills string
		)
		if err := rows.Scan(&a.ID, &a.Name, &skills, &a.MaxConcurrent, &a.RegisteredAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		if err := json.Unmarshal([]byte(skills), &a.Skills); err != nil {
			return nil, nil, fmt.Errorf("failed to decode skills for %s: %w", a.ID, err)
		}
		agents[a.ID] = &a
	}
	if err := rows.Err(); err != nil {
		return nil, nil, err
	}

	metrics := make(map[string]*types.PerformanceMetrics)
	mrows, err := d.query(`
		SELECT agent_id, tasks_completed, tasks_failed, success_rate,
		       avg_completion_ns, current_load, updated_at
		FROM agent_metrics`)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load metrics: %w", err)
	}
	defer mrows.Close()

	for mrows.Next() {
		var (
			m     types.PerformanceMetrics
			avgNs int64
		)
		if err := mrows.Scan(&m.AgentID, &m.TasksCompleted, &m.TasksFailed,
			&m.SuccessRate, &avgNs, &m.CurrentLoad, &m.UpdatedAt); err != nil {
			return nil, nil, fmt.Errorf("failed to scan metrics: %w", err)
		}
		m.AverageCompletionTime = time.Duration(avgNs)
		metrics[m.AgentID] = &m
	}
	return agents, metrics, mrows.Err()
}

// SaveMetrics upserts an agent's performance record.
func (d *Database) SaveMetrics(m *types.PerformanceMetrics) error {
	_, err := d.exec(`
		INSERT INTO agent_metrics
			(agent_id, tasks_completed, tasks_failed, success_rate,
			 avg_completion_ns, current_load, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (agent_id) DO UPDATE SET
			tasks_completed = excluded.tasks_completed,
			tasks_failed = excluded.tasks_failed,
			success_rate = excluded.success_rate,
			avg_completion_ns = excluded.avg_completion_ns,
			current_load = excluded.current_load,
			updated_at = excluded.updated_at`,
		m.AgentID, m.TasksCompleted, m.TasksFailed, m.SuccessRate,
		int64(m.AverageCompletionTime), m.CurrentLoad, m.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save metrics for %s: %w", m.AgentID, err)
	}
	return nil
}

// GetMetrics returns the persisted metrics for one agent, or nil when none
// have been recorded yet.
func (d *Database) GetMetrics(agentID string) (*types.PerformanceMetrics, error) {
	row := d.db.QueryRow(d.rebind(`
		SELECT agent_id, tasks_completed, tasks_failed, success_rate,
		       avg_completion_ns, current_load, updated_at
		FROM agent_metrics WHERE agent_id = ?`), agentID)

	var (
		m     types.PerformanceMetrics
		avgNs int64
	)
	err := row.Scan(&m.AgentID, &m.TasksCompleted, &m.TasksFailed,
		&m.SuccessRate, &avgNs, &m.CurrentLoad, &m.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load metrics for %s: %w", agentID, err)
	}
	m.AverageCompletionTime = time.Duration(avgNs)
	return &m, nil
}
