package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crewmesh/crewmesh/pkg/types"
)

// AppendAuditEvent persists one audit trail entry.
func (d *Database) AppendAuditEvent(e *types.AuditEvent) error {
	_, err := d.exec(`
		INSERT INTO decision_log (id, recorded_at, kind, task_id, agent_id, detail)
		VALUES (?, ?, ?, ?, ?, ?)`,
		e.ID, e.Recorded, string(e.Kind), e.TaskID, e.AgentID, encodeJSON(e.Detail))
	if err != nil {
		return fmt.Errorf("failed to append audit event %s: %w", e.ID, err)
	}
	return nil
}

// AuditFilter narrows an audit trail query. Zero values match everything.
type AuditFilter struct {
	Kind    types.AuditKind
	AgentID string
	TaskID  string
	Since   time.Time
	Limit   int
}

// QueryAuditEvents returns matching audit entries, newest first.
func (d *Database) QueryAuditEvents(f AuditFilter) ([]types.AuditEvent, error) {
	query := `SELECT id, recorded_at, kind, task_id, agent_id, detail
		FROM decision_log WHERE 1=1`
	var args []interface{}

	if f.Kind != "" {
		query += " AND kind = ?"
		args = append(args, string(f.Kind))
	}
	if f.AgentID != "" {
		query += " AND agent_id = ?"
		args = append(args, f.AgentID)
	}
	if f.TaskID != "" {
		query += " AND task_id = ?"
		args = append(args, f.TaskID)
	}
	if !f.Since.IsZero() {
		query += " AND recorded_at >= ?"
		args = append(args, f.Since)
	}
	query += " ORDER BY recorded_at DESC, id DESC"
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}

	rows, err := d.query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit events: %w", err)
	}
	defer rows.Close()

	var out []types.AuditEvent
	for rows.Next() {
		var (
			e      types.AuditEvent
			kind   string
			detail string
		)
		if err := rows.Scan(&e.ID, &e.Recorded, &kind, &e.TaskID, &e.AgentID, &detail); err != nil {
			return nil, fmt.Errorf("failed to scan audit event: %w", err)
		}
		e.Kind = types.AuditKind(kind)
		_ = json.Unmarshal([]byte(detail), &e.Detail)
		out = append(out, e)
	}
	return out, rows.Err()
}
