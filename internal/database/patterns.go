package database

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/crewmesh/crewmesh/pkg/types"
)

func encodeJSON(v interface{}) string {
	data, err := json.Marshal(v)
	if err != nil {
		return "null"
	}
	return string(data)
}

// SaveTaskPattern upserts a learned task pattern by id.
func (d *Database) SaveTaskPattern(p *types.TaskPattern) error {
	_, err := d.exec(`
		INSERT INTO task_patterns
			(id, pattern_type, condition, sample_size, confidence, success_rate,
			 avg_completion_ns, examples, first_observed, last_observed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			sample_size = excluded.sample_size,
			confidence = excluded.confidence,
			success_rate = excluded.success_rate,
			avg_completion_ns = excluded.avg_completion_ns,
			examples = excluded.examples,
			last_observed = excluded.last_observed`,
		p.ID, string(p.Type), p.Condition, p.SampleSize, p.Confidence,
		p.SuccessRate, int64(p.AverageCompletionTime), encodeJSON(p.Examples),
		p.FirstObserved, p.LastObserved)
	if err != nil {
		return fmt.Errorf("failed to save task pattern %s: %w", p.ID, err)
	}
	return nil
}

// DeleteTaskPattern removes a pruned pattern.
func (d *Database) DeleteTaskPattern(id string) error {
	if _, err := d.exec(`DELETE FROM task_patterns WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete task pattern %s: %w", id, err)
	}
	return nil
}

// LoadTaskPatterns returns all persisted task patterns keyed by id.
func (d *Database) LoadTaskPatterns() (map[string]*types.TaskPattern, error) {
	rows, err := d.query(`
		SELECT id, pattern_type, condition, sample_size, confidence, success_rate,
		       avg_completion_ns, examples, first_observed, last_observed
		FROM task_patterns`)
	if err != nil {
		return nil, fmt.Errorf("failed to load task patterns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*types.TaskPattern)
	for rows.Next() {
		var (
			p        types.TaskPattern
			ptype    string
			avgNs    int64
			examples string
		)
		if err := rows.Scan(&p.ID, &ptype, &p.Condition, &p.SampleSize, &p.Confidence,
			&p.SuccessRate, &avgNs, &examples, &p.FirstObserved, &p.LastObserved); err != nil {
			return nil, fmt.Errorf("failed to scan task pattern: %w", err)
		}
		p.Type = types.PatternType(ptype)
		p.AverageCompletionTime = time.Duration(avgNs)
		_ = json.Unmarshal([]byte(examples), &p.Examples)
		out[p.ID] = &p
	}
	return out, rows.Err()
}

// SaveFailurePattern upserts a failure pattern by id.
func (d *Database) SaveFailurePattern(p *types.FailurePattern) error {
	_, err := d.exec(`
		INSERT INTO failure_patterns
			(id, category, agent_id, frequency, impact_score, skills,
			 mitigations, examples, last_observed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			frequency = excluded.frequency,
			impact_score = excluded.impact_score,
			skills = excluded.skills,
			mitigations = excluded.mitigations,
			examples = excluded.examples,
			last_observed = excluded.last_observed`,
		p.ID, string(p.Category), p.AgentID, p.Frequency, p.ImpactScore,
		encodeJSON(p.Skills), encodeJSON(p.Mitigations), encodeJSON(p.Examples),
		p.LastObserved)
	if err != nil {
		return fmt.Errorf("failed to save failure pattern %s: %w", p.ID, err)
	}
	return nil
}

// LoadFailurePatterns returns all persisted failure patterns keyed by id.
func (d *Database) LoadFailurePatterns() (map[string]*types.FailurePattern, error) {
	rows, err := d.query(`
		SELECT id, category, agent_id, frequency, impact_score, skills,
		       mitigations, examples, last_observed
		FROM failure_patterns`)
	if err != nil {
		return nil, fmt.Errorf("failed to load failure patterns: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*types.FailurePattern)
	for rows.Next() {
		var (
			p                             types.FailurePattern
			category                      string
			skills, mitigations, examples string
		)
		if err := rows.Scan(&p.ID, &category, &p.AgentID, &p.Frequency, &p.ImpactScore,
			&skills, &mitigations, &examples, &p.LastObserved); err != nil {
			return nil, fmt.Errorf("failed to scan failure pattern: %w", err)
		}
		p.Category = types.FailureCategory(category)
		_ = json.Unmarshal([]byte(skills), &p.Skills)
		_ = json.Unmarshal([]byte(mitigations), &p.Mitigations)
		_ = json.Unmarshal([]byte(examples), &p.Examples)
		out[p.ID] = &p
	}
	return out, rows.Err()
}

// SaveImprovement upserts a generated improvement by its stable id, so
// repeated analysis runs update rather than duplicate.
func (d *Database) SaveImprovement(imp *types.ArchitectureImprovement) error {
	_, err := d.exec(`
		INSERT INTO improvements
			(id, category, title, rationale, benefits, effort, priority,
			 timeline, confidence, components, generated)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			category = excluded.category,
			title = excluded.title,
			rationale = excluded.rationale,
			benefits = excluded.benefits,
			effort = excluded.effort,
			priority = excluded.priority,
			timeline = excluded.timeline,
			confidence = excluded.confidence,
			components = excluded.components,
			generated = excluded.generated`,
		imp.ID, string(imp.Category), imp.Title, imp.Rationale,
		encodeJSON(imp.Benefits), imp.Effort, imp.Priority.String(),
		imp.Timeline, imp.Confidence, encodeJSON(imp.Components), imp.Generated)
	if err != nil {
		return fmt.Errorf("failed to save improvement %s: %w", imp.ID, err)
	}
	return nil
}

// LoadImprovements returns all persisted improvements keyed by id.
func (d *Database) LoadImprovements() (map[string]*types.ArchitectureImprovement, error) {
	rows, err := d.query(`
		SELECT id, category, title, rationale, benefits, effort, priority,
		       timeline, confidence, components, generated
		FROM improvements`)
	if err != nil {
		return nil, fmt.Errorf("failed to load improvements: %w", err)
	}
	defer rows.Close()

	out := make(map[string]*types.ArchitectureImprovement)
	for rows.Next() {
		var (
			imp                  types.ArchitectureImprovement
			category, priority   string
			benefits, components string
		)
		if err := rows.Scan(&imp.ID, &category, &imp.Title, &imp.Rationale,
			&benefits, &imp.Effort, &priority, &imp.Timeline, &imp.Confidence,
			&components, &imp.Generated); err != nil {
			return nil, fmt.Errorf("failed to scan improvement: %w", err)
		}
		imp.Category = types.ImprovementCategory(category)
		if p, err := types.ParsePriority(priority); err == nil {
			imp.Priority = p
		}
		_ = json.Unmarshal([]byte(benefits), &imp.Benefits)
		_ = json.Unmarshal([]byte(components), &imp.Components)
		out[imp.ID] = &imp
	}
	return out, rows.Err()
}
