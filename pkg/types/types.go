package types

import (
	"encoding/json"
	"fmt"
	"time"
)

// Priority represents the urgency of a task. Higher values are more urgent.
type Priority int

const (
	PriorityLow Priority = iota
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "low",
	PriorityMedium:   "medium",
	PriorityHigh:     "high",
	PriorityCritical: "critical",
}

// String returns the lowercase wire name of the priority.
func (p Priority) String() string {
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return fmt.Sprintf("priority(%d)", int(p))
}

// ParsePriority converts a wire name back into a Priority.
func ParsePriority(s string) (Priority, error) {
	for p, name := range priorityNames {
		if name == s {
			return p, nil
		}
	}
	return PriorityLow, fmt.Errorf("unknown priority %q", s)
}

// MarshalJSON encodes the priority as its wire name.
func (p Priority) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// UnmarshalJSON decodes a priority from its wire name.
func (p *Priority) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParsePriority(s)
	if err != nil {
		return err
	}
	*p = parsed
	return nil
}

// TaskRequest represents a unit of work submitted for routing. Fields other
// than Priority are immutable after creation; Priority may only move upward
// (see the priority adjuster).
type TaskRequest struct {
	ID                string                 `json:"id"`
	Type              string                 `json:"type"`
	Description       string                 `json:"description,omitempty"`
	RequiredSkills    []Capability           `json:"required_skills"`
	SkillWeights      map[Capability]float64 `json:"skill_weights,omitempty"` // defaults to 1.0 per skill
	Priority          Priority               `json:"priority"`
	EstimatedDuration time.Duration          `json:"estimated_duration,omitempty"`
	Deadline          *time.Time             `json:"deadline,omitempty"`
	CreatedAt         time.Time              `json:"created_at"`
	Metadata          map[string]interface{} `json:"metadata,omitempty"`
}

// SkillWeight returns the routing weight for a required capability,
// defaulting to 1.0 when no explicit weight was supplied.
func (t *TaskRequest) SkillWeight(c Capability) float64 {
	if w, ok := t.SkillWeights[c]; ok {
		return w
	}
	return 1.0
}

// Agent represents a registered worker: its declared capabilities with
// per-capability proficiency ratings, its concurrency capacity, and its
// live load counter.
type Agent struct {
	ID            string                 `json:"id"`
	Name          string                 `json:"name"`
	Skills        map[Capability]float64 `json:"skills"` // proficiency in [0,1]
	MaxConcurrent int                    `json:"max_concurrent"`
	CurrentLoad   int                    `json:"current_load"`
	RegisteredAt  time.Time              `json:"registered_at"`
}

// HasSkills reports whether the agent declares every capability in required.
func (a *Agent) HasSkills(required []Capability) bool {
	for _, c := range required {
		if _, ok := a.Skills[c]; !ok {
			return false
		}
	}
	return true
}

// Utilization returns the agent's load as a fraction of its capacity.
func (a *Agent) Utilization() float64 {
	if a.MaxConcurrent <= 0 {
		return 1.0
	}
	return float64(a.CurrentLoad) / float64(a.MaxConcurrent)
}

// Clone returns a deep copy, detaching callers from registry-internal state.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Skills = make(map[Capability]float64, len(a.Skills))
	for c, p := range a.Skills {
		cp.Skills[c] = p
	}
	return &cp
}

// PerformanceMetrics holds per-agent rolling statistics, updated on every
// outcome report. One record exists per registered agent.
type PerformanceMetrics struct {
	AgentID               string        `json:"agent_id"`
	TasksCompleted        int           `json:"tasks_completed"`
	TasksFailed           int           `json:"tasks_failed"`
	SuccessRate           float64       `json:"success_rate"`
	AverageCompletionTime time.Duration `json:"average_completion_time"`
	CurrentLoad           int           `json:"current_load"`
	UpdatedAt             time.Time     `json:"updated_at"`
}

// TotalTasks returns the number of recorded outcomes for the agent.
func (m *PerformanceMetrics) TotalTasks() int {
	return m.TasksCompleted + m.TasksFailed
}

// OutcomeReport is what a caller submits once an externally executed task
// finishes. TaskContext carries the routing-time facts the pattern miner
// needs to categorize failures.
type OutcomeReport struct {
	AgentID        string        `json:"agent_id"`
	TaskID         string        `json:"task_id"`
	Success        bool          `json:"success"`
	CompletionTime time.Duration `json:"completion_time"`
	TaskContext    TaskContext   `json:"task_context"`
}

// TaskContext is the routing-time snapshot attached to an outcome report.
type TaskContext struct {
	TaskType       string        `json:"task_type"`
	RequiredSkills []Capability  `json:"required_skills"`
	LoadAtDispatch int           `json:"load_at_dispatch"`
	ReportedAt     time.Time     `json:"reported_at"`
	Deadline       *time.Time    `json:"deadline,omitempty"`
	Estimated      time.Duration `json:"estimated_duration,omitempty"`
}
