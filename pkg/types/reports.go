package types

import "time"

// AgentWorkload is the per-agent slice of a workload report.
type AgentWorkload struct {
	AgentID     string  `json:"agent_id"`
	Name        string  `json:"name"`
	Utilization float64 `json:"utilization"` // percent, 0-100
	Available   bool    `json:"available"`
	CurrentLoad int     `json:"current_load"`
	Capacity    int     `json:"capacity"`
}

// WorkloadReport summarizes utilization across all registered agents.
type WorkloadReport struct {
	Agents     map[string]AgentWorkload `json:"agents"`
	SystemLoad float64                  `json:"system_load"` // percent, 0-100
}

// HealthStatus grades overall learning-system health.
type HealthStatus string

const (
	HealthGood     HealthStatus = "good"
	HealthDegraded HealthStatus = "degraded"
	HealthCritical HealthStatus = "critical"
	HealthUnknown  HealthStatus = "unknown"
)

// AuditKind names the class of event an audit record describes.
type AuditKind string

const (
	AuditTaskRouted   AuditKind = "task_routed"
	AuditTaskRejected AuditKind = "task_rejected"
	AuditOutcome      AuditKind = "outcome"
	AuditAgentChange  AuditKind = "agent_change"
	AuditImprovement  AuditKind = "improvement"
	AuditConfigReload AuditKind = "config_reload"
)

// AuditEvent is one entry in the decision audit trail.
type AuditEvent struct {
	ID       string            `json:"id"`
	Recorded time.Time         `json:"recorded_at"`
	Kind     AuditKind         `json:"kind"`
	TaskID   string            `json:"task_id,omitempty"`
	AgentID  string            `json:"agent_id,omitempty"`
	Detail   map[string]string `json:"detail,omitempty"`
}

// LearningInsights is the summary surface over mined patterns and tracker
// statistics.
type LearningInsights struct {
	Health             HealthStatus `json:"health_status"`
	SuccessRate        float64      `json:"success_rate"`
	PatternsLearned    int          `json:"patterns_learned"`
	FailurePatterns    int          `json:"failure_patterns"`
	RecommendedActions []string     `json:"recommended_actions,omitempty"`
}
