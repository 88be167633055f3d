package types

import "time"

// PatternType discriminates learned task patterns.
type PatternType string

const (
	PatternTypeSuccess PatternType = "success"
	PatternTypeFailure PatternType = "failure"
	PatternTypeSkill   PatternType = "skill"
	PatternTypeTiming  PatternType = "timing"
	PatternTypeLoad    PatternType = "load"
)

// MaxPatternExamples bounds the example-id list carried by a pattern.
const MaxPatternExamples = 10

// TaskPattern is a confidence-weighted correlation between a condition
// (a capability set, or an agent/task-type pair) and successful outcomes.
// Confidence grows with sample size, is capped at 1.0, and decays when the
// pattern goes unreinforced for 30 days.
type TaskPattern struct {
	ID                    string        `json:"id"`
	Type                  PatternType   `json:"type"`
	Condition             string        `json:"condition"`
	SampleSize            int           `json:"sample_size"`
	Confidence            float64       `json:"confidence"`
	SuccessRate           float64       `json:"success_rate"`
	AverageCompletionTime time.Duration `json:"average_completion_time"`
	Examples              []string      `json:"examples,omitempty"`
	FirstObserved         time.Time     `json:"first_observed"`
	LastObserved          time.Time     `json:"last_observed"`
}

// FailureCategory is the closed set of failure classifications.
type FailureCategory string

const (
	FailureSkillMismatch      FailureCategory = "skill_mismatch"
	FailureOverload           FailureCategory = "overload"
	FailureTimeout            FailureCategory = "timeout"
	FailureQualityIssue       FailureCategory = "quality_issue"
	FailureDependency         FailureCategory = "dependency_failure"
	FailureResourceConstraint FailureCategory = "resource_constraint"
	FailureCoordination       FailureCategory = "coordination_failure"
)

// Mitigations returns the standing mitigation suggestions for a category.
func (c FailureCategory) Mitigations() []string {
	switch c {
	case FailureSkillMismatch:
		return []string{
			"retrain or re-rate the agent's declared capabilities",
			"tighten routing so the capability filter matches declarations",
		}
	case FailureOverload:
		return []string{
			"raise agent capacity or register additional agents",
			"increase the load penalty weight in routing",
		}
	case FailureTimeout:
		return []string{
			"review task sizing against estimated durations",
			"split long-running task types into smaller units",
		}
	case FailureQualityIssue:
		return []string{"sample failed outputs and add validation to the task type"}
	case FailureDependency:
		return []string{"add health checks for upstream dependencies"}
	case FailureResourceConstraint:
		return []string{"provision additional execution resources"}
	case FailureCoordination:
		return []string{"audit inter-agent handoffs for this task type"}
	default:
		return nil
	}
}

// FailurePattern aggregates failures of one category for one agent. Impact
// grows with frequency and is capped at 1.0.
type FailurePattern struct {
	ID           string          `json:"id"`
	Category     FailureCategory `json:"category"`
	AgentID      string          `json:"agent_id"`
	Frequency    int             `json:"frequency"`
	ImpactScore  float64         `json:"impact_score"`
	Skills       []Capability    `json:"skills,omitempty"`
	Mitigations  []string        `json:"mitigations,omitempty"`
	Examples     []string        `json:"examples,omitempty"`
	LastObserved time.Time       `json:"last_observed"`
}

// ImprovementCategory classifies generated improvement proposals.
type ImprovementCategory string

const (
	ImprovementCapability  ImprovementCategory = "capability_coverage"
	ImprovementLoadBalance ImprovementCategory = "load_balancing"
	ImprovementCapacity    ImprovementCategory = "capacity"
	ImprovementReliability ImprovementCategory = "reliability"
	ImprovementPerformance ImprovementCategory = "performance"
)

// ArchitectureImprovement is a ranked, structured proposal emitted by the
// improvement generator. ID is stable across runs so re-generation updates
// the stored record instead of duplicating it.
type ArchitectureImprovement struct {
	ID         string              `json:"id"`
	Category   ImprovementCategory `json:"category"`
	Title      string              `json:"title"`
	Rationale  string              `json:"rationale"`
	Benefits   []string            `json:"benefits,omitempty"`
	Effort     string              `json:"effort"`
	Priority   Priority            `json:"priority"`
	Timeline   string              `json:"timeline"`
	Confidence float64             `json:"confidence"`
	Components []string            `json:"components,omitempty"`
	Generated  time.Time           `json:"generated"`
}
