// Package router matches tasks to agents. Candidates are filtered on
// declared capabilities, scored on weighted proficiency minus a load
// penalty, and ranked with deterministic tie-breaking so identical
// snapshots always route identically.
package router

import (
	"errors"
	"fmt"
	"sort"

	"github.com/crewmesh/crewmesh/internal/registry"
	"github.com/crewmesh/crewmesh/internal/tracker"
	"github.com/crewmesh/crewmesh/pkg/types"
)

// ErrNoAgentAvailable is the normal outcome of routing when no registered
// agent covers the task's required capabilities with free capacity. Callers
// decide whether to queue, escalate, or drop.
var ErrNoAgentAvailable = errors.New("no agent available")

// DefaultLoadPenaltyWeight scales the linear part of the load penalty.
const DefaultLoadPenaltyWeight = 0.3

// satSteepness makes the penalty dominate proficiency differences once an
// agent runs above 80% utilization.
const (
	satKnee      = 0.8
	satSteepness = 4.0
)

// Decision describes a completed routing choice.
type Decision struct {
	TaskID     string  `json:"task_id"`
	AgentID    string  `json:"agent_id"`
	Score      float64 `json:"score"`
	LoadBefore int     `json:"load_before"`
	Considered int     `json:"considered"`
}

// Router scores registry agents against task requirements.
type Router struct {
	registry      *registry.Registry
	tracker       *tracker.Tracker
	penaltyWeight float64
}

// New creates a router. penaltyWeight <= 0 selects the default.
func New(reg *registry.Registry, trk *tracker.Tracker, penaltyWeight float64) *Router {
	if penaltyWeight <= 0 {
		penaltyWeight = DefaultLoadPenaltyWeight
	}
	return &Router{registry: reg, tracker: trk, penaltyWeight: penaltyWeight}
}

type candidate struct {
	agent   *types.Agent
	score   float64
	avgTime int64
}

// Route selects the best available agent for the task and atomically claims
// one unit of its capacity. Returns ErrNoAgentAvailable when no qualified
// agent has free capacity.
func (r *Router) Route(task *types.TaskRequest) (Decision, error) {
	if task == nil {
		return Decision{}, fmt.Errorf("task is required")
	}

	ranked := r.rank(task)
	if len(ranked) == 0 {
		return Decision{}, fmt.Errorf("route %s: %w", task.ID, ErrNoAgentAvailable)
	}

	// Claim capacity on the best candidate. A concurrent router may have
	// filled the agent between snapshot and claim; fall through the ranking
	// rather than failing the task.
	for _, c := range ranked {
		if _, err := r.registry.UpdateLoad(c.agent.ID, 1); err != nil {
			if errors.Is(err, registry.ErrCapacityExceeded) || errors.Is(err, registry.ErrUnknownAgent) {
				continue
			}
			return Decision{}, fmt.Errorf("route %s: %w", task.ID, err)
		}
		return Decision{
			TaskID:     task.ID,
			AgentID:    c.agent.ID,
			Score:      c.score,
			LoadBefore: c.agent.CurrentLoad,
			Considered: len(ranked),
		}, nil
	}
	return Decision{}, fmt.Errorf("route %s: %w", task.ID, ErrNoAgentAvailable)
}

// AssignBatch routes tasks in the order given. Each pick updates load
// before the next task is scored, so later tasks see earlier claims; there
// is no global reshuffling.
func (r *Router) AssignBatch(tasks []*types.TaskRequest) []BatchResult {
	results := make([]BatchResult, 0, len(tasks))
	for _, task := range tasks {
		decision, err := r.Route(task)
		results = append(results, BatchResult{Task: task, Decision: decision, Err: err})
	}
	return results
}

// BatchResult pairs a task with its routing outcome.
type BatchResult struct {
	Task     *types.TaskRequest
	Decision Decision
	Err      error
}

// rank returns qualified candidates with free capacity, best first.
func (r *Router) rank(task *types.TaskRequest) []candidate {
	agents := r.registry.List()

	var candidates []candidate
	for _, agent := range agents {
		if !agent.HasSkills(task.RequiredSkills) {
			continue
		}
		if agent.CurrentLoad >= agent.MaxConcurrent {
			continue
		}
		candidates = append(candidates, candidate{
			agent:   agent,
			score:   r.score(task, agent),
			avgTime: int64(r.tracker.GetMetrics(agent.ID).AverageCompletionTime),
		})
	}

	sort.Slice(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.score != b.score {
			return a.score > b.score
		}
		if a.agent.CurrentLoad != b.agent.CurrentLoad {
			return a.agent.CurrentLoad < b.agent.CurrentLoad
		}
		if a.avgTime != b.avgTime {
			return a.avgTime < b.avgTime
		}
		return a.agent.ID < b.agent.ID
	})
	return candidates
}

// score sums weighted proficiency over required capabilities and subtracts
// the load penalty.
func (r *Router) score(task *types.TaskRequest, agent *types.Agent) float64 {
	var sum float64
	for _, c := range task.RequiredSkills {
		sum += agent.Skills[c] * task.SkillWeight(c)
	}
	return sum - r.loadPenalty(agent.Utilization())
}

// loadPenalty grows linearly with utilization, then steeply past the knee
// so a nearly saturated agent loses to any qualified idle one.
func (r *Router) loadPenalty(utilization float64) float64 {
	penalty := r.penaltyWeight * utilization
	if utilization > satKnee {
		penalty += satSteepness * (utilization - satKnee)
	}
	return penalty
}
