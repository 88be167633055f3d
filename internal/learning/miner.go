// Package learning mines completion history for statistically supported
// patterns and turns aggregate statistics into ranked architecture
// improvement proposals.
package learning

import (
	"fmt"
	"log"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/crewmesh/crewmesh/pkg/types"
)

const (
	// confidenceSamples is the sample count at which a pattern reaches
	// full confidence.
	confidenceSamples = 10

	// impactFrequency is the failure count at which impact saturates.
	impactFrequency = 20

	// decayPeriod and decayFactor govern confidence decay for patterns
	// that go unreinforced.
	decayPeriod = 30 * 24 * time.Hour
	decayFactor = 0.9

	// Prune thresholds: both must hold for a pattern to be dropped.
	pruneConfidence = 0.1
	pruneSamples    = 3
)

// Observation is one completed-task record fed to the miner.
type Observation struct {
	TaskID         string
	AgentID        string
	TaskType       string
	RequiredSkills []types.Capability
	AgentSkills    map[types.Capability]float64
	LoadAtDispatch int
	MaxConcurrent  int
	Success        bool
	CompletionTime time.Duration
}

// Store persists patterns. All writes are best-effort relative to the
// observation itself: a failure is logged, never surfaced.
type Store interface {
	SaveTaskPattern(p *types.TaskPattern) error
	DeleteTaskPattern(id string) error
	SaveFailurePattern(p *types.FailurePattern) error
}

// Miner incrementally builds confidence-weighted task and failure patterns
// from outcome observations.
type Miner struct {
	mu               sync.Mutex
	patterns         map[string]*types.TaskPattern
	failures         map[string]*types.FailurePattern
	timeoutThreshold time.Duration
	store            Store
	now              func() time.Time
}

// NewMiner creates a miner. store may be nil; timeoutThreshold classifies
// slow failures as timeouts.
func NewMiner(store Store, timeoutThreshold time.Duration) *Miner {
	if timeoutThreshold <= 0 {
		timeoutThreshold = 5 * time.Minute
	}
	return &Miner{
		patterns:         make(map[string]*types.TaskPattern),
		failures:         make(map[string]*types.FailurePattern),
		timeoutThreshold: timeoutThreshold,
		store:            store,
		now:              time.Now,
	}
}

// Restore seeds the miner from persisted patterns at startup.
func (m *Miner) Restore(patterns map[string]*types.TaskPattern, failures map[string]*types.FailurePattern) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range patterns {
		cp := *p
		m.patterns[id] = &cp
	}
	for id, p := range failures {
		cp := *p
		m.failures[id] = &cp
	}
}

// SetTimeoutThreshold adjusts the timeout classification boundary; used by
// config hot-reload.
func (m *Miner) SetTimeoutThreshold(d time.Duration) {
	if d <= 0 {
		return
	}
	m.mu.Lock()
	m.timeoutThreshold = d
	m.mu.Unlock()
}

// Observe folds one outcome into the pattern set. Success reinforces the
// capability-set pattern and the (agent, task type) pattern; failure is
// categorized and aggregated per (category, agent).
func (m *Miner) Observe(obs Observation) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if obs.Success {
		now := m.now()
		m.reinforce(
			"caps:"+types.SkillSetKey(obs.RequiredSkills),
			types.PatternTypeSuccess,
			types.SkillSetKey(obs.RequiredSkills),
			obs, now)
		m.reinforce(
			fmt.Sprintf("agent:%s:%s", obs.AgentID, obs.TaskType),
			types.PatternTypeSkill,
			fmt.Sprintf("%s/%s", obs.AgentID, obs.TaskType),
			obs, now)
		return
	}

	m.recordFailure(obs)
}

// reinforce upserts one success pattern under the miner lock.
func (m *Miner) reinforce(id string, ptype types.PatternType, condition string, obs Observation, now time.Time) {
	p, ok := m.patterns[id]
	if !ok {
		p = &types.TaskPattern{
			ID:            id,
			Type:          ptype,
			Condition:     condition,
			SuccessRate:   1.0,
			FirstObserved: now,
		}
		m.patterns[id] = p
	}

	p.SampleSize++
	p.Confidence = confidenceFor(p.SampleSize, 0)
	p.AverageCompletionTime += (obs.CompletionTime - p.AverageCompletionTime) / time.Duration(p.SampleSize)
	p.LastObserved = now
	if len(p.Examples) < types.MaxPatternExamples {
		p.Examples = append(p.Examples, obs.TaskID)
	}

	if m.store != nil {
		if err := m.store.SaveTaskPattern(p); err != nil {
			log.Printf("[Miner] Failed to persist pattern %s: %v", id, err)
		}
	}
}

// recordFailure categorizes and upserts one failure pattern under the
// miner lock.
func (m *Miner) recordFailure(obs Observation) {
	category := m.categorize(obs)
	id := fmt.Sprintf("fail:%s:%s", category, obs.AgentID)

	p, ok := m.failures[id]
	if !ok {
		p = &types.FailurePattern{
			ID:          id,
			Category:    category,
			AgentID:     obs.AgentID,
			Skills:      obs.RequiredSkills,
			Mitigations: category.Mitigations(),
		}
		m.failures[id] = p
	}

	p.Frequency++
	p.ImpactScore = math.Min(1.0, float64(p.Frequency)/impactFrequency)
	p.LastObserved = m.now()
	if len(p.Examples) < types.MaxPatternExamples {
		p.Examples = append(p.Examples, obs.TaskID)
	}

	if m.store != nil {
		if err := m.store.SaveFailurePattern(p); err != nil {
			log.Printf("[Miner] Failed to persist failure pattern %s: %v", id, err)
		}
	}
}

// categorize maps a failed observation to a failure category. The order
// matters: a capability gap explains the failure before load or timing do,
// and quality_issue is the deliberately weak catch-all.
func (m *Miner) categorize(obs Observation) types.FailureCategory {
	for _, c := range obs.RequiredSkills {
		if _, ok := obs.AgentSkills[c]; !ok {
			return types.FailureSkillMismatch
		}
	}
	if obs.MaxConcurrent > 0 && obs.LoadAtDispatch >= obs.MaxConcurrent {
		return types.FailureOverload
	}
	if obs.CompletionTime > m.timeoutThreshold {
		return types.FailureTimeout
	}
	return types.FailureQualityIssue
}

// confidenceFor derives the idempotent confidence value: sample growth
// capped at 1.0, decayed per full unreinforced period.
func confidenceFor(sampleSize int, decayPeriods int) float64 {
	c := math.Min(1.0, float64(sampleSize)/confidenceSamples)
	for i := 0; i < decayPeriods; i++ {
		c *= decayFactor
	}
	return c
}

// Sweep re-derives confidence for unreinforced patterns and prunes the
// ones that have faded below usefulness. Runs on a cron schedule.
func (m *Miner) Sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	for id, p := range m.patterns {
		periods := int(now.Sub(p.LastObserved) / decayPeriod)
		if periods < 0 {
			periods = 0
		}
		p.Confidence = confidenceFor(p.SampleSize, periods)

		if p.Confidence < pruneConfidence && p.SampleSize < pruneSamples {
			delete(m.patterns, id)
			if m.store != nil {
				if err := m.store.DeleteTaskPattern(id); err != nil {
					log.Printf("[Miner] Failed to delete pruned pattern %s: %v", id, err)
				}
			}
			continue
		}
		if m.store != nil {
			if err := m.store.SaveTaskPattern(p); err != nil {
				log.Printf("[Miner] Failed to persist pattern %s: %v", id, err)
			}
		}
	}
}

// TaskPatterns returns copies of all task patterns, highest confidence
// first.
func (m *Miner) TaskPatterns() []types.TaskPattern {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.TaskPattern, 0, len(m.patterns))
	for _, p := range m.patterns {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// FailurePatterns returns copies of all failure patterns, highest impact
// first.
func (m *Miner) FailurePatterns() []types.FailurePattern {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]types.FailurePattern, 0, len(m.failures))
	for _, p := range m.failures {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].ImpactScore != out[j].ImpactScore {
			return out[i].ImpactScore > out[j].ImpactScore
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DominantFailure returns the failure category with the highest total
// frequency across agents, with that total. ok is false when no failures
// have been recorded.
func (m *Miner) DominantFailure() (types.FailureCategory, int, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	totals := make(map[types.FailureCategory]int)
	for _, p := range m.failures {
		totals[p.Category] += p.Frequency
	}
	if len(totals) == 0 {
		return "", 0, false
	}

	categories := make([]types.FailureCategory, 0, len(totals))
	for c := range totals {
		categories = append(categories, c)
	}
	// Deterministic winner when totals tie.
	sort.Slice(categories, func(i, j int) bool {
		if totals[categories[i]] != totals[categories[j]] {
			return totals[categories[i]] > totals[categories[j]]
		}
		return categories[i] < categories[j]
	})
	return categories[0], totals[categories[0]], true
}

// Insights summarizes learning state for the external insights surface.
func (m *Miner) Insights(successRate float64, totalOutcomes int) types.LearningInsights {
	patterns := m.TaskPatterns()
	failures := m.FailurePatterns()

	health := types.HealthUnknown
	switch {
	case totalOutcomes == 0:
	case successRate >= 0.9:
		health = types.HealthGood
	case successRate >= 0.5:
		health = types.HealthDegraded
	default:
		health = types.HealthCritical
	}

	var actions []string
	seen := make(map[string]struct{})
	for _, f := range failures {
		if f.ImpactScore < 0.2 {
			continue
		}
		for _, mit := range f.Mitigations {
			if _, dup := seen[mit]; dup {
				continue
			}
			seen[mit] = struct{}{}
			actions = append(actions, mit)
		}
	}

	return types.LearningInsights{
		Health:             health,
		SuccessRate:        successRate,
		PatternsLearned:    len(patterns),
		FailurePatterns:    len(failures),
		RecommendedActions: actions,
	}
}
