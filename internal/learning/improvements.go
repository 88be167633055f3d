package learning

import (
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/crewmesh/crewmesh/internal/registry"
	"github.com/crewmesh/crewmesh/internal/tracker"
	"github.com/crewmesh/crewmesh/pkg/types"
)

// Stable improvement ids: re-running analysis updates these records in
// place instead of accumulating duplicates.
const (
	improvementIDCoverage    = "capability-coverage"
	improvementIDImbalance   = "load-imbalance"
	improvementIDCapacity    = "capacity-reduction"
	improvementIDReliability = "dominant-failure"
	improvementIDTrend       = "completion-trend"
)

// Rule thresholds for the generator.
const (
	minAgentsPerCapability = 2
	minBestProficiency     = 0.7
	dominantFailureFloor   = 5
	trendDegradation       = 1.2
)

// GeneratorTunables are the hot-reloadable analysis thresholds.
type GeneratorTunables struct {
	VarianceThreshold float64
	LowUtilization    float64
	TrendWindow       int
}

// ImprovementStore persists proposals by stable id.
type ImprovementStore interface {
	SaveImprovement(imp *types.ArchitectureImprovement) error
}

// Generator derives architecture improvement proposals from registry,
// tracker, and miner state. Generation is deterministic for a given state:
// no randomness, stable ordering.
type Generator struct {
	registry *registry.Registry
	tracker  *tracker.Tracker
	miner    *Miner
	store    ImprovementStore

	mu       sync.Mutex
	tunables GeneratorTunables
	now      func() time.Time
}

// NewGenerator creates a generator. store may be nil.
func NewGenerator(reg *registry.Registry, trk *tracker.Tracker, miner *Miner, store ImprovementStore, tunables GeneratorTunables) *Generator {
	if tunables.VarianceThreshold <= 0 {
		tunables.VarianceThreshold = 0.15
	}
	if tunables.LowUtilization <= 0 {
		tunables.LowUtilization = 0.2
	}
	if tunables.TrendWindow <= 0 {
		tunables.TrendWindow = 20
	}
	return &Generator{
		registry: reg,
		tracker:  trk,
		miner:    miner,
		store:    store,
		tunables: tunables,
		now:      time.Now,
	}
}

// SetTunables swaps the analysis thresholds; used by config hot-reload.
func (g *Generator) SetTunables(t GeneratorTunables) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if t.VarianceThreshold > 0 {
		g.tunables.VarianceThreshold = t.VarianceThreshold
	}
	if t.LowUtilization > 0 {
		g.tunables.LowUtilization = t.LowUtilization
	}
	if t.TrendWindow > 0 {
		g.tunables.TrendWindow = t.TrendWindow
	}
}

// Generate runs every rule once and returns the proposals, highest
// priority first. Each result replaces the stored record with the same id.
func (g *Generator) Generate() []types.ArchitectureImprovement {
	g.mu.Lock()
	tunables := g.tunables
	now := g.now()
	g.mu.Unlock()

	var improvements []types.ArchitectureImprovement
	if imp, ok := g.capabilityCoverage(now); ok {
		improvements = append(improvements, imp)
	}
	if imp, ok := g.loadProfile(tunables, now); ok {
		improvements = append(improvements, imp)
	}
	if imp, ok := g.dominantFailure(now); ok {
		improvements = append(improvements, imp)
	}
	if imp, ok := g.completionTrend(tunables, now); ok {
		improvements = append(improvements, imp)
	}

	sort.Slice(improvements, func(i, j int) bool {
		if improvements[i].Priority != improvements[j].Priority {
			return improvements[i].Priority > improvements[j].Priority
		}
		return improvements[i].ID < improvements[j].ID
	})

	if g.store != nil {
		for i := range improvements {
			if err := g.store.SaveImprovement(&improvements[i]); err != nil {
				log.Printf("[Improvements] Failed to persist %s: %v", improvements[i].ID, err)
			}
		}
	}
	return improvements
}

// capabilityCoverage flags capabilities held by fewer than two agents or
// whose best proficiency is weak.
func (g *Generator) capabilityCoverage(now time.Time) (types.ArchitectureImprovement, bool) {
	agents := g.registry.List()

	holders := make(map[types.Capability]int)
	best := make(map[types.Capability]float64)
	for _, a := range agents {
		for c, p := range a.Skills {
			holders[c]++
			if p > best[c] {
				best[c] = p
			}
		}
	}

	var weak []string
	for c, n := range holders {
		if n < minAgentsPerCapability || best[c] < minBestProficiency {
			weak = append(weak, string(c))
		}
	}
	if len(weak) == 0 {
		return types.ArchitectureImprovement{}, false
	}
	sort.Strings(weak)

	return types.ArchitectureImprovement{
		ID:       improvementIDCoverage,
		Category: types.ImprovementCapability,
		Title:    "Broaden thin capability coverage",
		Rationale: fmt.Sprintf(
			"capabilities with fewer than %d qualified agents or best proficiency under %.1f: %s",
			minAgentsPerCapability, minBestProficiency, strings.Join(weak, ", ")),
		Benefits: []string{
			"removes single points of failure in routing",
			"reduces no-agent-available outcomes for these capabilities",
		},
		Effort:     "medium",
		Priority:   types.PriorityHigh,
		Timeline:   "1-2 weeks",
		Confidence: 0.8,
		Components: weak,
		Generated:  now,
	}, true
}

// loadProfile emits a load-balancing proposal when utilization variance is
// high, or a capacity-reduction proposal when the fleet idles.
func (g *Generator) loadProfile(tunables GeneratorTunables, now time.Time) (types.ArchitectureImprovement, bool) {
	agents := g.registry.List()
	if len(agents) < 2 {
		return types.ArchitectureImprovement{}, false
	}

	var sum float64
	utils := make([]float64, len(agents))
	for i, a := range agents {
		utils[i] = a.Utilization()
		sum += utils[i]
	}
	mean := sum / float64(len(utils))

	var variance float64
	for _, u := range utils {
		variance += (u - mean) * (u - mean)
	}
	variance /= float64(len(utils))

	switch {
	case variance > tunables.VarianceThreshold:
		return types.ArchitectureImprovement{
			ID:       improvementIDImbalance,
			Category: types.ImprovementLoadBalance,
			Title:    "Rebalance task load across agents",
			Rationale: fmt.Sprintf("utilization variance %.3f exceeds threshold %.3f",
				variance, tunables.VarianceThreshold),
			Benefits:   []string{"evens wear across the fleet", "lowers queueing on hot agents"},
			Effort:     "low",
			Priority:   types.PriorityMedium,
			Timeline:   "days",
			Confidence: 0.7,
			Components: []string{"router"},
			Generated:  now,
		}, true
	case mean < tunables.LowUtilization:
		return types.ArchitectureImprovement{
			ID:       improvementIDCapacity,
			Category: types.ImprovementCapacity,
			Title:    "Reduce provisioned agent capacity",
			Rationale: fmt.Sprintf("mean utilization %.1f%% is below the %.1f%% floor",
				mean*100, tunables.LowUtilization*100),
			Benefits:   []string{"frees idle capacity", "cuts operating cost"},
			Effort:     "low",
			Priority:   types.PriorityLow,
			Timeline:   "days",
			Confidence: 0.6,
			Components: []string{"registry"},
			Generated:  now,
		}, true
	}
	return types.ArchitectureImprovement{}, false
}

// dominantFailure escalates the most frequent failure category once it
// clears the floor.
func (g *Generator) dominantFailure(now time.Time) (types.ArchitectureImprovement, bool) {
	category, total, ok := g.miner.DominantFailure()
	if !ok || total <= dominantFailureFloor {
		return types.ArchitectureImprovement{}, false
	}

	return types.ArchitectureImprovement{
		ID:       improvementIDReliability,
		Category: types.ImprovementReliability,
		Title:    fmt.Sprintf("Address recurring %s failures", category),
		Rationale: fmt.Sprintf("%s is the dominant failure category with %d occurrences",
			category, total),
		Benefits:   category.Mitigations(),
		Effort:     "high",
		Priority:   types.PriorityCritical,
		Timeline:   "immediate",
		Confidence: math.Min(1.0, float64(total)/impactFrequency),
		Components: []string{"tracker", "learning"},
		Generated:  now,
	}, true
}

// completionTrend flags a >20% degradation of mean completion time between
// the two most recent outcome windows.
func (g *Generator) completionTrend(tunables GeneratorTunables, now time.Time) (types.ArchitectureImprovement, bool) {
	recent, previous, ok := g.tracker.CompletionTrend(tunables.TrendWindow)
	if !ok || previous <= 0 {
		return types.ArchitectureImprovement{}, false
	}
	if float64(recent) <= float64(previous)*trendDegradation {
		return types.ArchitectureImprovement{}, false
	}

	return types.ArchitectureImprovement{
		ID:       improvementIDTrend,
		Category: types.ImprovementPerformance,
		Title:    "Investigate completion time degradation",
		Rationale: fmt.Sprintf("mean completion time rose from %s to %s over the last %d outcomes",
			previous.Round(time.Millisecond), recent.Round(time.Millisecond), tunables.TrendWindow),
		Benefits:   []string{"restores completion time to the prior baseline"},
		Effort:     "medium",
		Priority:   types.PriorityHigh,
		Timeline:   "1 week",
		Confidence: 0.7,
		Components: []string{"tracker", "router"},
		Generated:  now,
	}, true
}
