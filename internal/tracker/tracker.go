// Package tracker maintains per-agent rolling performance statistics. It is
// the single source of truth the router reads for completion-time
// tie-breaking and the learning system reads for success rates.
package tracker

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/crewmesh/crewmesh/internal/registry"
	"github.com/crewmesh/crewmesh/pkg/types"
)

// maxRecentOutcomes bounds the rolling window kept for trend analysis.
const maxRecentOutcomes = 200

// Store persists metrics records. Persistence is best-effort: a write
// failure is logged and never blocks outcome reporting.
type Store interface {
	SaveMetrics(m *types.PerformanceMetrics) error
}

type outcomeSample struct {
	completionTime time.Duration
	success        bool
	recordedAt     time.Time
}

// Tracker records task outcomes and keeps per-agent metrics current.
type Tracker struct {
	mu       sync.RWMutex
	metrics  map[string]*types.PerformanceMetrics
	recent   []outcomeSample
	registry *registry.Registry
	store    Store
}

// New creates a tracker bound to the registry whose load counters it
// decrements on every outcome. store may be nil.
func New(reg *registry.Registry, store Store) *Tracker {
	return &Tracker{
		metrics:  make(map[string]*types.PerformanceMetrics),
		registry: reg,
		store:    store,
	}
}

// Restore seeds metrics from persisted records at startup. Load counters
// restart at zero alongside the registry.
func (t *Tracker) Restore(metrics map[string]*types.PerformanceMetrics) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for id, m := range metrics {
		cp := *m
		cp.CurrentLoad = 0
		t.metrics[id] = &cp
	}
}

// RecordOutcome registers a task outcome for an agent: increments the
// completed or failed counter, recomputes the success rate, folds the
// completion time into the running mean, and releases one unit of the
// agent's load.
func (t *Tracker) RecordOutcome(agentID string, success bool, completionTime time.Duration) error {
	if _, err := t.registry.Get(agentID); err != nil {
		return fmt.Errorf("record outcome: %w", err)
	}

	load, err := t.registry.UpdateLoad(agentID, -1)
	if err != nil {
		// Decrements floor at zero and cannot exceed capacity, so any
		// error here means the agent vanished mid-report.
		return fmt.Errorf("record outcome: %w", err)
	}

	t.mu.Lock()
	m, ok := t.metrics[agentID]
	if !ok {
		m = &types.PerformanceMetrics{AgentID: agentID}
		t.metrics[agentID] = m
	}

	if success {
		m.TasksCompleted++
	} else {
		m.TasksFailed++
	}
	total := m.TasksCompleted + m.TasksFailed
	m.SuccessRate = float64(m.TasksCompleted) / float64(total)

	// Running mean: avg' = avg + (x - avg) / n
	m.AverageCompletionTime += (completionTime - m.AverageCompletionTime) / time.Duration(total)
	m.CurrentLoad = load
	m.UpdatedAt = time.Now()

	t.recent = append(t.recent, outcomeSample{
		completionTime: completionTime,
		success:        success,
		recordedAt:     m.UpdatedAt,
	})
	if len(t.recent) > maxRecentOutcomes {
		t.recent = t.recent[len(t.recent)-maxRecentOutcomes:]
	}

	snapshot := *m
	t.mu.Unlock()

	if t.store != nil {
		if err := t.store.SaveMetrics(&snapshot); err != nil {
			log.Printf("[Tracker] Failed to persist metrics for %s: %v", agentID, err)
		}
	}
	return nil
}

// GetMetrics returns a copy of an agent's metrics. Agents with no recorded
// outcomes yet get a zero-valued record.
func (t *Tracker) GetMetrics(agentID string) types.PerformanceMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	if m, ok := t.metrics[agentID]; ok {
		return *m
	}
	return types.PerformanceMetrics{AgentID: agentID}
}

// AllMetrics returns a copy of every agent's metrics keyed by id.
func (t *Tracker) AllMetrics() map[string]types.PerformanceMetrics {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]types.PerformanceMetrics, len(t.metrics))
	for id, m := range t.metrics {
		out[id] = *m
	}
	return out
}

// SystemSuccessRate returns the success rate across all recorded outcomes,
// and the total outcome count.
func (t *Tracker) SystemSuccessRate() (float64, int) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var completed, total int
	for _, m := range t.metrics {
		completed += m.TasksCompleted
		total += m.TasksCompleted + m.TasksFailed
	}
	if total == 0 {
		return 0, 0
	}
	return float64(completed) / float64(total), total
}

// CompletionTrend returns the mean completion time of the most recent n
// outcomes and of the n before those. ok is false until 2n outcomes exist.
func (t *Tracker) CompletionTrend(n int) (recent, previous time.Duration, ok bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if n <= 0 || len(t.recent) < 2*n {
		return 0, 0, false
	}

	mean := func(samples []outcomeSample) time.Duration {
		var sum time.Duration
		for _, s := range samples {
			sum += s.completionTime
		}
		return sum / time.Duration(len(samples))
	}

	tail := t.recent[len(t.recent)-n:]
	prior := t.recent[len(t.recent)-2*n : len(t.recent)-n]
	return mean(tail), mean(prior), true
}
