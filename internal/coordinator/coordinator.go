// Package coordinator wires the registry, router, tracker, messaging
// substrate, and learning system into the single surface the API and CLI
// talk to.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/robfig/cron"

	"github.com/crewmesh/crewmesh/internal/audit"
	"github.com/crewmesh/crewmesh/internal/database"
	"github.com/crewmesh/crewmesh/internal/learning"
	"github.com/crewmesh/crewmesh/internal/messaging"
	"github.com/crewmesh/crewmesh/internal/metrics"
	"github.com/crewmesh/crewmesh/internal/registry"
	"github.com/crewmesh/crewmesh/internal/router"
	"github.com/crewmesh/crewmesh/internal/tracker"
	"github.com/crewmesh/crewmesh/pkg/config"
	"github.com/crewmesh/crewmesh/pkg/types"
)

// staleDispatchAfter bounds how long a routed task may stay unreported
// before its capacity claim is released.
const staleDispatchAfter = 24 * time.Hour

// dispatch is the routing-time snapshot kept until the outcome arrives.
type dispatch struct {
	agentID        string
	taskType       string
	requiredSkills []types.Capability
	loadAtDispatch int
	deadline       *time.Time
	estimated      time.Duration
	dispatchedAt   time.Time
}

// Coordinator owns the live subsystem graph.
type Coordinator struct {
	cfg       *config.Config
	db        *database.Database
	registry  *registry.Registry
	tracker   *tracker.Tracker
	router    *router.Router
	substrate *messaging.Substrate
	miner     *learning.Miner
	generator *learning.Generator
	trail     *audit.Trail
	metrics   *metrics.Metrics
	cron      *cron.Cron

	mu         sync.Mutex
	dispatches map[string]dispatch
	now        func() time.Time
}

// New assembles a coordinator. db may be nil for a purely in-memory
// instance; substrate is required.
func New(cfg *config.Config, db *database.Database, substrate *messaging.Substrate) (*Coordinator, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if substrate == nil {
		return nil, fmt.Errorf("messaging substrate is required")
	}

	var regStore registry.Store
	var trkStore tracker.Store
	var minerStore learning.Store
	var genStore learning.ImprovementStore
	var auditStore audit.Store
	if db != nil {
		regStore, trkStore, minerStore, genStore, auditStore = db, db, db, db, db
	}

	reg := registry.New(regStore)
	trk := tracker.New(reg, trkStore)
	miner := learning.NewMiner(minerStore, cfg.Learning.TimeoutThreshold)
	gen := learning.NewGenerator(reg, trk, miner, genStore, learning.GeneratorTunables{
		VarianceThreshold: cfg.Learning.VarianceThreshold,
		LowUtilization:    cfg.Learning.LowUtilization,
		TrendWindow:       cfg.Learning.TrendWindow,
	})

	c := &Coordinator{
		cfg:        cfg,
		db:         db,
		registry:   reg,
		tracker:    trk,
		router:     router.New(reg, trk, cfg.Routing.LoadPenaltyWeight),
		substrate:  substrate,
		miner:      miner,
		generator:  gen,
		trail:      audit.New(auditStore),
		metrics:    metrics.NewMetrics(),
		dispatches: make(map[string]dispatch),
		now:        time.Now,
	}

	if db != nil {
		if err := c.restore(); err != nil {
			return nil, err
		}
	}

	c.cron = cron.New()
	if err := c.cron.AddFunc(cfg.Learning.SweepSchedule, c.sweep); err != nil {
		return nil, fmt.Errorf("invalid sweep schedule %q: %w", cfg.Learning.SweepSchedule, err)
	}
	c.cron.Start()

	return c, nil
}

// restore seeds the in-memory components from the durable store.
func (c *Coordinator) restore() error {
	agents, agentMetrics, err := c.db.LoadAgents()
	if err != nil {
		return fmt.Errorf("failed to restore agents: %w", err)
	}
	c.registry.Restore(agents)
	c.tracker.Restore(agentMetrics)

	patterns, err := c.db.LoadTaskPatterns()
	if err != nil {
		return fmt.Errorf("failed to restore task patterns: %w", err)
	}
	failures, err := c.db.LoadFailurePatterns()
	if err != nil {
		return fmt.Errorf("failed to restore failure patterns: %w", err)
	}
	c.miner.Restore(patterns, failures)

	c.metrics.AgentsRegistered.Set(float64(c.registry.Count()))
	log.Printf("[Coordinator] Restored %d agents, %d task patterns, %d failure patterns",
		len(agents), len(patterns), len(failures))
	return nil
}

// sweep runs the scheduled maintenance pass: pattern confidence decay and
// stale dispatch cleanup.
func (c *Coordinator) sweep() {
	c.miner.Sweep()

	cutoff := c.now().Add(-staleDispatchAfter)
	c.mu.Lock()
	var stale []string
	for taskID, d := range c.dispatches {
		if d.dispatchedAt.Before(cutoff) {
			stale = append(stale, taskID)
		}
	}
	for _, taskID := range stale {
		d := c.dispatches[taskID]
		delete(c.dispatches, taskID)
		if _, err := c.registry.UpdateLoad(d.agentID, -1); err != nil {
			log.Printf("[Coordinator] Failed to release stale claim for task %s: %v", taskID, err)
		}
		c.trail.Record(types.AuditOutcome, taskID, d.agentID,
			map[string]string{"result": "expired"})
	}
	c.mu.Unlock()

	if len(stale) > 0 {
		log.Printf("[Coordinator] Released %d stale dispatch claims", len(stale))
	}
	c.publishGauges()
}

// publishGauges refreshes the per-agent load gauges from registry state.
func (c *Coordinator) publishGauges() {
	agents := c.registry.List()
	c.metrics.AgentsRegistered.Set(float64(len(agents)))
	for _, a := range agents {
		c.metrics.SetAgentLoad(a.ID, a.CurrentLoad, a.Utilization())
	}
	c.metrics.PatternsActive.WithLabelValues("task").Set(float64(len(c.miner.TaskPatterns())))
	c.metrics.PatternsActive.WithLabelValues("failure").Set(float64(len(c.miner.FailurePatterns())))
}

// ApplyLearningConfig swaps the hot-reloadable learning tunables. Wired to
// the config file watcher.
func (c *Coordinator) ApplyLearningConfig(lc config.LearningConfig) {
	c.miner.SetTimeoutThreshold(lc.TimeoutThreshold)
	c.generator.SetTunables(learning.GeneratorTunables{
		VarianceThreshold: lc.VarianceThreshold,
		LowUtilization:    lc.LowUtilization,
		TrendWindow:       lc.TrendWindow,
	})
	c.trail.Record(types.AuditConfigReload, "", "", map[string]string{
		"timeout_threshold": lc.TimeoutThreshold.String(),
		"trend_window":      strconv.Itoa(lc.TrendWindow),
	})
	log.Printf("[Coordinator] Applied learning config reload")
}

// Trail exposes the audit trail for query endpoints and event streaming.
func (c *Coordinator) Trail() *audit.Trail { return c.trail }

// Close stops background work and shuts the messaging substrate down.
func (c *Coordinator) Close() error {
	c.cron.Stop()
	return c.substrate.Close()
}

// RegisterAgent validates and registers (or re-registers) an agent.
func (c *Coordinator) RegisterAgent(agent *types.Agent) error {
	if err := c.registry.Register(agent); err != nil {
		return err
	}
	c.trail.Record(types.AuditAgentChange, "", agent.ID,
		map[string]string{"action": "registered"})
	c.publishGauges()
	log.Printf("[Coordinator] Registered agent %s (capacity %d, %d skills)",
		agent.ID, agent.MaxConcurrent, len(agent.Skills))
	return nil
}

// DeregisterAgent removes an agent from the routing pool.
func (c *Coordinator) DeregisterAgent(id string) error {
	if err := c.registry.Deregister(id); err != nil {
		return err
	}
	c.trail.Record(types.AuditAgentChange, "", id,
		map[string]string{"action": "deregistered"})
	c.publishGauges()
	return nil
}

// GetAgent returns a snapshot of one registered agent.
func (c *Coordinator) GetAgent(id string) (*types.Agent, error) {
	return c.registry.Get(id)
}

// ListAgents returns snapshots of all registered agents.
func (c *Coordinator) ListAgents() []*types.Agent {
	return c.registry.List()
}

// AgentMetrics returns the rolling performance record for one agent.
func (c *Coordinator) AgentMetrics(id string) types.PerformanceMetrics {
	return c.tracker.GetMetrics(id)
}

// SubmitTask escalates the task's priority as needed, routes it, and
// delivers the assignment over the messaging substrate. The capacity claim
// is rolled back if assignment delivery fails, so a task is either fully
// dispatched or not at all.
func (c *Coordinator) SubmitTask(ctx context.Context, task *types.TaskRequest) (router.Decision, error) {
	if task == nil {
		return router.Decision{}, fmt.Errorf("task is required")
	}
	if task.ID == "" {
		return router.Decision{}, fmt.Errorf("task id is required")
	}
	if len(task.RequiredSkills) == 0 {
		return router.Decision{}, fmt.Errorf("task %s: required skills must not be empty", task.ID)
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = c.now()
	}

	adjusted := router.AdjustPriorityAt(*task, c.now())
	if adjusted.Priority != task.Priority {
		c.metrics.PriorityBumps.WithLabelValues(
			task.Priority.String(), adjusted.Priority.String()).Inc()
		log.Printf("[Coordinator] Escalated task %s priority %s -> %s",
			task.ID, task.Priority, adjusted.Priority)
	}

	start := c.now()
	decision, err := c.router.Route(&adjusted)
	if err != nil {
		if errors.Is(err, router.ErrNoAgentAvailable) {
			c.metrics.TasksRejected.Inc()
			c.trail.Record(types.AuditTaskRejected, task.ID, "",
				map[string]string{"priority": adjusted.Priority.String()})
		}
		return router.Decision{}, err
	}

	msg := types.TaskAssignment(&adjusted, decision.AgentID)
	if sendErr := c.substrate.Send(ctx, msg); sendErr != nil {
		if _, relErr := c.registry.UpdateLoad(decision.AgentID, -1); relErr != nil {
			log.Printf("[Coordinator] Failed to release claim after delivery failure: %v", relErr)
		}
		c.trail.Record(types.AuditTaskRejected, task.ID, decision.AgentID,
			map[string]string{"reason": "delivery_failed"})
		return router.Decision{}, fmt.Errorf("task %s: assignment delivery failed: %w", task.ID, sendErr)
	}
	c.metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()

	c.mu.Lock()
	c.dispatches[task.ID] = dispatch{
		agentID:        decision.AgentID,
		taskType:       adjusted.Type,
		requiredSkills: adjusted.RequiredSkills,
		// Load while the task executed, claim included; LoadBefore alone
		// would understate it and mask overload categorization.
		loadAtDispatch: decision.LoadBefore + 1,
		deadline:       adjusted.Deadline,
		estimated:      adjusted.EstimatedDuration,
		dispatchedAt:   c.now(),
	}
	c.mu.Unlock()

	c.metrics.RecordRouting(decision.AgentID, adjusted.Priority.String(), c.now().Sub(start))
	c.trail.Record(types.AuditTaskRouted, task.ID, decision.AgentID, map[string]string{
		"score":    strconv.FormatFloat(decision.Score, 'f', 4, 64),
		"priority": adjusted.Priority.String(),
	})
	c.publishGauges()
	return decision, nil
}

// SubmitBatch routes tasks in order; each result carries its own error.
func (c *Coordinator) SubmitBatch(ctx context.Context, tasks []*types.TaskRequest) []router.BatchResult {
	results := make([]router.BatchResult, 0, len(tasks))
	for _, task := range tasks {
		decision, err := c.SubmitTask(ctx, task)
		results = append(results, router.BatchResult{Task: task, Decision: decision, Err: err})
	}
	return results
}

// ReportOutcome folds a completed task back into the tracker and pattern
// miner and releases the agent's capacity claim.
func (c *Coordinator) ReportOutcome(report *types.OutcomeReport) error {
	if report == nil {
		return fmt.Errorf("outcome report is required")
	}
	if report.AgentID == "" {
		return fmt.Errorf("outcome report: agent id is required")
	}

	c.mu.Lock()
	d, dispatched := c.dispatches[report.TaskID]
	if dispatched {
		delete(c.dispatches, report.TaskID)
	}
	c.mu.Unlock()

	if err := c.tracker.RecordOutcome(report.AgentID, report.Success, report.CompletionTime); err != nil {
		return err
	}
	c.metrics.RecordOutcome(report.AgentID, report.Success, report.CompletionTime)

	// Prefer the dispatch-time snapshot over caller-supplied context; the
	// miner needs the facts as they were when routing happened.
	ctx := report.TaskContext
	if dispatched {
		if ctx.TaskType == "" {
			ctx.TaskType = d.taskType
		}
		if len(ctx.RequiredSkills) == 0 {
			ctx.RequiredSkills = d.requiredSkills
		}
		if ctx.LoadAtDispatch == 0 {
			ctx.LoadAtDispatch = d.loadAtDispatch
		}
	}

	var agentSkills map[types.Capability]float64
	maxConcurrent := 0
	if agent, err := c.registry.Get(report.AgentID); err == nil {
		agentSkills = agent.Skills
		maxConcurrent = agent.MaxConcurrent
	}

	c.miner.Observe(learning.Observation{
		TaskID:         report.TaskID,
		AgentID:        report.AgentID,
		TaskType:       ctx.TaskType,
		RequiredSkills: ctx.RequiredSkills,
		AgentSkills:    agentSkills,
		LoadAtDispatch: ctx.LoadAtDispatch,
		MaxConcurrent:  maxConcurrent,
		Success:        report.Success,
		CompletionTime: report.CompletionTime,
	})

	c.trail.Record(types.AuditOutcome, report.TaskID, report.AgentID, map[string]string{
		"success":         strconv.FormatBool(report.Success),
		"completion_time": report.CompletionTime.String(),
	})
	c.publishGauges()
	return nil
}

// Workload summarizes utilization across the fleet.
func (c *Coordinator) Workload() types.WorkloadReport {
	agents := c.registry.List()
	report := types.WorkloadReport{Agents: make(map[string]types.AgentWorkload, len(agents))}

	totalLoad, totalCapacity := 0, 0
	for _, a := range agents {
		report.Agents[a.ID] = types.AgentWorkload{
			AgentID:     a.ID,
			Name:        a.Name,
			Utilization: a.Utilization() * 100,
			Available:   a.CurrentLoad < a.MaxConcurrent,
			CurrentLoad: a.CurrentLoad,
			Capacity:    a.MaxConcurrent,
		}
		totalLoad += a.CurrentLoad
		totalCapacity += a.MaxConcurrent
	}
	if totalCapacity > 0 {
		report.SystemLoad = float64(totalLoad) / float64(totalCapacity) * 100
	}
	return report
}

// Insights summarizes learning-system health.
func (c *Coordinator) Insights() types.LearningInsights {
	rate, total := c.tracker.SystemSuccessRate()
	return c.miner.Insights(rate, total)
}

// GenerateImprovements runs the architecture analysis rules.
func (c *Coordinator) GenerateImprovements() []types.ArchitectureImprovement {
	improvements := c.generator.Generate()
	c.metrics.ImprovementsActive.Set(float64(len(improvements)))
	c.trail.Record(types.AuditImprovement, "", "",
		map[string]string{"count": strconv.Itoa(len(improvements))})
	return improvements
}

// Improvements returns the persisted proposals from previous analysis
// runs, highest priority first. Without a durable store it runs a fresh
// analysis instead.
func (c *Coordinator) Improvements() ([]types.ArchitectureImprovement, error) {
	if c.db == nil {
		return c.generator.Generate(), nil
	}
	stored, err := c.db.LoadImprovements()
	if err != nil {
		return nil, err
	}
	improvements := make([]types.ArchitectureImprovement, 0, len(stored))
	for _, imp := range stored {
		improvements = append(improvements, *imp)
	}
	sort.Slice(improvements, func(i, j int) bool {
		if improvements[i].Priority != improvements[j].Priority {
			return improvements[i].Priority > improvements[j].Priority
		}
		return improvements[i].ID < improvements[j].ID
	})
	return improvements, nil
}

// TaskPatterns returns the current mined success and skill patterns.
func (c *Coordinator) TaskPatterns() []types.TaskPattern {
	return c.miner.TaskPatterns()
}

// FailurePatterns returns the current aggregated failure patterns.
func (c *Coordinator) FailurePatterns() []types.FailurePattern {
	return c.miner.FailurePatterns()
}

// SendMessage delivers an arbitrary message over the substrate.
func (c *Coordinator) SendMessage(ctx context.Context, msg *types.Message) error {
	if err := c.substrate.Send(ctx, msg); err != nil {
		return err
	}
	c.metrics.MessagesSent.WithLabelValues(string(msg.Type)).Inc()
	return nil
}

// ReadMessages drains and returns an agent's pending durable messages.
func (c *Coordinator) ReadMessages(ctx context.Context, agentID string) ([]*types.Message, error) {
	messages, err := c.substrate.Read(ctx, agentID)
	if err != nil {
		return nil, err
	}
	for _, msg := range messages {
		c.metrics.MessagesDelivered.WithLabelValues(string(msg.Type)).Inc()
	}
	return messages, nil
}

// Listen subscribes to an agent's live assignment notifications.
func (c *Coordinator) Listen(agentID string, handler func(*types.Message)) (func(), error) {
	return c.substrate.Listen(agentID, handler)
}
