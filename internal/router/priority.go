package router

import (
	"time"

	"github.com/crewmesh/crewmesh/pkg/types"
)

// Escalation thresholds for dynamic priority adjustment.
const (
	agingThreshold     = 24 * time.Hour
	deadlineHighWithin = time.Hour
	deadlineCritWithin = 15 * time.Minute
)

// AdjustPriority escalates a task's priority based on its age and deadline
// proximity. Pure: the input is not mutated and priority never decreases.
func AdjustPriority(task types.TaskRequest) types.TaskRequest {
	return AdjustPriorityAt(task, time.Now())
}

// AdjustPriorityAt is AdjustPriority with an injected clock.
func AdjustPriorityAt(task types.TaskRequest, now time.Time) types.TaskRequest {
	p := task.Priority

	// Tasks waiting more than a day move up one level.
	if !task.CreatedAt.IsZero() && now.Sub(task.CreatedAt) > agingThreshold && p < types.PriorityCritical {
		p++
	}

	// Deadline proximity sets a floor, never a ceiling.
	if task.Deadline != nil {
		remaining := task.Deadline.Sub(now)
		switch {
		case remaining < deadlineCritWithin:
			p = types.PriorityCritical
		case remaining < deadlineHighWithin && p < types.PriorityHigh:
			p = types.PriorityHigh
		}
	}

	if p < task.Priority {
		p = task.Priority
	}
	task.Priority = p
	return task
}
