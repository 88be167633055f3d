// Package audit keeps a queryable trail of routing and learning decisions.
package audit

import (
	"container/ring"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/crewmesh/crewmesh/internal/database"
	"github.com/crewmesh/crewmesh/pkg/types"
)

// bufferSize is the number of events kept in memory for fast queries.
const bufferSize = 4096

// Store persists audit events beyond the in-memory window.
type Store interface {
	AppendAuditEvent(e *types.AuditEvent) error
	QueryAuditEvents(f database.AuditFilter) ([]types.AuditEvent, error)
}

// Trail buffers recent audit events in a ring, persists them, and fans
// them out to registered handlers.
type Trail struct {
	mu       sync.RWMutex
	buffer   *ring.Ring
	store    Store
	handlers []func(types.AuditEvent)
	now      func() time.Time
}

// New creates a trail. store may be nil; events then live only in memory.
func New(store Store) *Trail {
	return &Trail{
		buffer: ring.New(bufferSize),
		store:  store,
		now:    time.Now,
	}
}

// AddHandler registers a callback invoked for every recorded event. Used by
// the websocket event feed.
func (t *Trail) AddHandler(h func(types.AuditEvent)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers = append(t.handlers, h)
}

// Record appends one event to the trail. Persistence is asynchronous and
// best-effort; the in-memory buffer is the source for recent queries.
func (t *Trail) Record(kind types.AuditKind, taskID, agentID string, detail map[string]string) {
	event := types.AuditEvent{
		ID:       uuid.NewString(),
		Recorded: t.now(),
		Kind:     kind,
		TaskID:   taskID,
		AgentID:  agentID,
		Detail:   detail,
	}

	t.mu.Lock()
	t.buffer.Value = event
	t.buffer = t.buffer.Next()
	handlers := t.handlers
	t.mu.Unlock()

	for _, h := range handlers {
		go h(event)
	}

	if t.store != nil {
		go func() {
			if err := t.store.AppendAuditEvent(&event); err != nil {
				log.Printf("[Audit] Failed to persist event %s: %v", event.ID, err)
			}
		}()
	}
}

// Recent returns up to limit buffered events matching the filter, newest
// first.
func (t *Trail) Recent(f database.AuditFilter) []types.AuditEvent {
	t.mu.RLock()
	defer t.mu.RUnlock()

	limit := f.Limit
	if limit <= 0 || limit > bufferSize {
		limit = 100
	}

	var events []types.AuditEvent
	t.buffer.Do(func(v interface{}) {
		e, ok := v.(types.AuditEvent)
		if !ok {
			return
		}
		if f.Kind != "" && e.Kind != f.Kind {
			return
		}
		if f.AgentID != "" && e.AgentID != f.AgentID {
			return
		}
		if f.TaskID != "" && e.TaskID != f.TaskID {
			return
		}
		if !f.Since.IsZero() && e.Recorded.Before(f.Since) {
			return
		}
		events = append(events, e)
	})

	// Ring iteration yields oldest first.
	for i, j := 0, len(events)-1; i < j; i, j = i+1, j-1 {
		events[i], events[j] = events[j], events[i]
	}
	if len(events) > limit {
		events = events[:limit]
	}
	return events
}

// Query returns persisted events when a store is attached, falling back to
// the in-memory buffer.
func (t *Trail) Query(f database.AuditFilter) ([]types.AuditEvent, error) {
	if t.store == nil {
		return t.Recent(f), nil
	}
	return t.store.QueryAuditEvents(f)
}
