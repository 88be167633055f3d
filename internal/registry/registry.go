// Package registry holds the live record of registered agents: declared
// capabilities with proficiency ratings, concurrency capacity, and the load
// counter the router and tracker mutate.
package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/crewmesh/crewmesh/pkg/types"
)

var (
	// ErrUnknownAgent is returned for operations on an unregistered id.
	ErrUnknownAgent = errors.New("unknown agent")

	// ErrCapacityExceeded is returned when a load increment would push an
	// agent past its declared capacity. Outside of a routing race this
	// indicates router/tracker desynchronization and must not be retried
	// blindly.
	ErrCapacityExceeded = errors.New("agent capacity exceeded")
)

// Store persists agent records. The registry writes through on every
// registration change.
type Store interface {
	SaveAgent(agent *types.Agent) error
	DeleteAgent(id string) error
}

type entry struct {
	mu    sync.Mutex
	agent *types.Agent
}

// Registry is the agent directory. The outer lock guards the map; each
// entry carries its own lock so load updates on different agents never
// contend.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	store   Store
}

// New creates an empty registry. store may be nil for ephemeral use.
func New(store Store) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		store:   store,
	}
}

// Restore seeds the registry from persisted agents, used at startup.
func (r *Registry) Restore(agents map[string]*types.Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, a := range agents {
		cp := a.Clone()
		cp.CurrentLoad = 0 // in-flight work does not survive a restart
		r.entries[id] = &entry{agent: cp}
	}
}

// Register adds an agent or replaces the declared state of an existing id.
// Re-registration preserves the live load counter; accumulated performance
// metrics live in the tracker and are untouched.
func (r *Registry) Register(agent *types.Agent) error {
	if agent == nil || agent.ID == "" {
		return fmt.Errorf("agent id is required")
	}
	if agent.MaxConcurrent <= 0 {
		return fmt.Errorf("agent %s: max_concurrent must be positive", agent.ID)
	}
	for c, p := range agent.Skills {
		if !types.ValidCapability(c) {
			return fmt.Errorf("agent %s: unregistered capability %q", agent.ID, c)
		}
		if p < 0 || p > 1 {
			return fmt.Errorf("agent %s: proficiency for %q out of range [0,1]", agent.ID, c)
		}
	}

	cp := agent.Clone()
	if cp.RegisteredAt.IsZero() {
		cp.RegisteredAt = time.Now()
	}

	r.mu.Lock()
	existing, ok := r.entries[cp.ID]
	if ok {
		existing.mu.Lock()
		if existing.agent.CurrentLoad > cp.MaxConcurrent {
			load := existing.agent.CurrentLoad
			existing.mu.Unlock()
			r.mu.Unlock()
			return fmt.Errorf("agent %s: declared capacity %d below current load %d: %w",
				cp.ID, cp.MaxConcurrent, load, ErrCapacityExceeded)
		}
		cp.CurrentLoad = existing.agent.CurrentLoad
		cp.RegisteredAt = existing.agent.RegisteredAt
		existing.agent = cp
		existing.mu.Unlock()
	} else {
		cp.CurrentLoad = 0
		r.entries[cp.ID] = &entry{agent: cp}
	}
	r.mu.Unlock()

	if r.store != nil {
		if err := r.store.SaveAgent(cp); err != nil {
			return fmt.Errorf("failed to persist agent %s: %w", cp.ID, err)
		}
	}
	return nil
}

// Deregister removes an agent.
func (r *Registry) Deregister(id string) error {
	r.mu.Lock()
	_, ok := r.entries[id]
	if ok {
		delete(r.entries, id)
	}
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("deregister %s: %w", id, ErrUnknownAgent)
	}
	if r.store != nil {
		if err := r.store.DeleteAgent(id); err != nil {
			return fmt.Errorf("failed to remove persisted agent %s: %w", id, err)
		}
	}
	return nil
}

// Get returns a copy of the agent's current state.
func (r *Registry) Get(id string) (*types.Agent, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("get %s: %w", id, ErrUnknownAgent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.agent.Clone(), nil
}

// List returns copies of all registered agents, sorted by id.
func (r *Registry) List() []*types.Agent {
	r.mu.RLock()
	entries := make([]*entry, 0, len(r.entries))
	for _, e := range r.entries {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	agents := make([]*types.Agent, 0, len(entries))
	for _, e := range entries {
		e.mu.Lock()
		agents = append(agents, e.agent.Clone())
		e.mu.Unlock()
	}
	sort.Slice(agents, func(i, j int) bool { return agents[i].ID < agents[j].ID })
	return agents
}

// UpdateLoad applies a load delta under the agent's lock, enforcing
// 0 <= load <= max_concurrent. Decrements floor at zero; an increment past
// capacity fails with ErrCapacityExceeded and leaves the load unchanged.
// The resulting load is returned.
func (r *Registry) UpdateLoad(id string, delta int) (int, error) {
	r.mu.RLock()
	e, ok := r.entries[id]
	r.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("update load for %s: %w", id, ErrUnknownAgent)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	next := e.agent.CurrentLoad + delta
	if next > e.agent.MaxConcurrent {
		return e.agent.CurrentLoad, fmt.Errorf("agent %s at load %d/%d: %w",
			id, e.agent.CurrentLoad, e.agent.MaxConcurrent, ErrCapacityExceeded)
	}
	if next < 0 {
		next = 0
	}
	e.agent.CurrentLoad = next
	return next, nil
}

// Count returns the number of registered agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
