// Package messaging delivers assignments and notifications through two
// independent paths: a best-effort broadcast for live listeners and a
// durable per-recipient queue that survives restarts.
package messaging

import (
	"context"
	"fmt"
	"sync"
)

// Broadcast is the ephemeral delivery path. Publishes reach only
// currently-subscribed listeners; there is no buffering for absentees and
// no delivery guarantee.
type Broadcast interface {
	Publish(ctx context.Context, subject string, data []byte) error
	Subscribe(subject string, handler func(data []byte)) (unsubscribe func(), err error)
	Close() error
}

// subjectPrefix namespaces per-agent broadcast topics.
const subjectPrefix = "crewmesh.agent."

// SubjectFor returns the broadcast topic for an agent's messages.
func SubjectFor(agentID string) string {
	return subjectPrefix + agentID
}

// localSubscriber buffers fan-out so one slow handler never blocks a
// publish; overflow is dropped, matching the path's lossy contract.
type localSubscriber struct {
	ch   chan []byte
	done chan struct{}
}

// LocalBroadcast is the in-process Broadcast backend, used in tests and
// single-process deployments.
type LocalBroadcast struct {
	mu     sync.RWMutex
	subs   map[string]map[int]*localSubscriber
	nextID int
	closed bool
}

// NewLocalBroadcast creates an in-process broadcast.
func NewLocalBroadcast() *LocalBroadcast {
	return &LocalBroadcast{subs: make(map[string]map[int]*localSubscriber)}
}

// Publish delivers data to every current subscriber of subject.
func (b *LocalBroadcast) Publish(_ context.Context, subject string, data []byte) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return fmt.Errorf("broadcast is closed")
	}
	for _, sub := range b.subs[subject] {
		select {
		case sub.ch <- data:
		default:
			// Subscriber buffer full, drop.
		}
	}
	return nil
}

// Subscribe registers a handler for a subject. The returned function
// removes the subscription.
func (b *LocalBroadcast) Subscribe(subject string, handler func([]byte)) (func(), error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil, fmt.Errorf("broadcast is closed")
	}

	sub := &localSubscriber{
		ch:   make(chan []byte, 64),
		done: make(chan struct{}),
	}
	id := b.nextID
	b.nextID++
	if b.subs[subject] == nil {
		b.subs[subject] = make(map[int]*localSubscriber)
	}
	b.subs[subject][id] = sub
	b.mu.Unlock()

	go func() {
		for {
			select {
			case <-sub.done:
				return
			case data := <-sub.ch:
				handler(data)
			}
		}
	}()

	var once sync.Once
	unsubscribe := func() {
		once.Do(func() {
			b.mu.Lock()
			if subs, ok := b.subs[subject]; ok {
				delete(subs, id)
				if len(subs) == 0 {
					delete(b.subs, subject)
				}
			}
			b.mu.Unlock()
			close(sub.done)
		})
	}
	return unsubscribe, nil
}

// Close drops all subscriptions.
func (b *LocalBroadcast) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for _, subs := range b.subs {
		for _, sub := range subs {
			close(sub.done)
		}
	}
	b.subs = make(map[string]map[int]*localSubscriber)
	return nil
}
