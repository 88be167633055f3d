package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"github.com/crewmesh/crewmesh/internal/metrics"
	"github.com/crewmesh/crewmesh/pkg/types"
)

// DurableQueue is the persistent delivery path. Reads archive what they
// return, so each stored message is handed to exactly one read under
// normal operation.
type DurableQueue interface {
	AppendMessage(ctx context.Context, msg *types.Message) error
	ReadAndArchiveMessages(ctx context.Context, recipient string) ([]*types.Message, error)
}

// Verify the interface pairing at compile time in the package that owns it.
var _ Broadcast = (*LocalBroadcast)(nil)

// Substrate composes the durable queue with the ephemeral broadcast. Every
// send writes durably first; the broadcast is a wake-up optimization whose
// failure is logged and swallowed.
type Substrate struct {
	queue      DurableQueue
	broadcast  Broadcast
	maxRetries uint
}

// NewSubstrate builds the substrate. maxRetries bounds durable-write
// attempts; zero selects a default of 4.
func NewSubstrate(queue DurableQueue, broadcast Broadcast, maxRetries uint) *Substrate {
	if maxRetries == 0 {
		maxRetries = 4
	}
	return &Substrate{queue: queue, broadcast: broadcast, maxRetries: maxRetries}
}

// Send delivers msg both ways. The durable write is retried with
// exponential backoff and its final failure is returned to the caller; a
// message is never silently dropped from the durable path.
func (s *Substrate) Send(ctx context.Context, msg *types.Message) error {
	if msg == nil {
		return fmt.Errorf("message is required")
	}
	if msg.To == "" {
		return fmt.Errorf("message recipient is required")
	}
	if msg.From == "" {
		return fmt.Errorf("message sender is required")
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		return struct{}{}, s.queue.AppendMessage(ctx, msg)
	}, backoff.WithBackOff(bo), backoff.WithMaxTries(s.maxRetries))
	if err != nil {
		return fmt.Errorf("durable write for message %s failed: %w", msg.ID, err)
	}

	// Best-effort wake-up. Losing this never fails the send.
	data, err := json.Marshal(msg)
	if err != nil {
		metrics.NewMetrics().BroadcastDropped.Inc()
		log.Printf("[Substrate] Failed to encode message %s for broadcast: %v", msg.ID, err)
		return nil
	}
	if err := s.broadcast.Publish(ctx, SubjectFor(msg.To), data); err != nil {
		metrics.NewMetrics().BroadcastDropped.Inc()
		log.Printf("[Substrate] Broadcast of message %s failed: %v", msg.ID, err)
	}
	return nil
}

// Read returns and archives the recipient's pending durable messages.
func (s *Substrate) Read(ctx context.Context, recipient string) ([]*types.Message, error) {
	messages, err := s.queue.ReadAndArchiveMessages(ctx, recipient)
	if err != nil {
		return nil, fmt.Errorf("failed to read messages for %s: %w", recipient, err)
	}
	return messages, nil
}

// Listen subscribes to the recipient's live broadcast topic. Handlers see
// messages at most once and only while subscribed; durable reads are the
// reliable path.
func (s *Substrate) Listen(agentID string, handler func(*types.Message)) (func(), error) {
	return s.broadcast.Subscribe(SubjectFor(agentID), func(data []byte) {
		var msg types.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Printf("[Substrate] Discarding undecodable broadcast for %s: %v", agentID, err)
			return
		}
		handler(&msg)
	})
}

// Close shuts the broadcast path down.
func (s *Substrate) Close() error {
	return s.broadcast.Close()
}
