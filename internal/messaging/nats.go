package messaging

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSBroadcast implements the ephemeral path over core NATS pub/sub.
// Plain publishes (no JetStream) match the path's lossy contract: only
// connected subscribers see a message.
type NATSBroadcast struct {
	conn *nats.Conn
}

// NewNATSBroadcast connects to the NATS server with unlimited reconnects.
func NewNATSBroadcast(url string, timeout time.Duration) (*NATSBroadcast, error) {
	if url == "" {
		url = nats.DefaultURL
	}
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	conn, err := nats.Connect(url,
		nats.Timeout(timeout),
		nats.ReconnectWait(1*time.Second),
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Printf("[Broadcast] NATS disconnected: %v", err)
			}
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Printf("[Broadcast] NATS reconnected to %s", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}
	return &NATSBroadcast{conn: conn}, nil
}

// Publish sends data on the subject.
func (b *NATSBroadcast) Publish(_ context.Context, subject string, data []byte) error {
	if err := b.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for the subject.
func (b *NATSBroadcast) Subscribe(subject string, handler func([]byte)) (func(), error) {
	sub, err := b.conn.Subscribe(subject, func(msg *nats.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}
	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[Broadcast] Failed to unsubscribe from %s: %v", subject, err)
		}
	}, nil
}

// Close drains and closes the connection.
func (b *NATSBroadcast) Close() error {
	b.conn.Close()
	return nil
}
