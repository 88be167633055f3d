package messaging

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/redis/go-redis/v9"
)

// RedisBroadcast implements the ephemeral path over Redis pub/sub.
type RedisBroadcast struct {
	client *redis.Client

	mu     sync.Mutex
	cancel []context.CancelFunc
}

// NewRedisBroadcast connects to Redis using a URL of the form
// redis://host:port/db.
func NewRedisBroadcast(url string) (*RedisBroadcast, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(context.Background()).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisBroadcast{client: client}, nil
}

// Publish sends data on the channel.
func (b *RedisBroadcast) Publish(ctx context.Context, subject string, data []byte) error {
	if err := b.client.Publish(ctx, subject, data).Err(); err != nil {
		return fmt.Errorf("failed to publish to %s: %w", subject, err)
	}
	return nil
}

// Subscribe registers a handler for the channel.
func (b *RedisBroadcast) Subscribe(subject string, handler func([]byte)) (func(), error) {
	ctx, cancel := context.WithCancel(context.Background())
	pubsub := b.client.Subscribe(ctx, subject)

	// Force the subscription onto the wire before returning, so a publish
	// immediately after Subscribe is not silently missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		cancel()
		pubsub.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", subject, err)
	}

	b.mu.Lock()
	b.cancel = append(b.cancel, cancel)
	b.mu.Unlock()

	go func() {
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				handler([]byte(msg.Payload))
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			if err := pubsub.Close(); err != nil {
				log.Printf("[Broadcast] Failed to close redis subscription %s: %v", subject, err)
			}
		})
	}, nil
}

// Close cancels all subscriptions and closes the client.
func (b *RedisBroadcast) Close() error {
	b.mu.Lock()
	for _, cancel := range b.cancel {
		cancel()
	}
	b.cancel = nil
	b.mu.Unlock()
	return b.client.Close()
}
