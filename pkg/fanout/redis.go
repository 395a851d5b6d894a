package fanout

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Redis is a Bus over Redis pub/sub. Redis pub/sub is fire-and-forget
// per connected subscriber: a payload published while a server is not
// subscribed never reaches it, and nothing is redelivered. A server
// that was down reconciles through the store, not the bus.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to the Redis instance at addr and verifies the
// connection with a ping.
func NewRedis(ctx context.Context, addr string) (*Redis, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

// Publish sends payload on channel.
func (r *Redis) Publish(ctx context.Context, channel string, payload []byte) error {
	if err := r.client.Publish(ctx, channel, payload).Err(); err != nil {
		return fmt.Errorf("publish %s: %w", channel, err)
	}
	return nil
}

// Subscribe drains the channel into handler on a dedicated goroutine
// until the subscription is closed.
func (r *Redis) Subscribe(ctx context.Context, channel string, handler Handler) (Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)
	// Force the subscription onto the wire before returning.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", channel, err)
	}
	go func() {
		for msg := range pubsub.Channel() {
			handler([]byte(msg.Payload))
		}
	}()
	return &redisSubscription{pubsub: pubsub}, nil
}

// Close closes the underlying client and every open subscription.
func (r *Redis) Close() error { return r.client.Close() }

type redisSubscription struct {
	pubsub *redis.PubSub
}

func (s *redisSubscription) Close() error { return s.pubsub.Close() }
