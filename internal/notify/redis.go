package notify

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisPublisher publishes events on a Redis channel named after the topic.
type RedisPublisher struct {
	client *redis.Client
}

// NewRedis creates a RedisPublisher.
func NewRedis(client *redis.Client) *RedisPublisher {
	return &RedisPublisher{client: client}
}

func (p *RedisPublisher) Notify(ctx context.Context, ev Event) error {
	data, err := encode(ev)
	if err != nil {
		return err
	}
	if err := p.client.Publish(ctx, ev.Topic, data).Err(); err != nil {
		return fmt.Errorf("failed to publish %s: %w", ev.Topic, err)
	}
	return nil
}
