package notify

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

const DefaultChannel = "notifications"

// RedisPublisher publishes messages as JSON on a Redis channel. Push gateways
// subscribe to it.
type RedisPublisher struct {
	client  *redis.Client
	channel string
}

func NewRedisPublisher(client *redis.Client, channel string) *RedisPublisher {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisPublisher{client: client, channel: channel}
}

func (p *RedisPublisher) Publish(ctx context.Context, m Message) error {
	payload, err := sonic.Marshal(m)
	if err != nil {
		return errors.Wrap(err, "marshal notification")
	}
	return errors.Wrapf(p.client.Publish(ctx, p.channel, payload).Err(), "publish to %s", p.channel)
}
