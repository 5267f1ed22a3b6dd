package stream

import (
	"context"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

const resubscribeDelay = time.Second

// Listen relays order updates published on channel into hub until ctx is
// done, resubscribing when the pub/sub connection drops.
func Listen(ctx context.Context, rc *redis.Client, channel string, hub *Hub, logger *log.Logger) {
	for {
		sub := rc.Subscribe(ctx, channel)
		relay(ctx, sub.Channel(), hub, logger)
		_ = sub.Close()
		if ctx.Err() != nil {
			return
		}
		logger.Errorf("pubsub channel %s closed, reconnecting", channel)
		select {
		case <-ctx.Done():
			return
		case <-time.After(resubscribeDelay):
		}
	}
}

func relay(ctx context.Context, ch <-chan *redis.Message, hub *Hub, logger *log.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var u projection.OrderUpdate
			if err := sonic.UnmarshalString(msg.Payload, &u); err != nil || u.OrderID == "" {
				logger.WithField("channel", msg.Channel).Warn("ignoring malformed order update")
				continue
			}
			hub.Broadcast(u)
		}
	}
}
