package projection

import (
	"context"
	"errors"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

const (
	orderCachePrefix = "ov"
	DefaultCacheTTL  = 12 * time.Hour
)

type cachedOrder struct {
	Version  int       `json:"version"`
	CachedAt time.Time `json:"cachedAt"`
	Order    OrderView `json:"order"`
}

// OrderUpdate is published on the updates channel after an order view
// changes.
type OrderUpdate struct {
	OrderID      string `json:"orderId"`
	RestaurantID string `json:"restaurantId,omitempty"`
	UserID       string `json:"userId,omitempty"`
	Status       string `json:"status"`
	EventType    string `json:"eventType"`
	Version      int64  `json:"version"`
}

// Cache is a Reader that serves order views from Redis and falls back to the
// underlying read model. Refresh keeps entries current as events are
// projected.
type Cache struct {
	Reader
	redis   *redis.Client
	ttl     time.Duration
	channel string
	now     func() time.Time
}

// NewCache wraps base. An empty channel disables update publishing.
func NewCache(base Reader, client *redis.Client, ttl time.Duration, channel string) *Cache {
	if base == nil {
		panic("projection.NewCache: base reader is nil")
	}
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Cache{Reader: base, redis: client, ttl: ttl, channel: channel, now: time.Now}
}

func (c *Cache) GetOrder(ctx context.Context, id string) (OrderView, error) {
	if v, ok := c.load(ctx, id); ok {
		return v, nil
	}
	v, err := c.Reader.GetOrder(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	c.store(ctx, v, false)
	return v, nil
}

// Refresh rereads the order view and rewrites its cache entry.
func (c *Cache) Refresh(ctx context.Context, orderID string) {
	if c == nil || c.redis == nil {
		return
	}
	v, err := c.Reader.GetOrder(ctx, orderID)
	if errors.Is(err, ErrNotFound) {
		if err := c.redis.Del(ctx, cacheKey(orderID, orderCachePrefix)).Err(); err != nil {
			log.WithError(err).WithField("order", orderID).Error("failed to delete order cache entry")
		}
		return
	}
	if err != nil {
		log.WithError(err).WithField("order", orderID).Error("failed to load order for cache")
		return
	}
	c.store(ctx, v, true)
}

// AfterApply refreshes the cache for order events and announces the change.
// It is meant for WithAfterApply.
func (c *Cache) AfterApply(ctx context.Context, evt eventlog.Event) {
	if evt.AggregateType != eventlog.AggregateOrder {
		return
	}
	c.Refresh(ctx, evt.AggregateID)
	if c.channel == "" || c.redis == nil {
		return
	}
	v, err := c.Reader.GetOrder(ctx, evt.AggregateID)
	if err != nil {
		return
	}
	payload, err := sonic.Marshal(OrderUpdate{
		OrderID:      v.ID,
		RestaurantID: v.RestaurantID,
		UserID:       v.UserID,
		Status:       v.Status,
		EventType:    evt.Type,
		Version:      evt.Version,
	})
	if err != nil {
		return
	}
	if err := c.redis.Publish(ctx, c.channel, payload).Err(); err != nil {
		log.Errorf("Unable to publish order update for %s to %s", evt.AggregateID, c.channel)
	}
}

func (c *Cache) load(ctx context.Context, id string) (OrderView, bool) {
	if c.redis == nil {
		return OrderView{}, false
	}
	raw, err := c.redis.Get(ctx, cacheKey(id, orderCachePrefix)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			log.WithError(err).WithField("order", id).Warn("order cache read failed")
		}
		return OrderView{}, false
	}
	var entry cachedOrder
	if err := sonic.Unmarshal(raw, &entry); err != nil {
		log.WithError(err).WithField("order", id).Warn("discarding undecodable order cache entry")
		return OrderView{}, false
	}
	return entry.Order, true
}

// store writes the entry. Read-through fills only an empty slot so they
// cannot overwrite a newer entry written by Refresh.
func (c *Cache) store(ctx context.Context, v OrderView, overwrite bool) {
	if c.redis == nil {
		return
	}
	data, err := sonic.Marshal(cachedOrder{Version: 1, CachedAt: c.now().UTC(), Order: v})
	if err != nil {
		log.WithError(err).WithField("order", v.ID).Error("failed to marshal order cache payload")
		return
	}
	key := cacheKey(v.ID, orderCachePrefix)
	if overwrite {
		err = c.redis.Set(ctx, key, data, c.ttl).Err()
	} else {
		err = c.redis.SetNX(ctx, key, data, c.ttl).Err()
	}
	if err != nil {
		log.WithError(err).WithField("order", v.ID).Error("failed to store order cache entry")
	}
}

func cacheKey(id, prefix string) string {
	return id + ":" + prefix
}
