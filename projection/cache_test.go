package projection

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

func newRedis(t *testing.T) (*miniredis.Miniredis, *redis.Client) {
	t.Helper()
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	t.Cleanup(m.Close)
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	t.Cleanup(func() { _ = rc.Close() })
	return m, rc
}

func TestCacheRefreshStoresOrderView(t *testing.T) {
	m, rc := newRedis(t)
	ctx := context.Background()
	st := NewMemoryStore()
	_ = st.UpsertOrder(ctx, OrderView{ID: "o1", Status: "pending", Total: 12, Version: 2})

	c := NewCache(st, rc, time.Hour, "")
	freeze := time.Unix(123, 0).UTC()
	c.now = func() time.Time { return freeze }
	c.Refresh(ctx, "o1")

	raw, err := m.Get(cacheKey("o1", orderCachePrefix))
	if err != nil {
		t.Fatalf("cache entry missing: %v", err)
	}
	var entry cachedOrder
	if err := sonic.Unmarshal([]byte(raw), &entry); err != nil {
		t.Fatalf("unmarshal entry: %v", err)
	}
	if entry.Order.Total != 12 || entry.Order.Version != 2 {
		t.Fatalf("unexpected cached order %+v", entry.Order)
	}
	if !entry.CachedAt.Equal(freeze) {
		t.Fatalf("unexpected cachedAt %v", entry.CachedAt)
	}
	if ttl := m.TTL(cacheKey("o1", orderCachePrefix)); ttl != time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}
}

func TestCacheServesCachedCopyAndFallsBack(t *testing.T) {
	_, rc := newRedis(t)
	ctx := context.Background()
	st := NewMemoryStore()
	_ = st.UpsertOrder(ctx, OrderView{ID: "o1", Status: "pending", Version: 1})
	c := NewCache(st, rc, time.Hour, "")

	v, err := c.GetOrder(ctx, "o1")
	if err != nil || v.Status != "pending" {
		t.Fatalf("fallback read failed: %+v %v", v, err)
	}

	// the cached copy wins until it is refreshed
	_ = st.UpsertOrder(ctx, OrderView{ID: "o1", Status: "accepted", Version: 2})
	v, _ = c.GetOrder(ctx, "o1")
	if v.Status != "pending" {
		t.Fatalf("expected cached status, got %s", v.Status)
	}
	c.Refresh(ctx, "o1")
	v, _ = c.GetOrder(ctx, "o1")
	if v.Status != "accepted" {
		t.Fatalf("expected refreshed status, got %s", v.Status)
	}

	if _, err := c.GetOrder(ctx, "missing"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestAfterApplyPublishesOrderUpdates(t *testing.T) {
	_, rc := newRedis(t)
	ctx := context.Background()
	st := NewMemoryStore()
	_ = st.UpsertOrder(ctx, OrderView{ID: "o1", RestaurantID: "R1", UserID: "U1", Status: "accepted", Version: 3})
	c := NewCache(st, rc, time.Hour, "order-updates")

	sub := rc.Subscribe(ctx, "order-updates")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	c.AfterApply(ctx, eventlog.Event{AggregateType: eventlog.AggregateRestaurant, AggregateID: "R1"})
	c.AfterApply(ctx, eventlog.Event{
		AggregateType: eventlog.AggregateOrder,
		AggregateID:   "o1",
		Type:          "ORDER_ACCEPTED",
		Version:       3,
	})

	select {
	case msg := <-sub.Channel():
		var upd OrderUpdate
		if err := sonic.Unmarshal([]byte(msg.Payload), &upd); err != nil {
			t.Fatalf("unmarshal update: %v", err)
		}
		if upd.OrderID != "o1" || upd.Status != "accepted" || upd.EventType != "ORDER_ACCEPTED" || upd.Version != 3 {
			t.Fatalf("unexpected update %+v", upd)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no order update published")
	}
}
