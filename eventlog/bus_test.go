package eventlog

import (
	"context"
	"sync"
	"testing"
	"time"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) handle(_ context.Context, evt Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
	return nil
}

func (r *recorder) snapshot() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Event(nil), r.events...)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func TestBusDeliversInStreamOrder(t *testing.T) {
	bus := NewBus(nil)
	bus.Open()
	defer bus.Close()

	key := Stream(AggregateOrder, "o-1")
	rec := &recorder{}
	bus.Subscribe(key.Topic(), rec.handle)

	for v := int64(1); v <= 50; v++ {
		if err := bus.Publish(Event{AggregateType: key.AggregateType, AggregateID: key.AggregateID, Type: "ORDER_ITEM_ADDED", Version: v}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}
	waitFor(t, func() bool { return len(rec.snapshot()) == 50 })
	for i, evt := range rec.snapshot() {
		if evt.Version != int64(i+1) {
			t.Fatalf("event %d has version %d", i, evt.Version)
		}
	}
}

func TestBusTopics(t *testing.T) {
	bus := NewBus(nil)
	byType, byStream, all := &recorder{}, &recorder{}, &recorder{}
	bus.Subscribe("ORDER_CREATED", byType.handle)
	bus.Subscribe(Stream(AggregateOrder, "o-2").Topic(), byStream.handle)
	bus.Subscribe(TopicAll, all.handle)
	bus.Open()
	defer bus.Close()

	_ = bus.Publish(Event{AggregateType: AggregateOrder, AggregateID: "o-1", Type: "ORDER_CREATED", Version: 1})
	_ = bus.Publish(Event{AggregateType: AggregateOrder, AggregateID: "o-2", Type: "ORDER_SUBMITTED", Version: 2})

	waitFor(t, func() bool { return len(all.snapshot()) == 2 })
	waitFor(t, func() bool { return len(byType.snapshot()) == 1 && len(byStream.snapshot()) == 1 })
	if got := byType.snapshot()[0].AggregateID; got != "o-1" {
		t.Fatalf("type subscriber got %s", got)
	}
	if got := byStream.snapshot()[0].Type; got != "ORDER_SUBMITTED" {
		t.Fatalf("stream subscriber got %s", got)
	}
}

func TestBusOffStopsDelivery(t *testing.T) {
	bus := NewBus(nil)
	bus.Open()
	defer bus.Close()

	rec := &recorder{}
	sub := bus.Subscribe(TopicAll, rec.handle)
	_ = bus.Publish(Event{AggregateType: AggregateUser, AggregateID: "u", Type: "USER_REGISTERED", Version: 1})
	waitFor(t, func() bool { return len(rec.snapshot()) == 1 })

	sub.Off()
	_ = bus.Publish(Event{AggregateType: AggregateUser, AggregateID: "u", Type: "USER_DEACTIVATED", Version: 2})
	time.Sleep(20 * time.Millisecond)
	if n := len(rec.snapshot()); n != 1 {
		t.Fatalf("expected 1 event after Off, got %d", n)
	}
}

func TestBusPanickingSubscriberIsIsolated(t *testing.T) {
	bus := NewBus(nil)
	bus.Open()
	defer bus.Close()

	bus.Subscribe(TopicAll, func(context.Context, Event) error { panic("bad handler") })
	rec := &recorder{}
	bus.Subscribe(TopicAll, rec.handle)

	_ = bus.Publish(Event{AggregateType: AggregateUser, AggregateID: "u", Type: "USER_REGISTERED", Version: 1})
	_ = bus.Publish(Event{AggregateType: AggregateUser, AggregateID: "u", Type: "USER_DEACTIVATED", Version: 2})
	waitFor(t, func() bool { return len(rec.snapshot()) == 2 })
}

func TestBusCloseDrainsQueuedEvents(t *testing.T) {
	bus := NewBus(nil)
	release := make(chan struct{})
	rec := &recorder{}
	bus.Subscribe(TopicAll, func(ctx context.Context, evt Event) error {
		<-release
		return rec.handle(ctx, evt)
	})
	bus.Open()
	for v := int64(1); v <= 3; v++ {
		_ = bus.Publish(Event{AggregateType: AggregateUser, AggregateID: "u", Type: "X", Version: v})
	}
	close(release)
	if err := bus.Close(); err != nil {
		t.Fatal(err)
	}
	if n := len(rec.snapshot()); n != 3 {
		t.Fatalf("expected queued events to drain, got %d", n)
	}
	if err := bus.Publish(Event{AggregateType: AggregateUser, AggregateID: "u", Type: "X", Version: 4}); err != ErrClosed {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
