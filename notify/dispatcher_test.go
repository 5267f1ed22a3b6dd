package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

type fakePublisher struct {
	mu   sync.Mutex
	sent []Message
	fail map[string]bool
}

func (f *fakePublisher) Publish(_ context.Context, m Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail[m.UserID] {
		return errors.New("gateway down")
	}
	f.sent = append(f.sent, m)
	return nil
}

func seedNotifications(t *testing.T, st *projection.MemoryStore, users ...string) {
	t.Helper()
	base := time.Unix(1000, 0).UTC()
	for i, u := range users {
		err := st.AddNotification(context.Background(), projection.Notification{
			ID:          "n-" + u,
			UserID:      u,
			Title:       "Order update",
			Message:     "Your order was accepted.",
			Type:        projection.NotifyOrderStatus,
			ReferenceID: "o1",
			Status:      projection.NotificationPending,
			CreatedAt:   base.Add(time.Duration(i) * time.Second),
		})
		if err != nil {
			t.Fatalf("seed: %v", err)
		}
	}
}

func TestDispatchDeliversPendingNotifications(t *testing.T) {
	ctx := context.Background()
	st := projection.NewMemoryStore()
	seedNotifications(t, st, "U1", "U2", "U3")
	pub := &fakePublisher{}
	d := NewDispatcher(st, pub, Config{Workers: 2}, nil)

	n, err := d.DispatchOnce(ctx)
	if err != nil || n != 3 {
		t.Fatalf("expected 3 deliveries, got %d %v", n, err)
	}
	if len(pub.sent) != 3 {
		t.Fatalf("expected 3 published messages, got %d", len(pub.sent))
	}
	pending, _ := st.PendingNotifications(ctx, time.Now(), 10)
	if len(pending) != 0 {
		t.Fatalf("expected nothing pending, got %d", len(pending))
	}
	got, _ := st.Notifications(ctx, "U1")
	if got[0].Status != projection.NotificationDelivered || got[0].DeliveredAt == nil || got[0].Attempts != 1 {
		t.Fatalf("unexpected notification %+v", got[0])
	}

	// nothing left to send
	if n, _ := d.DispatchOnce(ctx); n != 0 {
		t.Fatalf("expected no redelivery, got %d", n)
	}
}

func TestFailedDeliveryBacksOffThenGivesUp(t *testing.T) {
	ctx := context.Background()
	st := projection.NewMemoryStore()
	seedNotifications(t, st, "U1")
	pub := &fakePublisher{fail: map[string]bool{"U1": true}}
	d := NewDispatcher(st, pub, Config{MaxAttempts: 2, RetryInitial: time.Minute, RetryMax: time.Minute}, nil)
	clock := time.Unix(5000, 0)
	d.now = func() time.Time { return clock }

	if n, err := d.DispatchOnce(ctx); n != 0 || err != nil {
		t.Fatalf("unexpected result %d %v", n, err)
	}
	got, _ := st.Notifications(ctx, "U1")
	if got[0].Status != projection.NotificationPending || got[0].Attempts != 1 || got[0].LastError != "gateway down" {
		t.Fatalf("unexpected notification after first failure %+v", got[0])
	}

	// still backing off
	_, _ = d.DispatchOnce(ctx)
	got, _ = st.Notifications(ctx, "U1")
	if got[0].Attempts != 1 {
		t.Fatalf("retried before the backoff elapsed: %+v", got[0])
	}

	clock = clock.Add(2 * time.Minute)
	_, _ = d.DispatchOnce(ctx)
	got, _ = st.Notifications(ctx, "U1")
	if got[0].Status != projection.NotificationFailed || got[0].Attempts != 2 {
		t.Fatalf("expected failed after max attempts, got %+v", got[0])
	}
}

func TestBackedOffNotificationsDoNotBlockDueOnes(t *testing.T) {
	ctx := context.Background()
	st := projection.NewMemoryStore()
	seedNotifications(t, st, "BAD", "U2")
	pub := &fakePublisher{fail: map[string]bool{"BAD": true}}
	d := NewDispatcher(st, pub, Config{BatchSize: 1, MaxAttempts: 5, RetryInitial: time.Minute, RetryMax: time.Minute}, nil)
	clock := time.Unix(5000, 0)
	d.now = func() time.Time { return clock }

	if n, _ := d.DispatchOnce(ctx); n != 0 {
		t.Fatalf("expected the failing notification to be attempted first, got %d deliveries", n)
	}
	bad, _ := st.Notifications(ctx, "BAD")
	if bad[0].NextAttemptAt == nil || !bad[0].NextAttemptAt.After(clock) {
		t.Fatalf("expected a persisted backoff, got %+v", bad[0])
	}

	if n, err := d.DispatchOnce(ctx); n != 1 || err != nil {
		t.Fatalf("expected the due notification to be delivered, got %d %v", n, err)
	}
	if len(pub.sent) != 1 || pub.sent[0].UserID != "U2" {
		t.Fatalf("unexpected published messages %+v", pub.sent)
	}
	pending, _ := st.PendingNotifications(ctx, clock, 10)
	if len(pending) != 0 {
		t.Fatalf("expected only the backed-off row to remain, got %+v", pending)
	}
}

func TestExponentialBackoffStaysWithinJitter(t *testing.T) {
	for attempt := 1; attempt <= 8; attempt++ {
		got := exponentialBackoff(attempt, time.Second, 10*time.Second)
		want := time.Second << (attempt - 1)
		if want > 10*time.Second {
			want = 10 * time.Second
		}
		lo, hi := time.Duration(float64(want)*0.8), time.Duration(float64(want)*1.2)
		if got < lo || got > hi {
			t.Fatalf("attempt %d: backoff %v outside [%v, %v]", attempt, got, lo, hi)
		}
	}
}

func TestRedisPublisherPublishesJSON(t *testing.T) {
	m, err := miniredis.Run()
	if err != nil {
		t.Fatalf("start miniredis: %v", err)
	}
	defer m.Close()
	rc := redis.NewClient(&redis.Options{Addr: m.Addr()})
	defer rc.Close()
	ctx := context.Background()

	sub := rc.Subscribe(ctx, "push")
	defer sub.Close()
	if _, err := sub.Receive(ctx); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	p := NewRedisPublisher(rc, "push")
	if err := p.Publish(ctx, Message{UserID: "U1", Title: "Hi", Message: "m", Type: "account"}); err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case msg := <-sub.Channel():
		var got Message
		if err := sonic.Unmarshal([]byte(msg.Payload), &got); err != nil {
			t.Fatalf("unmarshal: %v", err)
		}
		if got.UserID != "U1" || got.Title != "Hi" {
			t.Fatalf("unexpected message %+v", got)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message published")
	}
}
