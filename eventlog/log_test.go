package eventlog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLog(t *testing.T, opts ...Option) *Log {
	t.Helper()
	l := New(NewMemoryBackend(), opts...)
	l.Open()
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func appendN(t *testing.T, l *Log, key StreamKey, n int) []Event {
	t.Helper()
	var out []Event
	for i := 1; i <= n; i++ {
		evt, err := l.Append(context.Background(), AppendRequest{
			AggregateType: key.AggregateType,
			AggregateID:   key.AggregateID,
			Version:       int64(i),
			Type:          "ORDER_ITEM_ADDED",
			Payload:       []byte(fmt.Sprintf(`{"n":%d}`, i)),
		})
		require.NoError(t, err)
		out = append(out, evt)
	}
	return out
}

func TestAppendAssignsIdentityAndVersions(t *testing.T) {
	now := time.Date(2024, 3, 1, 12, 0, 0, 123456789, time.UTC)
	l := newTestLog(t, WithClock(func() time.Time { return now }))
	key := Stream(AggregateOrder, "o-1")

	events := appendN(t, l, key, 3)
	for i, evt := range events {
		assert.NotEmpty(t, evt.ID)
		assert.Equal(t, int64(i+1), evt.Version)
		assert.Equal(t, now.Truncate(time.Millisecond), evt.CreatedAt)
		assert.Equal(t, evt.CreatedAt, evt.Metadata.Timestamp)
	}
	assert.NotEqual(t, events[0].ID, events[1].ID)

	got, err := l.Events(context.Background(), AggregateOrder, "o-1", 0)
	require.NoError(t, err)
	require.Len(t, got, 3)
	for i := range got {
		assert.Equal(t, int64(i+1), got[i].Version)
	}

	tail, err := l.Events(context.Background(), AggregateOrder, "o-1", 2)
	require.NoError(t, err)
	require.Len(t, tail, 1)
	assert.Equal(t, int64(3), tail[0].Version)
}

func TestAppendStaleVersionConflicts(t *testing.T) {
	l := newTestLog(t)
	key := Stream(AggregateOrder, "o-1")
	appendN(t, l, key, 1)

	_, err := l.Append(context.Background(), AppendRequest{
		AggregateType: AggregateOrder,
		AggregateID:   "o-1",
		Version:       1,
		Type:          "ORDER_ITEM_ADDED",
	})
	require.ErrorIs(t, err, ErrConcurrencyConflict)
	var conflict *ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.Expected)
	assert.Equal(t, int64(1), conflict.Actual)

	_, err = l.Append(context.Background(), AppendRequest{
		AggregateType: AggregateOrder,
		AggregateID:   "o-1",
		Version:       3,
		Type:          "ORDER_ITEM_ADDED",
	})
	require.ErrorIs(t, err, ErrConcurrencyConflict)
}

func TestConcurrentAppendsOneWinner(t *testing.T) {
	l := newTestLog(t)
	key := Stream(AggregateOrder, "o-1")
	appendN(t, l, key, 1)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Append(context.Background(), AppendRequest{
				AggregateType: AggregateOrder,
				AggregateID:   "o-1",
				Version:       2,
				Type:          "ORDER_ITEM_ADDED",
			})
		}(i)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, ErrConcurrencyConflict):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, len(errs)-1, conflicts)
}

func TestAppendValidation(t *testing.T) {
	l := newTestLog(t)
	cases := map[string]AppendRequest{
		"unknown type":  {AggregateType: "invoice", AggregateID: "x", Version: 1, Type: "X"},
		"missing id":    {AggregateType: AggregateUser, Version: 1, Type: "X"},
		"missing event": {AggregateType: AggregateUser, AggregateID: "x", Version: 1},
		"zero version":  {AggregateType: AggregateUser, AggregateID: "x", Type: "X"},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := l.Append(context.Background(), req)
			require.ErrorIs(t, err, ErrInvalidArgument)
		})
	}
}

func TestSaveSnapshotRejectsLowerVersion(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()

	_, err := l.LatestSnapshot(ctx, AggregateOrder, "o-1")
	require.ErrorIs(t, err, ErrNotFound)

	snap := Snapshot{AggregateType: AggregateOrder, AggregateID: "o-1", Version: 10, State: json.RawMessage(`{"v":10}`)}
	require.NoError(t, l.SaveSnapshot(ctx, snap))

	snap.State = json.RawMessage(`{"v":"again"}`)
	require.NoError(t, l.SaveSnapshot(ctx, snap))

	err = l.SaveSnapshot(ctx, Snapshot{AggregateType: AggregateOrder, AggregateID: "o-1", Version: 5, State: json.RawMessage(`{}`)})
	require.ErrorIs(t, err, ErrStaleSnapshot)

	got, err := l.LatestSnapshot(ctx, AggregateOrder, "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Version)
	assert.JSONEq(t, `{"v":"again"}`, string(got.State))
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSnapshotScheduledEveryInterval(t *testing.T) {
	l := newTestLog(t, WithSnapshotInterval(5))
	key := Stream(AggregateOrder, "o-1")

	var calls int
	var mu sync.Mutex
	l.RegisterSnapshotter(AggregateOrder, func(ctx context.Context, id string) ([]byte, int64, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		events, err := l.Events(ctx, AggregateOrder, id, 0)
		if err != nil {
			return nil, 0, err
		}
		return []byte(fmt.Sprintf(`{"count":%d}`, len(events))), int64(len(events)), nil
	})

	appendN(t, l, key, 5)

	require.Eventually(t, func() bool {
		snap, err := l.LatestSnapshot(context.Background(), AggregateOrder, "o-1")
		return err == nil && snap.Version == 5
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestSnapshotFailureDoesNotFailAppend(t *testing.T) {
	l := newTestLog(t, WithSnapshotInterval(1))
	l.RegisterSnapshotter(AggregateOrder, func(context.Context, string) ([]byte, int64, error) {
		return nil, 0, errors.New("boom")
	})
	appendN(t, l, Stream(AggregateOrder, "o-1"), 2)
}

type slowBackend struct {
	*MemoryBackend
}

func (s slowBackend) AppendEvent(ctx context.Context, evt Event) (Event, error) {
	<-ctx.Done()
	return Event{}, ctx.Err()
}

func TestAppendTimeoutIsRetryableStoreError(t *testing.T) {
	l := New(slowBackend{NewMemoryBackend()}, WithTimeout(10*time.Millisecond))
	l.Open()
	defer l.Close()

	_, err := l.Append(context.Background(), AppendRequest{
		AggregateType: AggregateOrder, AggregateID: "o-1", Version: 1, Type: "ORDER_CREATED",
	})
	require.ErrorIs(t, err, ErrStoreIO)
	assert.True(t, IsRetryable(err))
}

func TestAppendAfterClose(t *testing.T) {
	l := New(NewMemoryBackend())
	l.Open()
	require.NoError(t, l.Close())
	_, err := l.Append(context.Background(), AppendRequest{
		AggregateType: AggregateOrder, AggregateID: "o-1", Version: 1, Type: "ORDER_CREATED",
	})
	require.ErrorIs(t, err, ErrClosed)
}

func TestStreamsAndDeleteEvent(t *testing.T) {
	l := newTestLog(t)
	ctx := context.Background()
	appendN(t, l, Stream(AggregateOrder, "o-1"), 3)
	appendN(t, l, Stream(AggregateOrder, "o-2"), 1)
	appendN(t, l, Stream(AggregateUser, "u-1"), 2)

	all, err := l.Streams(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 3)

	orders, err := l.Streams(ctx, AggregateOrder)
	require.NoError(t, err)
	require.Len(t, orders, 2)
	assert.Equal(t, StreamInfo{Stream: Stream(AggregateOrder, "o-1"), Version: 3}, orders[0])

	require.NoError(t, l.DeleteEvent(ctx, AggregateOrder, "o-1", 3))
	require.ErrorIs(t, l.DeleteEvent(ctx, AggregateOrder, "o-1", 3), ErrNotFound)

	events, err := l.Events(ctx, AggregateOrder, "o-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestSnapshotOnDemand(t *testing.T) {
	l := newTestLog(t, WithSnapshotInterval(0))
	ctx := context.Background()

	_, err := l.Snapshot(ctx, AggregateOrder, "o-1")
	require.ErrorIs(t, err, ErrInvalidArgument)

	l.RegisterSnapshotter(AggregateOrder, func(ctx context.Context, id string) ([]byte, int64, error) {
		events, err := l.Events(ctx, AggregateOrder, id, 0)
		if err != nil {
			return nil, 0, err
		}
		return []byte(fmt.Sprintf(`{"count":%d}`, len(events))), int64(len(events)), nil
	})
	_, err = l.Snapshot(ctx, AggregateOrder, "o-1")
	require.ErrorIs(t, err, ErrNotFound)

	appendN(t, l, Stream(AggregateOrder, "o-1"), 3)
	version, err := l.Snapshot(ctx, AggregateOrder, "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), version)

	snap, err := l.LatestSnapshot(ctx, AggregateOrder, "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), snap.Version)
	assert.JSONEq(t, `{"count":3}`, string(snap.State))
}

// laggingBackend commits version lagAt and then stalls before returning.
type laggingBackend struct {
	*MemoryBackend
	lagAt     int64
	committed chan struct{}
}

func (b laggingBackend) AppendEvent(ctx context.Context, evt Event) (Event, error) {
	stored, err := b.MemoryBackend.AppendEvent(ctx, evt)
	if err == nil && evt.Version == b.lagAt {
		close(b.committed)
		time.Sleep(100 * time.Millisecond)
	}
	return stored, err
}

func TestConcurrentAppendsPublishInVersionOrder(t *testing.T) {
	backend := laggingBackend{MemoryBackend: NewMemoryBackend(), lagAt: 2, committed: make(chan struct{})}
	l := New(backend, WithSnapshotInterval(0))
	l.Open()
	defer l.Close()

	key := Stream(AggregateOrder, "o-1")
	rec := &recorder{}
	l.Bus().Subscribe(key.Topic(), rec.handle)
	appendN(t, l, key, 1)

	appendAt := func(v int64) error {
		_, err := l.Append(context.Background(), AppendRequest{
			AggregateType: AggregateOrder, AggregateID: "o-1", Version: v, Type: "ORDER_ITEM_ADDED",
		})
		return err
	}
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		assert.NoError(t, appendAt(2))
	}()
	go func() {
		defer wg.Done()
		<-backend.committed
		assert.NoError(t, appendAt(3))
	}()
	wg.Wait()

	waitFor(t, func() bool { return len(rec.snapshot()) == 3 })
	var versions []int64
	for _, evt := range rec.snapshot() {
		versions = append(versions, evt.Version)
	}
	assert.Equal(t, []int64{1, 2, 3}, versions)
}
