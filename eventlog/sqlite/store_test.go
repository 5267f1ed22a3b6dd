package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "events.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testEvent(id string, version int64) eventlog.Event {
	return eventlog.Event{
		ID:            id,
		AggregateType: eventlog.AggregateOrder,
		AggregateID:   "o-1",
		Type:          "ORDER_ITEM_ADDED",
		Payload:       []byte(`{"menuItemId":"I1"}`),
		Version:       version,
		Metadata:      eventlog.Metadata{ActorID: "u-1", Source: "test"},
		CreatedAt:     time.Date(2024, 1, 2, 3, 4, 5, 6_000_000, time.UTC),
	}
}

func TestAppendAndListEvents(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	for v := int64(1); v <= 3; v++ {
		_, err := store.AppendEvent(ctx, testEvent("e"+string(rune('0'+v)), v))
		require.NoError(t, err)
	}

	events, err := store.ListEvents(ctx, eventlog.Stream(eventlog.AggregateOrder, "o-1"), 1)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, int64(2), events[0].Version)
	assert.Equal(t, int64(3), events[1].Version)
	assert.Equal(t, "u-1", events[0].Metadata.ActorID)
	assert.JSONEq(t, `{"menuItemId":"I1"}`, string(events[0].Payload))
	assert.Equal(t, testEvent("", 1).CreatedAt, events[0].CreatedAt)
	assert.Equal(t, eventlog.AggregateOrder, events[0].AggregateType)
}

func TestAppendRejectsStaleAndGappedVersions(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, testEvent("e1", 1))
	require.NoError(t, err)

	_, err = store.AppendEvent(ctx, testEvent("e2", 1))
	require.ErrorIs(t, err, eventlog.ErrConcurrencyConflict)

	_, err = store.AppendEvent(ctx, testEvent("e3", 5))
	require.ErrorIs(t, err, eventlog.ErrConcurrencyConflict)
	var conflict *eventlog.ConcurrencyConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, int64(1), conflict.Actual)
}

func TestConcurrentAppendsThroughLog(t *testing.T) {
	l := eventlog.New(openTestStore(t))
	l.Open()
	defer l.Close()
	ctx := context.Background()

	_, err := l.Append(ctx, eventlog.AppendRequest{AggregateType: eventlog.AggregateOrder, AggregateID: "o-1", Version: 1, Type: "ORDER_CREATED"})
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make([]error, 4)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = l.Append(ctx, eventlog.AppendRequest{AggregateType: eventlog.AggregateOrder, AggregateID: "o-1", Version: 2, Type: "ORDER_ITEM_ADDED"})
		}(i)
	}
	wg.Wait()

	var ok int
	for _, err := range errs {
		if err == nil {
			ok++
			continue
		}
		require.ErrorIs(t, err, eventlog.ErrConcurrencyConflict)
	}
	assert.Equal(t, 1, ok)
}

func TestSnapshots(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()
	key := eventlog.Stream(eventlog.AggregateOrder, "o-1")

	_, err := store.LatestSnapshot(ctx, key)
	require.ErrorIs(t, err, eventlog.ErrNotFound)

	snap := eventlog.Snapshot{AggregateType: key.AggregateType, AggregateID: key.AggregateID, Version: 10, State: []byte(`{"status":"draft"}`), CreatedAt: time.UnixMilli(1000).UTC()}
	require.NoError(t, store.PutSnapshot(ctx, snap))

	snap.State = []byte(`{"status":"pending"}`)
	require.NoError(t, store.PutSnapshot(ctx, snap))

	stale := snap
	stale.Version = 9
	require.ErrorIs(t, store.PutSnapshot(ctx, stale), eventlog.ErrStaleSnapshot)

	got, err := store.LatestSnapshot(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Version)
	assert.JSONEq(t, `{"status":"pending"}`, string(got.State))
}

func TestDeleteEventAndListStreams(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.AppendEvent(ctx, testEvent("e1", 1))
	require.NoError(t, err)
	_, err = store.AppendEvent(ctx, testEvent("e2", 2))
	require.NoError(t, err)
	user := testEvent("u1", 1)
	user.AggregateType = eventlog.AggregateUser
	user.AggregateID = "u-1"
	_, err = store.AppendEvent(ctx, user)
	require.NoError(t, err)

	streams, err := store.ListStreams(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []eventlog.StreamInfo{
		{Stream: eventlog.Stream(eventlog.AggregateOrder, "o-1"), Version: 2},
		{Stream: eventlog.Stream(eventlog.AggregateUser, "u-1"), Version: 1},
	}, streams)

	users, err := store.ListStreams(ctx, eventlog.AggregateUser)
	require.NoError(t, err)
	assert.Len(t, users, 1)

	key := eventlog.Stream(eventlog.AggregateOrder, "o-1")
	require.NoError(t, store.DeleteEvent(ctx, key, 2))
	require.ErrorIs(t, store.DeleteEvent(ctx, key, 2), eventlog.ErrNotFound)
}
