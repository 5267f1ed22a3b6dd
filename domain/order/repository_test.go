package order

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

func newLog(t *testing.T, opts ...eventlog.Option) *eventlog.Log {
	t.Helper()
	l := eventlog.New(eventlog.NewMemoryBackend(), opts...)
	l.Open()
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestExecutePersistsAndAppliesLocally(t *testing.T) {
	l := newLog(t)
	repo := NewRepository(l)
	ctx := context.Background()

	root, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(0), root.Version())
	assert.False(t, root.State().Exists())

	evt, err := root.Execute(ctx, eventlog.Metadata{ActorID: "U1"}, Create(Created{
		RestaurantID: "R1", UserID: "U1",
		Items:       []Item{{MenuItemID: "I1", Quantity: 2, Price: 5}},
		DeliveryFee: 2,
	}))
	require.NoError(t, err)
	assert.Equal(t, TypeCreated, evt.Type)
	assert.Equal(t, int64(1), evt.Version)
	assert.Equal(t, "U1", evt.Metadata.ActorID)
	assert.Equal(t, 12.0, root.State().Total)

	reloaded, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, root.State(), reloaded.State())
}

func TestViolationAppendsNothing(t *testing.T) {
	l := newLog(t)
	repo := NewRepository(l)
	ctx := context.Background()

	root, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	_, err = root.Execute(ctx, eventlog.Metadata{}, Create(Created{RestaurantID: "R1", UserID: "U1"}))
	require.NoError(t, err)

	_, err = root.Execute(ctx, eventlog.Metadata{}, Submit(""))
	require.ErrorIs(t, err, domain.ErrInvariantViolation)

	events, err := l.Events(ctx, eventlog.AggregateOrder, "o-1", 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
	assert.Equal(t, int64(1), root.Version())
}

func TestConcurrentCommandsConflict(t *testing.T) {
	l := newLog(t)
	repo := NewRepository(l)
	ctx := context.Background()

	seed, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	_, err = seed.Execute(ctx, eventlog.Metadata{}, Create(Created{RestaurantID: "R1", UserID: "U1"}))
	require.NoError(t, err)

	a, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	b, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	require.Equal(t, int64(1), a.Version())
	require.Equal(t, int64(1), b.Version())

	_, errA := a.Execute(ctx, eventlog.Metadata{}, AddItem(Item{MenuItemID: "I1", Quantity: 1, Price: 5}))
	_, errB := b.Execute(ctx, eventlog.Metadata{}, AddItem(Item{MenuItemID: "I2", Quantity: 1, Price: 7}))
	require.NoError(t, errA)
	require.ErrorIs(t, errB, eventlog.ErrConcurrencyConflict)
	assert.Equal(t, int64(1), b.Version(), "the losing root must not apply its event")

	final, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), final.Version())
	require.Len(t, final.State().Items, 1)
	assert.Equal(t, "I1", final.State().Items[0].MenuItemID)
}

func TestSnapshotEquivalence(t *testing.T) {
	l := newLog(t, eventlog.WithSnapshotInterval(0))
	repo := NewRepository(l)
	ctx := context.Background()

	root, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	_, err = root.Execute(ctx, eventlog.Metadata{}, Create(Created{RestaurantID: "R1", UserID: "U1", DeliveryFee: 1.5}))
	require.NoError(t, err)
	for i := 0; i < 12; i++ {
		_, err = root.Execute(ctx, eventlog.Metadata{}, AddItem(Item{MenuItemID: "I1", Quantity: 1, Price: 2.25, Notes: "extra"}))
		require.NoError(t, err)
	}
	_, err = root.Execute(ctx, eventlog.Metadata{}, RemoveItem("I1", 3))
	require.NoError(t, err)
	require.Equal(t, int64(14), root.Version())

	events, err := l.Events(ctx, eventlog.AggregateOrder, "o-1", 0)
	require.NoError(t, err)
	atTen, err := repo.Replay("o-1", events[:10])
	require.NoError(t, err)
	state, err := domain.Encode(atTen)
	require.NoError(t, err)
	require.NoError(t, l.SaveSnapshot(ctx, eventlog.Snapshot{
		AggregateType: eventlog.AggregateOrder, AggregateID: "o-1", Version: 10, State: state,
	}))

	fromSnapshot, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	fromEvents, err := repo.LoadFromEvents(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, fromEvents, fromSnapshot.State())
	assert.Equal(t, 20.25, fromEvents.Subtotal)
	assert.Equal(t, 21.75, fromEvents.Total)
}

func TestScheduledSnapshotMatchesHistory(t *testing.T) {
	l := newLog(t, eventlog.WithSnapshotInterval(5))
	repo := NewRepository(l)
	ctx := context.Background()

	root, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	_, err = root.Execute(ctx, eventlog.Metadata{}, Create(Created{RestaurantID: "R1", UserID: "U1"}))
	require.NoError(t, err)
	for i := 0; i < 4; i++ {
		_, err = root.Execute(ctx, eventlog.Metadata{}, AddItem(Item{MenuItemID: "I1", Quantity: 2, Price: 1.1}))
		require.NoError(t, err)
	}

	var snap eventlog.Snapshot
	require.Eventually(t, func() bool {
		snap, err = l.LatestSnapshot(ctx, eventlog.AggregateOrder, "o-1")
		return err == nil && snap.Version == 5
	}, time.Second, 5*time.Millisecond)

	var restored Order
	require.NoError(t, domain.DecodeInto(snap.State, &restored))
	fromEvents, err := repo.LoadFromEvents(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, fromEvents, restored)
}

func TestUnknownEventsAdvanceVersionOnly(t *testing.T) {
	l := newLog(t)
	repo := NewRepository(l)
	ctx := context.Background()

	root, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	_, err = root.Execute(ctx, eventlog.Metadata{}, Create(Created{RestaurantID: "R1", UserID: "U1"}))
	require.NoError(t, err)
	_, err = l.Append(ctx, eventlog.AppendRequest{
		AggregateType: eventlog.AggregateOrder, AggregateID: "o-1", Version: 2,
		Type: "ORDER_LOYALTY_POINTS_GRANTED", Payload: []byte(`{"points":10}`),
	})
	require.NoError(t, err)

	loaded, err := repo.Load(ctx, "o-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), loaded.Version())
	assert.Equal(t, StatusDraft, loaded.State().Status)

	_, err = loaded.Execute(ctx, eventlog.Metadata{}, AddItem(Item{MenuItemID: "I1", Quantity: 1, Price: 1}))
	require.NoError(t, err)
	assert.Equal(t, int64(3), loaded.Version())
}
