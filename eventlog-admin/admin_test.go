package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/command"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

type fixture struct {
	l      *eventlog.Log
	store  *projection.MemoryStore
	orders *command.Orders
	ws     *workspace
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := log.New()
	logger.SetLevel(log.WarnLevel)
	l := eventlog.New(eventlog.NewMemoryBackend(), eventlog.WithSnapshotInterval(0))
	st := projection.NewMemoryStore()
	f := &fixture{l: l, store: st, orders: command.NewOrders(l), ws: newWorkspace(l, st, nil, logger)}
	l.Open()
	t.Cleanup(func() { _ = l.Close() })
	return f
}

func (f *fixture) run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	open := func(context.Context) (*workspace, func(), error) { return f.ws, func() {}, nil }
	err := newApp(open, &out, &errOut).RunContext(context.Background(), append([]string{"eventlog-admin"}, args...))
	return out.String(), errOut.String(), err
}

func (f *fixture) createOrder(t *testing.T) string {
	t.Helper()
	id, err := f.orders.Create(context.Background(), command.CreateOrderInput{
		RestaurantID: "R1",
		UserID:       "U1",
		Items:        []command.ItemInput{{MenuItemID: "I1", Name: "Taco", Quantity: 1, Price: 4}},
	}, eventlog.Metadata{ActorID: "ops"})
	require.NoError(t, err)
	return id
}

func (f *fixture) addItem(t *testing.T, id string) {
	t.Helper()
	err := f.orders.AddItem(context.Background(), id, command.ItemInput{MenuItemID: "I2", Name: "Soda", Quantity: 1, Price: 1.5}, eventlog.Metadata{ActorID: "ops"})
	require.NoError(t, err)
}

func exitCode(err error) int {
	var exit cli.ExitCoder
	if errors.As(err, &exit) {
		return exit.ExitCode()
	}
	return -1
}

func TestStreamsListsHeads(t *testing.T) {
	f := newFixture(t)
	id := f.createOrder(t)
	f.addItem(t, id)

	out, _, err := f.run(t, "streams", "--type", "order")
	require.NoError(t, err)
	assert.Equal(t, "order\t"+id+"\t2\n", out)

	out, _, err = f.run(t, "--json", "streams")
	require.NoError(t, err)
	assert.JSONEq(t, `[{"type":"order","id":"`+id+`","version":2}]`, out)
}

func TestEventsPrintsHistory(t *testing.T) {
	f := newFixture(t)
	id := f.createOrder(t)
	f.addItem(t, id)

	out, _, err := f.run(t, "events", "--type", "order", "--id", id, "--from", "1")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 1)
	assert.True(t, strings.HasPrefix(lines[0], "2\tORDER_ITEM_ADDED\t"), lines[0])
	assert.Contains(t, lines[0], "\tops\t")
}

func TestReplayVerifiesSnapshotPath(t *testing.T) {
	f := newFixture(t)
	id := f.createOrder(t)
	f.addItem(t, id)

	out, _, err := f.run(t, "snapshot", "--type", "order", "--id", id)
	require.NoError(t, err)
	assert.Equal(t, "order\t"+id+"\t2\n", out)

	f.addItem(t, id)
	out, errOut, err := f.run(t, "replay", "--type", "order", "--id", id, "--verify")
	require.NoError(t, err)
	assert.Contains(t, errOut, "verified at version 3")
	assert.Contains(t, out, id)

	_, _, err = f.run(t, "replay", "--type", "order", "--id", "missing")
	assert.Equal(t, 1, exitCode(err))
}

func TestSnapshotAllStreams(t *testing.T) {
	f := newFixture(t)
	a := f.createOrder(t)
	b := f.createOrder(t)
	f.addItem(t, b)

	_, _, err := f.run(t, "snapshot", "--type", "order")
	require.NoError(t, err)
	for id, want := range map[string]int64{a: 1, b: 2} {
		snap, err := f.l.LatestSnapshot(context.Background(), eventlog.AggregateOrder, id)
		require.NoError(t, err)
		assert.Equal(t, want, snap.Version)
	}
}

func TestRebuildProjectsWholeLog(t *testing.T) {
	f := newFixture(t)
	id := f.createOrder(t)
	f.addItem(t, id)

	_, err := f.store.GetOrder(context.Background(), id)
	require.ErrorIs(t, err, projection.ErrNotFound)

	out, _, err := f.run(t, "rebuild", "--projector", "orders")
	require.NoError(t, err)
	assert.Equal(t, "replayed 1 streams\n", out)

	view, err := f.store.GetOrder(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 5.5, view.Total)

	_, _, err = f.run(t, "rebuild", "--projector", "payments")
	assert.Equal(t, 2, exitCode(err))
}

func TestDeleteEventRequiresConfirm(t *testing.T) {
	f := newFixture(t)
	id := f.createOrder(t)
	f.addItem(t, id)

	_, _, err := f.run(t, "delete-event", "--type", "order", "--id", id, "--version", "2")
	require.Equal(t, 2, exitCode(err))
	events, err := f.l.Events(context.Background(), eventlog.AggregateOrder, id, 0)
	require.NoError(t, err)
	require.Len(t, events, 2)

	out, _, err := f.run(t, "delete-event", "--type", "order", "--id", id, "--version", "2", "--confirm")
	require.NoError(t, err)
	assert.Contains(t, out, "deleted order "+id+" v2")
	events, err = f.l.Events(context.Background(), eventlog.AggregateOrder, id, 0)
	require.NoError(t, err)
	assert.Len(t, events, 1)
}

func TestUnknownAggregateType(t *testing.T) {
	f := newFixture(t)
	_, _, err := f.run(t, "streams", "--type", "courier")
	assert.Equal(t, 2, exitCode(err))
}
