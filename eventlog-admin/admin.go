package main

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/order"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/restaurant"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/domain/user"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

// workspace is what every command operates on.
type workspace struct {
	log       *eventlog.Log
	store     projection.Store
	cache     *projection.Cache
	logger    *log.Logger
	replayers map[eventlog.AggregateType]replayer
}

// replayer rebuilds one aggregate two ways: from its whole history and from
// its latest snapshot plus the events after it.
type replayer struct {
	fromEvents func(ctx context.Context, id string) (any, int64, error)
	current    func(ctx context.Context, id string) (any, int64, error)
}

func replayerFor[S domain.State[S], E domain.Event](r *domain.Repository[S, E]) replayer {
	return replayer{
		fromEvents: func(ctx context.Context, id string) (any, int64, error) {
			s, err := r.LoadFromEvents(ctx, id)
			return s, s.AggregateVersion(), err
		},
		current: func(ctx context.Context, id string) (any, int64, error) {
			root, err := r.Load(ctx, id)
			if err != nil {
				return nil, 0, err
			}
			return root.State(), root.Version(), nil
		},
	}
}

// newWorkspace registers the aggregate repositories, and with them the
// snapshot builders, on l.
func newWorkspace(l *eventlog.Log, st projection.Store, cache *projection.Cache, logger *log.Logger) *workspace {
	return &workspace{
		log:    l,
		store:  st,
		cache:  cache,
		logger: logger,
		replayers: map[eventlog.AggregateType]replayer{
			eventlog.AggregateOrder:      replayerFor(order.NewRepository(l)),
			eventlog.AggregateRestaurant: replayerFor(restaurant.NewRepository(l)),
			eventlog.AggregateUser:       replayerFor(user.NewRepository(l)),
		},
	}
}

// opener builds the workspace for one invocation and returns its cleanup.
type opener func(ctx context.Context) (*workspace, func(), error)

func typeFlag(required bool) cli.Flag {
	return &cli.StringFlag{Name: "type", Aliases: []string{"t"}, Usage: "aggregate type (order, restaurant, user)", Required: required}
}

func idFlag() cli.Flag {
	return &cli.StringFlag{Name: "id", Usage: "aggregate id", Required: true}
}

func newApp(open opener, out, errOut io.Writer) *cli.App {
	withWorkspace := func(run func(c *cli.Context, ws *workspace) error) cli.ActionFunc {
		return func(c *cli.Context) error {
			ws, cleanup, err := open(c.Context)
			if err != nil {
				return cli.Exit(err.Error(), 1)
			}
			defer cleanup()
			return run(c, ws)
		}
	}
	return &cli.App{
		Name:      "eventlog-admin",
		Usage:     "inspect and repair the order event log and its read model",
		Writer:    out,
		ErrWriter: errOut,

		// main maps errors to exit codes.
		ExitErrHandler: func(*cli.Context, error) {},
		Flags: []cli.Flag{
			&cli.BoolFlag{Name: "json", Usage: "print JSON instead of text"},
		},
		Commands: []*cli.Command{
			{
				Name:   "streams",
				Usage:  "list streams and their head versions",
				Flags:  []cli.Flag{typeFlag(false)},
				Action: withWorkspace(listStreams),
			},
			{
				Name:  "events",
				Usage: "print the events of one stream",
				Flags: []cli.Flag{
					typeFlag(true), idFlag(),
					&cli.Int64Flag{Name: "from", Usage: "only events after this version"},
				},
				Action: withWorkspace(listEvents),
			},
			{
				Name:  "replay",
				Usage: "rehydrate one aggregate from its events",
				Flags: []cli.Flag{
					typeFlag(true), idFlag(),
					&cli.BoolFlag{Name: "verify", Usage: "fail unless the snapshot path yields the same state"},
				},
				Action: withWorkspace(replay),
			},
			{
				Name:  "snapshot",
				Usage: "take snapshots now",
				Flags: []cli.Flag{
					typeFlag(false),
					&cli.StringFlag{Name: "id", Usage: "aggregate id; every stream of --type when empty"},
				},
				Action: withWorkspace(snapshot),
			},
			{
				Name:  "rebuild",
				Usage: "reset projector checkpoints and replay the whole log into the read model",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "projector", Usage: "orders, restaurants or users; all when empty"},
				},
				Action: withWorkspace(rebuild),
			},
			{
				Name:  "delete-event",
				Usage: "remove a single event (operator correction only)",
				Flags: []cli.Flag{
					typeFlag(true), idFlag(),
					&cli.Int64Flag{Name: "version", Usage: "version to delete", Required: true},
					&cli.BoolFlag{Name: "confirm", Usage: "required, the deletion cannot be undone"},
				},
				Action: withWorkspace(deleteEvent),
			},
		},
	}
}

func aggregateType(c *cli.Context) (eventlog.AggregateType, error) {
	raw := c.String("type")
	if raw == "" {
		return "", nil
	}
	t, ok := eventlog.ParseAggregateType(raw)
	if !ok {
		return "", cli.Exit(fmt.Sprintf("unknown aggregate type %q", raw), 2)
	}
	return t, nil
}

func printJSON(w io.Writer, v any) error {
	data, err := sonic.ConfigStd.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s\n", data)
	return err
}

func listStreams(c *cli.Context, ws *workspace) error {
	t, err := aggregateType(c)
	if err != nil {
		return err
	}
	var types []eventlog.AggregateType
	if t != "" {
		types = append(types, t)
	}
	streams, err := ws.log.Streams(c.Context, types...)
	if err != nil {
		return err
	}
	if c.Bool("json") {
		type row struct {
			Type    eventlog.AggregateType `json:"type"`
			ID      string                 `json:"id"`
			Version int64                  `json:"version"`
		}
		rows := make([]row, 0, len(streams))
		for _, s := range streams {
			rows = append(rows, row{s.Stream.AggregateType, s.Stream.AggregateID, s.Version})
		}
		return printJSON(c.App.Writer, rows)
	}
	for _, s := range streams {
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d\n", s.Stream.AggregateType, s.Stream.AggregateID, s.Version)
	}
	return nil
}

func listEvents(c *cli.Context, ws *workspace) error {
	t, err := aggregateType(c)
	if err != nil {
		return err
	}
	events, err := ws.log.Events(c.Context, t, c.String("id"), c.Int64("from"))
	if err != nil {
		return err
	}
	if c.Bool("json") {
		return printJSON(c.App.Writer, events)
	}
	for _, e := range events {
		fmt.Fprintf(c.App.Writer, "%d\t%s\t%s\t%s\t%s\n", e.Version, e.Type, e.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"), e.Metadata.ActorID, e.Payload)
	}
	return nil
}

func replay(c *cli.Context, ws *workspace) error {
	t, err := aggregateType(c)
	if err != nil {
		return err
	}
	r := ws.replayers[t]
	id := c.String("id")
	state, version, err := r.fromEvents(c.Context, id)
	if err != nil {
		return err
	}
	if version == 0 {
		return cli.Exit(fmt.Sprintf("%s %s has no events", t, id), 1)
	}
	if c.Bool("verify") {
		current, currentVersion, err := r.current(c.Context, id)
		if err != nil {
			return err
		}
		if err := sameState(state, current); err != nil || currentVersion != version {
			return cli.Exit(fmt.Sprintf("%s %s: snapshot path diverges from full replay (v%d vs v%d)", t, id, currentVersion, version), 1)
		}
		fmt.Fprintf(c.App.ErrWriter, "%s %s verified at version %d\n", t, id, version)
	}
	return printJSON(c.App.Writer, state)
}

func sameState(a, b any) error {
	ea, err := domain.Encode(a)
	if err != nil {
		return err
	}
	eb, err := domain.Encode(b)
	if err != nil {
		return err
	}
	if !bytes.Equal(ea, eb) {
		return errors.New("states differ")
	}
	return nil
}

func snapshot(c *cli.Context, ws *workspace) error {
	t, err := aggregateType(c)
	if err != nil {
		return err
	}
	id := c.String("id")
	if id != "" {
		if t == "" {
			return cli.Exit("--type is required with --id", 2)
		}
		version, err := ws.log.Snapshot(c.Context, t, id)
		if err != nil {
			return err
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d\n", t, id, version)
		return nil
	}
	var types []eventlog.AggregateType
	if t != "" {
		types = append(types, t)
	}
	streams, err := ws.log.Streams(c.Context, types...)
	if err != nil {
		return err
	}
	var errs []error
	for _, s := range streams {
		version, err := ws.log.Snapshot(c.Context, s.Stream.AggregateType, s.Stream.AggregateID)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Stream, err))
			continue
		}
		fmt.Fprintf(c.App.Writer, "%s\t%s\t%d\n", s.Stream.AggregateType, s.Stream.AggregateID, version)
	}
	return errors.Join(errs...)
}

func rebuild(c *cli.Context, ws *workspace) error {
	var opts []projection.Option
	opts = append(opts, projection.WithLogger(ws.logger))
	if ws.cache != nil {
		opts = append(opts, projection.WithAfterApply(ws.cache.AfterApply))
	}
	set := projection.NewSet(ws.log, ws.store, opts...)
	if name := c.String("projector"); name != "" {
		var picked projection.Set
		for _, p := range set {
			if p.Name() == name {
				picked = append(picked, p)
			}
		}
		if len(picked) == 0 {
			return cli.Exit(fmt.Sprintf("unknown projector %q", name), 2)
		}
		set = picked
	}
	n, err := set.Rebuild(c.Context)
	fmt.Fprintf(c.App.Writer, "replayed %d streams\n", n)
	return err
}

func deleteEvent(c *cli.Context, ws *workspace) error {
	t, err := aggregateType(c)
	if err != nil {
		return err
	}
	if !c.Bool("confirm") {
		return cli.Exit("refusing to delete an event without --confirm", 2)
	}
	id, version := c.String("id"), c.Int64("version")
	if err := ws.log.DeleteEvent(c.Context, t, id, version); err != nil {
		return err
	}
	fmt.Fprintf(c.App.Writer, "deleted %s %s v%d; run rebuild to refresh the read model\n", t, id, version)
	return nil
}
