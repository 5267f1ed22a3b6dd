package eventlog

import (
	"context"
	"errors"
	"hash/fnv"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

const (
	DefaultSnapshotInterval = 10
	DefaultTimeout          = 5 * time.Second

	streamStripes = 64
)

// Log is the append-only event store facade. It bounds backend I/O, assigns
// event identity, publishes committed events and feeds the snapshot scheduler.
type Log struct {
	backend   Backend
	bus       *Bus
	ownsBus   bool
	snapshots *snapshotScheduler
	timeout   time.Duration
	interval  int64
	now       func() time.Time
	logger    *log.Logger

	mu     sync.Mutex
	opened bool
	closed bool

	// Held from commit through publish so a stream's events reach the bus
	// in version order.
	streams [streamStripes]sync.Mutex
}

// Option configures a Log.
type Option func(*Log)

// WithTimeout bounds every backend call. Zero disables the bound.
func WithTimeout(d time.Duration) Option {
	return func(l *Log) { l.timeout = d }
}

// WithSnapshotInterval sets how many events separate two snapshots. Zero or
// a negative value disables snapshotting.
func WithSnapshotInterval(n int) Option {
	return func(l *Log) { l.interval = int64(n) }
}

// WithBus publishes on an externally owned bus. The Log does not open or
// close it.
func WithBus(b *Bus) Option {
	return func(l *Log) {
		l.bus = b
		l.ownsBus = false
	}
}

func WithLogger(logger *log.Logger) Option {
	return func(l *Log) { l.logger = logger }
}

func WithClock(now func() time.Time) Option {
	return func(l *Log) { l.now = now }
}

// New creates a Log over backend. Call Open before appending.
func New(backend Backend, opts ...Option) *Log {
	l := &Log{
		backend:  backend,
		timeout:  DefaultTimeout,
		interval: DefaultSnapshotInterval,
		now:      time.Now,
		logger:   log.StandardLogger(),
		ownsBus:  true,
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.bus == nil {
		l.bus = NewBus(l.logger)
		l.ownsBus = true
	}
	l.snapshots = newSnapshotScheduler(l, l.logger)
	return l
}

// Open starts the bus and the snapshot scheduler.
func (l *Log) Open() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.opened {
		return
	}
	l.opened = true
	if l.ownsBus {
		l.bus.Open()
	}
	l.snapshots.start()
}

// Close stops the snapshot scheduler, drains the bus and closes the backend.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	l.snapshots.stop()
	var errs []error
	if l.ownsBus {
		errs = append(errs, l.bus.Close())
	}
	errs = append(errs, l.backend.Close())
	return errors.Join(errs...)
}

// Bus returns the bus committed events are published on.
func (l *Log) Bus() *Bus { return l.bus }

// RegisterSnapshotter installs the state builder used for streams of type t.
// Streams without a builder are never snapshotted.
func (l *Log) RegisterSnapshotter(t AggregateType, build SnapshotFunc) {
	l.snapshots.register(t, build)
}

// Append persists a new event at req.Version, which must be the current
// stream head + 1.
func (l *Log) Append(ctx context.Context, req AppendRequest) (Event, error) {
	if err := req.validate(); err != nil {
		return Event{}, err
	}
	if l.isClosed() {
		return Event{}, ErrClosed
	}
	createdAt := l.now().UTC().Truncate(time.Millisecond)
	md := req.Metadata
	if md.Timestamp.IsZero() {
		md.Timestamp = createdAt
	}
	evt := Event{
		ID:            uuid.NewString(),
		AggregateType: req.AggregateType,
		AggregateID:   req.AggregateID,
		Type:          req.Type,
		Payload:       req.Payload,
		Version:       req.Version,
		Metadata:      md,
		CreatedAt:     createdAt,
	}

	unlock := l.lockStream(evt.Stream())
	cctx, cancel := l.bound(ctx)
	stored, err := l.backend.AppendEvent(cctx, evt)
	cancel()
	if err != nil {
		unlock()
		return Event{}, ioError("append", err)
	}

	if err := l.bus.Publish(stored); err != nil {
		l.logger.WithError(err).WithFields(log.Fields{
			"event_type":   stored.Type,
			"aggregate_id": stored.AggregateID,
			"version":      stored.Version,
		}).Warn("event committed but not published")
	}
	unlock()
	if l.interval > 0 && stored.Version%l.interval == 0 {
		l.snapshots.schedule(stored.Stream())
	}
	return stored, nil
}

func (l *Log) lockStream(key StreamKey) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	m := &l.streams[h.Sum32()%streamStripes]
	m.Lock()
	return m.Unlock
}

// Events returns the events of one stream with version > fromVersion in
// ascending order.
func (l *Log) Events(ctx context.Context, t AggregateType, id string, fromVersion int64) ([]Event, error) {
	key := Stream(t, id)
	if err := key.validate(); err != nil {
		return nil, err
	}
	if fromVersion < 0 {
		return nil, invalidArgument("fromVersion must not be negative")
	}
	cctx, cancel := l.bound(ctx)
	defer cancel()
	events, err := l.backend.ListEvents(cctx, key, fromVersion)
	if err != nil {
		return nil, ioError("list events", err)
	}
	return events, nil
}

// LatestSnapshot returns the highest snapshot of a stream or ErrNotFound.
func (l *Log) LatestSnapshot(ctx context.Context, t AggregateType, id string) (Snapshot, error) {
	key := Stream(t, id)
	if err := key.validate(); err != nil {
		return Snapshot{}, err
	}
	cctx, cancel := l.bound(ctx)
	defer cancel()
	snap, err := l.backend.LatestSnapshot(cctx, key)
	if err != nil {
		return Snapshot{}, ioError("latest snapshot", err)
	}
	return snap, nil
}

// SaveSnapshot upserts snap. A snapshot at the same version overwrites the
// stored one; a lower version is rejected with ErrStaleSnapshot.
func (l *Log) SaveSnapshot(ctx context.Context, snap Snapshot) error {
	if err := snap.Stream().validate(); err != nil {
		return err
	}
	if snap.Version < 1 {
		return invalidArgument("snapshot version must be at least 1, got %d", snap.Version)
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = l.now().UTC().Truncate(time.Millisecond)
	}
	cctx, cancel := l.bound(ctx)
	defer cancel()
	return ioError("save snapshot", l.backend.PutSnapshot(cctx, snap))
}

// Snapshot builds and stores a snapshot of one stream right away with the
// registered builder, returning the version it reflects. A stream with no
// events yields ErrNotFound.
func (l *Log) Snapshot(ctx context.Context, t AggregateType, id string) (int64, error) {
	key := Stream(t, id)
	if err := key.validate(); err != nil {
		return 0, err
	}
	build := l.snapshots.builder(t)
	if build == nil {
		return 0, invalidArgument("no snapshot builder registered for %s", t)
	}
	state, version, err := build(ctx, id)
	if err != nil {
		return 0, err
	}
	if version < 1 {
		return 0, ErrNotFound
	}
	err = l.SaveSnapshot(ctx, Snapshot{AggregateType: t, AggregateID: id, Version: version, State: state})
	if err != nil && !errors.Is(err, ErrStaleSnapshot) {
		return 0, err
	}
	return version, nil
}

// On subscribes h to topic. See Bus.Subscribe.
func (l *Log) On(topic string, h Handler) *Subscription {
	return l.bus.Subscribe(topic, h)
}

// Off removes a subscription created by On.
func (l *Log) Off(sub *Subscription) {
	sub.Off()
}

// DeleteEvent removes a single event. It breaks the gap-free guarantee of
// the stream and exists for operator correction only.
func (l *Log) DeleteEvent(ctx context.Context, t AggregateType, id string, version int64) error {
	key := Stream(t, id)
	if err := key.validate(); err != nil {
		return err
	}
	cctx, cancel := l.bound(ctx)
	defer cancel()
	if err := l.backend.DeleteEvent(cctx, key, version); err != nil {
		return ioError("delete event", err)
	}
	l.logger.WithFields(log.Fields{
		"aggregate_type": t,
		"aggregate_id":   id,
		"version":        version,
	}).Warn("event deleted")
	return nil
}

// Streams lists every stream head, optionally restricted to some aggregate types.
func (l *Log) Streams(ctx context.Context, types ...AggregateType) ([]StreamInfo, error) {
	if len(types) == 0 {
		types = []AggregateType{""}
	}
	var out []StreamInfo
	for _, t := range types {
		if t != "" && !t.Valid() {
			return nil, invalidArgument("unknown aggregate type %q", t)
		}
		cctx, cancel := l.bound(ctx)
		streams, err := l.backend.ListStreams(cctx, t)
		cancel()
		if err != nil {
			return nil, ioError("list streams", err)
		}
		out = append(out, streams...)
	}
	return out, nil
}

func (l *Log) bound(ctx context.Context) (context.Context, context.CancelFunc) {
	if l.timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, l.timeout)
}

func (l *Log) isClosed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}
