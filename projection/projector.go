package projection

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

const (
	DefaultMaxAttempts       = 3
	DefaultReconcileInterval = time.Minute
	lockStripes              = 64
)

// rowNamespace seeds the deterministic ids of projected rows.
var rowNamespace = uuid.MustParse("6f1c9a52-2f43-4d8e-9a35-4b7b8a0e51c1")

// rowID derives a stable row id so re-applying an event rewrites the same row.
func rowID(parts ...string) string {
	return uuid.NewSHA1(rowNamespace, []byte(strings.Join(parts, "/"))).String()
}

// eventTime is the business time of an event.
func eventTime(evt eventlog.Event) time.Time {
	if !evt.Metadata.Timestamp.IsZero() {
		return evt.Metadata.Timestamp.UTC()
	}
	return evt.CreatedAt.UTC()
}

// HandlerFunc applies one event to the read model. It must be safe to call
// again with the same event.
type HandlerFunc func(ctx context.Context, evt eventlog.Event) error

type options struct {
	logger      *log.Logger
	afterApply  func(ctx context.Context, evt eventlog.Event)
	maxAttempts int
}

type Option func(*options)

func WithLogger(l *log.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithAfterApply registers a hook run after each event is projected and
// checkpointed.
func WithAfterApply(f func(ctx context.Context, evt eventlog.Event)) Option {
	return func(o *options) { o.afterApply = f }
}

// WithMaxAttempts bounds how many times a failing event is retried before
// the projector records the failure and moves past it.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// Projector keeps the read model of one aggregate type in step with the
// event log. Events of a stream are applied in version order; a checkpoint
// per stream makes redelivery a no-op and a version gap triggers a catch-up
// read from the log.
type Projector struct {
	name     string
	aggType  eventlog.AggregateType
	log      *eventlog.Log
	store    Store
	handlers map[string]HandlerFunc
	types    []string
	opts     options

	locks [lockStripes]sync.Mutex

	mu       sync.Mutex
	failures map[string]int
	subs     []*eventlog.Subscription
}

func newProjector(name string, t eventlog.AggregateType, l *eventlog.Log, st Store, types []string, opts []Option) *Projector {
	o := options{logger: log.StandardLogger(), maxAttempts: DefaultMaxAttempts}
	for _, opt := range opts {
		opt(&o)
	}
	return &Projector{
		name:     name,
		aggType:  t,
		log:      l,
		store:    st,
		handlers: make(map[string]HandlerFunc),
		types:    types,
		opts:     o,
		failures: make(map[string]int),
	}
}

func (p *Projector) Name() string { return p.name }

func (p *Projector) AggregateType() eventlog.AggregateType { return p.aggType }

func (p *Projector) on(eventType string, h HandlerFunc) {
	p.handlers[eventType] = h
}

// Start subscribes the projector to every event type of its aggregate.
func (p *Projector) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.subs) > 0 {
		return
	}
	for _, t := range p.types {
		p.subs = append(p.subs, p.log.On(t, func(ctx context.Context, evt eventlog.Event) error {
			_ = p.Handle(ctx, evt)
			return nil
		}))
	}
	p.opts.logger.WithFields(log.Fields{"projector": p.name, "event_types": len(p.types)}).Info("projector subscribed")
}

func (p *Projector) Stop() {
	p.mu.Lock()
	subs := p.subs
	p.subs = nil
	p.mu.Unlock()
	for _, s := range subs {
		p.log.Off(s)
	}
}

func (p *Projector) lock(key eventlog.StreamKey) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key.String()))
	m := &p.locks[h.Sum32()%lockStripes]
	m.Lock()
	return m.Unlock
}

// Handle projects one committed event. Events at or below the stream's
// checkpoint are ignored. A failure is logged and returned; it never
// affects other streams.
func (p *Projector) Handle(ctx context.Context, evt eventlog.Event) error {
	if evt.AggregateType != p.aggType {
		return nil
	}
	key := evt.Stream()
	unlock := p.lock(key)
	defer unlock()

	cp, err := p.store.Checkpoint(ctx, p.name, key)
	if err != nil {
		p.failureLog(evt, err).Error("failed to read projection checkpoint")
		return err
	}
	switch {
	case evt.Version <= cp:
		p.opts.logger.WithFields(p.fields(evt)).Debug("event already projected")
		return nil
	case evt.Version == cp+1:
		return p.apply(ctx, evt)
	default:
		p.opts.logger.WithFields(p.fields(evt)).WithField("checkpoint", cp).Info("version gap, catching up from log")
		return p.catchUp(ctx, key, cp)
	}
}

// catchUp applies every event of the stream after version from. The caller
// holds the stream lock.
func (p *Projector) catchUp(ctx context.Context, key eventlog.StreamKey, from int64) error {
	events, err := p.log.Events(ctx, key.AggregateType, key.AggregateID, from)
	if err != nil {
		p.opts.logger.WithError(err).WithFields(log.Fields{
			"projector":    p.name,
			"aggregate_id": key.AggregateID,
			"version":      from,
		}).Error("failed to read events for catch-up")
		return err
	}
	for _, evt := range events {
		if err := p.apply(ctx, evt); err != nil {
			return err
		}
	}
	return nil
}

func (p *Projector) apply(ctx context.Context, evt eventlog.Event) error {
	if h, ok := p.handlers[evt.Type]; ok {
		if err := h(ctx, evt); err != nil {
			attempts := p.recordFailure(evt.ID)
			entry := p.failureLog(evt, err).WithField("attempt", attempts)
			if attempts < p.opts.maxAttempts {
				entry.Error("projection failed")
				return err
			}
			entry.Error("projection failed, skipping event")
		}
	}
	p.clearFailure(evt.ID)
	if err := p.store.SaveCheckpoint(ctx, Checkpoint{
		Projector: p.name,
		Stream:    evt.Stream(),
		Version:   evt.Version,
		UpdatedAt: time.Now().UTC(),
	}); err != nil {
		p.failureLog(evt, err).Error("failed to save projection checkpoint")
		return err
	}
	if p.opts.afterApply != nil {
		p.opts.afterApply(ctx, evt)
	}
	return nil
}

func (p *Projector) recordFailure(id string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures[id]++
	return p.failures[id]
}

func (p *Projector) clearFailure(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.failures, id)
}

func (p *Projector) fields(evt eventlog.Event) log.Fields {
	return log.Fields{
		"projector":    p.name,
		"event_type":   evt.Type,
		"aggregate_id": evt.AggregateID,
		"version":      evt.Version,
	}
}

func (p *Projector) failureLog(evt eventlog.Event, err error) *log.Entry {
	return p.opts.logger.WithError(err).WithFields(p.fields(evt))
}

// Reconcile catches up every stream whose checkpoint is behind the log and
// returns how many streams it advanced.
func (p *Projector) Reconcile(ctx context.Context) (int, error) {
	streams, err := p.log.Streams(ctx, p.aggType)
	if err != nil {
		return 0, err
	}
	var (
		caught int
		errs   []error
	)
	for _, s := range streams {
		if err := ctx.Err(); err != nil {
			return caught, err
		}
		advanced, err := p.reconcileStream(ctx, s)
		if advanced {
			caught++
		}
		if err != nil {
			errs = append(errs, err)
		}
	}
	return caught, errors.Join(errs...)
}

func (p *Projector) reconcileStream(ctx context.Context, s eventlog.StreamInfo) (bool, error) {
	unlock := p.lock(s.Stream)
	defer unlock()
	cp, err := p.store.Checkpoint(ctx, p.name, s.Stream)
	if err != nil {
		return false, err
	}
	if cp >= s.Version {
		return false, nil
	}
	return true, p.catchUp(ctx, s.Stream, cp)
}

// Rebuild discards the projector's checkpoints and replays every stream from
// version 0.
func (p *Projector) Rebuild(ctx context.Context) (int, error) {
	if err := p.store.ResetCheckpoints(ctx, p.name); err != nil {
		return 0, err
	}
	p.opts.logger.WithField("projector", p.name).Warn("rebuilding read model from the event log")
	return p.Reconcile(ctx)
}

// Run reconciles immediately and then every interval until ctx is done.
func (p *Projector) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = DefaultReconcileInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		n, err := p.Reconcile(ctx)
		switch {
		case ctx.Err() != nil:
			return nil
		case err != nil:
			p.opts.logger.WithError(err).WithField("projector", p.name).Error("reconcile failed")
		case n > 0:
			p.opts.logger.WithFields(log.Fields{"projector": p.name, "streams": n}).Info("reconciled lagging streams")
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Set runs the projectors of all aggregate types together.
type Set []*Projector

// NewSet builds the order, restaurant and user projectors over one store.
func NewSet(l *eventlog.Log, st Store, opts ...Option) Set {
	return Set{
		NewRestaurantProjector(l, st, opts...),
		NewUserProjector(l, st, opts...),
		NewOrderProjector(l, st, opts...),
	}
}

func (s Set) Start() {
	for _, p := range s {
		p.Start()
	}
}

func (s Set) Stop() {
	for _, p := range s {
		p.Stop()
	}
}

func (s Set) Handle(ctx context.Context, evt eventlog.Event) error {
	for _, p := range s {
		if p.aggType == evt.AggregateType {
			return p.Handle(ctx, evt)
		}
	}
	return nil
}

func (s Set) Reconcile(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, p := range s {
		n, err := p.Reconcile(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

func (s Set) Rebuild(ctx context.Context) (int, error) {
	total := 0
	var errs []error
	for _, p := range s {
		n, err := p.Rebuild(ctx)
		total += n
		if err != nil {
			errs = append(errs, err)
		}
	}
	return total, errors.Join(errs...)
}

// Run runs every projector's reconcile loop until ctx is done.
func (s Set) Run(ctx context.Context, interval time.Duration) error {
	var g errgroup.Group
	for _, p := range s {
		g.Go(func() error { return p.Run(ctx, interval) })
	}
	return g.Wait()
}
