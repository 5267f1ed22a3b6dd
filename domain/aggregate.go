// Package domain holds the event-sourced aggregate machinery shared by the
// order, restaurant and user aggregates.
package domain

import (
	"context"
	"errors"
	"fmt"

	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/eventlog"
)

// Event is implemented by the sealed event types of each aggregate.
type Event interface {
	EventType() string
}

// State is implemented by aggregate state values.
type State[S any] interface {
	AggregateVersion() int64
	WithVersion(v int64) S
}

// Definition describes one aggregate type to the Repository.
type Definition[S State[S], E Event] struct {
	Type eventlog.AggregateType
	// Initial returns the state of an aggregate with no events.
	Initial func(id string) S
	// Decode maps a stored event to the aggregate's event type. ok is false
	// for event types this build does not know.
	Decode func(eventType string, payload []byte) (evt E, ok bool, err error)
	// Apply is the pure reducer.
	Apply func(state S, evt E) S
}

var codec = sonic.ConfigStd

// Encode serializes events and states for storage.
func Encode(v any) ([]byte, error) {
	return codec.Marshal(v)
}

// DecodeInto deserializes an event payload or snapshot state.
func DecodeInto(data []byte, v any) error {
	return codec.Unmarshal(data, v)
}

// Repository loads and persists aggregates of one type through the event log.
type Repository[S State[S], E Event] struct {
	log    *eventlog.Log
	def    Definition[S, E]
	logger *log.Logger
}

// NewRepository creates a repository and registers its snapshot builder with l.
func NewRepository[S State[S], E Event](l *eventlog.Log, def Definition[S, E]) *Repository[S, E] {
	r := &Repository[S, E]{log: l, def: def, logger: log.StandardLogger()}
	l.RegisterSnapshotter(def.Type, r.snapshot)
	return r
}

// Type returns the aggregate type the repository serves.
func (r *Repository[S, E]) Type() eventlog.AggregateType { return r.def.Type }

// Load rebuilds the aggregate from its latest snapshot and the events after
// it. An aggregate without events loads as its initial state at version 0.
func (r *Repository[S, E]) Load(ctx context.Context, id string) (*Root[S, E], error) {
	state := r.def.Initial(id)
	snap, err := r.log.LatestSnapshot(ctx, r.def.Type, id)
	switch {
	case err == nil:
		var restored S
		if derr := DecodeInto(snap.State, &restored); derr != nil {
			r.logger.WithError(derr).WithFields(log.Fields{
				"aggregate_type": r.def.Type,
				"aggregate_id":   id,
				"version":        snap.Version,
			}).Warn("ignoring undecodable snapshot")
		} else {
			state = restored.WithVersion(snap.Version)
		}
	case errors.Is(err, eventlog.ErrNotFound):
	default:
		return nil, fmt.Errorf("load %s %s: %w", r.def.Type, id, err)
	}

	events, err := r.log.Events(ctx, r.def.Type, id, state.AggregateVersion())
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", r.def.Type, id, err)
	}
	state, err = r.fold(state, events)
	if err != nil {
		return nil, err
	}
	return &Root[S, E]{repo: r, id: id, state: state}, nil
}

// LoadFromEvents rebuilds the aggregate from its full history, ignoring snapshots.
func (r *Repository[S, E]) LoadFromEvents(ctx context.Context, id string) (S, error) {
	events, err := r.log.Events(ctx, r.def.Type, id, 0)
	if err != nil {
		var zero S
		return zero, fmt.Errorf("replay %s %s: %w", r.def.Type, id, err)
	}
	return r.Replay(id, events)
}

// Replay folds events over the initial state.
func (r *Repository[S, E]) Replay(id string, events []eventlog.Event) (S, error) {
	return r.fold(r.def.Initial(id), events)
}

func (r *Repository[S, E]) fold(state S, events []eventlog.Event) (S, error) {
	for _, stored := range events {
		evt, ok, err := r.def.Decode(stored.Type, stored.Payload)
		if err != nil {
			return state, fmt.Errorf("decode %s v%d (%s): %w", stored.Stream(), stored.Version, stored.Type, err)
		}
		if ok {
			state = r.def.Apply(state, evt)
		}
		state = state.WithVersion(stored.Version)
	}
	return state, nil
}

func (r *Repository[S, E]) snapshot(ctx context.Context, id string) ([]byte, int64, error) {
	root, err := r.Load(ctx, id)
	if err != nil {
		return nil, 0, err
	}
	data, err := Encode(root.state)
	if err != nil {
		return nil, 0, fmt.Errorf("encode %s %s state: %w", r.def.Type, id, err)
	}
	return data, root.state.AggregateVersion(), nil
}

// Root is one loaded aggregate instance. It is owned by the command that
// loaded it and must not be shared.
type Root[S State[S], E Event] struct {
	repo  *Repository[S, E]
	id    string
	state S
}

func (a *Root[S, E]) ID() string     { return a.id }
func (a *Root[S, E]) State() S       { return a.state }
func (a *Root[S, E]) Version() int64 { return a.state.AggregateVersion() }

// Decision inspects the current state and returns the event to record, or
// an error (usually an InvariantError) to reject the command.
type Decision[S any, E Event] func(state S) (E, error)

// Execute runs decide, appends the resulting event at Version()+1 and applies
// it locally.
func (a *Root[S, E]) Execute(ctx context.Context, md eventlog.Metadata, decide Decision[S, E]) (eventlog.Event, error) {
	evt, err := decide(a.state)
	if err != nil {
		return eventlog.Event{}, err
	}
	payload, err := Encode(evt)
	if err != nil {
		return eventlog.Event{}, fmt.Errorf("encode %s: %w", evt.EventType(), err)
	}
	stored, err := a.repo.log.Append(ctx, eventlog.AppendRequest{
		AggregateType: a.repo.def.Type,
		AggregateID:   a.id,
		Version:       a.state.AggregateVersion() + 1,
		Type:          evt.EventType(),
		Payload:       payload,
		Metadata:      md,
	})
	if err != nil {
		return eventlog.Event{}, err
	}
	a.state = a.repo.def.Apply(a.state, evt).WithVersion(stored.Version)
	return stored, nil
}
