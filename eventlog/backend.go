package eventlog

import "context"

// Backend is the persistence contract behind Log.
//
// AppendEvent must atomically check that evt.Version is the stream head + 1
// and return a ConcurrencyConflictError otherwise. Stored events are never
// modified; DeleteEvent exists for operator correction only.
type Backend interface {
	AppendEvent(ctx context.Context, evt Event) (Event, error)
	ListEvents(ctx context.Context, stream StreamKey, fromVersion int64) ([]Event, error)
	LatestSnapshot(ctx context.Context, stream StreamKey) (Snapshot, error)
	PutSnapshot(ctx context.Context, snapshot Snapshot) error
	DeleteEvent(ctx context.Context, stream StreamKey, version int64) error
	ListStreams(ctx context.Context, aggregateType AggregateType) ([]StreamInfo, error)
	Close() error
}
