package eventlog

import (
	"context"
	"sort"
	"sync"
)

// MemoryBackend keeps streams in process memory. It is used by tests and by
// STORAGE_BACKEND=memory for local development.
type MemoryBackend struct {
	mu        sync.RWMutex
	streams   map[StreamKey][]Event
	snapshots map[StreamKey]Snapshot
	closed    bool
}

// NewMemoryBackend creates an empty in-memory backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		streams:   make(map[StreamKey][]Event),
		snapshots: make(map[StreamKey]Snapshot),
	}
}

func (m *MemoryBackend) AppendEvent(ctx context.Context, evt Event) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Event{}, ErrClosed
	}
	key := evt.Stream()
	events := m.streams[key]
	var head int64
	if n := len(events); n > 0 {
		head = events[n-1].Version
	}
	if evt.Version != head+1 {
		return Event{}, Conflict(key, evt.Version, head)
	}
	evt.Payload = append([]byte(nil), evt.Payload...)
	m.streams[key] = append(events, evt)
	return evt, nil
}

func (m *MemoryBackend) ListEvents(ctx context.Context, stream StreamKey, fromVersion int64) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	events := m.streams[stream]
	idx := sort.Search(len(events), func(i int) bool { return events[i].Version > fromVersion })
	out := make([]Event, len(events)-idx)
	copy(out, events[idx:])
	return out, nil
}

func (m *MemoryBackend) LatestSnapshot(ctx context.Context, stream StreamKey) (Snapshot, error) {
	if err := ctx.Err(); err != nil {
		return Snapshot{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	snap, ok := m.snapshots[stream]
	if !ok {
		return Snapshot{}, ErrNotFound
	}
	return snap, nil
}

func (m *MemoryBackend) PutSnapshot(ctx context.Context, snapshot Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := snapshot.Stream()
	if cur, ok := m.snapshots[key]; ok && cur.Version > snapshot.Version {
		return ErrStaleSnapshot
	}
	snapshot.State = append([]byte(nil), snapshot.State...)
	m.snapshots[key] = snapshot
	return nil
}

func (m *MemoryBackend) DeleteEvent(ctx context.Context, stream StreamKey, version int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	events := m.streams[stream]
	for i, evt := range events {
		if evt.Version == version {
			m.streams[stream] = append(events[:i:i], events[i+1:]...)
			return nil
		}
	}
	return ErrNotFound
}

func (m *MemoryBackend) ListStreams(ctx context.Context, aggregateType AggregateType) ([]StreamInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StreamInfo, 0, len(m.streams))
	for key, events := range m.streams {
		if aggregateType != "" && key.AggregateType != aggregateType {
			continue
		}
		if len(events) == 0 {
			continue
		}
		out = append(out, StreamInfo{Stream: key, Version: events[len(events)-1].Version})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream.String() < out[j].Stream.String() })
	return out, nil
}

func (m *MemoryBackend) Close() error {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
	return nil
}
