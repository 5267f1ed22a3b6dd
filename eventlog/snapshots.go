package eventlog

import (
	"context"
	"errors"
	"sync"

	log "github.com/sirupsen/logrus"
)

// SnapshotFunc materializes the current state of one aggregate. It returns
// the encoded state and the version it reflects.
type SnapshotFunc func(ctx context.Context, id string) (state []byte, version int64, err error)

const snapshotQueueSize = 256

// snapshotScheduler builds snapshots off the append path. Requests are
// deduplicated per stream and dropped when the queue is full; a dropped
// request is picked up by the next threshold crossing.
type snapshotScheduler struct {
	log    *Log
	logger *log.Logger

	mu       sync.Mutex
	builders map[AggregateType]SnapshotFunc
	pending  map[StreamKey]struct{}
	queue    chan StreamKey
	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	running  bool
}

func newSnapshotScheduler(l *Log, logger *log.Logger) *snapshotScheduler {
	return &snapshotScheduler{
		log:      l,
		logger:   logger,
		builders: make(map[AggregateType]SnapshotFunc),
		pending:  make(map[StreamKey]struct{}),
		queue:    make(chan StreamKey, snapshotQueueSize),
	}
}

func (s *snapshotScheduler) register(t AggregateType, build SnapshotFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.builders[t] = build
}

func (s *snapshotScheduler) builder(t AggregateType) SnapshotFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.builders[t]
}

func (s *snapshotScheduler) start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.ctx, s.cancel = context.WithCancel(context.Background())
	s.wg.Add(1)
	go s.loop(s.ctx)
}

func (s *snapshotScheduler) stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.cancel()
	s.mu.Unlock()
	s.wg.Wait()
}

// schedule never blocks.
func (s *snapshotScheduler) schedule(key StreamKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	if _, ok := s.builders[key.AggregateType]; !ok {
		return
	}
	if _, ok := s.pending[key]; ok {
		return
	}
	select {
	case s.queue <- key:
		s.pending[key] = struct{}{}
	default:
		s.logger.WithField("stream", key.String()).Warn("snapshot queue full, request dropped")
	}
}

func (s *snapshotScheduler) loop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case key := <-s.queue:
			s.mu.Lock()
			delete(s.pending, key)
			build := s.builders[key.AggregateType]
			s.mu.Unlock()
			if build != nil {
				s.take(ctx, key, build)
			}
		}
	}
}

func (s *snapshotScheduler) take(ctx context.Context, key StreamKey, build SnapshotFunc) {
	entry := s.logger.WithFields(log.Fields{
		"aggregate_type": key.AggregateType,
		"aggregate_id":   key.AggregateID,
	})
	state, version, err := build(ctx, key.AggregateID)
	if err != nil {
		entry.WithError(err).Warn("snapshot build failed")
		return
	}
	if version < 1 {
		return
	}
	err = s.log.SaveSnapshot(ctx, Snapshot{
		AggregateType: key.AggregateType,
		AggregateID:   key.AggregateID,
		Version:       version,
		State:         state,
	})
	switch {
	case err == nil:
		entry.WithField("version", version).Debug("snapshot saved")
	case errors.Is(err, ErrStaleSnapshot):
		entry.WithField("version", version).Debug("newer snapshot already stored")
	default:
		entry.WithError(err).Warn("snapshot save failed")
	}
}
