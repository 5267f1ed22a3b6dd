package eventlog

import (
	"context"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

const (
	// TopicAll receives every published event.
	TopicAll = "*"

	streamTopicPrefix = "stream:"
)

// Handler consumes one published event. Returned errors are logged by the
// bus; they never reach the publisher.
type Handler func(ctx context.Context, evt Event) error

// Bus fans committed events out to in-process subscribers. Every
// subscription owns an ordered queue drained by its own goroutine, so a slow
// subscriber never delays the publisher or other subscribers.
type Bus struct {
	mu     sync.RWMutex
	subs   map[string]map[*Subscription]struct{}
	open   bool
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	logger *log.Logger
}

// NewBus creates a closed bus. Call Open before publishing.
func NewBus(logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bus{
		subs:   make(map[string]map[*Subscription]struct{}),
		logger: logger,
	}
}

// Open starts delivery. Subscriptions registered before Open begin draining
// immediately.
func (b *Bus) Open() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.open {
		return
	}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.open = true
	for _, set := range b.subs {
		for sub := range set {
			b.start(sub)
		}
	}
}

// Close stops accepting events and waits for every subscriber to drain what
// was already queued.
func (b *Bus) Close() error {
	b.mu.Lock()
	if !b.open {
		b.mu.Unlock()
		return nil
	}
	b.open = false
	for _, set := range b.subs {
		for sub := range set {
			sub.stop()
		}
	}
	b.mu.Unlock()
	b.wg.Wait()
	b.cancel()
	return nil
}

// Subscribe registers h for topic. Topic is an event type, a stream topic
// (see StreamKey.Topic) or TopicAll.
func (b *Bus) Subscribe(topic string, h Handler) *Subscription {
	sub := &Subscription{
		bus:    b,
		topic:  topic,
		handle: h,
		signal: make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	set, ok := b.subs[topic]
	if !ok {
		set = make(map[*Subscription]struct{})
		b.subs[topic] = set
	}
	set[sub] = struct{}{}
	if b.open {
		b.start(sub)
	}
	return sub
}

// Publish enqueues evt for subscribers of its type, its stream and TopicAll.
// A subscriber registered on more than one matching topic receives the event
// once per registration.
func (b *Bus) Publish(evt Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if !b.open {
		return ErrClosed
	}
	for _, topic := range [...]string{evt.Type, evt.Stream().Topic(), TopicAll} {
		for sub := range b.subs[topic] {
			sub.enqueue(evt)
		}
	}
	return nil
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if set, ok := b.subs[sub.topic]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(b.subs, sub.topic)
		}
	}
	sub.stop()
}

// start must be called with b.mu held.
func (b *Bus) start(sub *Subscription) {
	sub.mu.Lock()
	if sub.running {
		sub.mu.Unlock()
		return
	}
	sub.running = true
	sub.stopped = false
	sub.done = make(chan struct{})
	sub.mu.Unlock()

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		sub.run(b.ctx, b.logger)
	}()
}

// Subscription is one registration on the bus.
type Subscription struct {
	bus    *Bus
	topic  string
	handle Handler

	mu      sync.Mutex
	queue   []Event
	signal  chan struct{}
	done    chan struct{}
	running bool
	stopped bool
}

// Topic returns the topic the subscription was registered on.
func (s *Subscription) Topic() string { return s.topic }

// Off unregisters the subscription. Events already queued are still delivered.
func (s *Subscription) Off() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.remove(s)
}

// Pending returns the number of queued, undelivered events.
func (s *Subscription) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

func (s *Subscription) enqueue(evt Event) {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.queue = append(s.queue, evt)
	s.mu.Unlock()
	select {
	case s.signal <- struct{}{}:
	default:
	}
}

func (s *Subscription) stop() {
	s.mu.Lock()
	if s.stopped || !s.running {
		s.stopped = true
		s.mu.Unlock()
		return
	}
	s.stopped = true
	close(s.done)
	s.mu.Unlock()
}

func (s *Subscription) run(ctx context.Context, logger *log.Logger) {
	for {
		batch, stopped := s.take()
		for _, evt := range batch {
			s.deliver(ctx, logger, evt)
		}
		if len(batch) > 0 {
			continue
		}
		if stopped {
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}
		select {
		case <-s.signal:
		case <-s.done:
		}
	}
}

func (s *Subscription) take() ([]Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := s.queue
	s.queue = nil
	return batch, s.stopped
}

func (s *Subscription) deliver(ctx context.Context, logger *log.Logger, evt Event) {
	defer func() {
		if r := recover(); r != nil {
			logger.WithFields(log.Fields{
				"topic":        s.topic,
				"event_type":   evt.Type,
				"aggregate_id": evt.AggregateID,
				"version":      evt.Version,
			}).Errorf("subscriber panicked: %v", r)
		}
	}()
	if err := s.handle(ctx, evt); err != nil {
		logger.WithError(err).WithFields(log.Fields{
			"topic":        s.topic,
			"event_type":   evt.Type,
			"aggregate_id": evt.AggregateID,
			"version":      evt.Version,
		}).Warn("subscriber failed")
	}
}

func (s *Subscription) String() string {
	return fmt.Sprintf("subscription(%s)", s.topic)
}
