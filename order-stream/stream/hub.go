// Package stream pushes order view changes to dashboard clients over
// server-sent events.
package stream

import (
	"sync"

	"github.com/Soyelijah/dashboard-dysaeats-sub001/projection"
)

// Filter selects the orders a subscriber sees. Empty fields match anything.
type Filter struct {
	OrderID      string
	RestaurantID string
	UserID       string
}

func (f Filter) matches(u projection.OrderUpdate) bool {
	if f.OrderID != "" && f.OrderID != u.OrderID {
		return false
	}
	if f.RestaurantID != "" && f.RestaurantID != u.RestaurantID {
		return false
	}
	if f.UserID != "" && f.UserID != u.UserID {
		return false
	}
	return true
}

type subscriber struct {
	filter Filter
	ch     chan projection.OrderUpdate
}

// Hub fans order updates out to subscribers. A subscriber that falls a full
// buffer behind is dropped and its channel closed; the client reconnects and
// starts again from a fresh snapshot.
type Hub struct {
	buffer int

	mu   sync.Mutex
	subs map[*subscriber]struct{}
}

func NewHub(buffer int) *Hub {
	if buffer <= 0 {
		buffer = 64
	}
	return &Hub{buffer: buffer, subs: make(map[*subscriber]struct{})}
}

// Subscribe registers f. The returned func unsubscribes and is safe to call
// after the hub dropped the subscriber.
func (h *Hub) Subscribe(f Filter) (<-chan projection.OrderUpdate, func()) {
	s := &subscriber{filter: f, ch: make(chan projection.OrderUpdate, h.buffer)}
	h.mu.Lock()
	h.subs[s] = struct{}{}
	h.mu.Unlock()
	return s.ch, func() { h.remove(s) }
}

func (h *Hub) remove(s *subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[s]; ok {
		delete(h.subs, s)
		close(s.ch)
	}
}

// Broadcast never blocks.
func (h *Hub) Broadcast(u projection.OrderUpdate) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for s := range h.subs {
		if !s.filter.matches(u) {
			continue
		}
		select {
		case s.ch <- u:
		default:
			delete(h.subs, s)
			close(s.ch)
		}
	}
}

// Len reports the number of live subscribers.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}
