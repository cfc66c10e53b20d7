// Package eventhub provides a minimal typed publish/subscribe primitive
// with synchronous, in-order delivery.
//
// The hub does nothing beyond listener bookkeeping: Publish calls every
// listener that was subscribed when the dispatch started, in
// subscription order, on the publishing goroutine. A listener added
// during a dispatch does not receive the in-progress event; a listener
// removed during a dispatch is skipped if its turn has not come yet.
package eventhub

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// Hub is a typed publish/subscribe hub for events of type T.
// The zero value is not usable; create hubs with New.
type Hub[T any] struct {
	mu     sync.Mutex
	subs   []*Subscription[T]
	closed bool
}

// Subscription is the disposable handle returned from Subscribe.
type Subscription[T any] struct {
	id       string
	hub      *Hub[T]
	fn       func(T)
	inactive atomic.Bool
}

// ID returns the unique identifier of this subscription.
func (s *Subscription[T]) ID() string {
	return s.id
}

// Unsubscribe removes the listener from the hub. It is safe to call
// multiple times and from within a dispatch.
func (s *Subscription[T]) Unsubscribe() {
	if s == nil || !s.inactive.CompareAndSwap(false, true) {
		return
	}
	s.hub.remove(s)
}

// New creates an empty hub.
func New[T any]() *Hub[T] {
	return &Hub[T]{}
}

// Subscribe registers a listener and returns its handle. Listeners are
// invoked synchronously in subscription order. Subscribing to a closed
// hub returns an inert handle that will never fire.
func (h *Hub[T]) Subscribe(fn func(T)) *Subscription[T] {
	sub := &Subscription[T]{
		id:  uuid.NewString(),
		hub: h,
		fn:  fn,
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed || fn == nil {
		sub.inactive.Store(true)
		return sub
	}
	h.subs = append(h.subs, sub)
	return sub
}

// Publish delivers ev to all listeners subscribed at the start of the
// dispatch, in subscription order, on the calling goroutine.
func (h *Hub[T]) Publish(ev T) {
	h.mu.Lock()
	snapshot := make([]*Subscription[T], len(h.subs))
	copy(snapshot, h.subs)
	h.mu.Unlock()

	for _, sub := range snapshot {
		if sub.inactive.Load() {
			continue
		}
		sub.fn(ev)
	}
}

// Len returns the number of active listeners.
func (h *Hub[T]) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// Close removes all listeners and makes the hub inert. Further
// Publish calls are no-ops; further Subscribe calls return inert
// handles. Close is idempotent.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	subs := h.subs
	h.subs = nil
	h.closed = true
	h.mu.Unlock()

	for _, sub := range subs {
		sub.inactive.Store(true)
	}
}

// remove drops a single subscription, preserving order of the rest.
func (h *Hub[T]) remove(target *Subscription[T]) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, sub := range h.subs {
		if sub == target {
			h.subs = append(h.subs[:i], h.subs[i+1:]...)
			return
		}
	}
}
