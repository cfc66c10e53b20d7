// Package opqueue serializes asynchronous operations per scope.
//
// A scope is the (tab, key-or-state-name) pair that must never see two
// concurrent mutations. The serializer guarantees that at most one
// callback per scope runs at a time, that callbacks for the same scope
// run in submission order, and that a scope whose queue empties keeps
// no dangling bookkeeping. Different scopes have no ordering guarantee
// relative to each other.
//
// Each queued callback awaits only its immediate predecessor's
// settlement; a predecessor's error or panic propagates to that
// predecessor's caller alone and never aborts the operations queued
// behind it.
package opqueue

import (
	"context"
	"sync"

	"github.com/Lej77/tst-mark-tabs/types"
)

// Scope identifies a serialization unit: one tab plus the fact key or
// state name being mutated.
type Scope struct {
	Tab types.TabID
	Key string
}

// scopeQueue tracks the tail of one scope's operation chain.
type scopeQueue struct {
	last    chan struct{} // settled signal of the most recently enqueued op
	depth   int           // queued plus running ops
	invalid bool          // scope invalidated; queued ops resolve their default
}

// Serializer runs callbacks one at a time per scope. T is the result
// type shared by all callbacks on this serializer.
type Serializer[T any] struct {
	mu       sync.Mutex
	queues   map[Scope]*scopeQueue
	inflight sync.WaitGroup
	closed   bool
}

// New creates an empty serializer.
func New[T any]() *Serializer[T] {
	return &Serializer[T]{
		queues: make(map[Scope]*scopeQueue),
	}
}

// Enqueue queues fn behind any operation already pending on scope and
// runs it once its predecessor has settled. It returns fn's result, or
// def without running fn when the scope was invalidated or the
// serializer closed before fn's turn came. Errors from fn reach only
// this caller.
func (s *Serializer[T]) Enqueue(ctx context.Context, scope Scope, fn func(context.Context) (T, error), def T) (T, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return def, nil
	}
	q := s.queues[scope]
	if q == nil {
		q = &scopeQueue{}
		s.queues[scope] = q
	}
	prev := q.last
	done := make(chan struct{})
	q.last = done
	q.depth++
	s.inflight.Add(1)
	s.mu.Unlock()

	// settle closes this op's slot in the chain and drops the scope
	// entry once its queue empties. It must run exactly once, and only
	// after the predecessor has settled, or successors could overlap a
	// still-running predecessor.
	settle := func() {
		close(done)
		s.mu.Lock()
		q.depth--
		if q.depth == 0 && s.queues[scope] == q {
			delete(s.queues, scope)
		}
		s.mu.Unlock()
		s.inflight.Done()
	}

	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
			// Give up our turn without breaking the chain: settle only
			// once the predecessor has.
			go func() {
				<-prev
				settle()
			}()
			return def, ctx.Err()
		}
	}

	s.mu.Lock()
	abandoned := q.invalid || s.closed
	s.mu.Unlock()
	if abandoned {
		settle()
		return def, nil
	}

	defer settle()
	return fn(ctx)
}

// Wait blocks until every operation pending on scope at the time of
// the call has settled. Operations enqueued afterwards are not waited
// for.
func (s *Serializer[T]) Wait(ctx context.Context, scope Scope) error {
	s.mu.Lock()
	var tail chan struct{}
	if q := s.queues[scope]; q != nil {
		tail = q.last
	}
	s.mu.Unlock()

	if tail == nil {
		return nil
	}
	select {
	case <-tail:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Invalidate marks a scope so that its queued-but-not-yet-running
// operations resolve their default value instead of running. The
// operation currently executing is unaffected. A scope re-created by a
// later Enqueue starts valid again.
func (s *Serializer[T]) Invalidate(scope Scope) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.queues[scope]; q != nil {
		q.invalid = true
	}
}

// Pending returns the number of queued plus running operations on
// scope.
func (s *Serializer[T]) Pending(scope Scope) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q := s.queues[scope]; q != nil {
		return q.depth
	}
	return 0
}

// Close stops accepting work: subsequent Enqueue calls and operations
// still queued resolve their defaults. The operation currently running
// on each scope settles normally. Close is idempotent.
func (s *Serializer[T]) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

// Drain blocks until all accepted operations have settled, or until
// ctx is cancelled. Typically called after Close during teardown.
func (s *Serializer[T]) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
