// Package singleflight collapses concurrent calls for the same key into
// one underlying computation with correct fan-out of the result and
// cleanup on cancellation.
//
// Grounded directly on the Rust original's Group/Guard state machine
// (src/singleflight.rs): the slot is removed by a scoped guard before the
// result is broadcast, so a caller arriving mid-broadcast always sees
// either a clean "absent" (and becomes the new leader) or a published
// result — never a stale in-flight slot with no one left to finish it.
//
// The teacher's internal/handler/thumbnail.go reaches for
// golang.org/x/sync/singleflight for the same intent, but that package
// collapses leader cancellation into an error shared with followers
// instead of letting them retry, which spec.md requires — hence the
// from-scratch reimplementation here.
package singleflight

import (
	"context"
	"sync"
)

// call is the broadcast handle for one in-flight key. done is closed
// exactly once, after value/err are set, signaling every follower.
type call[T any] struct {
	done  chan struct{}
	value T
	err   error
	// ok is false when the leader was cancelled/panicked without
	// producing a result — the "no result, retry" signal from spec.md.
	ok bool
}

// Group deduplicates calls by key K, sharing results of type T. T should
// be cheap to copy (e.g. a small struct wrapping a *imgref.Ref) since
// every follower receives the same value.
type Group[K comparable, T any] struct {
	mu sync.Mutex
	m  map[K]*call[T]
}

// NewGroup returns an empty Group.
func NewGroup[K comparable, T any]() *Group[K, T] {
	return &Group[K, T]{m: make(map[K]*call[T])}
}

// Do executes fn for key, or waits for and returns the in-flight leader's
// result if one is already running. It loops if a leader exits without
// producing a result (cancelled or panicked), since per spec.md that is
// not an error but a retry signal — a fresh caller becomes the new
// leader.
//
// A follower's wait observes ctx: if ctx is cancelled before the leader
// publishes, Do returns ctx.Err() immediately without touching the
// leader's slot, which keeps running for the leader and any other
// followers. fn itself receives no context; callers that need the
// leader's own cancellation to surface should make fn context-aware and
// let ctx.Err() flow through the returned error, which is broadcast
// verbatim to every follower that is still waiting.
func (g *Group[K, T]) Do(ctx context.Context, key K, fn func() (T, error)) (T, error) {
	for {
		g.mu.Lock()
		if c, ok := g.m[key]; ok {
			g.mu.Unlock()
			select {
			case <-ctx.Done():
				var zero T
				return zero, ctx.Err()
			case <-c.done:
			}
			if c.ok {
				return c.value, c.err
			}
			// Leader died without publishing; retry as a fresh caller.
			continue
		}

		c := &call[T]{done: make(chan struct{})}
		g.m[key] = c
		g.mu.Unlock()

		g.runLeader(key, c, fn)
		return c.value, c.err
	}
}

// runLeader executes fn and guarantees the slot is removed, and done
// closed, before it returns or panics — on every exit path. This mirrors
// the Rust Guard's Drop impl, which runs regardless of how run() unwinds.
// A panic in fn leaves c.ok false, so if a follower somehow observed the
// slot before cleanup it would correctly treat the leader as having died
// without a result; the panic itself is re-raised to runLeader's own
// caller after cleanup, matching what a direct, undeduplicated call to
// fn would have done.
func (g *Group[K, T]) runLeader(key K, c *call[T], fn func() (T, error)) {
	defer func() {
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
		close(c.done)

		if r := recover(); r != nil {
			panic(r)
		}
	}()

	c.value, c.err = fn()
	c.ok = true
}

// Forget removes any in-flight slot for key without waiting for it to
// complete. Exposed for tests and for administrative cache-bust hooks;
// not used on the normal request path.
func (g *Group[K, T]) Forget(key K) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.m, key)
}
