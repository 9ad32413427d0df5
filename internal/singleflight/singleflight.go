// Package singleflight coalesces concurrent constructions of the same key.
package singleflight

import (
	"context"
	"sync"

	perrors "github.com/jmgilman/go/errors"
)

// ErrLeaderPanicked is returned to waiters whose leader's fn panicked.
// The panic itself propagates in the leader's goroutine.
var ErrLeaderPanicked = perrors.New(perrors.CodeInternal, "singleflight: leader panicked")

// Group runs fn at most once per key among concurrent callers.
//
//   - The first caller for a key is the leader and runs fn.
//   - Later callers wait for the leader's result or for their own ctx.
//     A waiter giving up does not cancel the leader.
//   - A call is forgotten as soon as it completes; a later Do with the
//     same key runs fn again.
//
// A fn that calls Do with its own key waits on itself until ctx is done.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done chan struct{} // closed after val/err are published
	val  V
	err  error
	dups int // waiters parked on this call
}

// Do runs fn for key unless a call for key is already in flight, in which
// case it waits for and returns that call's result. shared reports whether
// the result came from another caller's fn.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, error)) (v V, shared bool, err error) {
	g.mu.Lock()
	if c, ok := g.m[key]; ok {
		c.dups++
		g.mu.Unlock()
		select {
		case <-c.done:
			return c.val, true, c.err
		case <-ctx.Done():
			return v, true, ctx.Err()
		}
	}
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	c := &call[V]{done: make(chan struct{}), err: ErrLeaderPanicked}
	g.m[key] = c
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.err = fn()
	return c.val, false, c.err
}

// InFlight returns the number of keys currently being built.
func (g *Group[K, V]) InFlight() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.m)
}
