// Package singleflight coalesces concurrent loads of the same key.
package singleflight

import (
	"context"
	"sync"
)

// Group coalesces concurrent loads for the same key K so that the supplied
// fn runs at most once per in-flight key. Other concurrent callers wait for
// the shared result.
//
// Concurrency notes:
//   - The first caller for a given key becomes the leader and runs fn.
//   - Publishing (val, found, err) happens-before close(c.done), so
//     followers observe the final values after <-done.
//   - Cancelling ctx in a follower unblocks only that follower; the
//     leader's fn keeps running.
type Group[K comparable, V any] struct {
	mu sync.Mutex
	m  map[K]*call[V]
}

type call[V any] struct {
	done  chan struct{} // closed when val/found/err are published
	val   V
	found bool
	err   error
}

// Do runs fn once for the given key. found reports whether the loader
// located the key; a miss is not an error.
func (g *Group[K, V]) Do(ctx context.Context, key K, fn func() (V, bool, error)) (val V, found bool, err error) {
	g.mu.Lock()
	if g.m == nil {
		g.m = make(map[K]*call[V])
	}
	if c, ok := g.m[key]; ok {
		done := c.done
		g.mu.Unlock()

		select {
		case <-done:
			return c.val, c.found, c.err
		case <-ctx.Done():
			var zero V
			return zero, false, ctx.Err()
		}
	}

	c := &call[V]{done: make(chan struct{})}
	g.m[key] = c
	g.mu.Unlock()

	// Remove the in-flight marker even if fn panics, so later callers
	// do not wait on a channel that is never closed.
	defer func() {
		g.mu.Lock()
		delete(g.m, key)
		g.mu.Unlock()
		close(c.done)
	}()

	c.val, c.found, c.err = fn()
	return c.val, c.found, c.err
}
