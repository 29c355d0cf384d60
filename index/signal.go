package index

import (
	"sync"
	"sync/atomic"
	"time"
)

// WaitSignal is a broadcast notification with a timed wait: the condition
// variable that flush workers sleep on between scan passes.
//
// A NotifyAll with no waiters is not remembered. Waiters that arrive just
// after a broadcast sleep until the next one or until their timeout, so
// every wait must be bounded. Close is the exception: it is sticky, and
// every WaitTimeout after it returns at once.
//
// The zero value is ready to use.
type WaitSignal struct {
	mu      sync.Mutex
	ch      chan struct{} // closed by NotifyAll, replaced lazily
	closed  bool
	waiters atomic.Int64
}

// WaitTimeout blocks until NotifyAll is called or d elapses.
// It reports whether it was woken by a broadcast.
func (w *WaitSignal) WaitTimeout(d time.Duration) bool {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		return true
	}
	if w.ch == nil {
		w.ch = make(chan struct{})
	}
	ch := w.ch
	w.waiters.Add(1)
	w.mu.Unlock()
	defer w.waiters.Add(-1)

	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// NotifyAll wakes every goroutine currently blocked in WaitTimeout.
func (w *WaitSignal) NotifyAll() {
	w.mu.Lock()
	if w.ch != nil {
		close(w.ch)
		w.ch = nil
	}
	w.mu.Unlock()
}

// Close wakes every waiter and makes all later waits return immediately.
// It is safe to call more than once.
func (w *WaitSignal) Close() {
	w.mu.Lock()
	w.closed = true
	if w.ch != nil {
		close(w.ch)
		w.ch = nil
	}
	w.mu.Unlock()
}

// Waiters returns the number of goroutines currently blocked in WaitTimeout.
// A waiter counted here is guaranteed to be woken by the next NotifyAll.
func (w *WaitSignal) Waiters() int {
	return int(w.waiters.Load())
}
