// Package oneshot implements the single-fire level-trigger and
// bounded-1-capacity signal primitives spec §3/§9 describe for
// watch_armed and shutdown.
package oneshot

import "sync"

// Latch is a single-fire level trigger: Fire is idempotent, and a receive
// from Wait's channel blocks until the first Fire and returns immediately
// afterward.
type Latch struct {
	once sync.Once
	ch   chan struct{}
}

// NewLatch returns an unfired Latch.
func NewLatch() *Latch {
	return &Latch{ch: make(chan struct{})}
}

// NewFiredLatch returns a Latch that has already fired, for
// watch_immediately's "pre-fire the signal" behavior.
func NewFiredLatch() *Latch {
	l := NewLatch()
	l.Fire()
	return l
}

// Fire fires the latch. Safe to call more than once or concurrently;
// only the first call has an effect.
func (l *Latch) Fire() {
	l.once.Do(func() { close(l.ch) })
}

// Wait returns a channel that is closed by the first Fire. It does not
// observe any context; callers select on it alongside ctx.Done().
func (l *Latch) Wait() <-chan struct{} {
	return l.ch
}

// Signal is a bounded-1-capacity, try-push queue: the writer (a signal
// handler) never blocks, and the reader consumes at most one pending
// value.
type Signal struct {
	ch chan struct{}
}

// NewSignal returns an empty Signal.
func NewSignal() *Signal {
	return &Signal{ch: make(chan struct{}, 1)}
}

// TryPush enqueues a signal if the slot is empty; never blocks.
func (s *Signal) TryPush() {
	select {
	case s.ch <- struct{}{}:
	default:
	}
}

// C exposes the underlying channel for use in a select statement.
func (s *Signal) C() <-chan struct{} {
	return s.ch
}
