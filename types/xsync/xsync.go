// Package xsync implements the one-shot synchronization primitives used by
// the execution layer: latches that can be triggered exactly once and waited
// on by any number of goroutines.
package xsync

import "sync"

// Latch is a one-shot signal: it starts un-triggered and, once triggered,
// stays triggered forever. Triggering more than once is harmless.
type Latch struct {
	once sync.Once
	done chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{done: make(chan struct{})}
}

// Trigger fires the latch. Only the first call has any effect.
func (l *Latch) Trigger() {
	l.once.Do(func() { close(l.done) })
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() {
	<-l.done
}

// Test reports whether the latch has been triggered, without blocking.
func (l *Latch) Test() bool {
	select {
	case <-l.done:
		return true
	default:
		return false
	}
}

// WaitChan returns a channel closed when the latch triggers, for use in
// select statements.
func (l *Latch) WaitChan() <-chan struct{} {
	return l.done
}

// LatchWithValue is a Latch that carries a value set at trigger time: a
// single-fire promise. The first Trigger wins; later values are discarded.
type LatchWithValue[T any] struct {
	latch *Latch
	value T
}

// NewLatchWithValue returns an un-triggered latch.
func NewLatchWithValue[T any]() *LatchWithValue[T] {
	return &LatchWithValue[T]{latch: NewLatch()}
}

// Trigger fires the latch with the given value. Only the first call stores
// its value; subsequent calls are no-ops.
func (l *LatchWithValue[T]) Trigger(value T) {
	l.latch.once.Do(func() {
		l.value = value
		close(l.latch.done)
	})
}

// Wait blocks until triggered and returns the stored value.
func (l *LatchWithValue[T]) Wait() T {
	l.latch.Wait()
	return l.value
}

// Test reports whether the latch has been triggered.
func (l *LatchWithValue[T]) Test() bool {
	return l.latch.Test()
}

// WaitChan returns a channel closed when the latch triggers. After it is
// closed, Wait returns immediately with the stored value.
func (l *LatchWithValue[T]) WaitChan() <-chan struct{} {
	return l.latch.done
}
