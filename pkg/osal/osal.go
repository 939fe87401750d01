// Package osal provides the synchronization primitives the driver blocks on:
// a one-shot binary event with bounded waits and a joinable thread.
package osal

import (
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
)

// ErrThreadRunning is returned by Thread.Destroy when the thread has not
// finished within the grace period.
var ErrThreadRunning = errors.New("thread still running")

// Event is a binary event. Set is sticky until Reset; Wait returns
// immediately if the event is already set. Safe for concurrent use.
type Event struct {
	mu  sync.Mutex
	set bool
	ch  chan struct{}
}

// NewEvent returns a reset event.
func NewEvent() *Event {
	return &Event{ch: make(chan struct{})}
}

// Set signals the event, releasing every waiter.
func (e *Event) Set() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.set {
		e.set = true
		close(e.ch)
	}
}

// Reset clears the event. It must be called before issuing the operation
// the event gates, never after, so a fast completion is not lost.
func (e *Event) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.set {
		e.set = false
		e.ch = make(chan struct{})
	}
}

// IsSet reports the current value without blocking.
func (e *Event) IsSet() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.set
}

// Wait blocks until the event is set or timeout elapses. It reports whether
// the event was signaled.
func (e *Event) Wait(timeout time.Duration) bool {
	e.mu.Lock()
	if e.set {
		e.mu.Unlock()
		return true
	}
	ch := e.ch
	e.mu.Unlock()

	if timeout <= 0 {
		return false
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ch:
		return true
	case <-t.C:
		return false
	}
}

// Thread runs a function on its own goroutine. There is no forced
// interruption: callers signal the function to return, then Destroy.
type Thread struct {
	Name string

	g    errgroup.Group
	done *Event
}

// Go starts fn.
func Go(name string, fn func() error) *Thread {
	t := &Thread{Name: name, done: NewEvent()}
	t.g.Go(func() error {
		defer t.done.Set()
		return fn()
	})
	return t
}

// Done reports whether the function has returned.
func (t *Thread) Done() bool { return t.done.IsSet() }

// Destroy waits up to grace for the function to return and yields its error.
func (t *Thread) Destroy(grace time.Duration) error {
	if !t.done.Wait(grace) {
		return ErrThreadRunning
	}
	return t.g.Wait()
}
