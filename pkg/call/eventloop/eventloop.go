// Package eventloop runs all session work on one goroutine.
//
// Device callbacks, socket reads, playback completions, and timers never touch
// component state directly; they post a task and the loop runs it. Tasks run
// one at a time in post order, so components need no locks of their own.
package eventloop

import (
	"context"
	"errors"
	"sync"
	"time"
)

const defaultBuffer = 256

// ErrStopped is returned when work is submitted to a loop that has exited.
var ErrStopped = errors.New("event loop stopped")

// Loop is a single-goroutine task queue.
type Loop struct {
	tasks chan func()

	stopOnce sync.Once
	stopCh   chan struct{}
	done     chan struct{}
}

// New returns a loop whose queue holds up to buffer pending tasks.
func New(buffer int) *Loop {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	return &Loop{
		tasks:  make(chan func(), buffer),
		stopCh: make(chan struct{}),
		done:   make(chan struct{}),
	}
}

// Run executes tasks until ctx is cancelled or Stop is called.
// It must be called exactly once.
func (l *Loop) Run(ctx context.Context) error {
	defer close(l.done)
	defer l.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.stopCh:
			return nil
		case fn := <-l.tasks:
			fn()
		}
	}
}

// Stop makes Run return after the task in progress. Pending tasks are dropped.
func (l *Loop) Stop() {
	l.stopOnce.Do(func() { close(l.stopCh) })
}

// Done is closed once Run has returned.
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Post queues fn. It reports false when the loop has stopped.
func (l *Loop) Post(fn func()) bool {
	if fn == nil {
		return false
	}
	select {
	case <-l.stopCh:
		return false
	default:
	}
	select {
	case l.tasks <- fn:
		return true
	case <-l.stopCh:
		return false
	}
}

// AfterFunc posts fn once d has elapsed. The returned func cancels the timer;
// it cannot recall a task that was already posted.
func (l *Loop) AfterFunc(d time.Duration, fn func()) (cancel func()) {
	if d <= 0 {
		l.Post(fn)
		return func() {}
	}
	timer := time.AfterFunc(d, func() { l.Post(fn) })
	return func() { timer.Stop() }
}

// Call runs fn on the loop and waits for it to finish.
// Calling it from a task on the same loop deadlocks.
func (l *Loop) Call(ctx context.Context, fn func()) error {
	finished := make(chan struct{})
	if !l.Post(func() {
		defer close(finished)
		fn()
	}) {
		return ErrStopped
	}
	select {
	case <-finished:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-l.done:
		select {
		case <-finished:
			return nil
		default:
			return ErrStopped
		}
	}
}
