// Package eventloop runs all location state changes on a single goroutine.
//
// Providers, the hybrid coordinator and the settings watcher never lock their
// state. Anything arriving from another goroutine (plugin callbacks, HTTP
// handlers, MQTT messages, settings notifications) is posted to a Dispatcher
// and runs in FIFO order.
package eventloop

import (
	"context"
	"errors"
	"sync"
)

// ErrClosed is returned by Call once the loop has stopped
var ErrClosed = errors.New("event loop closed")

// Dispatcher accepts work to run on the owning loop
type Dispatcher interface {
	Post(fn func())
}

// Loop is a cooperative single-goroutine dispatcher with an unbounded queue,
// so posting from inside a running callback never blocks.
type Loop struct {
	mu      sync.Mutex
	queue   []func()
	wake    chan struct{}
	done    chan struct{}
	closed  bool
	running bool
}

// New creates a loop; call Run to start draining it
func New() *Loop {
	return &Loop{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// Post enqueues fn. Posts after the loop stopped are dropped.
func (l *Loop) Post(fn func()) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.queue = append(l.queue, fn)
	l.mu.Unlock()

	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Call posts fn and waits for it to finish. Must not be used from inside the
// loop goroutine.
func (l *Loop) Call(ctx context.Context, fn func() error) error {
	result := make(chan error, 1)

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	l.mu.Unlock()

	l.Post(func() { result <- fn() })

	select {
	case err := <-result:
		return err
	case <-l.done:
		// the loop may have run fn right before stopping
		select {
		case err := <-result:
			return err
		default:
			return ErrClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drains the queue until ctx is cancelled. Work still queued at
// cancellation is discarded.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.running || l.closed {
		l.mu.Unlock()
		return errors.New("event loop already running")
	}
	l.running = true
	l.mu.Unlock()

	defer func() {
		l.mu.Lock()
		l.closed = true
		l.queue = nil
		l.mu.Unlock()
		close(l.done)
	}()

	for {
		for {
			fn := l.next()
			if fn == nil {
				break
			}
			fn()
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Done is closed after Run returns
func (l *Loop) Done() <-chan struct{} {
	return l.done
}

// Pending returns the number of queued callbacks
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue)
}

func (l *Loop) next() func() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.queue) == 0 {
		return nil
	}
	fn := l.queue[0]
	l.queue[0] = nil
	l.queue = l.queue[1:]
	return fn
}

// Immediate runs posted work inline on the caller's goroutine
type Immediate struct{}

// Post runs fn now
func (Immediate) Post(fn func()) {
	if fn != nil {
		fn()
	}
}

// Queue collects posted work until Drain is called. Tests use it to observe
// ordering between a post and its delivery.
type Queue struct {
	mu    sync.Mutex
	items []func()
}

// Post appends fn
func (q *Queue) Post(fn func()) {
	if fn == nil {
		return
	}
	q.mu.Lock()
	q.items = append(q.items, fn)
	q.mu.Unlock()
}

// Len returns the number of pending callbacks
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Drain runs pending callbacks, including any they post, until the queue is
// empty. It returns how many ran.
func (q *Queue) Drain() int {
	n := 0
	for {
		q.mu.Lock()
		if len(q.items) == 0 {
			q.mu.Unlock()
			return n
		}
		fn := q.items[0]
		q.items = q.items[1:]
		q.mu.Unlock()
		fn()
		n++
	}
}
