package tasks

import (
	"context"
	"sync"
)

// Dispatcher decides where a completion callback runs.
type Dispatcher interface {
	Dispatch(fn func())
}

// DispatchFunc adapts a function to Dispatcher.
type DispatchFunc func(fn func())

// Dispatch implements Dispatcher.
func (f DispatchFunc) Dispatch(fn func()) { f(fn) }

var (
	// Inline runs the callback on the worker that finished the task.
	Inline Dispatcher = DispatchFunc(func(fn func()) { fn() })

	// Spawn runs each callback on a fresh goroutine.
	Spawn Dispatcher = DispatchFunc(func(fn func()) { go fn() })
)

// Loop is a serial completion context, the equivalent of a UI thread:
// callbacks queue up and run one at a time, in order, on whichever single
// goroutine drives the loop with Run or Drain.
type Loop struct {
	queue *fifo
}

// NewLoop creates an empty loop.
func NewLoop() *Loop {
	return &Loop{queue: newFIFO()}
}

// Dispatch queues fn. It never blocks. Callbacks dispatched after Close are
// dropped.
func (l *Loop) Dispatch(fn func()) {
	l.queue.push(fn)
}

// Run executes callbacks until ctx ends or the loop is closed and empty.
func (l *Loop) Run(ctx context.Context) {
	for {
		fn, ok := l.queue.pop(ctx)
		if !ok {
			return
		}
		fn()
	}
}

// Drain runs every callback queued so far on the calling goroutine and
// returns how many ran.
func (l *Loop) Drain() int {
	n := 0
	for {
		fn, ok := l.queue.tryPop()
		if !ok {
			return n
		}
		fn()
		n++
	}
}

// Close stops accepting callbacks; Run returns once the queue is empty.
func (l *Loop) Close() {
	l.queue.close()
}

// fifo is an unbounded single-consumer queue of functions.
type fifo struct {
	mu     sync.Mutex
	items  []func()
	closed bool
	signal chan struct{}
}

func newFIFO() *fifo {
	return &fifo{signal: make(chan struct{}, 1)}
}

func (q *fifo) push(fn func()) bool {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return false
	}
	q.items = append(q.items, fn)
	q.mu.Unlock()
	q.wake()
	return true
}

func (q *fifo) tryPop() (func(), bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil, false
	}
	fn := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	return fn, true
}

// pop blocks until an item is available, the queue is closed and empty, or
// ctx ends.
func (q *fifo) pop(ctx context.Context) (func(), bool) {
	for {
		if fn, ok := q.tryPop(); ok {
			return fn, true
		}
		q.mu.Lock()
		closed := q.closed
		q.mu.Unlock()
		if closed {
			// Items pushed before close are still drained above.
			if fn, ok := q.tryPop(); ok {
				return fn, true
			}
			return nil, false
		}
		select {
		case <-q.signal:
		case <-ctx.Done():
			return nil, false
		}
	}
}

func (q *fifo) close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()
	q.wake()
}

func (q *fifo) wake() {
	select {
	case q.signal <- struct{}{}:
	default:
	}
}
