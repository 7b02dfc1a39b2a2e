// Package tasks runs units of work off the caller's goroutine and delivers
// exactly one outcome per task to a chosen completion context.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a task.
type State string

const (
	StatePending   State = "pending"
	StateRunning   State = "running"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
	StateCancelled State = "cancelled"
)

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed || s == StateCancelled
}

// ErrCancelled is the error carried by a cancelled outcome.
var ErrCancelled = errors.New("task cancelled")

// ErrExecutorClosed fails tasks submitted after Shutdown.
var ErrExecutorClosed = errors.New("executor is shut down")

// Outcome is the single terminal result of a task.
type Outcome[V any] struct {
	State State
	Value V
	Err   error
}

// Snapshot is a point-in-time view of a task for status reporting.
type Snapshot struct {
	ID        string
	Name      string
	Mode      Mode
	State     State
	Error     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// tracked is the executor's untyped view of a task.
type tracked interface {
	Snapshot() Snapshot
	Cancel() bool
}

// Task is a handle on submitted work.
type Task[V any] struct {
	id         string
	name       string
	mode       Mode
	exec       *Executor
	body       func(context.Context) (V, error)
	onDone     func(Outcome[V])
	dispatcher Dispatcher
	ctx        context.Context
	cancelFunc context.CancelFunc
	done       chan struct{}

	mu              sync.Mutex
	state           State
	cancelRequested bool
	outcome         Outcome[V]
	createdAt       time.Time
	updatedAt       time.Time
}

// ID returns the task's unique id.
func (t *Task[V]) ID() string { return t.id }

// Name returns the descriptive name given at submission.
func (t *Task[V]) Name() string { return t.name }

// Mode returns the execution mode.
func (t *Task[V]) Mode() Mode { return t.mode }

// State returns the current state.
func (t *Task[V]) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Done is closed once the outcome has been handed to the completion context.
func (t *Task[V]) Done() <-chan struct{} { return t.done }

// Outcome returns the terminal outcome, or false while the task is live.
func (t *Task[V]) Outcome() (Outcome[V], bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.outcome, t.state.Terminal()
}

// Wait blocks until the outcome has been delivered or ctx ends. Meant for
// tests and command line tools; hosts with an event loop should use the
// completion callback instead, and must not Wait from inside it.
func (t *Task[V]) Wait(ctx context.Context) (V, error) {
	select {
	case <-t.done:
		t.mu.Lock()
		defer t.mu.Unlock()
		return t.outcome.Value, t.outcome.Err
	case <-ctx.Done():
		var zero V
		return zero, ctx.Err()
	}
}

// Cancel requests cancellation. A pending task becomes cancelled at once and
// never runs; a running task's context is cancelled and its outcome will be
// cancelled whatever the body returns. Cancel reports false when the task is
// already terminal or cancellation was already requested.
func (t *Task[V]) Cancel() bool {
	t.mu.Lock()
	if t.state.Terminal() || t.cancelRequested {
		t.mu.Unlock()
		return false
	}
	t.cancelRequested = true
	finished := false
	if t.state == StatePending {
		var zero V
		finished = t.finishLocked(Outcome[V]{State: StateCancelled, Value: zero, Err: ErrCancelled})
	}
	t.mu.Unlock()

	t.cancelFunc()
	if finished {
		t.deliver()
	}
	return true
}

// Snapshot implements tracked.
func (t *Task[V]) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()

	snap := Snapshot{
		ID:        t.id,
		Name:      t.name,
		Mode:      t.mode,
		State:     t.state,
		CreatedAt: t.createdAt,
		UpdatedAt: t.updatedAt,
	}
	if t.outcome.Err != nil {
		snap.Error = t.outcome.Err.Error()
	}
	return snap
}

// run executes the body on the current worker. It is a no-op if the task
// was cancelled while pending.
func (t *Task[V]) run() {
	t.mu.Lock()
	if t.state != StatePending {
		t.mu.Unlock()
		return
	}
	t.state = StateRunning
	t.updatedAt = time.Now()
	t.mu.Unlock()

	t.exec.metrics.running.Inc()
	value, err := t.invoke()
	t.exec.metrics.running.Dec()

	t.mu.Lock()
	var outcome Outcome[V]
	switch {
	case t.cancelRequested:
		outcome = Outcome[V]{State: StateCancelled, Err: ErrCancelled}
	case err != nil:
		outcome = Outcome[V]{State: StateFailed, Err: err}
	default:
		outcome = Outcome[V]{State: StateSucceeded, Value: value}
	}
	finished := t.finishLocked(outcome)
	t.mu.Unlock()

	t.cancelFunc()
	if finished {
		t.deliver()
	}
}

// invoke runs the body, turning a panic into a failure.
func (t *Task[V]) invoke() (value V, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("task %s panicked: %v", t.name, r)
		}
	}()
	return t.body(t.ctx)
}

// finishLocked records the terminal outcome. It returns false if the task
// was already terminal. Must be called with mu held.
func (t *Task[V]) finishLocked(outcome Outcome[V]) bool {
	if t.state.Terminal() {
		return false
	}
	t.state = outcome.State
	t.outcome = outcome
	t.updatedAt = time.Now()
	return true
}

// deliver hands the outcome to the completion context and then releases
// waiters. Only the goroutine that performed the terminal transition calls it.
func (t *Task[V]) deliver() {
	defer close(t.done)

	t.mu.Lock()
	outcome := t.outcome
	t.mu.Unlock()
	t.exec.metrics.outcomes.WithLabelValues(t.mode.String(), string(outcome.State)).Inc()

	entry := logrus.WithFields(logrus.Fields{
		"task_id": t.id,
		"task":    t.name,
		"mode":    t.mode.String(),
		"state":   string(outcome.State),
	})
	if outcome.State == StateFailed {
		entry.WithError(outcome.Err).Warn("Task failed")
	} else {
		entry.Debug("Task finished")
	}

	if t.onDone == nil {
		return
	}
	onDone := t.onDone
	t.dispatcher.Dispatch(func() { onDone(outcome) })
}
