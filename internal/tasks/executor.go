package tasks

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
)

// Mode selects how a task is scheduled.
type Mode int

const (
	// Pooled tasks share a bounded set of workers and may run concurrently.
	Pooled Mode = iota
	// Dedicated tasks run one at a time on the executor's exclusive worker,
	// in submission order.
	Dedicated
)

func (m Mode) String() string {
	switch m {
	case Pooled:
		return "pooled"
	case Dedicated:
		return "dedicated"
	default:
		return fmt.Sprintf("mode(%d)", int(m))
	}
}

// Config configures an Executor.
type Config struct {
	// PoolSize bounds concurrently running pooled tasks. Defaults to 4.
	PoolSize int
	// KeepFinished is how many terminal tasks stay visible to Lookup.
	// Defaults to 100.
	KeepFinished int
	// Completion is the default completion context. Defaults to Inline.
	Completion Dispatcher
	// Registerer receives the executor metrics; nil disables registration.
	Registerer prometheus.Registerer
}

// Executor runs tasks on a bounded pool or on its dedicated worker.
type Executor struct {
	semaphore  chan struct{}
	dedicated  *fifo
	completion Dispatcher
	keep       int
	metrics    *Metrics

	mu         sync.RWMutex
	tasks      map[string]tracked
	closed     bool
	wg         sync.WaitGroup
	workerDone chan struct{}
}

// NewExecutor creates an executor and starts its dedicated worker.
func NewExecutor(cfg Config) *Executor {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 4
	}
	if cfg.KeepFinished <= 0 {
		cfg.KeepFinished = 100
	}
	if cfg.Completion == nil {
		cfg.Completion = Inline
	}

	e := &Executor{
		semaphore:  make(chan struct{}, cfg.PoolSize),
		dedicated:  newFIFO(),
		completion: cfg.Completion,
		keep:       cfg.KeepFinished,
		metrics:    NewMetrics(cfg.Registerer),
		tasks:      make(map[string]tracked),
		workerDone: make(chan struct{}),
	}
	go e.dedicatedWorker()
	return e
}

// Option adjusts a single submission.
type Option func(*submitOptions)

type submitOptions struct {
	name       string
	dispatcher Dispatcher
}

// WithName labels the task in logs and snapshots.
func WithName(name string) Option {
	return func(o *submitOptions) { o.name = name }
}

// DeliverTo overrides the completion context for one task.
func DeliverTo(d Dispatcher) Option {
	return func(o *submitOptions) { o.dispatcher = d }
}

// Submit schedules body and returns immediately. onDone, if not nil, receives
// the task's single outcome through the completion context.
func Submit[V any](e *Executor, mode Mode, body func(context.Context) (V, error), onDone func(Outcome[V]), opts ...Option) *Task[V] {
	o := submitOptions{name: "task", dispatcher: e.completion}
	for _, opt := range opts {
		opt(&o)
	}
	if o.dispatcher == nil {
		o.dispatcher = e.completion
	}

	ctx, cancel := context.WithCancel(context.Background())
	now := time.Now()
	t := &Task[V]{
		id:         uuid.New().String(),
		name:       o.name,
		mode:       mode,
		exec:       e,
		body:       body,
		onDone:     onDone,
		dispatcher: o.dispatcher,
		ctx:        ctx,
		cancelFunc: cancel,
		done:       make(chan struct{}),
		state:      StatePending,
		createdAt:  now,
		updatedAt:  now,
	}

	e.metrics.submitted.WithLabelValues(mode.String()).Inc()

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		t.mu.Lock()
		finished := t.finishLocked(Outcome[V]{State: StateFailed, Err: ErrExecutorClosed})
		t.mu.Unlock()
		cancel()
		if finished {
			t.deliver()
		}
		return t
	}
	e.tasks[t.id] = t
	e.wg.Add(1)
	overflow := len(e.tasks) > e.keep+e.keep/2
	e.mu.Unlock()

	if overflow {
		e.Prune(e.keep)
	}

	if mode == Dedicated {
		e.dedicated.push(func() {
			defer e.wg.Done()
			t.run()
		})
	} else {
		go e.runPooled(t.ctx, t.run)
	}
	return t
}

// runPooled waits for a pool slot, then runs the task.
func (e *Executor) runPooled(ctx context.Context, run func()) {
	defer e.wg.Done()

	select {
	case e.semaphore <- struct{}{}:
		defer func() { <-e.semaphore }()
	case <-ctx.Done():
		// Cancelled while pending; the outcome was already delivered.
		return
	}
	run()
}

func (e *Executor) dedicatedWorker() {
	defer close(e.workerDone)
	for {
		fn, ok := e.dedicated.pop(context.Background())
		if !ok {
			return
		}
		fn()
	}
}

// Lookup returns a snapshot of a task still tracked by the executor.
func (e *Executor) Lookup(id string) (Snapshot, bool) {
	e.mu.RLock()
	t, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return Snapshot{}, false
	}
	return t.Snapshot(), true
}

// CancelByID cancels a tracked task.
func (e *Executor) CancelByID(id string) error {
	e.mu.RLock()
	t, ok := e.tasks[id]
	e.mu.RUnlock()
	if !ok {
		return fmt.Errorf("task not found: %s", id)
	}
	if !t.Cancel() {
		return fmt.Errorf("task cannot be cancelled: %s", t.Snapshot().State)
	}
	return nil
}

// ActiveTasks returns the number of pending or running tasks.
func (e *Executor) ActiveTasks() int {
	e.mu.RLock()
	defer e.mu.RUnlock()

	count := 0
	for _, t := range e.tasks {
		if !t.Snapshot().State.Terminal() {
			count++
		}
	}
	return count
}

// Prune forgets the oldest terminal tasks beyond the most recent keep.
func (e *Executor) Prune(keep int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var finished []Snapshot
	for _, t := range e.tasks {
		if snap := t.Snapshot(); snap.State.Terminal() {
			finished = append(finished, snap)
		}
	}
	if len(finished) <= keep {
		return
	}

	sort.Slice(finished, func(i, j int) bool {
		return finished[i].UpdatedAt.Before(finished[j].UpdatedAt)
	})
	for _, snap := range finished[:len(finished)-keep] {
		delete(e.tasks, snap.ID)
	}
}

// Shutdown stops accepting tasks and waits for submitted ones to finish. If
// ctx ends first, every live task is cancelled and ctx's error returned.
func (e *Executor) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	idle := make(chan struct{})
	go func() {
		e.wg.Wait()
		e.dedicated.close()
		<-e.workerDone
		close(idle)
	}()

	select {
	case <-idle:
		logrus.Debug("Task executor stopped")
		return nil
	case <-ctx.Done():
		e.mu.RLock()
		live := make([]tracked, 0, len(e.tasks))
		for _, t := range e.tasks {
			live = append(live, t)
		}
		e.mu.RUnlock()
		for _, t := range live {
			t.Cancel()
		}
		logrus.WithField("tasks", len(live)).Warn("Task executor shutdown timed out; cancelled remaining tasks")
		return fmt.Errorf("executor shutdown: %w", ctx.Err())
	}
}
