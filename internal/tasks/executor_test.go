package tasks

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor(t *testing.T, cfg Config) *Executor {
	t.Helper()
	e := NewExecutor(cfg)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = e.Shutdown(ctx) // Ignore error in test
	})
	return e
}

func wait[V any](t *testing.T, task *Task[V]) (V, error) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	v, err := task.Wait(ctx)
	require.False(t, errors.Is(err, context.DeadlineExceeded), "task did not finish in time")
	return v, err
}

// outcomeRecorder counts deliveries per task.
type outcomeRecorder[V any] struct {
	mu       sync.Mutex
	outcomes []Outcome[V]
}

func (r *outcomeRecorder[V]) record(o Outcome[V]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, o)
}

func (r *outcomeRecorder[V]) all() []Outcome[V] {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Outcome[V](nil), r.outcomes...)
}

func TestSubmit_Success(t *testing.T) {
	e := newTestExecutor(t, Config{})
	rec := &outcomeRecorder[int]{}

	task := Submit(e, Pooled, func(ctx context.Context) (int, error) {
		return 42, nil
	}, rec.record, WithName("answer"))

	v, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, 42, v)
	assert.Equal(t, StateSucceeded, task.State())
	assert.Equal(t, "answer", task.Name())
	assert.NotEmpty(t, task.ID())

	require.Len(t, rec.all(), 1)
	assert.Equal(t, StateSucceeded, rec.all()[0].State)
	assert.Equal(t, 42, rec.all()[0].Value)
}

func TestSubmit_Failure(t *testing.T) {
	e := newTestExecutor(t, Config{})
	boom := errors.New("boom")
	rec := &outcomeRecorder[string]{}

	task := Submit(e, Pooled, func(ctx context.Context) (string, error) {
		return "", boom
	}, rec.record)

	_, err := wait(t, task)
	assert.True(t, errors.Is(err, boom))
	assert.Equal(t, StateFailed, task.State())

	require.Len(t, rec.all(), 1)
	assert.Equal(t, StateFailed, rec.all()[0].State)
}

func TestSubmit_PanicBecomesFailure(t *testing.T) {
	e := newTestExecutor(t, Config{})

	task := Submit(e, Dedicated, func(ctx context.Context) (int, error) {
		panic("kaboom")
	}, nil, WithName("panicky"))

	_, err := wait(t, task)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")
	assert.Equal(t, StateFailed, task.State())
}

func TestCancel_Running(t *testing.T) {
	e := newTestExecutor(t, Config{})
	started := make(chan struct{})
	rec := &outcomeRecorder[int]{}

	task := Submit(e, Pooled, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}, rec.record)

	<-started
	assert.Equal(t, StateRunning, task.State())
	assert.True(t, task.Cancel())
	assert.False(t, task.Cancel())

	_, err := wait(t, task)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, StateCancelled, task.State())
	require.Len(t, rec.all(), 1)
	assert.Equal(t, StateCancelled, rec.all()[0].State)
}

func TestCancel_RunningBodyIgnoresSignal(t *testing.T) {
	e := newTestExecutor(t, Config{})
	started := make(chan struct{})
	release := make(chan struct{})

	task := Submit(e, Pooled, func(ctx context.Context) (int, error) {
		close(started)
		<-release
		return 7, nil
	}, nil)

	<-started
	require.True(t, task.Cancel())
	close(release)

	_, err := wait(t, task)
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Equal(t, StateCancelled, task.State())
}

func TestCancel_PendingNeverRuns(t *testing.T) {
	e := newTestExecutor(t, Config{})
	block := make(chan struct{})
	var ran atomic.Bool

	first := Submit(e, Dedicated, func(ctx context.Context) (int, error) {
		<-block
		return 1, nil
	}, nil)
	rec := &outcomeRecorder[int]{}
	second := Submit(e, Dedicated, func(ctx context.Context) (int, error) {
		ran.Store(true)
		return 2, nil
	}, rec.record)

	assert.Equal(t, StatePending, second.State())
	assert.True(t, second.Cancel())
	assert.Equal(t, StateCancelled, second.State())

	close(block)
	_, err := wait(t, first)
	require.NoError(t, err)
	_, err = wait(t, second)
	assert.True(t, errors.Is(err, ErrCancelled))

	// Give the dedicated worker a chance to reach the cancelled entry.
	third := Submit(e, Dedicated, func(ctx context.Context) (int, error) { return 3, nil }, nil)
	_, err = wait(t, third)
	require.NoError(t, err)

	assert.False(t, ran.Load())
	assert.Len(t, rec.all(), 1)
}

func TestCancel_AfterCompletionIsNoop(t *testing.T) {
	e := newTestExecutor(t, Config{})
	rec := &outcomeRecorder[int]{}

	task := Submit(e, Pooled, func(ctx context.Context) (int, error) { return 5, nil }, rec.record)
	v, err := wait(t, task)
	require.NoError(t, err)
	assert.Equal(t, 5, v)

	for i := 0; i < 3; i++ {
		assert.False(t, task.Cancel())
	}
	assert.Equal(t, StateSucceeded, task.State())
	assert.Len(t, rec.all(), 1)
}

func TestExactlyOneOutcomeUnderRacingCancels(t *testing.T) {
	e := newTestExecutor(t, Config{PoolSize: 8})

	for i := 0; i < 200; i++ {
		var deliveries atomic.Int32
		task := Submit(e, Pooled, func(ctx context.Context) (int, error) {
			return i, nil
		}, func(Outcome[int]) { deliveries.Add(1) })

		var wg sync.WaitGroup
		for j := 0; j < 4; j++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				task.Cancel()
			}()
		}
		wg.Wait()
		_, _ = wait(t, task)

		outcome, ok := task.Outcome()
		require.True(t, ok)
		assert.True(t, outcome.State.Terminal())
		assert.Equal(t, int32(1), deliveries.Load())
	}
}

func TestDedicated_RunsInSubmissionOrder(t *testing.T) {
	e := newTestExecutor(t, Config{})

	var mu sync.Mutex
	var order []int
	var running atomic.Int32
	var overlap atomic.Bool

	var last *Task[int]
	for i := 0; i < 20; i++ {
		last = Submit(e, Dedicated, func(ctx context.Context) (int, error) {
			if running.Add(1) > 1 {
				overlap.Store(true)
			}
			defer running.Add(-1)
			time.Sleep(time.Millisecond)
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return i, nil
		}, nil)
	}
	_, err := wait(t, last)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	expected := make([]int, 20)
	for i := range expected {
		expected[i] = i
	}
	assert.Equal(t, expected, order)
	assert.False(t, overlap.Load())
}

func TestPooled_BoundedConcurrency(t *testing.T) {
	e := newTestExecutor(t, Config{PoolSize: 2})

	var running, peak atomic.Int32
	tasks := make([]*Task[struct{}], 8)
	for i := range tasks {
		tasks[i] = Submit(e, Pooled, func(ctx context.Context) (struct{}, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return struct{}{}, nil
		}, nil)
	}
	for _, task := range tasks {
		_, err := wait(t, task)
		require.NoError(t, err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestDeliverTo_Loop(t *testing.T) {
	loop := NewLoop()
	e := newTestExecutor(t, Config{Completion: loop})

	var delivered []int
	task := Submit(e, Pooled, func(ctx context.Context) (int, error) { return 9, nil },
		func(o Outcome[int]) { delivered = append(delivered, o.Value) })

	_, err := wait(t, task)
	require.NoError(t, err)

	// Nothing runs until the host drains its loop.
	assert.Empty(t, delivered)
	assert.Equal(t, 1, loop.Drain())
	assert.Equal(t, []int{9}, delivered)

	var spawned sync.WaitGroup
	spawned.Add(1)
	Submit(e, Pooled, func(ctx context.Context) (int, error) { return 1, nil },
		func(Outcome[int]) { spawned.Done() }, DeliverTo(Spawn))
	spawned.Wait()
	assert.Equal(t, 0, loop.Drain())
}

func TestLoop_RunUntilClosed(t *testing.T) {
	loop := NewLoop()
	var got []int
	for i := 0; i < 3; i++ {
		loop.Dispatch(func() { got = append(got, i) })
	}
	loop.Close()
	loop.Dispatch(func() { got = append(got, 99) })

	loop.Run(context.Background())
	assert.Equal(t, []int{0, 1, 2}, got)
}

func TestLookupCancelByIDAndPrune(t *testing.T) {
	e := newTestExecutor(t, Config{KeepFinished: 2})
	started := make(chan struct{})

	live := Submit(e, Pooled, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}, nil)
	<-started

	snap, ok := e.Lookup(live.ID())
	require.True(t, ok)
	assert.Equal(t, StateRunning, snap.State)
	assert.Equal(t, Pooled, snap.Mode)
	assert.Equal(t, 1, e.ActiveTasks())

	require.NoError(t, e.CancelByID(live.ID()))
	_, _ = wait(t, live)
	err := e.CancelByID(live.ID())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot be cancelled")

	err = e.CancelByID("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "task not found")

	for i := 0; i < 3; i++ {
		task := Submit(e, Pooled, func(ctx context.Context) (int, error) { return i, nil }, nil)
		_, _ = wait(t, task)
	}
	e.Prune(2)

	_, ok = e.Lookup(live.ID())
	assert.False(t, ok)
	assert.Equal(t, 0, e.ActiveTasks())
}

func TestShutdown(t *testing.T) {
	e := NewExecutor(Config{})
	release := make(chan struct{})

	inflight := Submit(e, Dedicated, func(ctx context.Context) (int, error) {
		<-release
		return 1, nil
	}, nil)

	done := make(chan error, 1)
	go func() { done <- e.Shutdown(context.Background()) }()

	// Wait until Shutdown has closed intake.
	require.Eventually(t, func() bool {
		e.mu.RLock()
		defer e.mu.RUnlock()
		return e.closed
	}, time.Second, time.Millisecond)

	late := Submit(e, Pooled, func(ctx context.Context) (int, error) { return 2, nil }, nil)
	_, err := wait(t, late)
	assert.True(t, errors.Is(err, ErrExecutorClosed))

	close(release)
	require.NoError(t, <-done)
	v, err := wait(t, inflight)
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestShutdown_TimeoutCancelsLiveTasks(t *testing.T) {
	e := NewExecutor(Config{})
	started := make(chan struct{})

	stuck := Submit(e, Pooled, func(ctx context.Context) (int, error) {
		close(started)
		<-ctx.Done()
		return 0, ctx.Err()
	}, nil)
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := e.Shutdown(ctx)
	assert.True(t, errors.Is(err, context.DeadlineExceeded))

	_, err = wait(t, stuck)
	assert.True(t, errors.Is(err, ErrCancelled))
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	e := newTestExecutor(t, Config{Registerer: reg})

	ok := Submit(e, Pooled, func(ctx context.Context) (int, error) { return 1, nil }, nil)
	bad := Submit(e, Dedicated, func(ctx context.Context) (int, error) { return 0, errors.New("no") }, nil)
	_, _ = wait(t, ok)
	_, _ = wait(t, bad)

	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.submitted.WithLabelValues("pooled")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.submitted.WithLabelValues("dedicated")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.outcomes.WithLabelValues("pooled", "succeeded")))
	assert.Equal(t, 1.0, testutil.ToFloat64(e.metrics.outcomes.WithLabelValues("dedicated", "failed")))

	// A second executor on the same registry reuses the collectors.
	other := newTestExecutor(t, Config{Registerer: reg})
	assert.Same(t, e.metrics.submitted, other.metrics.submitted)
}
