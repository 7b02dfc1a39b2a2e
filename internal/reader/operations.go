package reader

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/rossigee/pagekeeper/internal/persist"
	"github.com/rossigee/pagekeeper/internal/tasks"
)

// Option adjusts how one operation is submitted.
type Option func(*callOptions)

type callOptions struct {
	mode     tasks.Mode
	taskOpts []tasks.Option
}

// Serial runs the operation on the dedicated worker, ordered after every
// earlier serial operation.
func Serial() Option {
	return func(o *callOptions) { o.mode = tasks.Dedicated }
}

// Named labels the task.
func Named(name string) Option {
	return func(o *callOptions) { o.taskOpts = append(o.taskOpts, tasks.WithName(name)) }
}

// DeliverTo overrides the completion context for this operation.
func DeliverTo(d tasks.Dispatcher) Option {
	return func(o *callOptions) { o.taskOpts = append(o.taskOpts, tasks.DeliverTo(d)) }
}

func submit[V any](c *Core, mode tasks.Mode, name string, body func(context.Context) (V, error), onDone func(tasks.Outcome[V]), opts []Option) *tasks.Task[V] {
	o := callOptions{mode: mode, taskOpts: []tasks.Option{tasks.WithName(name)}}
	for _, opt := range opts {
		opt(&o)
	}
	return tasks.Submit(c.exec, o.mode, func(ctx context.Context) (V, error) {
		if err := c.ready(); err != nil {
			var zero V
			return zero, err
		}
		return body(ctx)
	}, onDone, o.taskOpts...)
}

// Persist upserts e on the pool.
func Persist[T any](c *Core, e T, onDone func(tasks.Outcome[struct{}]), opts ...Option) *tasks.Task[struct{}] {
	return submit(c, tasks.Pooled, "persist", func(ctx context.Context) (struct{}, error) {
		p, err := persist.Get[T](ctx, c.registry)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, p.Upsert(ctx, e)
	}, onDone, opts)
}

// Remove deletes e's row on the pool. Removing an absent entity succeeds.
func Remove[T any](c *Core, e T, onDone func(tasks.Outcome[struct{}]), opts ...Option) *tasks.Task[struct{}] {
	return submit(c, tasks.Pooled, "remove", func(ctx context.Context) (struct{}, error) {
		p, err := persist.Get[T](ctx, c.registry)
		if err != nil {
			return struct{}{}, err
		}
		return struct{}{}, p.Delete(ctx, e)
	}, onDone, opts)
}

// ListAll collects every stored T.
func ListAll[T any](c *Core, onDone func(tasks.Outcome[[]T]), opts ...Option) *tasks.Task[[]T] {
	return submit(c, tasks.Pooled, "list", func(ctx context.Context) ([]T, error) {
		p, err := persist.Get[T](ctx, c.registry)
		if err != nil {
			return nil, err
		}
		return p.List(ctx)
	}, onDone, opts)
}

// FindByKey looks up the entity sharing key's primary key fields. It fails
// with ErrNotFound when there is none.
func FindByKey[T any](c *Core, key T, onDone func(tasks.Outcome[T]), opts ...Option) *tasks.Task[T] {
	return submit(c, tasks.Pooled, "find", func(ctx context.Context) (T, error) {
		p, err := persist.Get[T](ctx, c.registry)
		if err != nil {
			var zero T
			return zero, err
		}
		return p.Get(ctx, key)
	}, onDone, opts)
}

// ClearAll empties T's table on the dedicated worker and yields the number
// of rows removed.
func ClearAll[T any](c *Core, onDone func(tasks.Outcome[int64]), opts ...Option) *tasks.Task[int64] {
	return submit(c, tasks.Dedicated, "clear-all", func(ctx context.Context) (int64, error) {
		return clearAll[T](ctx, c)
	}, onDone, opts)
}

// PurgeAssociatedFiles deletes name (a tree when recursive) through the
// configured remover on the dedicated worker. A missing path succeeds.
func PurgeAssociatedFiles(c *Core, name string, recursive bool, onDone func(tasks.Outcome[struct{}]), opts ...Option) *tasks.Task[struct{}] {
	return submit(c, tasks.Dedicated, "purge-files", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.purge(ctx, name, recursive)
	}, onDone, opts)
}

// StepError reports which step of a multi-step operation failed.
type StepError struct {
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// Steps of ClearAllAndPurge.
const (
	StepClear = "clear"
	StepPurge = "purge"
)

// ClearAllAndPurge empties T's table and then deletes the files below name,
// both on the dedicated worker. Each step is idempotent, so a failed run can
// simply be submitted again.
func ClearAllAndPurge[T any](c *Core, name string, onDone func(tasks.Outcome[int64]), opts ...Option) *tasks.Task[int64] {
	return submit(c, tasks.Dedicated, "clear-and-purge", func(ctx context.Context) (int64, error) {
		deleted, err := clearAll[T](ctx, c)
		if err != nil {
			return 0, &StepError{Step: StepClear, Err: err}
		}
		if err := ctx.Err(); err != nil {
			return deleted, err
		}
		if err := c.purge(ctx, name, true); err != nil {
			return deleted, &StepError{Step: StepPurge, Err: err}
		}
		return deleted, nil
	}, onDone, opts)
}

func clearAll[T any](ctx context.Context, c *Core) (int64, error) {
	p, err := persist.Get[T](ctx, c.registry)
	if err != nil {
		return 0, err
	}
	deleted, err := p.DeleteAll(ctx)
	if err != nil {
		return 0, err
	}
	logrus.WithFields(logrus.Fields{
		"table":   p.Table(),
		"deleted": deleted,
	}).Info("Cleared table")
	return deleted, nil
}

func (c *Core) purge(ctx context.Context, name string, recursive bool) error {
	if c.files == nil {
		return errors.New("no file remover configured")
	}
	return c.files.Delete(ctx, name, recursive)
}
