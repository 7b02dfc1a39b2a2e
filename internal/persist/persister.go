// Package persist maps entity values to rows of the shared store and keeps one
// persister per registered entity type.
package persist

import (
	"context"
	"fmt"
	"iter"

	"github.com/rossigee/pagekeeper/internal/storage"
)

// KeySelector identifies an entity's row. Where holds one "?" per value
// returned by Args. Text keys compare case-sensitively.
type KeySelector[T any] struct {
	Where string
	Args  func(T) []string
}

func (k KeySelector[T]) key(e T) storage.Key {
	values := k.Args(e)
	args := make([]any, len(values))
	for i, v := range values {
		args[i] = v
	}
	return storage.Key{Where: k.Where, Args: args}
}

// Mapper converts one entity type to and from rows. FromRow must read columns
// by name; ToRow only needs the columns it owns.
type Mapper[T any] interface {
	Table() string
	FromRow(row storage.Row) (T, error)
	ToRow(e T) storage.Row
	PrimaryKey() KeySelector[T]
}

// Persister performs CRUD for one entity type against the shared store.
type Persister[T any] struct {
	store  *storage.Store
	mapper Mapper[T]
	key    KeySelector[T]
}

// New binds mapper to store. Callers normally obtain persisters through a
// Registry, which also migrates the table first.
func New[T any](store *storage.Store, mapper Mapper[T]) *Persister[T] {
	return &Persister[T]{
		store:  store,
		mapper: mapper,
		key:    mapper.PrimaryKey(),
	}
}

// Table returns the entity's table name.
func (p *Persister[T]) Table() string {
	return p.mapper.Table()
}

// Upsert updates the entity's row in place, or inserts it if absent.
func (p *Persister[T]) Upsert(ctx context.Context, e T) error {
	if _, err := p.store.UpsertRow(ctx, p.Table(), p.key.key(e), p.mapper.ToRow(e)); err != nil {
		return fmt.Errorf("upsert %s: %w", p.Table(), err)
	}
	return nil
}

// Delete removes the entity's row. Deleting an absent entity succeeds.
func (p *Persister[T]) Delete(ctx context.Context, e T) error {
	if _, err := p.store.DeleteRows(ctx, p.Table(), p.key.key(e)); err != nil {
		return fmt.Errorf("delete %s: %w", p.Table(), err)
	}
	return nil
}

// DeleteAll empties the table and returns the number of rows removed.
func (p *Persister[T]) DeleteAll(ctx context.Context) (int64, error) {
	deleted, err := p.store.Truncate(ctx, p.Table())
	if err != nil {
		return 0, fmt.Errorf("delete all %s: %w", p.Table(), err)
	}
	return deleted, nil
}

// FindAll lazily yields every stored entity in storage order. The sequence
// is single pass; call FindAll again to rescan. The loop body may use the
// store, including this persister.
func (p *Persister[T]) FindAll(ctx context.Context) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T
		for row, err := range p.store.ScanRows(ctx, p.Table()) {
			if err != nil {
				yield(zero, err)
				return
			}
			e, err := p.mapper.FromRow(row)
			if err != nil {
				yield(zero, fmt.Errorf("decode %s row: %w", p.Table(), err))
				return
			}
			if !yield(e, nil) {
				return
			}
		}
	}
}

// List collects FindAll into a slice.
func (p *Persister[T]) List(ctx context.Context) ([]T, error) {
	var out []T
	for e, err := range p.FindAll(ctx) {
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, nil
}

// Find looks up the row sharing key's primary key. Only the key fields of key
// need to be set. An absent row reports false without an error.
func (p *Persister[T]) Find(ctx context.Context, key T) (T, bool, error) {
	var zero T
	row, found, err := p.store.FindRow(ctx, p.Table(), p.key.key(key))
	if err != nil {
		return zero, false, fmt.Errorf("find %s: %w", p.Table(), err)
	}
	if !found {
		return zero, false, nil
	}
	e, err := p.mapper.FromRow(row)
	if err != nil {
		return zero, false, fmt.Errorf("decode %s row: %w", p.Table(), err)
	}
	return e, true, nil
}

// Get is Find for callers that treat absence as an error; it returns
// storage.ErrNotFound.
func (p *Persister[T]) Get(ctx context.Context, key T) (T, error) {
	e, found, err := p.Find(ctx, key)
	if err != nil {
		return e, err
	}
	if !found {
		return e, fmt.Errorf("%s %v: %w", p.Table(), p.key.Args(key), storage.ErrNotFound)
	}
	return e, nil
}

// Count returns the number of stored entities.
func (p *Persister[T]) Count(ctx context.Context) (int, error) {
	return p.store.Count(ctx, p.Table())
}
