// Package reader is the reader's persistence surface: it owns the shared
// store, the persister registry and the task executor, and offers the
// asynchronous entity operations used by the rest of the program.
package reader

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/rossigee/pagekeeper/internal/files"
	"github.com/rossigee/pagekeeper/internal/persist"
	"github.com/rossigee/pagekeeper/internal/schema"
	"github.com/rossigee/pagekeeper/internal/storage"
	"github.com/rossigee/pagekeeper/internal/tasks"
)

// ErrNotFound is returned by FindByKey when no entity matches.
var ErrNotFound = storage.ErrNotFound

// ErrNotStarted is returned by operations submitted before Start succeeded.
var ErrNotStarted = errors.New("reader core not started")

// Options configures a Core.
type Options struct {
	// DBPath is the SQLite file, or storage.MemoryPath.
	DBPath string
	// Files removes associated files; nil disables purging.
	Files files.Remover
	// PoolSize bounds concurrent pooled tasks.
	PoolSize int
	// Completion is where outcomes are delivered. Defaults to tasks.Inline.
	Completion tasks.Dispatcher
	// Registerer receives executor metrics.
	Registerer prometheus.Registerer
}

// Core is the context object shared by every entity operation.
type Core struct {
	store    *storage.Store
	registry *persist.Registry
	exec     *tasks.Executor
	files    files.Remover

	mu      sync.RWMutex
	started bool
	closed  bool
}

// Open opens the store and creates the executor. Entity types are then
// registered with Register before calling Start.
func Open(ctx context.Context, opts Options) (*Core, error) {
	if opts.DBPath == "" {
		return nil, errors.New("database path is required")
	}

	store, err := storage.Open(ctx, opts.DBPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	return &Core{
		store:    store,
		registry: persist.NewRegistry(store),
		exec: tasks.NewExecutor(tasks.Config{
			PoolSize:   opts.PoolSize,
			Completion: opts.Completion,
			Registerer: opts.Registerer,
		}),
		files: opts.Files,
	}, nil
}

// Register adds entity type T to the core's registry.
func Register[T any](c *Core, catalog schema.Catalog, factory func() persist.Mapper[T]) error {
	return persist.Register(c.registry, catalog, factory)
}

// Registry exposes the registry for bulk registration helpers.
func (c *Core) Registry() *persist.Registry { return c.registry }

// Executor exposes the executor for status lookups and network tasks.
func (c *Core) Executor() *tasks.Executor { return c.exec }

// Store exposes the underlying store.
func (c *Core) Store() *storage.Store { return c.store }

// Start migrates the store for every registered type. A store written by a
// newer build, or a broken registration, aborts startup.
func (c *Core) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return tasks.ErrExecutorClosed
	}
	if c.started {
		return nil
	}

	version, err := c.registry.Migrate(ctx)
	if err != nil {
		return fmt.Errorf("failed to migrate store: %w", err)
	}
	c.started = true

	logrus.WithFields(logrus.Fields{
		"db_path":       c.store.Path(),
		"store_version": version,
	}).Info("Reader core started")
	return nil
}

// Close waits for submitted tasks (cancelling them if ctx ends first) and
// closes the store.
func (c *Core) Close(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	shutdownErr := c.exec.Shutdown(ctx)
	closeErr := c.store.Close()
	return errors.Join(shutdownErr, closeErr)
}

func (c *Core) ready() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.started {
		return ErrNotStarted
	}
	return nil
}
