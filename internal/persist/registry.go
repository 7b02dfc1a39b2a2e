package persist

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/rossigee/pagekeeper/internal/schema"
	"github.com/rossigee/pagekeeper/internal/storage"
	"github.com/sirupsen/logrus"
)

// ErrRegistryClosed is returned when registering after the store was migrated.
var ErrRegistryClosed = errors.New("registry already migrated; register entity types before first use")

// NoPersisterRegisteredError reports a lookup for an entity type that was
// never registered.
type NoPersisterRegisteredError struct {
	Type string
}

func (e *NoPersisterRegisteredError) Error() string {
	return fmt.Sprintf("no persister registered for %s", e.Type)
}

type registration struct {
	catalog schema.Catalog
	build   func(*storage.Store) (any, error)
}

// Registry is the registration table from entity type to catalog and mapper
// factory. The first lookup migrates the store for every registered catalog,
// then persisters are built lazily and cached per type.
type Registry struct {
	store *storage.Store

	mu         sync.Mutex
	entries    map[reflect.Type]*registration
	order      []reflect.Type
	tables     map[string]reflect.Type
	persisters map[reflect.Type]any
	migrated   bool
	version    int
	fatal      error
}

// NewRegistry creates an empty registry bound to store.
func NewRegistry(store *storage.Store) *Registry {
	return &Registry{
		store:      store,
		entries:    make(map[reflect.Type]*registration),
		tables:     make(map[string]reflect.Type),
		persisters: make(map[reflect.Type]any),
	}
}

// Register adds entity type T. Catalog problems, duplicate types and
// duplicate tables are reported immediately.
func Register[T any](r *Registry, catalog schema.Catalog, factory func() Mapper[T]) error {
	typ := reflect.TypeFor[T]()
	if factory == nil {
		return fmt.Errorf("register %s: nil mapper factory", typ)
	}
	if err := catalog.Validate(); err != nil {
		return fmt.Errorf("register %s: %w", typ, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.migrated {
		return fmt.Errorf("register %s: %w", typ, ErrRegistryClosed)
	}
	if _, dup := r.entries[typ]; dup {
		return fmt.Errorf("register %s: type already registered", typ)
	}
	if other, dup := r.tables[catalog.Table]; dup {
		return fmt.Errorf("register %s: table %q already used by %s", typ, catalog.Table, other)
	}

	r.entries[typ] = &registration{
		catalog: catalog,
		build: func(store *storage.Store) (any, error) {
			mapper := factory()
			if mapper == nil {
				return nil, fmt.Errorf("mapper factory for %s returned nil", typ)
			}
			if mapper.Table() != catalog.Table {
				return nil, fmt.Errorf("mapper for %s uses table %q, catalog declares %q", typ, mapper.Table(), catalog.Table)
			}
			return New(store, mapper), nil
		},
	}
	r.order = append(r.order, typ)
	r.tables[catalog.Table] = typ
	return nil
}

// Catalogs returns the registered catalogs in registration order.
func (r *Registry) Catalogs() []schema.Catalog {
	r.mu.Lock()
	defer r.mu.Unlock()

	catalogs := make([]schema.Catalog, 0, len(r.order))
	for _, typ := range r.order {
		catalogs = append(catalogs, r.entries[typ].catalog)
	}
	return catalogs
}

// Migrate runs every registered catalog through the migration engine once.
// Later calls return the recorded version. A SchemaTooNewError is sticky:
// the store stays unusable for the registry's lifetime.
func (r *Registry) Migrate(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.migrateLocked(ctx); err != nil {
		return 0, err
	}
	return r.version, nil
}

func (r *Registry) migrateLocked(ctx context.Context) error {
	if r.fatal != nil {
		return r.fatal
	}
	if r.migrated {
		return nil
	}

	catalogs := make([]schema.Catalog, 0, len(r.order))
	for _, typ := range r.order {
		catalogs = append(catalogs, r.entries[typ].catalog)
	}

	version, err := r.store.Migrate(ctx, catalogs...)
	if err != nil {
		var tooNew *storage.SchemaTooNewError
		if errors.As(err, &tooNew) {
			r.fatal = err
		}
		return err
	}

	r.migrated = true
	r.version = version
	logrus.WithFields(logrus.Fields{
		"version":      version,
		"entity_types": len(catalogs),
	}).Debug("Persister registry ready")
	return nil
}

// Get returns the persister for T, migrating the store on first use.
func Get[T any](ctx context.Context, r *Registry) (*Persister[T], error) {
	typ := reflect.TypeFor[T]()

	r.mu.Lock()
	defer r.mu.Unlock()

	entry, ok := r.entries[typ]
	if !ok {
		return nil, &NoPersisterRegisteredError{Type: typ.String()}
	}
	if err := r.migrateLocked(ctx); err != nil {
		return nil, err
	}

	if cached, ok := r.persisters[typ]; ok {
		return cached.(*Persister[T]), nil
	}

	built, err := entry.build(r.store)
	if err != nil {
		return nil, err
	}
	r.persisters[typ] = built
	return built.(*Persister[T]), nil
}
