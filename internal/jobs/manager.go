// Package jobs turns API requests into reader tasks and reports their status.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/rossigee/pagekeeper/internal/entities"
	"github.com/rossigee/pagekeeper/internal/pagecache"
	"github.com/rossigee/pagekeeper/internal/reader"
	"github.com/rossigee/pagekeeper/internal/tasks"
	"github.com/rossigee/pagekeeper/pkg/types"
)

// ErrNotFound is returned when a saved page or task is unknown.
var ErrNotFound = errors.New("not found")

// Manager manages saved page jobs
type Manager struct {
	core  *reader.Core
	cache *pagecache.Cache[string, entities.SavedPage]
	now   func() time.Time

	// gen advances on every cache invalidation. A page read or written
	// before an invalidation is not cached after it.
	mu  sync.Mutex
	gen uint64
}

// NewManager creates a manager over a started core, caching up to
// cacheSize looked-up pages.
func NewManager(core *reader.Core, cacheSize int) *Manager {
	return &Manager{
		core:  core,
		cache: pagecache.New[string, entities.SavedPage](cacheSize),
		now:   time.Now,
	}
}

// SavePage starts persisting a saved page and returns the task id.
func (m *Manager) SavePage(req types.SavePageRequest) (string, error) {
	title := entities.PageTitle{Namespace: req.Namespace, Text: req.Title, Site: req.Site}
	if err := title.Validate(); err != nil {
		return "", err
	}

	page := entities.SavedPage{Title: title, Timestamp: m.now()}
	if req.SavedAt != nil {
		page.Timestamp = *req.SavedAt
	}

	key := cacheKey(title)
	gen := m.invalidate(key)
	task := reader.Persist(m.core, page, func(o tasks.Outcome[struct{}]) {
		if o.State == tasks.StateSucceeded {
			m.putIfCurrent(key, page, gen)
		}
	}, reader.Named("save-page"))
	return task.ID(), nil
}

// ListPages returns every saved page.
func (m *Manager) ListPages(ctx context.Context) ([]entities.SavedPage, error) {
	return reader.ListAll[entities.SavedPage](m.core, nil, reader.Named("list-saved-pages")).Wait(ctx)
}

// GetPage looks a saved page up, through the page cache.
func (m *Manager) GetPage(ctx context.Context, title entities.PageTitle) (entities.SavedPage, error) {
	key := cacheKey(title)
	if page, ok := m.cache.Get(key); ok {
		return page, nil
	}
	gen := m.generation()

	page, err := reader.FindByKey(m.core, entities.SavedPage{Title: title}, nil, reader.Named("find-saved-page")).Wait(ctx)
	if err != nil {
		if errors.Is(err, reader.ErrNotFound) {
			return entities.SavedPage{}, fmt.Errorf("saved page %s: %w", title.PrefixedText(), ErrNotFound)
		}
		return entities.SavedPage{}, err
	}
	m.putIfCurrent(key, page, gen)
	return page, nil
}

// RemovePage starts removing a saved page and returns the task id. Once the
// row is gone the page's files are purged on the dedicated worker.
func (m *Manager) RemovePage(title entities.PageTitle) (string, error) {
	if err := title.Validate(); err != nil {
		return "", err
	}

	key := cacheKey(title)
	m.invalidate(key)
	task := reader.Remove(m.core, entities.SavedPage{Title: title}, func(o tasks.Outcome[struct{}]) {
		m.invalidate(key)
		if o.State != tasks.StateSucceeded {
			return
		}
		reader.PurgeAssociatedFiles(m.core, title.StorageName(), true, func(p tasks.Outcome[struct{}]) {
			if p.Err != nil {
				logrus.WithError(p.Err).WithField("title", title.PrefixedText()).Warn("Failed to purge saved page files")
			}
		}, reader.Named("purge-saved-page"))
	}, reader.Named("remove-saved-page"))
	return task.ID(), nil
}

// ClearPages starts deleting every saved page and their files.
func (m *Manager) ClearPages() (string, error) {
	m.invalidateAll()
	task := reader.ClearAllAndPurge[entities.SavedPage](m.core, "", func(o tasks.Outcome[int64]) {
		m.invalidateAll()
		if o.State == tasks.StateSucceeded {
			logrus.WithField("deleted", o.Value).Info("Cleared saved pages")
		}
	}, reader.Named("clear-saved-pages"))
	return task.ID(), nil
}

// cacheKey matches the store's row key: a title with and without its
// namespace split out names the same page.
func cacheKey(title entities.PageTitle) string {
	return title.Site + "\x00" + title.PrefixedText()
}

func (m *Manager) generation() uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gen
}

func (m *Manager) invalidate(key string) uint64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.cache.Remove(key)
	return m.gen
}

func (m *Manager) invalidateAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.cache.Clear()
}

// putIfCurrent caches page unless the cache was invalidated after gen.
func (m *Manager) putIfCurrent(key string, page entities.SavedPage, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen == gen {
		m.cache.Put(key, page)
	}
}

// GetTaskStatus returns the status of a task
func (m *Manager) GetTaskStatus(taskID string) (*types.StatusResponse, error) {
	snap, ok := m.core.Executor().Lookup(taskID)
	if !ok {
		return nil, fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}

	return &types.StatusResponse{
		TaskID:    snap.ID,
		Name:      snap.Name,
		Mode:      snap.Mode.String(),
		Status:    types.TaskStatus(snap.State),
		Error:     snap.Error,
		CreatedAt: snap.CreatedAt,
		UpdatedAt: snap.UpdatedAt,
	}, nil
}

// CancelTask cancels a pending or running task
func (m *Manager) CancelTask(taskID string) error {
	if _, ok := m.core.Executor().Lookup(taskID); !ok {
		return fmt.Errorf("task %s: %w", taskID, ErrNotFound)
	}
	return m.core.Executor().CancelByID(taskID)
}

// GetActiveTasks returns the number of pending or running tasks
func (m *Manager) GetActiveTasks() int {
	return m.core.Executor().ActiveTasks()
}

// StoreVersion reports the store's schema version.
func (m *Manager) StoreVersion(ctx context.Context) (int, error) {
	return m.core.Store().Version(ctx)
}
