package service

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"obs-showctl/internal/data"
	"obs-showctl/internal/model"
)

// ShowRegistry caches show definitions in memory. The cache only changes
// through LoadAll, Load and Unload; store writes are not picked up until one
// of those runs.
type ShowRegistry struct {
	store  data.ShowStore
	logger log.Logger

	mu    sync.RWMutex
	shows map[string]model.Show
}

func NewShowRegistry(store data.ShowStore, logger log.Logger) *ShowRegistry {
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &ShowRegistry{
		store:  store,
		logger: log.With(logger, "component", "show_registry"),
		shows:  make(map[string]model.Show),
	}
}

// LoadAll replaces the cache with every show the store lists. A show that
// fails to load is logged and skipped. Failure to list leaves the cache as
// it was and is returned.
func (r *ShowRegistry) LoadAll(ctx context.Context) error {
	names, err := r.store.ListShowNames(ctx)
	if err != nil {
		return fmt.Errorf("list shows: %w", err)
	}
	next := make(map[string]model.Show, len(names))
	for _, name := range names {
		show, err := r.store.GetShow(ctx, name)
		if err != nil {
			level.Warn(r.logger).Log("msg", "skipping show", "show", name, "err", err)
			continue
		}
		next[name] = cloneShow(*show)
	}

	r.mu.Lock()
	r.shows = next
	r.mu.Unlock()
	level.Info(r.logger).Log("msg", "shows loaded", "count", len(next), "listed", len(names))
	return nil
}

// Load fetches one show from the store and installs it. On any error the
// cache is left untouched.
func (r *ShowRegistry) Load(ctx context.Context, name string) error {
	show, err := r.store.GetShow(ctx, name)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.shows[name] = cloneShow(*show)
	r.mu.Unlock()
	level.Debug(r.logger).Log("msg", "show loaded", "show", name, "targets", len(show.Targets))
	return nil
}

// Unload drops a show from the cache only.
func (r *ShowRegistry) Unload(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.shows[name]; !ok {
		return fmt.Errorf("%w: show %s is not loaded", model.ErrNotFound, name)
	}
	delete(r.shows, name)
	level.Debug(r.logger).Log("msg", "show unloaded", "show", name)
	return nil
}

// Names returns the cached show names, sorted.
func (r *ShowRegistry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.shows))
	for name := range r.shows {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Get returns a copy of the cached show.
func (r *ShowRegistry) Get(name string) (model.Show, bool) {
	r.mu.RLock()
	show, ok := r.shows[name]
	r.mu.RUnlock()
	if !ok {
		return model.Show{}, false
	}
	return cloneShow(show), true
}

func cloneShow(s model.Show) model.Show {
	targets := make([]model.TargetState, len(s.Targets))
	copy(targets, s.Targets)
	return model.Show{Name: s.Name, Targets: targets}
}
