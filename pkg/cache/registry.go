package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/richardartoul/docpdf/backends"
)

// Registry lazily creates one RepositoryCache per repository and keeps it for
// its own lifetime.
type Registry struct {
	factory backends.Factory
	opts    []Option
	logger  *slog.Logger
	caches  *xsync.MapOf[string, *registryEntry]
}

// registryEntry is a cache that is being or has been opened. ready is closed
// once c or err is set.
type registryEntry struct {
	ready chan struct{}
	c     *RepositoryCache
	err   error
}

// cache returns the opened cache, or nil while opening or after a failure.
func (e *registryEntry) cache() *RepositoryCache {
	select {
	case <-e.ready:
		return e.c
	default:
		return nil
	}
}

// NewRegistry returns a registry that opens stores through factory and builds
// every cache with opts.
func NewRegistry(factory backends.Factory, opts ...Option) *Registry {
	return &Registry{
		factory: factory,
		opts:    opts,
		logger:  buildOptions(opts).logger,
		caches:  xsync.NewMapOf[string, *registryEntry](),
	}
}

// Get returns the cache of repositoryID, opening its store and building the
// cache on first use. Concurrent calls for one id build at most one cache and
// wait for it; if building fails the waiters see the error, nothing is
// remembered and the next call tries again. Opening runs outside the map's
// locks, so other repositories are not held up by a slow store.
func (r *Registry) Get(ctx context.Context, repositoryID string) (*RepositoryCache, error) {
	e, ok := r.caches.Load(repositoryID)
	if !ok {
		var loaded bool
		e, loaded = r.caches.LoadOrStore(repositoryID, &registryEntry{ready: make(chan struct{})})
		if !loaded {
			e.c, e.err = r.open(ctx, repositoryID)
			if e.err != nil {
				r.caches.Delete(repositoryID)
			}
			close(e.ready)
		}
	}

	select {
	case <-e.ready:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	if e.err != nil {
		return nil, fmt.Errorf("failed to open cache of repository %s: %w", repositoryID, e.err)
	}
	return e.c, nil
}

func (r *Registry) open(ctx context.Context, repositoryID string) (*RepositoryCache, error) {
	store, err := r.factory.Open(ctx, repositoryID)
	if err != nil {
		return nil, err
	}

	opts := append(r.opts[:len(r.opts):len(r.opts)], WithLogger(r.logger.With("repository", repositoryID)))
	c, err := New(ctx, store, opts...)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	r.logger.Info("opened repository cache", "repository", repositoryID, "entries", c.Len())
	return c, nil
}

// RepositoryStats describes the cache of one repository.
type RepositoryStats struct {
	Repository string `json:"repository"`
	Entries    int    `json:"entries"`
	MaxEntries int    `json:"max_entries"`
}

// Stats returns the size of every open cache, sorted by repository.
func (r *Registry) Stats() []RepositoryStats {
	var stats []RepositoryStats
	r.caches.Range(func(id string, e *registryEntry) bool {
		c := e.cache()
		if c == nil {
			return true
		}
		stats = append(stats, RepositoryStats{
			Repository: id,
			Entries:    c.Len(),
			MaxEntries: c.MaxEntries(),
		})
		return true
	})
	sort.Slice(stats, func(i, j int) bool {
		return stats[i].Repository < stats[j].Repository
	})
	return stats
}

// Close closes the stores of all caches. The registry must not be used
// afterwards.
func (r *Registry) Close() error {
	var errs []error
	r.caches.Range(func(id string, e *registryEntry) bool {
		c := e.cache()
		if c == nil {
			return true
		}
		if err := c.close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close store of repository %s: %w", id, err))
		}
		return true
	})
	r.caches.Clear()
	return errors.Join(errs...)
}
