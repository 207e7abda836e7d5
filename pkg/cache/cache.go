// Package cache keeps a bounded number of PDF renditions per repository.
//
// A RepositoryCache mirrors the blobs of one backends.Backend in an in-memory
// recency index and evicts the least recently accessed blob once the store
// holds more than the configured number of entries. The Registry hands out one
// RepositoryCache per repository.
package cache

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/simplelru"

	"github.com/richardartoul/docpdf/backends"
	"github.com/richardartoul/docpdf/pkg/document"
	"github.com/richardartoul/docpdf/pkg/metrics"
)

// DefaultMaxEntries is the number of renditions kept per repository unless
// WithMaxEntries says otherwise.
const DefaultMaxEntries = 20

// Entry is the bookkeeping record of one stored blob.
type Entry struct {
	Key            string
	LastAccessedAt time.Time
}

type options struct {
	maxEntries int
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// Option configures a RepositoryCache.
type Option func(*options)

// WithMaxEntries bounds the number of blobs kept in the store.
func WithMaxEntries(n int) Option {
	return func(o *options) {
		o.maxEntries = n
	}
}

// WithClock replaces time.Now for access timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

// WithMetrics counts evictions in r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(o *options) {
		o.metrics = r
	}
}

func buildOptions(opts []Option) options {
	o := options{
		maxEntries: DefaultMaxEntries,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// RepositoryCache is an LRU cache of renditions over the blob store of one
// repository. The keys of the index always equal the ids present in the store.
//
// All methods are serialized by a lock owned by the instance.
type RepositoryCache struct {
	mu    sync.Mutex
	store backends.Backend

	// index orders keys from least to most recently accessed. It is never
	// allowed to evict on its own; eviction goes through evictOldest so the
	// blob is deleted before the key is dropped.
	index *simplelru.LRU[string, time.Time]

	maxEntries int
	now        func() time.Time
	logger     *slog.Logger
	metrics    *metrics.Recorder
}

// New builds the cache over store. Every blob already in the store is indexed
// with the construction time as its access time, in listing order, and the
// size bound is enforced once before New returns.
func New(ctx context.Context, store backends.Backend, opts ...Option) (*RepositoryCache, error) {
	o := buildOptions(opts)
	if o.maxEntries < 1 {
		return nil, fmt.Errorf("max entries must be positive, got %d", o.maxEntries)
	}

	ids, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list store: %w", err)
	}

	index, err := simplelru.NewLRU[string, time.Time](math.MaxInt, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create index: %w", err)
	}

	now := o.now()
	for _, id := range ids {
		index.Add(id, now)
	}

	c := &RepositoryCache{
		store:      store,
		index:      index,
		maxEntries: o.maxEntries,
		now:        o.now,
		logger:     o.logger,
		metrics:    o.metrics,
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.checkSizeLimit(ctx); err != nil {
		return nil, err
	}

	c.logger.Debug("repository cache ready", "found", len(ids), "entries", c.index.Len(), "max_entries", c.maxEntries)
	return c, nil
}

// Get opens the rendition of ref. It reports false, with no error, if none is
// stored. A hit marks the entry as most recently accessed.
func (c *RepositoryCache) Get(ctx context.Context, ref document.Ref) (io.ReadCloser, bool, error) {
	key := ref.CacheKey()

	c.mu.Lock()
	defer c.mu.Unlock()

	rd, err := c.store.Get(ctx, key)
	if backends.IsNotExist(err) {
		if c.index.Remove(key) {
			c.logger.Warn("indexed blob vanished from store", "key", key)
		}
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read blob %s: %w", key, err)
	}

	known := c.index.Contains(key)
	c.index.Add(key, c.now())
	if !known {
		// the store gained a blob behind our back
		if err := c.checkSizeLimit(ctx); err != nil {
			_ = rd.Close()
			return nil, false, err
		}
	}
	return rd, true, nil
}

// Set stores content as the rendition of ref and then enforces the size
// bound. If the blob cannot be written and committed the index is left as it
// was.
func (c *RepositoryCache) Set(ctx context.Context, ref document.Ref, content io.Reader) error {
	key := ref.CacheKey()

	c.mu.Lock()
	defer c.mu.Unlock()

	w, err := c.store.Create(ctx, key)
	if err != nil {
		return fmt.Errorf("failed to create blob %s: %w", key, err)
	}

	n, err := io.Copy(w, content)
	if err != nil {
		_ = w.Abort()
		return fmt.Errorf("failed to write blob %s: %w", key, err)
	}
	if err := w.Commit(); err != nil {
		_ = w.Abort()
		return fmt.Errorf("failed to commit blob %s: %w", key, err)
	}

	c.index.Add(key, c.now())
	c.logger.Debug("stored rendition", "key", key, "size", n)

	return c.checkSizeLimit(ctx)
}

// checkSizeLimit evicts until the index holds at most maxEntries keys.
// c.mu must be held.
func (c *RepositoryCache) checkSizeLimit(ctx context.Context) error {
	for c.index.Len() > c.maxEntries {
		if err := c.evictOldest(ctx); err != nil {
			return err
		}
	}
	return nil
}

// evictOldest deletes the blob of the least recently accessed entry and then
// drops the entry. Entries with equal access times leave in the order they
// were touched.
func (c *RepositoryCache) evictOldest(ctx context.Context) error {
	key, accessed, ok := c.index.GetOldest()
	if !ok {
		panic("cache: eviction from empty index")
	}

	if err := c.store.Remove(ctx, key); err != nil {
		return fmt.Errorf("failed to remove evicted blob %s: %w", key, err)
	}
	c.index.Remove(key)

	c.metrics.Inc(metrics.CounterEviction)
	c.logger.Debug("evicted rendition", "key", key, "last_accessed_at", accessed)
	return nil
}

// Entries returns a copy of the index, least recently accessed first.
func (c *RepositoryCache) Entries() []Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	keys := c.index.Keys()
	entries := make([]Entry, 0, len(keys))
	for _, key := range keys {
		accessed, _ := c.index.Peek(key)
		entries = append(entries, Entry{Key: key, LastAccessedAt: accessed})
	}
	return entries
}

// Len returns the number of indexed entries.
func (c *RepositoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.index.Len()
}

// MaxEntries returns the configured bound.
func (c *RepositoryCache) MaxEntries() int {
	return c.maxEntries
}

func (c *RepositoryCache) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.store.Close()
}
