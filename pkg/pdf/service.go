// Package pdf serves PDF renditions of repository files, converting and
// caching them on first request.
package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	perrors "github.com/jmgilman/go/errors"

	"github.com/richardartoul/docpdf/pkg/cache"
	"github.com/richardartoul/docpdf/pkg/convert"
	"github.com/richardartoul/docpdf/pkg/document"
	"github.com/richardartoul/docpdf/pkg/locking"
	"github.com/richardartoul/docpdf/pkg/metrics"
	"github.com/richardartoul/docpdf/pkg/repository"
)

// Converter renders a file to PDF.
type Converter interface {
	Convert(ctx context.Context, filename string, content io.Reader) (io.ReadCloser, error)
}

// Service resolves documents to PDF renditions.
type Service struct {
	resolver  repository.Resolver
	files     repository.FileReader
	caches    *cache.Registry
	converter Converter
	locks     locking.Group
	metrics   *metrics.Recorder
	logger    *slog.Logger
}

// Option configures a Service.
type Option func(*Service)

// WithLocks sets the group that serializes conversions of one document.
func WithLocks(g locking.Group) Option {
	return func(s *Service) {
		s.locks = g
	}
}

// WithMetrics records latencies and hit rates in r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(s *Service) {
		s.metrics = r
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService wires the collaborators of the conversion pipeline.
func NewService(resolver repository.Resolver, files repository.FileReader, caches *cache.Registry, converter Converter, opts ...Option) *Service {
	s := &Service{
		resolver:  resolver,
		files:     files,
		caches:    caches,
		converter: converter,
		locks:     locking.NewMemLock(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// IsSupported reports whether the file at path can be rendered. It agrees
// with the check GetOrConvert starts with.
func (s *Service) IsSupported(path string) bool {
	ext, ok := document.Extension(path)
	return ok && convert.IsConvertible(ext)
}

// GetOrConvert returns the PDF rendition of ref, converting and caching it if
// it is not cached yet. The caller must close the returned stream.
func (s *Service) GetOrConvert(ctx context.Context, ref document.Ref) (io.ReadCloser, error) {
	return metrics.TimeResult(s.metrics, metrics.OpGetOrConvert, func() (io.ReadCloser, error) {
		return s.getOrConvert(ctx, ref)
	})
}

func (s *Service) getOrConvert(ctx context.Context, ref document.Ref) (io.ReadCloser, error) {
	ext, ok := ref.Extension()
	if !ok {
		return nil, unsupportedError(ref, "files without extension are not supported")
	}
	if !convert.IsConvertible(ext) {
		return nil, unsupportedError(ref, fmt.Sprintf("files with %s extension are not supported", ext))
	}

	repo, err := s.resolver.Resolve(ctx, ref.Namespace, ref.Name)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, newError(ErrRepositoryNotFound, perrors.CodeNotFound, ref, "repository not found", err)
		}
		return nil, perrors.WrapWithContext(err, perrors.CodeInternal, "failed to resolve repository", refContext(ref))
	}

	c, err := s.caches.Get(ctx, repo.ID)
	if err != nil {
		return nil, storageError(ref, "failed to open cache", err)
	}

	rd, ok, err := s.cacheGet(ctx, c, ref)
	if err != nil {
		return nil, err
	}
	if ok {
		s.metrics.Inc(metrics.CounterCacheHit)
		return rd, nil
	}
	s.metrics.Inc(metrics.CounterCacheMiss)

	v, err := s.locks.DoWithLock(ctx, repo.ID+"/"+ref.CacheKey(), func() (any, error) {
		// a concurrent request may have converted the file while we waited
		rd, ok, err := s.cacheGet(ctx, c, ref)
		if err != nil || ok {
			return rd, err
		}

		if err := s.convertAndCache(ctx, c, repo, ref); err != nil {
			return nil, err
		}

		rd, ok, err = s.cacheGet(ctx, c, ref)
		if err != nil {
			return nil, err
		}
		if !ok {
			s.logger.Error("converted file is not readable from cache", "ref", ref.String(), "key", ref.CacheKey())
			return nil, newError(ErrInvariant, perrors.CodeInternal, ref, "currently cached object is not available", nil)
		}
		return rd, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(io.ReadCloser), nil
}

func (s *Service) cacheGet(ctx context.Context, c *cache.RepositoryCache, ref document.Ref) (io.ReadCloser, bool, error) {
	var (
		rd io.ReadCloser
		ok bool
	)
	err := s.metrics.Time(metrics.OpCacheGet, func() error {
		var err error
		rd, ok, err = c.Get(ctx, ref)
		return err
	})
	if err != nil {
		return nil, false, storageError(ref, "failed to read from cache", err)
	}
	return rd, ok, nil
}

func (s *Service) convertAndCache(ctx context.Context, c *cache.RepositoryCache, repo *repository.Repository, ref document.Ref) error {
	content, err := metrics.TimeResult(s.metrics, metrics.OpReadFile, func() (io.ReadCloser, error) {
		return s.files.ReadFile(ctx, repo, ref.Revision, ref.Path)
	})
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return newError(ErrFileNotFound, perrors.CodeNotFound, ref, "file not found", err)
		}
		return perrors.WrapWithContext(err, perrors.CodeInternal, "failed to read file", refContext(ref))
	}
	defer content.Close()

	rendered, err := metrics.TimeResult(s.metrics, metrics.OpConvert, func() (io.ReadCloser, error) {
		return s.converter.Convert(ctx, ref.Filename(), content)
	})
	if err != nil {
		s.metrics.Inc(metrics.CounterConversionError)
		var serverErr *convert.ServerError
		if errors.As(err, &serverErr) {
			return conversionError(ref, serverErr.StatusCode, err)
		}
		return conversionError(ref, 0, err)
	}
	defer rendered.Close()

	if err := s.metrics.Time(metrics.OpCacheSet, func() error {
		return c.Set(ctx, ref, rendered)
	}); err != nil {
		return storageError(ref, "failed to store rendition", err)
	}

	s.logger.Info("converted file", "ref", ref.String(), "repository", repo.ID)
	return nil
}
