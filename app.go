package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"github.com/richardartoul/docpdf/pkg/auth"
	"github.com/richardartoul/docpdf/pkg/cache"
	"github.com/richardartoul/docpdf/pkg/config"
	"github.com/richardartoul/docpdf/pkg/convert"
	"github.com/richardartoul/docpdf/pkg/metrics"
	"github.com/richardartoul/docpdf/pkg/pdf"
	"github.com/richardartoul/docpdf/pkg/repository"
	"github.com/richardartoul/docpdf/pkg/settings"
)

// app holds everything built from a Config.
type app struct {
	logger   *slog.Logger
	metrics  *metrics.Recorder
	settings *settings.Store
	caches   *cache.Registry
	service  *pdf.Service
	server   *Server

	closers []io.Closer
}

func newLogger(cfg *config.Config, w io.Writer) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})), nil
}

func newApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app, error) {
	a := &app{
		logger:  logger,
		metrics: metrics.NewRecorder(0.01),
	}

	var err error
	a.settings, err = settings.Open(cfg.SettingsFile, settings.Settings{
		URL:     cfg.ConverterURL,
		Enabled: cfg.ConverterEnabled,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to load settings: %w", err)
	}

	var resolver repository.Resolver
	if cfg.DatabaseDSN != "" {
		pg, err := repository.OpenPostgres(ctx, cfg.DatabaseDSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open repository registry: %w", err)
		}
		a.closers = append(a.closers, pg)
		resolver = pg
	} else {
		resolver = &repository.DirResolver{Root: cfg.RepositoryRoot}
	}

	factory, err := newStoreFactory(ctx, cfg, logger)
	if err != nil {
		_ = a.Close()
		return nil, err
	}
	locks, err := newLockGroup(cfg)
	if err != nil {
		_ = a.Close()
		return nil, err
	}

	a.caches = cache.NewRegistry(factory,
		cache.WithMaxEntries(cfg.CacheMaxEntries),
		cache.WithLogger(logger),
		cache.WithMetrics(a.metrics),
	)
	a.closers = append(a.closers, a.caches)

	client := convert.NewClient(a.settings.URL,
		convert.WithTimeout(cfg.ConverterTimeout),
		convert.WithLogger(logger),
	)
	a.service = pdf.NewService(resolver, &repository.GitReader{}, a.caches, client,
		pdf.WithLocks(locks),
		pdf.WithMetrics(a.metrics),
		pdf.WithLogger(logger),
	)
	a.server = NewServer(a.service, a.settings, auth.NewAuthenticator(cfg.JWTSecret), a.caches, a.metrics, logger)
	return a, nil
}

// logStats writes the recorded latencies and counters to the log.
func (a *app) logStats() {
	snap := a.metrics.Snapshot()
	for _, s := range snap.Operations {
		a.logger.Info("latency", "operation", s.Operation, "stats", s)
	}
	for name, v := range snap.Counters {
		a.logger.Info("counter", "name", name, "value", v)
	}
}

// Close releases the stores and the database connection.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
