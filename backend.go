package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/richardartoul/docpdf/backends"
	"github.com/richardartoul/docpdf/pkg/config"
	"github.com/richardartoul/docpdf/pkg/locking"
)

// newStoreFactory returns the factory of the rendition stores selected by
// cfg. With DebugBackend set every store operation is logged.
func newStoreFactory(ctx context.Context, cfg *config.Config, logger *slog.Logger) (backends.Factory, error) {
	var factory backends.Factory
	switch cfg.Store {
	case config.StoreMem:
		factory = backends.NewMemFactory()
	case config.StoreDisk:
		factory = &backends.DiskFactory{Root: cfg.StoreDir, Logger: logger}
	case config.StoreS3:
		s3, err := backends.NewS3Factory(ctx, backends.S3Config{
			Bucket:       cfg.S3Bucket,
			Region:       cfg.S3Region,
			Endpoint:     cfg.S3Endpoint,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			Prefix:       cfg.S3Prefix,
			UsePathStyle: cfg.S3PathStyle,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create S3 store: %w", err)
		}
		factory = s3
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}

	if cfg.DebugBackend {
		factory = &backends.DebugFactory{Factory: factory, Logger: logger}
	}
	return factory, nil
}

// newLockGroup returns the group serializing conversions of one document.
// File locks in LockDir extend this to several processes sharing a store.
func newLockGroup(cfg *config.Config) (locking.Group, error) {
	switch cfg.LockMode {
	case config.LockNone:
		return locking.NewNoOpGroup(), nil
	case config.LockMem:
		return locking.NewMemLock(), nil
	case config.LockFlock:
		return locking.NewFlockGroup(cfg.LockDir)
	default:
		return nil, fmt.Errorf("unknown lock mode %q", cfg.LockMode)
	}
}
