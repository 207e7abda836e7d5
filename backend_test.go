package main

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/richardartoul/docpdf/backends"
	"github.com/richardartoul/docpdf/pkg/config"
	"github.com/richardartoul/docpdf/pkg/locking"
)

func TestNewLockGroup(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()

	g, err := newLockGroup(cfg)
	require.NoError(t, err)
	assert.IsType(t, &locking.MemLock{}, g)

	cfg.LockMode = config.LockNone
	g, err = newLockGroup(cfg)
	require.NoError(t, err)
	assert.IsType(t, &locking.NoOpGroup{}, g)

	cfg.LockMode = config.LockFlock
	cfg.LockDir = t.TempDir()
	g, err = newLockGroup(cfg)
	require.NoError(t, err)
	assert.IsType(t, &locking.FlockGroup{}, g)

	cfg.LockMode = "semaphore"
	_, err = newLockGroup(cfg)
	assert.Error(t, err)
}

func TestNewStoreFactory(t *testing.T) {
	cfg := &config.Config{}
	cfg.LoadDefaults()
	ctx := context.Background()

	cfg.Store = config.StoreMem
	f, err := newStoreFactory(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &backends.MemFactory{}, f)

	cfg.Store = config.StoreDisk
	cfg.DebugBackend = true
	f, err = newStoreFactory(ctx, cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &backends.DebugFactory{}, f)

	cfg.DebugBackend = false
	cfg.Store = config.StoreS3
	_, err = newStoreFactory(ctx, cfg, nil)
	assert.Error(t, err, "a bucket is required")
}
