package locking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// FlockGroup is a Group implementation that uses advisory file locks, so it
// excludes callers across processes sharing the lock directory. Callers
// within the process queue on an in-memory lock first and only the winner
// polls the file lock.
type FlockGroup struct {
	dir        string
	retryDelay time.Duration
	mem        *MemLock
}

// NewFlockGroup creates the lock directory if needed.
func NewFlockGroup(dir string) (*FlockGroup, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}
	return &FlockGroup{
		dir:        dir,
		retryDelay: 10 * time.Millisecond,
		mem:        NewMemLock(),
	}, nil
}

func (g *FlockGroup) DoWithLock(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	return g.mem.DoWithLock(ctx, key, func() (any, error) {
		lock := flock.New(g.path(key))
		locked, err := lock.TryLockContext(ctx, g.retryDelay)
		if err != nil {
			return nil, fmt.Errorf("failed to acquire file lock: %w", err)
		}
		if !locked {
			return nil, ctx.Err()
		}
		defer lock.Unlock()

		return fn()
	})
}

// path maps keys onto one of 256 lock files, named after the first byte of
// the key's SHA-256, so the lock directory stays bounded. Keys sharing a file
// exclude each other across processes.
func (g *FlockGroup) path(key string) string {
	sum := sha256.Sum256([]byte(key))
	return filepath.Join(g.dir, hex.EncodeToString(sum[:1])+".lock")
}
