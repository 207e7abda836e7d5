package locking

import "context"

// locking.Group is an abstraction for running functions with mutual exclusion
// over sets of keys.
type Group interface {
	// DoWithLock runs fn while holding the lock of key. It returns ctx.Err()
	// without running fn if ctx is done before the lock is acquired.
	DoWithLock(ctx context.Context, key string, fn func() (any, error)) (any, error)
}
