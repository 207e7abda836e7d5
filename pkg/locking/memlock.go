package locking

import (
	"context"
	"sync"
)

// MemLock is a Group implementation that uses in-memory locks for mutual
// exclusion. It only works within a single process. Locks are dropped once no
// caller holds or waits for them, so the set of keys may be unbounded.
type MemLock struct {
	mu    sync.Mutex
	locks map[string]*keyLock
}

type keyLock struct {
	sem  chan struct{}
	refs int // holders and waiters, guarded by MemLock.mu
}

func NewMemLock() *MemLock {
	return &MemLock{
		locks: make(map[string]*keyLock),
	}
}

func (s *MemLock) DoWithLock(ctx context.Context, key string, fn func() (any, error)) (any, error) {
	l := s.acquire(key)
	defer s.release(key, l)

	select {
	case l.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	defer func() { <-l.sem }()

	return fn()
}

func (s *MemLock) acquire(key string) *keyLock {
	s.mu.Lock()
	defer s.mu.Unlock()

	l, ok := s.locks[key]
	if !ok {
		l = &keyLock{sem: make(chan struct{}, 1)}
		s.locks[key] = l
	}
	l.refs++
	return l
}

func (s *MemLock) release(key string, l *keyLock) {
	s.mu.Lock()
	defer s.mu.Unlock()

	l.refs--
	if l.refs == 0 {
		delete(s.locks, key)
	}
}

// size returns the number of live locks.
func (s *MemLock) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.locks)
}
