package locking

import "context"

// NoOpGroup is a Group implementation that performs no locking.
// Every call executes the function immediately.
type NoOpGroup struct{}

// NewNoOpGroup creates a new NoOpGroup.
func NewNoOpGroup() *NoOpGroup {
	return &NoOpGroup{}
}

func (n *NoOpGroup) DoWithLock(ctx context.Context, _ string, fn func() (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return fn()
}
