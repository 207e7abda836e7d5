package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// DirResolver finds repositories laid out as <Root>/<namespace>/<name>.
type DirResolver struct {
	Root string
}

func (r *DirResolver) Resolve(ctx context.Context, namespace, name string) (*Repository, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !ValidName(namespace) || !ValidName(name) {
		return nil, fmt.Errorf("repository %s/%s: %w", namespace, name, ErrNotFound)
	}

	path := filepath.Join(r.Root, namespace, name)
	fi, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("repository %s/%s: %w", namespace, name, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to stat repository: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("repository %s/%s: %w", namespace, name, ErrNotFound)
	}

	return &Repository{
		ID:        namespace + "/" + name,
		Namespace: namespace,
		Name:      name,
		Path:      path,
	}, nil
}
