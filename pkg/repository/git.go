package repository

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
)

// GitReader reads files from git repositories.
type GitReader struct {
	// FS is the filesystem repository paths are resolved in. The OS
	// filesystem is used if nil.
	FS billy.Filesystem
}

// ReadFile resolves revision (a hash, branch or tag) and opens the blob at
// path in its tree.
func (g *GitReader) ReadFile(ctx context.Context, repo *Repository, revision, path string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	r, err := g.open(repo)
	if err != nil {
		return nil, err
	}

	hash, err := r.ResolveRevision(plumbing.Revision(revision))
	if err != nil {
		if errors.Is(err, plumbing.ErrReferenceNotFound) {
			return nil, fmt.Errorf("revision %s: %w", revision, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to resolve revision %s: %w", revision, err)
	}

	commit, err := r.CommitObject(*hash)
	if err != nil {
		if errors.Is(err, plumbing.ErrObjectNotFound) {
			return nil, fmt.Errorf("revision %s: %w", revision, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to load commit %s: %w", hash, err)
	}

	file, err := commit.File(strings.TrimPrefix(path, "/"))
	if err != nil {
		if errors.Is(err, object.ErrFileNotFound) || errors.Is(err, object.ErrDirectoryNotFound) {
			return nil, fmt.Errorf("file %s at %s: %w", path, revision, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to find file %s: %w", path, err)
	}

	rd, err := file.Reader()
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", path, err)
	}
	return rd, nil
}

// open opens a standard (with .git directory) or bare repository.
func (g *GitReader) open(repo *Repository) (*gogit.Repository, error) {
	var (
		root billy.Filesystem
		err  error
	)
	if g.FS == nil {
		root = osfs.New(repo.Path)
	} else {
		root, err = g.FS.Chroot(repo.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to scope filesystem to repository: %w", err)
		}
	}

	if fi, err := root.Stat(".git"); err == nil && fi.IsDir() {
		root, err = root.Chroot(".git")
		if err != nil {
			return nil, fmt.Errorf("failed to scope filesystem to .git: %w", err)
		}
	}

	r, err := gogit.Open(filesystem.NewStorage(root, cache.NewObjectLRUDefault()), nil)
	if err != nil {
		if errors.Is(err, gogit.ErrRepositoryNotExists) {
			return nil, fmt.Errorf("git repository %s: %w", repo.ID, ErrNotFound)
		}
		return nil, fmt.Errorf("failed to open repository: %w", err)
	}
	return r, nil
}
