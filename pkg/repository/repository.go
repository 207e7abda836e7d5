// Package repository finds repositories by namespace and name and reads file
// contents at a revision.
package repository

import (
	"context"
	"errors"
	"io"
	"regexp"
)

// ErrNotFound is returned when a repository, revision or file does not exist.
var ErrNotFound = errors.New("not found")

// Repository is a resolved repository.
type Repository struct {
	// ID identifies the repository's cache; it is stable for the repository's
	// lifetime.
	ID        string
	Namespace string
	Name      string
	// Path is the location of the git repository on disk.
	Path string
}

// Resolver looks up repositories.
type Resolver interface {
	// Resolve returns the repository namespace/name or an error wrapping
	// ErrNotFound.
	Resolve(ctx context.Context, namespace, name string) (*Repository, error)
}

// FileReader reads file contents from a repository.
type FileReader interface {
	// ReadFile opens the file at path as of revision. A missing revision or
	// file yields an error wrapping ErrNotFound.
	ReadFile(ctx context.Context, repo *Repository, revision, path string) (io.ReadCloser, error)
}

var validName = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName reports whether s can be used as a namespace or repository name.
func ValidName(s string) bool {
	return validName.MatchString(s)
}
