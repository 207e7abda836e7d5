// Package document identifies an exact version of a file inside a repository
// and derives the storage key its PDF rendition is cached under.
package document

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Ref identifies one immutable file version: the file at Path in repository
// Namespace/Name as of Revision.
//
// Refs should be built with NewRef so the cache key is derived once. Compare
// refs with Equal; a literal and a NewRef value of the same file differ
// under ==.
type Ref struct {
	Namespace string
	Name      string
	Revision  string
	Path      string

	key string
}

// NewRef returns the reference for the given file version.
func NewRef(namespace, name, revision, path string) Ref {
	return Ref{
		Namespace: namespace,
		Name:      name,
		Revision:  revision,
		Path:      path,
		key:       DeriveKey(revision, path),
	}
}

// CacheKey returns the key the rendition of r is stored under.
// The key is scoped to a repository, so namespace and name do not take part.
func (r Ref) CacheKey() string {
	if r.key == "" {
		return DeriveKey(r.Revision, r.Path)
	}
	return r.key
}

// Equal reports whether r and o identify the same file version.
func (r Ref) Equal(o Ref) bool {
	return r.Namespace == o.Namespace &&
		r.Name == o.Name &&
		r.Revision == o.Revision &&
		r.Path == o.Path
}

// Extension returns the lower-cased extension of r.Path.
func (r Ref) Extension() (string, bool) {
	return Extension(r.Path)
}

// Filename returns the last segment of r.Path.
func (r Ref) Filename() string {
	return Filename(r.Path)
}

// String returns namespace/name@revision:path.
func (r Ref) String() string {
	return r.Namespace + "/" + r.Name + "@" + r.Revision + ":" + r.Path
}

// DeriveKey returns the hex encoded SHA-256 of revision + "/" + path.
//
// The result is used as a durable storage id: it must never change for the
// same input.
func DeriveKey(revision, path string) string {
	sum := sha256.Sum256([]byte(revision + "/" + path))
	return hex.EncodeToString(sum[:])
}

// Filename returns the last path segment of path, ignoring one trailing slash.
func Filename(path string) string {
	path = strings.TrimSuffix(path, "/")
	if i := strings.LastIndexByte(path, '/'); i >= 0 {
		return path[i+1:]
	}
	return path
}

// Extension returns the lower-cased substring after the last dot of the file
// name of path. Names without a dot, dotfiles like ".profile" and names ending
// in a dot have no extension.
func Extension(path string) (string, bool) {
	name := Filename(path)
	i := strings.LastIndexByte(name, '.')
	if i > 0 && i+1 < len(name) {
		return strings.ToLower(name[i+1:]), true
	}
	return "", false
}
