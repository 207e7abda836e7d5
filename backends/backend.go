package backends

import (
	"context"
	"io"

	"github.com/pkg/errors"
)

// StoreName is the name of the per-repository store rendered PDFs are kept in.
const StoreName = "gotenberg"

// ErrNotExist is returned by Get when no blob is stored under the id.
var ErrNotExist = errors.New("blob does not exist")

// IsNotExist reports whether err was caused by a missing blob.
func IsNotExist(err error) bool {
	return errors.Is(err, ErrNotExist)
}

// Backend is a blob store for a single repository. Blobs are keyed by opaque
// string ids.
type Backend interface {
	// List returns the ids of all blobs currently in the store, in a stable
	// order.
	List(ctx context.Context) ([]string, error)

	// Get opens the blob stored under id. It returns an error satisfying
	// IsNotExist if there is none.
	Get(ctx context.Context, id string) (io.ReadCloser, error)

	// Create starts writing a new blob under id. Nothing written becomes
	// visible to Get or List before Commit returns successfully; a committed
	// blob replaces any earlier blob with the same id.
	Create(ctx context.Context, id string) (Writer, error)

	// Remove deletes the blob stored under id. Removing a missing blob is not
	// an error.
	Remove(ctx context.Context, id string) error

	// Close releases the resources held by the store.
	Close() error
}

// Writer receives the content of a blob created by Backend.Create.
// Exactly one of Commit or Abort must be called.
type Writer interface {
	io.Writer

	// Commit makes the written content visible atomically.
	Commit() error

	// Abort discards everything written so far.
	Abort() error
}

// Factory opens the store of a repository.
type Factory interface {
	Open(ctx context.Context, repositoryID string) (Backend, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(ctx context.Context, repositoryID string) (Backend, error)

// Open calls f.
func (f FactoryFunc) Open(ctx context.Context, repositoryID string) (Backend, error) {
	return f(ctx, repositoryID)
}
