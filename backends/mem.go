package backends

import (
	"bytes"
	"context"
	"io"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// make sure that Mem implements Backend
var _ Backend = &Mem{}

// Mem is a Backend that keeps all blobs in a map. It is used by tests and for
// deployments that do not need renditions to survive a restart.
type Mem struct {
	m     sync.Mutex
	blobs map[string][]byte
}

// NewMem returns an empty in-memory store.
func NewMem() *Mem {
	return &Mem{blobs: make(map[string][]byte)}
}

// MemFactory hands out one in-memory store per repository and returns the
// same store when a repository is opened again.
type MemFactory struct {
	m      sync.Mutex
	stores map[string]*Mem
}

// NewMemFactory returns a factory of in-memory stores.
func NewMemFactory() *MemFactory {
	return &MemFactory{stores: make(map[string]*Mem)}
}

// Open returns the store for repositoryID.
func (f *MemFactory) Open(_ context.Context, repositoryID string) (Backend, error) {
	f.m.Lock()
	defer f.m.Unlock()

	store, ok := f.stores[repositoryID]
	if !ok {
		store = NewMem()
		f.stores[repositoryID] = store
	}
	return store, nil
}

// List returns the ids of all blobs, sorted.
func (be *Mem) List(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	be.m.Lock()
	defer be.m.Unlock()

	ids := make([]string, 0, len(be.blobs))
	for id := range be.blobs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Get returns a reader over a copy of the blob stored under id.
func (be *Mem) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	be.m.Lock()
	defer be.m.Unlock()

	buf, ok := be.blobs[id]
	if !ok {
		return nil, errors.Wrapf(ErrNotExist, "Get(%v)", id)
	}
	return io.NopCloser(bytes.NewReader(buf)), nil
}

// Create returns a writer that buffers the blob until it is committed.
func (be *Mem) Create(ctx context.Context, id string) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &memWriter{be: be, id: id}, nil
}

// Remove deletes the blob stored under id.
func (be *Mem) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	be.m.Lock()
	defer be.m.Unlock()

	delete(be.blobs, id)
	return nil
}

// Close does nothing; the blobs stay available to later opens.
func (be *Mem) Close() error {
	return nil
}

type memWriter struct {
	be   *Mem
	id   string
	buf  bytes.Buffer
	done bool
}

func (w *memWriter) Write(p []byte) (int, error) {
	if w.done {
		return 0, errors.New("write to finished blob")
	}
	return w.buf.Write(p)
}

func (w *memWriter) Commit() error {
	if w.done {
		return errors.New("blob already finished")
	}
	w.done = true

	w.be.m.Lock()
	defer w.be.m.Unlock()

	w.be.blobs[w.id] = bytes.Clone(w.buf.Bytes())
	return nil
}

func (w *memWriter) Abort() error {
	w.done = true
	w.buf.Reset()
	return nil
}
