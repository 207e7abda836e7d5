package backends

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// make sure that Disk implements Backend
var _ Backend = &Disk{}

// Disk stores blobs as files below a directory. Blobs are spread over 256
// subdirectories (00-ff), similar to Go's build cache structure. Writes go to
// a temp file that is renamed into place on commit, so a partial blob is never
// visible under its final name.
//
// A store directory is owned by one process at a time; Open fails if another
// process holds it.
type Disk struct {
	dir    string // absolute path of the store directory
	tmpDir string
	lock   *flock.Flock
	logger *slog.Logger
}

// DiskFactory opens disk stores below Root, one directory per repository.
type DiskFactory struct {
	Root   string
	Logger *slog.Logger
}

// Open opens (and creates if needed) the store of repositoryID.
func (f *DiskFactory) Open(_ context.Context, repositoryID string) (Backend, error) {
	name := url.PathEscape(repositoryID)
	if name == "" || name == "." || name == ".." {
		return nil, fmt.Errorf("invalid repository id %q", repositoryID)
	}
	return OpenDisk(filepath.Join(f.Root, name, StoreName), f.Logger)
}

// OpenDisk opens the store in dir.
func OpenDisk(dir string, logger *slog.Logger) (*Disk, error) {
	if logger == nil {
		logger = slog.Default()
	}

	absDir, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to get absolute path: %w", err)
	}

	if err := os.MkdirAll(absDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create store directory: %w", err)
	}

	lock := flock.New(filepath.Join(absDir, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to lock store directory: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("store directory %s is in use by another process", absDir)
	}

	be := &Disk{
		dir:    absDir,
		tmpDir: filepath.Join(absDir, "tmp"),
		lock:   lock,
		logger: logger,
	}

	if err := be.prepare(); err != nil {
		_ = lock.Unlock()
		return nil, err
	}

	logger.Debug("opened disk store", "dir", absDir)
	return be, nil
}

// prepare creates the shard directories and drops temp files left behind by
// a crashed process.
func (be *Disk) prepare() error {
	for i := 0; i < 256; i++ {
		subdir := fmt.Sprintf("%02x", i)
		if err := os.MkdirAll(filepath.Join(be.dir, subdir), 0755); err != nil {
			return fmt.Errorf("failed to create subdirectory %s: %w", subdir, err)
		}
	}

	if err := os.RemoveAll(be.tmpDir); err != nil {
		return fmt.Errorf("failed to clean temp directory: %w", err)
	}
	if err := os.MkdirAll(be.tmpDir, 0755); err != nil {
		return fmt.Errorf("failed to create temp directory: %w", err)
	}
	return nil
}

// blobPath returns the file the blob with the given id is stored in.
// The subdirectory is the first byte of the SHA-256 of the id, so arbitrary
// ids spread evenly.
func (be *Disk) blobPath(id string) (string, error) {
	if id == "" || id == "." || id == ".." || strings.ContainsAny(id, `/\`) || strings.HasPrefix(id, ".") {
		return "", fmt.Errorf("invalid blob id %q", id)
	}
	sum := sha256.Sum256([]byte(id))
	return filepath.Join(be.dir, hex.EncodeToString(sum[:1]), id), nil
}

// List returns the ids of all committed blobs, sorted. Files that do not
// sit in the shard of their name are skipped.
func (be *Disk) List(ctx context.Context) ([]string, error) {
	var ids []string
	for i := 0; i < 256; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		shard := fmt.Sprintf("%02x", i)
		entries, err := os.ReadDir(filepath.Join(be.dir, shard))
		if err != nil {
			return nil, errors.Wrap(err, "ReadDir")
		}
		for _, entry := range entries {
			if !entry.Type().IsRegular() {
				continue
			}
			id := entry.Name()
			// Get and Remove would look elsewhere
			if path, err := be.blobPath(id); err != nil || filepath.Base(filepath.Dir(path)) != shard {
				be.logger.Warn("ignoring file outside its shard", "shard", shard, "name", id)
				continue
			}
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Get opens the blob stored under id.
func (be *Disk) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := be.blobPath(id)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, errors.Wrapf(ErrNotExist, "Get(%v)", id)
		}
		return nil, errors.Wrap(err, "Open")
	}
	return f, nil
}

// Create starts a new blob in a temp file.
func (be *Disk) Create(ctx context.Context, id string) (Writer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	path, err := be.blobPath(id)
	if err != nil {
		return nil, err
	}

	tmpPath := filepath.Join(be.tmpDir, uuid.NewString())
	f, err := os.OpenFile(tmpPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return nil, errors.Wrap(err, "OpenFile")
	}

	return &diskWriter{f: f, tmpPath: tmpPath, path: path}, nil
}

// Remove deletes the blob stored under id.
func (be *Disk) Remove(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	path, err := be.blobPath(id)
	if err != nil {
		return err
	}

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "Remove")
	}
	return nil
}

// Close releases the ownership lock of the store directory.
func (be *Disk) Close() error {
	if err := be.lock.Unlock(); err != nil {
		return fmt.Errorf("failed to unlock store directory: %w", err)
	}
	return nil
}

type diskWriter struct {
	f       *os.File
	tmpPath string
	path    string
	done    bool
}

func (w *diskWriter) Write(p []byte) (int, error) {
	return w.f.Write(p)
}

// Commit flushes the temp file and atomically renames it to the final
// destination.
func (w *diskWriter) Commit() error {
	if w.done {
		return errors.New("blob already finished")
	}
	w.done = true

	syncErr := w.f.Sync()
	closeErr := w.f.Close()
	if syncErr != nil || closeErr != nil {
		_ = os.Remove(w.tmpPath)
		if syncErr != nil {
			return errors.Wrap(syncErr, "Sync")
		}
		return errors.Wrap(closeErr, "Close")
	}

	if err := os.Rename(w.tmpPath, w.path); err != nil {
		_ = os.Remove(w.tmpPath)
		return errors.Wrap(err, "Rename")
	}
	return nil
}

func (w *diskWriter) Abort() error {
	if w.done {
		return nil
	}
	w.done = true

	_ = w.f.Close()
	if err := os.Remove(w.tmpPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrap(err, "Remove")
	}
	return nil
}
