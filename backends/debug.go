package backends

import (
	"context"
	"io"
	"log/slog"
)

// Debug wraps any Backend and logs every call at debug level.
type Debug struct {
	backend Backend
	logger  *slog.Logger
}

// make sure that Debug implements Backend
var _ Backend = &Debug{}

// NewDebug creates a new debug wrapper around an existing backend.
func NewDebug(backend Backend, logger *slog.Logger) *Debug {
	if logger == nil {
		logger = slog.Default()
	}
	return &Debug{
		backend: backend,
		logger:  logger,
	}
}

// DebugFactory wraps every store opened by Factory in a Debug.
type DebugFactory struct {
	Factory Factory
	Logger  *slog.Logger
}

// Open opens the underlying store and wraps it.
func (f *DebugFactory) Open(ctx context.Context, repositoryID string) (Backend, error) {
	be, err := f.Factory.Open(ctx, repositoryID)
	if err != nil {
		return nil, err
	}
	logger := f.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return NewDebug(be, logger.With("repository", repositoryID)), nil
}

func (d *Debug) List(ctx context.Context) ([]string, error) {
	ids, err := d.backend.List(ctx)
	if err != nil {
		d.logger.DebugContext(ctx, "List failed", "error", err)
		return ids, err
	}
	d.logger.DebugContext(ctx, "List", "count", len(ids))
	return ids, nil
}

func (d *Debug) Get(ctx context.Context, id string) (io.ReadCloser, error) {
	rd, err := d.backend.Get(ctx, id)
	switch {
	case IsNotExist(err):
		d.logger.DebugContext(ctx, "Get: MISS", "id", id)
	case err != nil:
		d.logger.DebugContext(ctx, "Get failed", "id", id, "error", err)
	default:
		d.logger.DebugContext(ctx, "Get: HIT", "id", id)
	}
	return rd, err
}

func (d *Debug) Create(ctx context.Context, id string) (Writer, error) {
	w, err := d.backend.Create(ctx, id)
	if err != nil {
		d.logger.DebugContext(ctx, "Create failed", "id", id, "error", err)
		return nil, err
	}
	d.logger.DebugContext(ctx, "Create", "id", id)
	return &debugWriter{Writer: w, id: id, logger: d.logger}, nil
}

func (d *Debug) Remove(ctx context.Context, id string) error {
	err := d.backend.Remove(ctx, id)
	if err != nil {
		d.logger.DebugContext(ctx, "Remove failed", "id", id, "error", err)
		return err
	}
	d.logger.DebugContext(ctx, "Remove", "id", id)
	return nil
}

func (d *Debug) Close() error {
	d.logger.Debug("Close: closing backend")
	err := d.backend.Close()
	if err != nil {
		d.logger.Debug("Close failed", "error", err)
	}
	return err
}

type debugWriter struct {
	Writer
	id     string
	size   int64
	logger *slog.Logger
}

func (w *debugWriter) Write(p []byte) (int, error) {
	n, err := w.Writer.Write(p)
	w.size += int64(n)
	return n, err
}

func (w *debugWriter) Commit() error {
	err := w.Writer.Commit()
	if err != nil {
		w.logger.Debug("Commit failed", "id", w.id, "error", err)
		return err
	}
	w.logger.Debug("Commit", "id", w.id, "size", w.size)
	return nil
}

func (w *debugWriter) Abort() error {
	w.logger.Debug("Abort", "id", w.id, "size", w.size)
	return w.Writer.Abort()
}
