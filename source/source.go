package source

import (
	"context"
	"io"
	"os"
	"path"
	"path/filepath"

	"github.com/wippyai/asset-runtime/errors"
)

// Source opens asset bytes by slash-separated name.
type Source interface {
	Open(ctx context.Context, name string) (io.ReadCloser, error)
}

// Dir serves files below a root directory.
type Dir struct {
	root string
}

// NewDir returns a Source rooted at root.
func NewDir(root string) *Dir {
	return &Dir{root: root}
}

// Root returns the directory the source serves from.
func (d *Dir) Root() string {
	return d.root
}

// Open opens name relative to the root. Names that escape the root are
// rejected.
func (d *Dir) Open(ctx context.Context, name string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(errors.PhaseSource, errors.KindTimeout, err, name)
	}
	rel := filepath.FromSlash(path.Clean(name))
	if name == "" || !filepath.IsLocal(rel) {
		return nil, errors.InvalidInput(errors.PhaseSource, "path escapes source root: "+name)
	}

	f, err := os.Open(filepath.Join(d.root, rel))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.NotFound(errors.PhaseSource, "file", name)
		}
		return nil, errors.IO(errors.PhaseSource, "open "+name, err)
	}
	return f, nil
}

// ReadAll opens name from src, decompresses it by extension and reads it
// whole. A positive limit caps the decompressed size; exceeding it is an
// out-of-memory failure.
func ReadAll(ctx context.Context, src Source, name string, limit int64) ([]byte, error) {
	if src == nil {
		return nil, errors.NotInitialized(errors.PhaseSource, "source")
	}
	rc, err := src.Open(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	dr, err := Decompress(name, rc)
	if err != nil {
		return nil, err
	}
	defer dr.Close()

	var r io.Reader = dr
	if limit > 0 {
		r = io.LimitReader(dr, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		if _, ok := errors.AsFailure(err); ok {
			return nil, err
		}
		return nil, errors.Corrupted(errors.PhaseSource, "read "+name, err, false)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errors.OutOfMemory(errors.PhaseSource, int64(len(data)), limit, false)
	}
	return data, nil
}
