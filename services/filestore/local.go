package filestore

import (
	"context"
	"io"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/trezcool/studenthub/core"
)

// localStorage keeps uploaded files on disk under MediaRoot. The
// returned ref is relative to MediaRoot and safe to hand out as an
// opaque download handle.
type localStorage struct {
	root string
}

var _ core.FileStorage = (*localStorage)(nil)

func NewLocalStorage(conf *core.Config) core.FileStorage {
	return &localStorage{root: conf.MediaRoot}
}

func (st *localStorage) Save(ctx context.Context, dir, filename string, src io.Reader) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	// prefix with a random handle; user-supplied names collide
	name := uuid.New().String() + "_" + filepath.Base(filename)
	ref := filepath.Join(dir, name)

	absDir := filepath.Join(st.root, dir)
	if err := os.MkdirAll(absDir, 0o755); err != nil {
		return "", errors.Wrap(err, "creating media dir")
	}

	dst, err := os.Create(filepath.Join(absDir, name))
	if err != nil {
		return "", errors.Wrap(err, "creating media file")
	}
	defer func() { _ = dst.Close() }()

	if _, err = io.Copy(dst, src); err != nil {
		return "", errors.Wrap(err, "writing media file")
	}
	return ref, nil
}

// Open resolves a ref previously returned by Save. The ref is cleaned
// so it cannot escape MediaRoot.
func (st *localStorage) Open(ctx context.Context, ref string) (io.ReadCloser, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(st.root, filepath.Clean("/"+ref)))
	return f, errors.Wrap(err, "opening media file")
}
