package core

import (
	"context"
	"io"
)

// FileStorage stores raw uploads and hands back an opaque reference.
// The reference is persisted as-is; file contents are never inspected.
type FileStorage interface {
	Save(ctx context.Context, dir, filename string, src io.Reader) (ref string, err error)
	Open(ctx context.Context, ref string) (io.ReadCloser, error)
}
