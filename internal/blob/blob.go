// Package blob stores file content on local disk or in an S3 bucket.
package blob

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"nano_storage/internal/domain"
)

// Store holds file content keyed by file id.
type Store interface {
	Exists(ctx context.Context, fileID string) (bool, error)
	Open(ctx context.Context, fileID string) (io.ReadCloser, int64, error)
	Put(ctx context.Context, fileID string, r io.Reader, size int64) error
	Delete(ctx context.Context, fileID string) error
}

// Local keeps one file per id under a directory.
type Local struct {
	dir string
}

func NewLocal(dir string) (*Local, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create blob dir: %w", err)
	}
	return &Local{dir: dir}, nil
}

func (l *Local) path(fileID string) (string, error) {
	if fileID == "" || strings.ContainsAny(fileID, `/\`) || fileID == "." || fileID == ".." {
		return "", fmt.Errorf("file id %q: %w", fileID, domain.ErrNotFound)
	}
	return filepath.Join(l.dir, fileID), nil
}

func (l *Local) Exists(_ context.Context, fileID string) (bool, error) {
	p, err := l.path(fileID)
	if err != nil {
		return false, nil
	}
	_, err = os.Stat(p)
	if errors.Is(err, os.ErrNotExist) {
		return false, nil
	}
	return err == nil, err
}

func (l *Local) Open(_ context.Context, fileID string) (io.ReadCloser, int64, error) {
	p, err := l.path(fileID)
	if err != nil {
		return nil, 0, err
	}
	f, err := os.Open(p)
	if errors.Is(err, os.ErrNotExist) {
		return nil, 0, fmt.Errorf("blob %s: %w", fileID, domain.ErrNotFound)
	}
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	return f, info.Size(), nil
}

func (l *Local) Put(_ context.Context, fileID string, r io.Reader, _ int64) error {
	p, err := l.path(fileID)
	if err != nil {
		return err
	}
	tmp, err := os.CreateTemp(l.dir, ".upload-*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name()) // No-op after a successful rename
	if _, err := io.Copy(tmp, r); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), p)
}

// Delete removes the content of fileID. Missing content is not an error.
func (l *Local) Delete(_ context.Context, fileID string) error {
	p, err := l.path(fileID)
	if err != nil {
		return nil
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}
