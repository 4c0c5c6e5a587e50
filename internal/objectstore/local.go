package objectstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Local writes objects below a base directory and serves them under a public URL prefix.
type Local struct {
	dir     string
	baseURL string
}

func NewLocal(dir, publicBaseURL string) (*Local, error) {
	if dir == "" {
		return nil, errors.New("local storage dir must be provided")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create storage dir: %w", err)
	}
	return &Local{dir: dir, baseURL: strings.TrimRight(publicBaseURL, "/")}, nil
}

// Dir is the directory objects are written to.
func (l *Local) Dir() string {
	return l.dir
}

func (l *Local) Put(ctx context.Context, key, contentType string, data []byte) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	dest := filepath.Join(l.dir, filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("close %s: %w", key, err)
	}
	if err := os.Rename(tmp.Name(), dest); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("move %s into place: %w", key, err)
	}
	return &Object{Key: key, URL: l.baseURL + "/" + key, Size: int64(len(data))}, nil
}

// Delete removes the object. A missing object is not an error.
func (l *Local) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	if err := os.Remove(filepath.Join(l.dir, filepath.FromSlash(key))); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete %s: %w", key, err)
	}
	return nil
}
