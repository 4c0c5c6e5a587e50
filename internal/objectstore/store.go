// Package objectstore keeps uploaded file bytes outside the database.
package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"lexchat/internal/config"
)

// ErrInvalidKey is returned for keys that are empty or escape the store root.
var ErrInvalidKey = errors.New("invalid object key")

// Object describes a stored blob.
type Object struct {
	Key  string
	URL  string
	Size int64
}

// Store puts and removes objects by key.
type Store interface {
	Put(ctx context.Context, key, contentType string, data []byte) (*Object, error)
	Delete(ctx context.Context, key string) error
}

// New builds the store selected by cfg.Storage.Backend.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Storage.Backend {
	case "", "local":
		return NewLocal(cfg.Storage.LocalDir, cfg.Storage.PublicBaseURL)
	case "gcs":
		return NewGCS(ctx, cfg.Storage.Bucket, cfg.Storage.CredentialsFile, logger)
	default:
		return nil, fmt.Errorf("unsupported storage backend: %s", cfg.Storage.Backend)
	}
}

// cleanKey normalizes key to a relative slash path.
func cleanKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return "", ErrInvalidKey
	}
	cleaned := path.Clean("/" + key)[1:]
	if cleaned == "" || cleaned != strings.TrimPrefix(key, "/") {
		return "", fmt.Errorf("%w: %q", ErrInvalidKey, key)
	}
	return cleaned, nil
}
