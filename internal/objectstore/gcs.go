package objectstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"cloud.google.com/go/storage"
	"google.golang.org/api/option"
)

const gcsPublicHost = "https://storage.googleapis.com"

// GCS stores objects in a Google Cloud Storage bucket.
type GCS struct {
	client *storage.Client
	bucket string
	logger *slog.Logger
}

// NewGCS connects with credentialsFile when given, else with application default credentials.
func NewGCS(ctx context.Context, bucket, credentialsFile string, logger *slog.Logger) (*GCS, error) {
	if bucket == "" {
		return nil, errors.New("gcs bucket must be provided")
	}
	var opts []option.ClientOption
	if credentialsFile != "" {
		if _, err := os.Stat(credentialsFile); err != nil {
			return nil, fmt.Errorf("gcs credentials file: %w", err)
		}
		opts = append(opts, option.WithCredentialsFile(credentialsFile))
	}
	client, err := storage.NewClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{client: client, bucket: bucket, logger: logger}, nil
}

func (g *GCS) Put(ctx context.Context, key, contentType string, data []byte) (*Object, error) {
	key, err := cleanKey(key)
	if err != nil {
		return nil, err
	}
	w := g.client.Bucket(g.bucket).Object(key).NewWriter(ctx)
	w.ContentType = contentType
	w.CacheControl = "private, max-age=0"
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("write gs://%s/%s: %w", g.bucket, key, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close gs://%s/%s: %w", g.bucket, key, err)
	}
	g.logger.Debug("object stored", "bucket", g.bucket, "key", key, "size", len(data))
	return &Object{
		Key:  key,
		URL:  fmt.Sprintf("%s/%s/%s", gcsPublicHost, g.bucket, key),
		Size: int64(len(data)),
	}, nil
}

// Delete removes the object. A missing object is not an error.
func (g *GCS) Delete(ctx context.Context, key string) error {
	key, err := cleanKey(key)
	if err != nil {
		return err
	}
	err = g.client.Bucket(g.bucket).Object(key).Delete(ctx)
	if err != nil && !errors.Is(err, storage.ErrObjectNotExist) {
		return fmt.Errorf("delete gs://%s/%s: %w", g.bucket, key, err)
	}
	return nil
}

func (g *GCS) Close() error {
	return g.client.Close()
}
