// Package gcs archives finished run artifacts to Google Cloud Storage.
package gcs

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"
)

// Config captures the parameters required to connect to GCS.
type Config struct {
	Bucket string
	// Prefix is prepended to every object name.
	Prefix string
}

// Archiver uploads artifacts to a configured GCS bucket.
type Archiver struct {
	client *storage.Client
	bucket string
	prefix string
}

// New creates a GCS-backed archiver from an existing client.
func New(client *storage.Client, cfg Config) (*Archiver, error) {
	if client == nil {
		return nil, fmt.Errorf("storage client is required")
	}
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("bucket name is required")
	}
	return &Archiver{
		client: client,
		bucket: cfg.Bucket,
		prefix: strings.Trim(cfg.Prefix, "/"),
	}, nil
}

// Dial creates a client using Application Default Credentials and checks that
// the bucket is reachable before any upload is attempted.
func Dial(ctx context.Context, cfg Config, logger *zap.Logger) (*Archiver, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	if _, err := client.Bucket(cfg.Bucket).Attrs(ctx); err != nil {
		if cerr := client.Close(); cerr != nil && logger != nil {
			logger.Warn("Failed to close GCS client after bucket check failure", zap.Error(cerr))
		}
		return nil, fmt.Errorf("gcs bucket %q attributes: %w", cfg.Bucket, err)
	}
	return New(client, cfg)
}

// Upload copies r into object and returns its gs:// URI.
func (a *Archiver) Upload(ctx context.Context, object string, contentType string, r io.Reader) (string, error) {
	if strings.TrimSpace(object) == "" {
		return "", fmt.Errorf("object name is required")
	}
	name := a.objectName(object)
	writer := a.client.Bucket(a.bucket).Object(name).NewWriter(ctx)
	if contentType != "" {
		writer.ContentType = contentType
	}
	if _, err := io.Copy(writer, r); err != nil {
		if closeErr := writer.Close(); closeErr != nil {
			return "", fmt.Errorf("copy object: %w (close writer: %v)", err, closeErr)
		}
		return "", fmt.Errorf("copy object: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close writer: %w", err)
	}
	return fmt.Sprintf("gs://%s/%s", a.bucket, name), nil
}

// Close releases the underlying client.
func (a *Archiver) Close() error {
	if err := a.client.Close(); err != nil {
		return fmt.Errorf("close gcs client: %w", err)
	}
	return nil
}

func (a *Archiver) objectName(object string) string {
	object = strings.TrimLeft(object, "/")
	if a.prefix == "" {
		return object
	}
	return path.Join(a.prefix, object)
}
