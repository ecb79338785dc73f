package store

import (
	"context"
	"fmt"

	"cloud.google.com/go/storage"
)

// Mirror receives a copy of every document the store writes. Names are slash-separated paths
// relative to the store root.
type Mirror interface {
	Put(ctx context.Context, name string, content []byte) error
}

// GCSMirror uploads documents to a Cloud Storage bucket.
type GCSMirror struct {
	client *storage.Client
	bucket string
}

// NewGCSMirror creates a mirror for bucket using application default credentials.
func NewGCSMirror(ctx context.Context, bucket string) (*GCSMirror, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage client: %w", err)
	}
	return &GCSMirror{client: client, bucket: bucket}, nil
}

// Put writes content to gs://<bucket>/<name>.
func (m *GCSMirror) Put(ctx context.Context, name string, content []byte) error {
	w := m.client.Bucket(m.bucket).Object(name).NewWriter(ctx)
	w.ContentType = "text/markdown; charset=utf-8"
	if _, err := w.Write(content); err != nil {
		w.Close()
		return fmt.Errorf("writing gs://%s/%s: %w", m.bucket, name, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("finalizing gs://%s/%s: %w", m.bucket, name, err)
	}
	return nil
}

// Close releases the storage client.
func (m *GCSMirror) Close() error {
	return m.client.Close()
}
