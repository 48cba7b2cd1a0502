//go:build gcp

package policyloader

import (
	"context"
	"fmt"
	"io"

	"cloud.google.com/go/storage"
)

// GCSSource reads a policy object from Google Cloud Storage.
type GCSSource struct {
	client *storage.Client
	bucket string
	object string
}

// NewGCSSource creates a client from application default credentials.
func NewGCSSource(ctx context.Context, bucket, object string) (*GCSSource, error) {
	client, err := storage.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("policyloader: create GCS client: %w", err)
	}
	return &GCSSource{client: client, bucket: bucket, object: object}, nil
}

func (s *GCSSource) Fetch(ctx context.Context) ([]byte, error) {
	r, err := s.client.Bucket(s.bucket).Object(s.object).NewReader(ctx)
	if err != nil {
		return nil, fmt.Errorf("policyloader: gcs get %s: %w", s, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("policyloader: gcs read %s: %w", s, err)
	}
	return data, nil
}

func (s *GCSSource) String() string { return "gs://" + s.bucket + "/" + s.object }

// Close releases the GCS client.
func (s *GCSSource) Close() error {
	return s.client.Close()
}

func newGCSSource(ctx context.Context, bucket, object string) (Source, error) {
	return NewGCSSource(ctx, bucket, object)
}
