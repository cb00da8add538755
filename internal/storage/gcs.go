package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	gcs "cloud.google.com/go/storage"
)

const uploadTimeout = 2 * time.Minute

// GCS stores files in one bucket. Paths may be bare object names or
// gs:// URIs; URIs naming another bucket are read from that bucket.
// It assumes Application Default Credentials are configured.
type GCS struct {
	client *gcs.Client
	bucket string
}

// NewGCS creates a store for bucket.
func NewGCS(ctx context.Context, bucket string) (*GCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("NewGCS: create storage client: %w", err)
	}
	return &GCS{client: client, bucket: bucket}, nil
}

// URI returns the gs:// URI of an object in the store's bucket.
func (s *GCS) URI(object string) string {
	return "gs://" + s.bucket + "/" + strings.TrimPrefix(object, "/")
}

func (s *GCS) resolve(p string) (bucket, object string, err error) {
	if strings.HasPrefix(p, "gs://") {
		return ParseGCSURI(p)
	}
	object = strings.TrimPrefix(p, "/")
	if object == "" {
		return "", "", fmt.Errorf("%w: empty object name", ErrInvalidPath)
	}
	return s.bucket, object, nil
}

// Get downloads an object.
func (s *GCS) Get(ctx context.Context, p string) ([]byte, error) {
	bucket, object, err := s.resolve(p)
	if err != nil {
		return nil, err
	}

	r, err := s.client.Bucket(bucket).Object(object).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, p)
		}
		return nil, fmt.Errorf("GCS.Get: open object reader: %w", err)
	}
	defer r.Close()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("GCS.Get: read object: %w", err)
	}
	return data, nil
}

// Put uploads data as an object.
func (s *GCS) Put(ctx context.Context, p string, data []byte) error {
	bucket, object, err := s.resolve(p)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, uploadTimeout)
	defer cancel()

	w := s.client.Bucket(bucket).Object(object).NewWriter(ctx)
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("GCS.Put: write object: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("GCS.Put: finalize upload: %w", err)
	}
	return nil
}

// Close releases the storage client.
func (s *GCS) Close() error {
	return s.client.Close()
}
