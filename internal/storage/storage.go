// Package storage fetches and stores uploaded statement files, either in a
// Google Cloud Storage bucket or under a local directory.
package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

var (
	// ErrNotFound is returned when the object does not exist.
	ErrNotFound = errors.New("file not found")
	// ErrInvalidPath is returned for paths that escape the store root or
	// malformed URIs.
	ErrInvalidPath = errors.New("invalid storage path")
)

// FileStore gets and puts file bytes by storage path.
type FileStore interface {
	Get(ctx context.Context, path string) ([]byte, error)
	Put(ctx context.Context, path string, data []byte) error
}

// ParseGCSURI splits "gs://bucket/path/to/file.pdf" into bucket and object.
func ParseGCSURI(uri string) (bucket, object string, err error) {
	if !strings.HasPrefix(uri, "gs://") {
		return "", "", fmt.Errorf("%w: not a GCS URI: %s", ErrInvalidPath, uri)
	}
	parts := strings.SplitN(strings.TrimPrefix(uri, "gs://"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: GCS URI has no object path: %s", ErrInvalidPath, uri)
	}
	return parts[0], parts[1], nil
}

// Filename returns the last element of a storage path or URI.
// e.g. "gs://bucket/folder/file.pdf" -> "file.pdf"
func Filename(uri string) string {
	trimmed := strings.TrimPrefix(uri, "gs://")
	if strings.HasPrefix(uri, "gs://") {
		parts := strings.SplitN(trimmed, "/", 2)
		if len(parts) < 2 {
			return trimmed
		}
		trimmed = parts[1]
	}
	return path.Base(strings.ReplaceAll(trimmed, "\\", "/"))
}

// Open returns a GCS store when bucket is set, else a local store rooted at
// root.
func Open(ctx context.Context, bucket, root string) (FileStore, error) {
	if bucket != "" {
		return NewGCS(ctx, bucket)
	}
	return NewLocal(root)
}
