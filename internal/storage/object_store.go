package storage

import (
	"context"
	"errors"
	"io"
)

var (
	ErrObjectNotFound   = errors.New("object not found")
	ErrInvalidObjectKey = errors.New("invalid object key")
)

// FileURL is the path under which the API serves an object key back to
// callers (the /files/* route).
func FileURL(key string) string {
	return "/files/" + key
}

// ObjectStore is the blob storage used for uploaded tables, processed images,
// and export reports. Key uniqueness is the caller's responsibility.
type ObjectStore interface {
	EnsureBucket(ctx context.Context) error

	PutObject(ctx context.Context, key string, data io.Reader) error

	GetObject(ctx context.Context, key string) (io.ReadCloser, error)
}
