// Package objectstore keeps artifact blobs in S3-compatible storage. Keys are
// content addresses, so a stored blob is never rewritten.
package objectstore

import (
	"context"
	"errors"
	"io"
)

// ErrNotFound is returned when a blob key does not exist.
var ErrNotFound = errors.New("blob not found")

// Store holds immutable blobs in a single bucket.
type Store interface {
	Put(ctx context.Context, key string, body io.Reader, size int64) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Exists(ctx context.Context, key string) (bool, error)
}
