// Package storage implements a uniform read/write/list/delete contract
// over either a local filesystem tree or an S3-compatible object store,
// plus a separate CDN invalidation capability bound only when configured.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned by Read when path does not exist.
var ErrNotFound = errors.New("storage: not found")

// Backend is the uniform contract every destination kind implements.
// WriteAtomic must guarantee that a concurrent reader observes either the
// prior contents (if any) or the new contents, never a partial write.
type Backend interface {
	Read(ctx context.Context, path string) ([]byte, error)
	WriteAtomic(ctx context.Context, path string, data []byte, contentType string) error
	Delete(ctx context.Context, path string) error
	List(ctx context.Context, prefix string) ([]string, error)
	// Name identifies the backend for logging.
	Name() string
}

// Invalidator is the CDN invalidation capability, bound only when a
// distribution is configured for the repository's destination.
type Invalidator interface {
	Invalidate(ctx context.Context, paths []string) error
}
