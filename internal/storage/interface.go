package storage

import (
	"context"
)

// Backend stores prepared snapshot blobs. Objects are written once under a
// content-derived key and never modified.
type Backend interface {
	// PutObject stores a gzip blob whose SHA-256 is sha256hex.
	PutObject(ctx context.Context, key string, blob []byte, sha256hex string) error

	// GetObject returns the stored (still compressed) bytes.
	GetObject(ctx context.Context, key string) ([]byte, error)

	// DeleteObject removes a blob whose snapshot was never recorded.
	DeleteObject(ctx context.Context, key string) error

	// Provider returns the name of the storage provider (e.g., "s3", "filesystem").
	Provider() string
}
