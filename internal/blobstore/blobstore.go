// Package blobstore implements C2: content-addressed storage for
// encrypted label images. Keys are opaque hex strings minted by the
// caller (internal/ingress generates random 128-bit keys); the store
// itself never interprets them.
package blobstore

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a key has no stored blob.
var ErrNotFound = errors.New("blobstore: not found")

// Store is the blob-store contract: put, get, delete, keyed by opaque
// hex string.
type Store interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
	Ping(ctx context.Context) error
}
