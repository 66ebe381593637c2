// Package snapshot stores serialized record-set snapshots in a pluggable
// archive backend. The store exports the identity map as one JSON document
// per snapshot key; the archive only sees opaque bytes.
package snapshot

import (
	"context"
	"errors"
)

// Driver identifies an archive backend.
type Driver string

// Supported archive drivers.
const (
	DriverMemory     Driver = "memory"
	DriverFilesystem Driver = "fs"
	DriverS3         Driver = "s3"
)

// ErrNotFound indicates no snapshot exists for a key.
var ErrNotFound = errors.New("snapshot not found")

// Archive is the backend interface. Keys are flat; a "/" in a key is only a
// naming convention, not a hierarchy the archive interprets.
type Archive interface {
	Driver() Driver
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
