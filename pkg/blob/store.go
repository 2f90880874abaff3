// Package blob provides the storage capability used for large payloads:
// private and mock asset data and job results. The rest of the server only
// ever sees opaque handles, never storage paths or wire details.
package blob

import (
	"context"
	"errors"
)

// Handle is an opaque reference to a stored payload.
type Handle string

// ErrStorageUnavailable indicates the backing store could not be reached.
// Callers retry; the owning record stays pending and is never corrupted.
var ErrStorageUnavailable = errors.New("blob storage unavailable")

// ErrNotFound indicates no payload exists for the given handle.
var ErrNotFound = errors.New("blob not found")

// Store is the capability interface for payload storage.
type Store interface {
	Put(ctx context.Context, data []byte) (Handle, error)
	Get(ctx context.Context, handle Handle) ([]byte, error)
	Delete(ctx context.Context, handle Handle) error
}
