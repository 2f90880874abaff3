package blob

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// FSStore stores payloads as files under a root directory, one file per
// handle. Handles are UUIDs, so the directory layout is flat.
type FSStore struct {
	root string
}

// NewFSStore creates the root directory if needed and returns a store.
func NewFSStore(root string) (*FSStore, error) {
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create blob root: %w", err)
	}
	return &FSStore{root: root}, nil
}

func (s *FSStore) path(h Handle) string {
	return filepath.Join(s.root, string(h))
}

// Put writes the payload to a new file and returns its handle.
func (s *FSStore) Put(ctx context.Context, data []byte) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := Handle(uuid.New().String())
	tmp := s.path(h) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o640); err != nil {
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	if err := os.Rename(tmp, s.path(h)); err != nil {
		_ = os.Remove(tmp)
		return "", fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return h, nil
}

// Get reads the payload for the given handle.
func (s *FSStore) Get(ctx context.Context, handle Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(s.path(handle))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return data, nil
}

// Delete removes the payload. Deleting a missing handle is not an error.
func (s *FSStore) Delete(ctx context.Context, handle Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := os.Remove(s.path(handle)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: %v", ErrStorageUnavailable, err)
	}
	return nil
}
