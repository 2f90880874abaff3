package blob

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps payloads in process memory. Used in tests and when
// blob storage is disabled and payloads stay inline.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[Handle][]byte
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[Handle][]byte)}
}

func (s *MemoryStore) Put(ctx context.Context, data []byte) (Handle, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h := Handle(uuid.New().String())
	cp := make([]byte, len(data))
	copy(cp, data)
	s.mu.Lock()
	s.blobs[h] = cp
	s.mu.Unlock()
	return h, nil
}

func (s *MemoryStore) Get(ctx context.Context, handle Handle) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	data, ok := s.blobs[handle]
	s.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

func (s *MemoryStore) Delete(ctx context.Context, handle Handle) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	delete(s.blobs, handle)
	s.mu.Unlock()
	return nil
}

// Len returns the number of stored payloads.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
