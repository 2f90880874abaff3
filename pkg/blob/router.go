package blob

import (
	"context"
	"fmt"
	"strings"
)

const (
	inlinePrefix = "inline:"
	storePrefix  = "store:"
)

// SizeRouter routes payloads to the backing store once they cross a size
// threshold, and keeps smaller payloads in an inline store. Handles are
// prefixed with the backend that owns them, so Get and Delete dispatch
// without extra bookkeeping. Handles stay opaque to callers.
type SizeRouter struct {
	inline   Store
	backing  Store
	minBytes int64
	enabled  bool
}

// NewSizeRouter returns a router over the two stores. When enabled is false
// or backing is nil, everything stays inline.
func NewSizeRouter(inline, backing Store, minBytes int64, enabled bool) *SizeRouter {
	return &SizeRouter{inline: inline, backing: backing, minBytes: minBytes, enabled: enabled}
}

func (r *SizeRouter) Put(ctx context.Context, data []byte) (Handle, error) {
	if r.enabled && r.backing != nil && int64(len(data)) >= r.minBytes {
		h, err := r.backing.Put(ctx, data)
		if err != nil {
			return "", err
		}
		return Handle(storePrefix + string(h)), nil
	}
	h, err := r.inline.Put(ctx, data)
	if err != nil {
		return "", err
	}
	return Handle(inlinePrefix + string(h)), nil
}

func (r *SizeRouter) Get(ctx context.Context, handle Handle) ([]byte, error) {
	store, rest, err := r.resolve(handle)
	if err != nil {
		return nil, err
	}
	return store.Get(ctx, rest)
}

func (r *SizeRouter) Delete(ctx context.Context, handle Handle) error {
	store, rest, err := r.resolve(handle)
	if err != nil {
		return err
	}
	return store.Delete(ctx, rest)
}

func (r *SizeRouter) resolve(handle Handle) (Store, Handle, error) {
	s := string(handle)
	switch {
	case strings.HasPrefix(s, inlinePrefix):
		return r.inline, Handle(strings.TrimPrefix(s, inlinePrefix)), nil
	case strings.HasPrefix(s, storePrefix):
		if r.backing == nil {
			return nil, "", fmt.Errorf("%w: no backing store configured", ErrStorageUnavailable)
		}
		return r.backing, Handle(strings.TrimPrefix(s, storePrefix)), nil
	default:
		return nil, "", fmt.Errorf("unrecognized blob handle %q", handle)
	}
}
