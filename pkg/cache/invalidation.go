package cache

import (
	"fmt"
	"net/http"
)

// Manager holds separate cache instances for mock asset payloads and the
// dispatcher's method listing, each with its own TTL. Mock payloads are
// immutable once published, so the mock cache relies on TTL expiry;
// targeted invalidation exists for the day an asset is ever re-published.
type Manager struct {
	mocks   *LRUCache
	methods *LRUCache
}

// NewManager creates a Manager from the given configuration. Returns nil
// when caching is disabled; all Manager methods tolerate a nil receiver.
func NewManager(cfg *Config) *Manager {
	if cfg == nil || !cfg.Enabled {
		return nil
	}
	return &Manager{
		mocks:   NewLRUCache(cfg.MaxSize, cfg.MockTTL),
		methods: NewLRUCache(cfg.MaxSize, cfg.MethodsTTL),
	}
}

// InvalidateAsset removes the cached mock payload for one asset.
func (m *Manager) InvalidateAsset(assetID string) {
	if m == nil {
		return
	}
	m.mocks.Invalidate(fmt.Sprintf("/api/datasets/v1/assets/%s/mock", assetID))
}

// InvalidateAll clears every cache.
func (m *Manager) InvalidateAll() {
	if m == nil {
		return
	}
	m.mocks.InvalidateAll()
	m.methods.InvalidateAll()
}

// passthrough is used when the manager is disabled.
func passthrough(next http.Handler) http.Handler { return next }

// MockMiddleware caches mock asset payload responses.
func (m *Manager) MockMiddleware() func(http.Handler) http.Handler {
	if m == nil {
		return passthrough
	}
	return Middleware(m.mocks)
}

// MethodsMiddleware caches the service method listing.
func (m *Manager) MethodsMiddleware() func(http.Handler) http.Handler {
	if m == nil {
		return passthrough
	}
	return Middleware(m.methods)
}
