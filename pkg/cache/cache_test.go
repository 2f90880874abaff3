package cache

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLRUGetSetAndExpiry(t *testing.T) {
	c := NewLRUCache(10, 20*time.Millisecond)

	_, _, ok := c.Get("missing")
	assert.False(t, ok)

	c.Set("k", []byte("v"), "application/octet-stream")
	value, contentType, ok := c.Get("k")
	require.True(t, ok)
	assert.Equal(t, []byte("v"), value)
	assert.Equal(t, "application/octet-stream", contentType)

	time.Sleep(30 * time.Millisecond)
	_, _, ok = c.Get("k")
	assert.False(t, ok)
}

func TestLRUEvictsOldestAtCapacity(t *testing.T) {
	c := NewLRUCache(2, time.Minute)
	c.Set("a", []byte("1"), "")
	time.Sleep(time.Millisecond)
	c.Set("b", []byte("2"), "")
	time.Sleep(time.Millisecond)
	c.Set("c", []byte("3"), "")

	_, _, ok := c.Get("a")
	assert.False(t, ok, "oldest entry should be evicted")
	_, _, ok = c.Get("b")
	assert.True(t, ok)
	_, _, ok = c.Get("c")
	assert.True(t, ok)
	assert.Equal(t, 2, c.Size())
}

func TestLRUInvalidate(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	c.Set("a", []byte("1"), "")
	c.Set("b", []byte("2"), "")

	c.Invalidate("a")
	_, _, ok := c.Get("a")
	assert.False(t, ok)
	_, _, ok = c.Get("b")
	assert.True(t, ok)

	c.InvalidateAll()
	assert.Zero(t, c.Size())
}

func TestMiddlewareCachesOnlySuccessfulGets(t *testing.T) {
	c := NewLRUCache(10, time.Minute)
	var handlerCalls int
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handlerCalls++
		if r.URL.Path == "/boom" {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write([]byte("fake rows"))
	})
	wrapped := Middleware(c)(handler)

	// First GET misses, second hits.
	rec := httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/a1/mock", nil))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/assets/a1/mock", nil))
	assert.Equal(t, "HIT", rec.Header().Get("X-Cache"))
	assert.Equal(t, "fake rows", rec.Body.String())
	assert.Equal(t, "application/octet-stream", rec.Header().Get("Content-Type"))
	assert.Equal(t, 1, handlerCalls)

	// Errors are never cached.
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/boom", nil))
	assert.Equal(t, "MISS", rec.Header().Get("X-Cache"))

	// Non-GET requests pass through.
	rec = httptest.NewRecorder()
	wrapped.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/assets/a1/mock", nil))
	assert.Empty(t, rec.Header().Get("X-Cache"))
}

func TestManagerDisabledIsNil(t *testing.T) {
	var m *Manager
	assert.Nil(t, NewManager(&Config{Enabled: false}))

	// A nil manager is inert, not a panic.
	m.InvalidateAsset("a1")
	m.InvalidateAll()
	mw := m.MockMiddleware()
	handler := mw(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/x", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestManagerInvalidateAsset(t *testing.T) {
	m := NewManager(DefaultConfig())
	m.mocks.Set("/api/datasets/v1/assets/a1/mock", []byte("x"), "")
	m.mocks.Set("/api/datasets/v1/assets/a2/mock", []byte("y"), "")

	m.InvalidateAsset("a1")
	_, _, ok := m.mocks.Get("/api/datasets/v1/assets/a1/mock")
	assert.False(t, ok)
	_, _, ok = m.mocks.Get("/api/datasets/v1/assets/a2/mock")
	assert.True(t, ok)
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("DATASITE_CACHE_ENABLED", "false")
	t.Setenv("DATASITE_CACHE_MOCK_TTL", "120")
	cfg := ConfigFromEnv()
	assert.False(t, cfg.Enabled)
	assert.Equal(t, 120*time.Second, cfg.MockTTL)
}
