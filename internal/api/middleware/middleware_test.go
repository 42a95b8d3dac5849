package middleware

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zatekoja/diagnosticpricesearch/internal/adapters/cache"
)

func TestCacheMiddleware_HitAndMiss(t *testing.T) {
	var calls int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"branches":[]}`))
	})
	handler := NewCacheMiddleware(cache.NewMemoryAdapter(), DefaultCacheRoutes(60), nil).Middleware(next)

	first := httptest.NewRecorder()
	handler.ServeHTTP(first, httptest.NewRequest(http.MethodGet, "/api/branches", nil))
	assert.Equal(t, "MISS", first.Header().Get("X-Cache"))

	second := httptest.NewRecorder()
	handler.ServeHTTP(second, httptest.NewRequest(http.MethodGet, "/api/branches", nil))
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))
	assert.Equal(t, `{"branches":[]}`, second.Body.String())
	assert.Equal(t, int32(1), calls)
}

func TestCacheMiddleware_SkipsUncachedAndPartial(t *testing.T) {
	var calls int32
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		if r.URL.Path == "/api/branches/1/services/all" {
			w.Header().Set("X-Partial-Content", "true")
		}
		w.Write([]byte(`{}`))
	})
	handler := NewCacheMiddleware(cache.NewMemoryAdapter(), DefaultCacheRoutes(60), nil).Middleware(next)

	for i := 0; i < 2; i++ {
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/branches/1/services/all", nil))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/api/sessions/abc", nil))
		handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/branches", nil))
	}
	assert.Equal(t, int32(6), calls)
}

func TestMatchRoute(t *testing.T) {
	assert.True(t, matchRoute("/api/branches/*/services/all", "/api/branches/12/services/all"))
	assert.False(t, matchRoute("/api/branches/*/services/all", "/api/branches/12/services"))
	assert.False(t, matchRoute("/api/branches", "/api/branches/1"))
}

func TestCORSMiddleware(t *testing.T) {
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusTeapot) })

	restricted := CORSMiddleware([]string{"https://lab.example"})(next)
	req := httptest.NewRequest(http.MethodGet, "/api/branches", nil)
	req.Header.Set("Origin", "https://lab.example")
	rec := httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)
	assert.Equal(t, "https://lab.example", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, http.StatusTeapot, rec.Code)

	req.Header.Set("Origin", "https://evil.example")
	rec = httptest.NewRecorder()
	restricted.ServeHTTP(rec, req)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))

	open := CORSMiddleware(nil)(next)
	preflight := httptest.NewRequest(http.MethodOptions, "/api/sessions", nil)
	preflight.Header.Set("Origin", "https://any.example")
	rec = httptest.NewRecorder()
	open.ServeHTTP(rec, preflight)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestETag_NotModified(t *testing.T) {
	handler := ETag(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"state":"ready"}`))
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/1", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	etag := rec.Header().Get("ETag")
	require.NotEmpty(t, etag)

	req := httptest.NewRequest(http.MethodGet, "/api/sessions/1", nil)
	req.Header.Set("If-None-Match", etag)
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotModified, rec.Code)
	assert.Empty(t, rec.Body.String())
}
