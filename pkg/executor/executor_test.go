package executor

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kioku/aperture/pkg/requestbuilder"
	"github.com/kioku/aperture/pkg/responsecache"
	"github.com/kioku/aperture/pkg/retry"
)

func TestExecuteSendsAndReturnsBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	req := &requestbuilder.BuiltRequest{Method: http.MethodGet, URL: server.URL, Headers: map[string][]string{}}

	res, err := Execute(context.Background(), req, Options{Retry: retry.Policy{MaxAttempts: 1}})
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, res.Status)
	assert.False(t, res.FromCache)
	assert.Equal(t, `{"ok":true}`, string(res.Body))
}

func TestExecuteRetriesOn503ThenSucceeds(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}))
	defer server.Close()

	req := &requestbuilder.BuiltRequest{Method: http.MethodGet, URL: server.URL, Headers: map[string][]string{}}
	res, err := Execute(context.Background(), req, Options{Retry: retry.Policy{MaxAttempts: 3}})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)
	assert.Equal(t, http.StatusOK, res.Status)
}

func TestExecuteNonRetryable4xxReturnsError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		w.Write([]byte(`{"error":"missing"}`))
	}))
	defer server.Close()

	req := &requestbuilder.BuiltRequest{Method: http.MethodGet, URL: server.URL, Headers: map[string][]string{}}
	_, err := Execute(context.Background(), req, Options{Retry: retry.Policy{MaxAttempts: 3}})
	require.Error(t, err)
}

func TestExecuteUsesCacheOnSecondCall(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"n":1}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	store := responsecache.New(dir, filepath.Join(dir, ".aperture.lock"))
	req := &requestbuilder.BuiltRequest{Method: http.MethodGet, URL: server.URL, Headers: map[string][]string{}}

	opts := Options{
		Retry: retry.Policy{MaxAttempts: 1},
		Cache: CacheOptions{Enabled: true, Store: store, TTLSecs: 60, Context: "t"},
	}

	first, err := Execute(context.Background(), req, opts)
	require.NoError(t, err)
	assert.False(t, first.FromCache)

	second, err := Execute(context.Background(), req, opts)
	require.NoError(t, err)
	assert.True(t, second.FromCache)
	assert.Equal(t, 1, calls)
}

func TestExecuteDoesNotCacheAuthenticatedByDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"n":1}`))
	}))
	defer server.Close()

	dir := t.TempDir()
	store := responsecache.New(dir, filepath.Join(dir, ".aperture.lock"))
	req := &requestbuilder.BuiltRequest{
		Method: http.MethodGet, URL: server.URL,
		Headers: map[string][]string{"Authorization": {"Bearer x"}}, HasAuth: true,
	}

	opts := Options{
		Retry: retry.Policy{MaxAttempts: 1},
		Cache: CacheOptions{Enabled: true, Store: store, TTLSecs: 60, Context: "t"},
	}
	_, err := Execute(context.Background(), req, opts)
	require.NoError(t, err)

	entries, _ := os.ReadDir(dir)
	// No cache entry or temp file should exist: nothing is written for an
	// authenticated request under default (allow_authenticated=false) policy.
	for _, e := range entries {
		assert.NotContains(t, e.Name(), ".tmp")
	}
	key := cacheKey("t", req)
	_, ok := store.Get(key, 0)
	assert.False(t, ok)
}
