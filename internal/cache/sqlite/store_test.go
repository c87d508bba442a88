package sqlite

import (
	"context"
	"net/http"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"offlinegate/internal/cache"
)

func openTempStorage(t *testing.T) *Storage {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func htmlResponse(body string) *cache.Response {
	h := make(http.Header)
	h.Set("Content-Type", "text/html; charset=utf-8")
	return &cache.Response{
		StatusCode: http.StatusOK,
		Header:     h,
		Body:       []byte(body),
		StoredAt:   time.Date(2026, time.October, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestOpenRequiresPath(t *testing.T) {
	t.Parallel()

	_, err := Open("")
	assert.Error(t, err)
}

func TestPutMatchRoundTrip(t *testing.T) {
	t.Parallel()

	s := openTempStorage(t)
	ctx := context.Background()

	store, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	assert.Equal(t, "v1", store.Name())

	want := htmlResponse("<html>shell</html>")
	require.NoError(t, store.Put(ctx, "GET /index.html", want))

	got, ok, err := store.Match(ctx, "GET /index.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want.StatusCode, got.StatusCode)
	assert.Equal(t, want.Body, got.Body)
	assert.Equal(t, want.Header.Get("Content-Type"), got.Header.Get("Content-Type"))
	assert.True(t, want.StoredAt.Equal(got.StoredAt))

	_, ok, err = store.Match(ctx, "GET /missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPutOverwrites(t *testing.T) {
	t.Parallel()

	s := openTempStorage(t)
	ctx := context.Background()
	store, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "GET /index.html", htmlResponse("one")))
	require.NoError(t, store.Put(ctx, "GET /index.html", htmlResponse("two")))

	got, ok, err := store.Match(ctx, "GET /index.html")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "two", string(got.Body))

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /index.html"}, keys)
}

func TestEmptyBodySurvives(t *testing.T) {
	t.Parallel()

	s := openTempStorage(t)
	ctx := context.Background()
	store, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "GET /empty", &cache.Response{StatusCode: http.StatusNoContent, Header: http.Header{}}))

	got, ok, err := store.Match(ctx, "GET /empty")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNoContent, got.StatusCode)
	assert.Empty(t, got.Body)
}

func TestPutAllKeepsOrder(t *testing.T) {
	t.Parallel()

	s := openTempStorage(t)
	ctx := context.Background()
	store, err := s.Open(ctx, "v1")
	require.NoError(t, err)

	err = store.PutAll(ctx, []cache.Entry{
		{Key: "GET /", Response: htmlResponse("root")},
		{Key: "GET /index.html", Response: htmlResponse("index")},
		{Key: "GET /style.css", Response: htmlResponse("css")},
	})
	require.NoError(t, err)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"GET /", "GET /index.html", "GET /style.css"}, keys)
}

func TestStoreLifecycle(t *testing.T) {
	t.Parallel()

	s := openTempStorage(t)
	ctx := context.Background()

	v9, err := s.Open(ctx, "v9")
	require.NoError(t, err)
	require.NoError(t, v9.Put(ctx, "GET /legacy.js", htmlResponse("legacy")))
	_, err = s.Open(ctx, "v10")
	require.NoError(t, err)

	names, err := s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v9", "v10"}, names)

	existed, err := s.Delete(ctx, "v9")
	require.NoError(t, err)
	assert.True(t, existed)

	existed, err = s.Delete(ctx, "v9")
	require.NoError(t, err)
	assert.False(t, existed)

	names, err = s.Names(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"v10"}, names)

	_, ok, err := v9.Match(ctx, "GET /legacy.js")
	require.NoError(t, err)
	assert.False(t, ok, "entries of a deleted store must be gone")

	err = v9.Put(ctx, "GET /legacy.js", htmlResponse("legacy"))
	assert.ErrorIs(t, err, cache.ErrStoreNotFound)
}

func TestReopenPersists(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "cache.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	store, err := s.Open(ctx, "v1")
	require.NoError(t, err)
	require.NoError(t, store.Put(ctx, "GET /style.css", htmlResponse("body{}")))
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	store, err = s.Open(ctx, "v1")
	require.NoError(t, err)
	got, ok, err := store.Match(ctx, "GET /style.css")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "body{}", string(got.Body))
}
