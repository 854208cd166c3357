package upload_test

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pixerrors "pixlift/internal/errors"
	"pixlift/internal/media"
	"pixlift/internal/testutil"
	"pixlift/internal/upload"
)

func TestHTTPUploadHappyPath(t *testing.T) {
	payload := testutil.JPEGImage(t, 40, 40, 80)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "Bearer sekrit", r.Header.Get("Authorization"))

		require.NoError(t, r.ParseMultipartForm(1<<20))
		assert.Equal(t, "avatars", r.FormValue("scope"))

		file, header, err := r.FormFile("file")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "me.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		sent, err := io.ReadAll(file)
		require.NoError(t, err)
		assert.Equal(t, payload, sent)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"url":"https://cdn.example.com/avatars/me.jpg"}`)
	}))
	defer srv.Close()

	u := upload.NewHTTP(srv.URL, upload.WithAuthToken("sekrit"))
	url, err := u.Upload(context.Background(), media.FromBytes("me.jpg", payload), "avatars")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/avatars/me.jpg", url)
}

func TestHTTPUploadNeverRetries(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.Error(w, `{"error":"backend down"}`, http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	u := upload.NewHTTP(srv.URL)
	_, err := u.Upload(context.Background(), media.FromBytes("a.png", testutil.SolidPNG(t, 8, 8)), "")
	require.Error(t, err)

	// One call, one attempt. Retrying is the user's decision.
	assert.Equal(t, int32(1), hits.Load())
	assert.True(t, pixerrors.IsTransient(err))
}

func TestHTTPUploadPermanentRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestEntityTooLarge)
		fmt.Fprint(w, `{"error":"payload exceeds plan limit"}`)
	}))
	defer srv.Close()

	u := upload.NewHTTP(srv.URL)
	_, err := u.Upload(context.Background(), media.FromBytes("big.png", testutil.SolidPNG(t, 8, 8)), "")
	require.Error(t, err)

	var uerr *upload.Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusRequestEntityTooLarge, uerr.HTTPStatus())
	assert.Contains(t, uerr.Message, "payload exceeds plan limit")
	assert.True(t, pixerrors.IsPermanent(err))
}

func TestHTTPUploadEndpointUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	u := upload.NewHTTP(endpoint)
	_, err := u.Upload(context.Background(), media.FromBytes("a.png", testutil.SolidPNG(t, 8, 8)), "")
	require.Error(t, err)

	var uerr *upload.Error
	require.ErrorAs(t, err, &uerr)
	assert.Zero(t, uerr.HTTPStatus())
	assert.True(t, pixerrors.IsTransient(err))
}

func TestHTTPUploadRejectsBodyWithoutURL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer srv.Close()

	u := upload.NewHTTP(srv.URL)
	_, err := u.Upload(context.Background(), media.FromBytes("a.png", testutil.SolidPNG(t, 8, 8)), "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no url")
}

func TestFilesystemStoreContentAddressing(t *testing.T) {
	dir := t.TempDir()
	store, err := upload.NewFilesystemStore(dir, "")
	require.NoError(t, err)

	data := testutil.SolidPNG(t, 16, 16)
	first, err := store.Upload(context.Background(), media.FromBytes("one.png", data), "")
	require.NoError(t, err)
	second, err := store.Upload(context.Background(), media.FromBytes("two.png", data), "")
	require.NoError(t, err)

	// Identical bytes land on the identical object.
	assert.Equal(t, first, second)
	assert.True(t, strings.HasPrefix(first, "file://"), "got %s", first)
	assert.True(t, strings.HasSuffix(first, ".png"), "got %s", first)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestFilesystemStorePublicURLAndScope(t *testing.T) {
	dir := t.TempDir()
	store, err := upload.NewFilesystemStore(dir, "https://img.example.com/u")
	require.NoError(t, err)

	url, err := store.Upload(context.Background(), media.FromBytes("pic.png", testutil.SolidPNG(t, 8, 8)), "team-42")
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(url, "https://img.example.com/u/team-42/"), "got %s", url)

	// The object really is on disk under the scope directory.
	matches, err := filepath.Glob(filepath.Join(dir, "team-42", "*.png"))
	require.NoError(t, err)
	assert.Len(t, matches, 1)
}

func TestFilesystemStoreScopeCannotEscapeBase(t *testing.T) {
	dir := t.TempDir()
	store, err := upload.NewFilesystemStore(filepath.Join(dir, "base"), "")
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), media.FromBytes("p.png", testutil.SolidPNG(t, 8, 8)), "../../escape")
	require.NoError(t, err)

	// Nothing may appear outside the base directory.
	matches, err := filepath.Glob(filepath.Join(dir, "escape", "*"))
	require.NoError(t, err)
	assert.Empty(t, matches)
}

func TestMemoryStoreFailureInjection(t *testing.T) {
	store := upload.NewMemoryStore("")
	store.FailOn = func(f *media.File) error {
		if f.Name == "doomed.png" {
			return fmt.Errorf("injected failure")
		}
		return nil
	}

	_, err := store.Upload(context.Background(), media.FromBytes("fine.png", testutil.SolidPNG(t, 8, 8)), "")
	require.NoError(t, err)

	_, err = store.Upload(context.Background(), media.FromBytes("doomed.png", testutil.SolidPNG(t, 8, 8)), "")
	require.Error(t, err)

	var uerr *upload.Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, "doomed.png", uerr.File)
	assert.Equal(t, 1, store.Count())
}
