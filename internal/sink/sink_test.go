package sink_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"pixlift/internal/media"
	"pixlift/internal/sink"
	"pixlift/internal/testutil"
	"pixlift/internal/upload"
)

// newTestSink spins up a sink behind an httptest listener. The public URL is
// the relative /i prefix so returned object URLs resolve against whatever
// port the test server picked.
func newTestSink(t *testing.T, mutate func(*sink.Config)) *httptest.Server {
	t.Helper()

	cfg := sink.DefaultConfig()
	cfg.Dir = t.TempDir()
	cfg.PublicURL = "/i"
	if mutate != nil {
		mutate(cfg)
	}

	s, err := sink.NewServer(cfg, nil, nil)
	require.NoError(t, err)

	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts
}

type sinkHealth struct {
	Status      string `json:"status"`
	Requests    uint64 `json:"requests"`
	Accepted    uint64 `json:"accepted"`
	Subscribers int    `json:"subscribers"`
}

func getHealth(t *testing.T, ts *httptest.Server) sinkHealth {
	t.Helper()

	resp, err := http.Get(ts.URL + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health sinkHealth
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	return health
}

// The sink and the HTTP uploader must agree on the multipart format; driving
// the sink through the real client keeps them honest.
func TestSinkAcceptsClientUploads(t *testing.T) {
	ts := newTestSink(t, nil)
	payload := testutil.NoisePNG(t, 24, 24)

	u := upload.NewHTTP(ts.URL + "/upload")
	url, err := u.Upload(context.Background(), media.FromBytes("face.png", payload), "avatars")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "/i/avatars/"), "got %s", url)

	// The returned URL serves the stored bytes back.
	resp, err := http.Get(ts.URL + url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	served, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, payload, served)

	health := getHealth(t, ts)
	assert.Equal(t, uint64(1), health.Requests)
	assert.Equal(t, uint64(1), health.Accepted)
}

func TestSinkRequiresFilePart(t *testing.T) {
	ts := newTestSink(t, nil)

	resp, err := http.Post(ts.URL+"/upload", "application/x-www-form-urlencoded", strings.NewReader("scope=x"))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var body struct {
		Error string `json:"error"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	assert.Contains(t, body.Error, `"file"`)
}

func TestSinkRejectsNonImagePayload(t *testing.T) {
	ts := newTestSink(t, nil)

	u := upload.NewHTTP(ts.URL + "/upload")
	_, err := u.Upload(context.Background(), media.FromBytes("notes.txt", []byte("plain text, no pixels")), "")
	require.Error(t, err)

	var uerr *upload.Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusUnsupportedMediaType, uerr.HTTPStatus())
	assert.Contains(t, uerr.Message, "not an image")
}

func TestSinkEnforcesAuthToken(t *testing.T) {
	ts := newTestSink(t, func(cfg *sink.Config) {
		cfg.AuthToken = "sekrit"
	})
	payload := testutil.SolidPNG(t, 8, 8)

	_, err := upload.NewHTTP(ts.URL + "/upload").
		Upload(context.Background(), media.FromBytes("a.png", payload), "")
	var uerr *upload.Error
	require.ErrorAs(t, err, &uerr)
	assert.Equal(t, http.StatusUnauthorized, uerr.HTTPStatus())

	_, err = upload.NewHTTP(ts.URL+"/upload", upload.WithAuthToken("sekrit")).
		Upload(context.Background(), media.FromBytes("a.png", payload), "")
	require.NoError(t, err)

	// Auth guards uploads only; health stays open.
	assert.Equal(t, "ok", getHealth(t, ts).Status)
}

func TestSinkFailEveryInjection(t *testing.T) {
	ts := newTestSink(t, func(cfg *sink.Config) {
		cfg.FailEvery = 3
	})

	u := upload.NewHTTP(ts.URL + "/upload")
	f := media.FromBytes("a.png", testutil.SolidPNG(t, 8, 8))

	for i := 1; i <= 4; i++ {
		_, err := u.Upload(context.Background(), f, "")
		if i == 3 {
			var uerr *upload.Error
			require.ErrorAs(t, err, &uerr, "request %d", i)
			assert.Equal(t, http.StatusInternalServerError, uerr.HTTPStatus())
			assert.Contains(t, uerr.Message, "synthetic failure")
			continue
		}
		require.NoError(t, err, "request %d", i)
	}

	health := getHealth(t, ts)
	assert.Equal(t, uint64(4), health.Requests)
	assert.Equal(t, uint64(3), health.Accepted)
}

func TestSinkObjectKeyCannotEscapeStore(t *testing.T) {
	parent := t.TempDir()
	secret := filepath.Join(parent, "secret.txt")
	require.NoError(t, os.WriteFile(secret, []byte("out of bounds"), 0o644))

	ts := newTestSink(t, func(cfg *sink.Config) {
		cfg.Dir = filepath.Join(parent, "store")
	})

	// Without the key cleaning this would resolve to the sibling file.
	resp, err := http.Get(ts.URL + "/i/%2e%2e/secret.txt")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestSinkEventStreamBroadcastsUploads(t *testing.T) {
	ts := newTestSink(t, nil)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/events"
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	if resp != nil {
		resp.Body.Close()
	}
	defer conn.Close()

	// The upgrade response lands before the server registers the
	// subscriber; wait for registration so the broadcast cannot miss it.
	require.Eventually(t, func() bool {
		healthResp, err := http.Get(ts.URL + "/healthz")
		if err != nil {
			return false
		}
		defer healthResp.Body.Close()
		var health sinkHealth
		if err := json.NewDecoder(healthResp.Body).Decode(&health); err != nil {
			return false
		}
		return health.Subscribers == 1
	}, 2*time.Second, 10*time.Millisecond)

	_, err = upload.NewHTTP(ts.URL+"/upload").
		Upload(context.Background(), media.FromBytes("shot.png", testutil.SolidPNG(t, 8, 8)), "gallery")
	require.NoError(t, err)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, payload, err := conn.ReadMessage()
	require.NoError(t, err)

	var ev struct {
		Type  string `json:"type"`
		Name  string `json:"name"`
		Scope string `json:"scope"`
		URL   string `json:"url"`
		MIME  string `json:"mime"`
	}
	require.NoError(t, json.Unmarshal(payload, &ev))
	assert.Equal(t, "upload.committed", ev.Type)
	assert.Equal(t, "shot.png", ev.Name)
	assert.Equal(t, "gallery", ev.Scope)
	assert.Equal(t, "image/png", ev.MIME)
	assert.True(t, strings.HasPrefix(ev.URL, "/i/gallery/"), "got %s", ev.URL)
}
