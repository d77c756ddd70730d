package transport

import (
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/reversegrok/assets_downloader/internal/headers"
	"github.com/reversegrok/assets_downloader/internal/logctx"
	"github.com/reversegrok/assets_downloader/internal/upstream"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTiered(t *testing.T) *Tiered {
	t.Helper()

	session, err := NewSession("", 5*time.Second, "")
	require.NoError(t, err)

	return NewTiered(session, 5*time.Second, 8, nil)
}

func testRequest(url string) *Request {
	return &Request{
		URL:     url,
		Headers: headers.Build("tok", "image/png", "https://assets.grok.com", "https://grok.com/"),
	}
}

func TestDoFirstTierWins(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("png-bytes"))
	}))
	defer srv.Close()

	env, err := newTestTiered(t).Do(context.Background(), testRequest(srv.URL+"/asset.png"))
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, "image/png", env.Headers["content-type"])
	assert.Equal(t, int32(1), hits.Load())

	body, err := io.ReadAll(env.Body())
	require.NoError(t, err)
	assert.Equal(t, "png-bytes", string(body))
}

func TestDoEscalatesOnNonOKStatus(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	env, err := newTestTiered(t).Do(context.Background(), testRequest(srv.URL+"/asset.png"))
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, int32(2), hits.Load())
}

func TestDoLastTierFailureIsTerminal(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	env, err := newTestTiered(t).Do(context.Background(), testRequest(srv.URL+"/missing.png"))
	require.Error(t, err)
	assert.Nil(t, env)

	// One attempt per tier, no tier retried within the pass.
	assert.Equal(t, int32(3), hits.Load())

	status, ok := upstream.StatusOf(err)
	require.True(t, ok)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestDoWarnsOncePerEscalation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	var buf bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), slog.New(slog.NewTextHandler(&buf, nil)))

	_, err := newTestTiered(t).Do(ctx, testRequest(srv.URL+"/asset.png"))
	require.Error(t, err)

	// Two escalations: tier 1 to tier 2, tier 2 to tier 3. The last
	// tier's failure is terminal and does not warn.
	assert.Equal(t, 2, strings.Count(buf.String(), "tier failed, escalating"))
}

func TestDoUnreachableUpstream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // refuse every connection

	env, err := newTestTiered(t).Do(context.Background(), testRequest(srv.URL+"/asset.png"))
	require.Error(t, err)
	assert.Nil(t, env)

	_, ok := upstream.StatusOf(err)
	assert.False(t, ok)
}

func TestDoAbortsCascadeOnCancel(t *testing.T) {
	var hits atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	tiered := newTestTiered(t)

	// Fail the first tier, then cancel before escalation continues.
	cancel()

	env, err := tiered.Do(ctx, testRequest(srv.URL+"/asset.png"))
	require.Error(t, err)
	assert.Nil(t, env)
	assert.Less(t, hits.Load(), int32(3))
}

func TestDirectGetSendsBrowserHeaders(t *testing.T) {
	var gotCookie, gotUA string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotCookie = r.Header.Get("Cookie")
		gotUA = r.Header.Get("User-Agent")
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	tiered := newTestTiered(t)

	env, err := tiered.directGet(context.Background(), testRequest(srv.URL+"/asset.png"))
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, "sso=tok; sso-rw=tok", gotCookie)
	assert.Contains(t, gotUA, "Chrome/133")
}

// gzipHandler compresses the body when the client negotiated gzip, the way
// a CDN edge would.
func gzipHandler(t *testing.T, body string) http.Handler {
	t.Helper()

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			_, _ = w.Write([]byte(body))
			return
		}

		w.Header().Set("Content-Encoding", "gzip")
		gz := gzip.NewWriter(w)
		_, _ = gz.Write([]byte(body))
		require.NoError(t, gz.Close())
	})
}

func TestDirectGetDecodesCompressedBody(t *testing.T) {
	srv := httptest.NewServer(gzipHandler(t, "plain-asset-bytes"))
	defer srv.Close()

	env, err := newTestTiered(t).directGet(context.Background(), testRequest(srv.URL+"/asset.png"))
	require.NoError(t, err)
	defer env.Close()

	body, err := io.ReadAll(env.Body())
	require.NoError(t, err)

	// The caller must see the asset, not the wire encoding.
	assert.Equal(t, "plain-asset-bytes", string(body))
	assert.NotContains(t, env.Headers, "content-encoding")
}

func TestMinimalGetDecodesCompressedBody(t *testing.T) {
	srv := httptest.NewServer(gzipHandler(t, "plain-asset-bytes"))
	defer srv.Close()

	m := newMinimalClient(5*time.Second, 0)

	env, err := m.get(context.Background(), testRequest(srv.URL+"/asset.png"))
	require.NoError(t, err)
	defer env.Close()

	body, err := io.ReadAll(env.Body())
	require.NoError(t, err)

	assert.Equal(t, "plain-asset-bytes", string(body))
	assert.NotContains(t, env.Headers, "content-encoding")
}

func TestStdlibHeadersOmitAcceptEncoding(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "https://assets.grok.com/a.png", nil)
	require.NoError(t, err)

	setStdlibHeaders(req, testRequest("https://assets.grok.com/a.png"))

	// An explicit Accept-Encoding would switch off the transport's
	// transparent gzip decoding.
	assert.Empty(t, req.Header.Values("Accept-Encoding"))
	assert.NotEmpty(t, req.Header.Get("Cookie"))
}

func TestMinimalGetBuffersBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "video/mp4")
		_, _ = w.Write([]byte("0123456789abcdef-tail"))
	}))
	defer srv.Close()

	m := newMinimalClient(5*time.Second, 16)

	env, err := m.get(context.Background(), testRequest(srv.URL+"/clip.mp4"))
	require.NoError(t, err)
	defer env.Close()

	assert.Equal(t, http.StatusOK, env.Status)
	assert.Equal(t, "video/mp4", env.Headers["content-type"])

	var sizes []int
	for chunk, err := range env.Chunks() {
		require.NoError(t, err)
		sizes = append(sizes, len(chunk))
	}

	assert.Equal(t, []int{16, 5}, sizes)
}

func TestMinimalGetAbandonsOnCancel(t *testing.T) {
	release := make(chan struct{})

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-release
		_, _ = w.Write([]byte("late"))
	}))
	defer srv.Close()
	defer close(release)

	m := newMinimalClient(time.Minute, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	env, err := m.get(ctx, testRequest(srv.URL+"/slow.png"))

	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Nil(t, env)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestCascadeOrder(t *testing.T) {
	tiers := Cascade()

	require.Len(t, tiers, 3)
	assert.True(t, tiers[0].Impersonate)
	assert.False(t, tiers[1].Impersonate)
	assert.False(t, tiers[1].Minimal)
	assert.True(t, tiers[2].Minimal)
}
