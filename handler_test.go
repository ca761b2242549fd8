package imgcache

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	displayhandle "github.com/always-cache/image-cache/pkg/display-handle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func get(h http.Handler, path string, query url.Values) *httptest.ResponseRecorder {
	rr := httptest.NewRecorder()
	target := path
	if query != nil {
		target += "?" + query.Encode()
	}
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, target, nil))
	return rr
}

func TestServeResolveReportsCacheStatus(t *testing.T) {
	origin := newImageOrigin(t)
	ic := CreateCache(context.Background(), Config{Cache: newCountingCache(), Logger: testLogger(t)})
	query := url.Values{"url": {origin.URL + "/img.png"}}

	rr := get(ic, "/resolve", query)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image-cache; miss; stored", rr.Header().Get("Cache-Status"))
	assert.Equal(t, dataURI(t, pngBytes, "image/png").String(), rr.Body.String())

	rr = get(ic, "/resolve", query)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image-cache; hit", rr.Header().Get("Cache-Status"))
	assert.Equal(t, int32(1), origin.hits.Load())
}

func TestServeImage(t *testing.T) {
	origin := newImageOrigin(t)
	ic := CreateCache(context.Background(), Config{Cache: newCountingCache(), Logger: testLogger(t)})

	rr := get(ic, "/images", url.Values{"url": {origin.URL + "/img.png"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, pngBytes, rr.Body.Bytes())
	assert.NotEmpty(t, rr.Header().Get("ETag"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "sandbox", rr.Header().Get("Content-Security-Policy"))
}

func TestServeImageSandboxesSVG(t *testing.T) {
	origin := newImageOrigin(t)
	origin.contentType = "image/svg+xml"
	ic := CreateCache(context.Background(), Config{Cache: newCountingCache(), Logger: testLogger(t)})

	rr := get(ic, "/images", url.Values{"url": {origin.URL + "/logo.svg"}})
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/svg+xml", rr.Header().Get("Content-Type"))
	assert.Equal(t, "nosniff", rr.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "sandbox", rr.Header().Get("Content-Security-Policy"))
}

func TestServeErrors(t *testing.T) {
	origin := newImageOrigin(t)
	origin.status = http.StatusNotFound
	ic := CreateCache(context.Background(), Config{Cache: newCountingCache(), Logger: testLogger(t)})

	assert.Equal(t, http.StatusBadRequest, get(ic, "/resolve", nil).Code)
	assert.Equal(t, http.StatusBadRequest, get(ic, "/images", url.Values{"url": {"not a url"}}).Code)
	assert.Equal(t, http.StatusBadGateway, get(ic, "/resolve", url.Values{"url": {origin.URL + "/img.png"}}).Code)
	assert.Equal(t, http.StatusNotFound, get(ic, "/unknown", nil).Code)
}

func TestServeRegistryHandles(t *testing.T) {
	origin := newImageOrigin(t)
	registry := displayhandle.NewRegistry("http://localhost:8080" + HandlesPath)
	ic := CreateCache(context.Background(), Config{Cache: newCountingCache(), Handles: registry, Logger: testLogger(t)})

	rr := get(ic, "/resolve", url.Values{"url": {origin.URL + "/img.png"}})
	require.Equal(t, http.StatusOK, rr.Code)
	handle := rr.Body.String()
	require.True(t, strings.HasPrefix(handle, "http://localhost:8080/handles/"), handle)

	rr = get(ic, strings.TrimPrefix(handle, "http://localhost:8080"), nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, pngBytes, rr.Body.Bytes())

	registry.Revoke(displayhandle.Handle(handle))
	rr = get(ic, strings.TrimPrefix(handle, "http://localhost:8080"), nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatusForError(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, statusForError(ErrInvalidURL))
	assert.Equal(t, http.StatusBadGateway, statusForError(ErrNetwork))
	assert.Equal(t, http.StatusInternalServerError, statusForError(assert.AnError))
}

func TestResolveStatusString(t *testing.T) {
	var rs ResolveStatus
	rs.Miss()
	rs.Stored = true
	rs.Shared = true
	assert.Equal(t, "image-cache; miss; stored; collapsed", rs.String())
	rs = ResolveStatus{}
	rs.Uncached()
	assert.Equal(t, "image-cache; uncached", rs.String())
}

func TestURLProber(t *testing.T) {
	p := URLProber{}
	assert.True(t, p.Probe(context.Background(), "https://x/img.png"))
	assert.True(t, p.Probe(context.Background(), "http://x:8080/a/b.jpg?w=75"))
	assert.False(t, p.Probe(context.Background(), ""))
	assert.False(t, p.Probe(context.Background(), "img.png"))
	assert.False(t, p.Probe(context.Background(), "file:///etc/passwd"))
}

func TestGetRequestSourceIp(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.RemoteAddr = "[::1]:10000"
	assert.Equal(t, "[::1]", getRequestSourceIp(r))
	r.RemoteAddr = "1.2.3.4"
	assert.Equal(t, "1.2.3.4", getRequestSourceIp(r))
}
