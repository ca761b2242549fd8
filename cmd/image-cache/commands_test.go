package main

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	displayhandle "github.com/always-cache/image-cache/pkg/display-handle"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngBytes = []byte("\x89PNG\r\n\x1a\nfake image body")

// newOrigin serves pngBytes everywhere except /missing.
func newOrigin(t *testing.T) *httptest.Server {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/missing" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Write(pngBytes)
	}))
	t.Cleanup(origin.Close)
	return origin
}

// execute runs the root command with args and returns what it printed.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags()
	t.Cleanup(resetFlags)
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func dataURI(t *testing.T) string {
	h, err := displayhandle.DataURI{}.Derive(pngBytes, "image/png")
	require.NoError(t, err)
	return h.String()
}

func TestResolveCommand(t *testing.T) {
	origin := newOrigin(t)

	out, err := execute(t, "resolve", "--provider", "memory", origin.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, dataURI(t)+"\n", out)
}

func TestResolveCommandCountsFailures(t *testing.T) {
	origin := newOrigin(t)

	out, err := execute(t, "resolve", "--provider", "memory",
		origin.URL+"/a.png", "relative.png", origin.URL+"/missing")
	assert.ErrorContains(t, err, "2 of 3 images could not be resolved")
	assert.Equal(t, dataURI(t)+"\n", out)
}

func TestGetCommandWritesOutputFile(t *testing.T) {
	origin := newOrigin(t)
	filename := filepath.Join(t.TempDir(), "a.png")

	out, err := execute(t, "get", "--provider", "memory", "-o", filename, origin.URL+"/a.png")
	require.NoError(t, err)
	assert.Empty(t, out)

	written, err := os.ReadFile(filename)
	require.NoError(t, err)
	assert.Equal(t, pngBytes, written)
}

func TestGetCommandWritesStdout(t *testing.T) {
	origin := newOrigin(t)

	out, err := execute(t, "get", "--provider", "memory", origin.URL+"/a.png")
	require.NoError(t, err)
	assert.Equal(t, string(pngBytes), out)
}

func TestGetCommandReportsOriginStatus(t *testing.T) {
	origin := newOrigin(t)

	_, err := execute(t, "get", "--provider", "memory", origin.URL+"/missing")
	assert.ErrorContains(t, err, "origin answered 404")
}

func TestListCommand(t *testing.T) {
	origin := newOrigin(t)
	db := filepath.Join(t.TempDir(), "images.db")

	_, err := execute(t, "resolve", "--db", db, origin.URL+"/b.png", origin.URL+"/a.png")
	require.NoError(t, err)

	out, err := execute(t, "list", "--db", db)
	require.NoError(t, err)
	assert.Equal(t, origin.URL+"/a.png\n"+origin.URL+"/b.png\n", out)
}

func TestListCommandTakesBoltDBFromFlag(t *testing.T) {
	dir := t.TempDir()
	filename := writeConfig(t, "provider: bolt\ndb: \"\"\n")

	_, err := execute(t, "list", "--config", filename)
	assert.ErrorContains(t, err, "bolt provider needs a db file")

	out, err := execute(t, "list", "--config", filename, "--db", filepath.Join(dir, "images.bolt"))
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestServeRejectsRegistryWithoutTTL(t *testing.T) {
	_, err := execute(t, "serve", "--provider", "memory", "--handles", "registry", "--handle-ttl", "0")
	assert.ErrorContains(t, err, "positive handle TTL")
}

func TestNewServerMountsRegistry(t *testing.T) {
	origin := newOrigin(t)
	config := defaultConfig()
	config.Provider = "memory"
	config.Serve.Handles = "registry"
	config.Serve.BaseURL = "http://images.local/"

	ic, err := newServer(context.Background(), config)
	require.NoError(t, err)
	defer ic.Close()

	rr := httptest.NewRecorder()
	query := url.Values{"url": {origin.URL + "/a.png"}}
	ic.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/resolve?"+query.Encode(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	handle := rr.Body.String()
	require.True(t, strings.HasPrefix(handle, "http://images.local/handles/"), handle)

	rr = httptest.NewRecorder()
	ic.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, strings.TrimPrefix(handle, "http://images.local"), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, pngBytes, rr.Body.Bytes())
}

func TestNewServerDataHandles(t *testing.T) {
	origin := newOrigin(t)
	config := defaultConfig()
	config.Provider = "memory"

	ic, err := newServer(context.Background(), config)
	require.NoError(t, err)
	defer ic.Close()

	rr := httptest.NewRecorder()
	query := url.Values{"url": {origin.URL + "/a.png"}}
	ic.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/resolve?"+query.Encode(), nil))
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, dataURI(t), rr.Body.String())
}
