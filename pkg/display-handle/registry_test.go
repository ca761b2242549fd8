package displayhandle

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	return c.now
}

func TestRegistryDeriveAndServe(t *testing.T) {
	r := NewRegistry("http://localhost:8080/handles/")
	h, err := r.Derive([]byte("png-bytes"), "image/png")
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(h.String(), "http://localhost:8080/handles/"), h.String())

	token := strings.TrimPrefix(h.String(), "http://localhost:8080/handles/")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/"+token, nil))

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/png", rr.Header().Get("Content-Type"))
	assert.Equal(t, "png-bytes", rr.Body.String())
}

func TestRegistryHandlesAreUnique(t *testing.T) {
	r := NewRegistry("/handles")
	first, err := r.Derive([]byte("x"), "image/png")
	require.NoError(t, err)
	second, err := r.Derive([]byte("x"), "image/png")
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
	assert.Equal(t, 2, r.Len())
}

func TestRegistryRevoke(t *testing.T) {
	r := NewRegistry("/handles")
	h, err := r.Derive([]byte("x"), "image/png")
	require.NoError(t, err)

	_, _, ok := r.Lookup(h)
	require.True(t, ok)

	r.Revoke(h)
	_, _, ok = r.Lookup(h)
	assert.False(t, ok)

	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/"+strings.TrimPrefix(h.String(), "/handles/"), nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRegistryExpiresHandles(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewRegistry("/handles", WithTTL(time.Minute), WithClock(clock.Now))

	h, err := r.Derive([]byte("x"), "image/png")
	require.NoError(t, err)

	clock.now = clock.now.Add(59 * time.Second)
	_, _, ok := r.Lookup(h)
	assert.True(t, ok)

	clock.now = clock.now.Add(time.Second)
	_, _, ok = r.Lookup(h)
	assert.False(t, ok)
	assert.Equal(t, 0, r.Len())
}

func TestRegistryWithoutTTLKeepsHandles(t *testing.T) {
	clock := &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	r := NewRegistry("/handles", WithTTL(0), WithClock(clock.Now))
	h, err := r.Derive([]byte("x"), "image/png")
	require.NoError(t, err)

	clock.now = clock.now.Add(24 * time.Hour)
	payload, contentType, ok := r.Lookup(h)
	assert.True(t, ok)
	assert.Equal(t, []byte("x"), payload)
	assert.Equal(t, "image/png", contentType)
}

func TestRegistryUnknownToken(t *testing.T) {
	r := NewRegistry("/handles")
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/does-not-exist", nil))
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestRegistryEmptyPayload(t *testing.T) {
	_, err := NewRegistry("/handles").Derive([]byte{}, "image/png")
	assert.ErrorIs(t, err, ErrEmptyPayload)
}
