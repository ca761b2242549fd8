package displayhandle

import (
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Registry issues short-lived handles that resolve over HTTP, much like
// object URLs in a browser. Handles expire after the TTL or when revoked.
type Registry struct {
	baseURL string
	ttl     time.Duration
	now     func() time.Time

	mutex   *sync.Mutex
	entries map[string]registryEntry
	router  chi.Router
}

type registryEntry struct {
	payload     []byte
	contentType string
	expires     time.Time
}

type RegistryOption func(*Registry)

// WithTTL sets how long a handle stays valid. Zero keeps handles until revoked.
func WithTTL(ttl time.Duration) RegistryOption {
	return func(r *Registry) {
		r.ttl = ttl
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates a registry whose handles are baseURL + "/" + token.
func NewRegistry(baseURL string, opts ...RegistryOption) *Registry {
	r := &Registry{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		ttl:     time.Minute,
		now:     time.Now,
		mutex:   &sync.Mutex{},
		entries: make(map[string]registryEntry),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	router := chi.NewRouter()
	router.Get("/{token}", r.serveHandle)
	r.router = router
	return r
}

func (r *Registry) Derive(payload []byte, contentType string) (Handle, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	token := uuid.NewString()
	entry := registryEntry{
		payload:     payload,
		contentType: contentType,
	}
	r.mutex.Lock()
	defer r.mutex.Unlock()
	now := r.now()
	if r.ttl > 0 {
		entry.expires = now.Add(r.ttl)
	}
	r.sweep(now)
	r.entries[token] = entry
	return Handle(r.baseURL + "/" + token), nil
}

// Revoke invalidates a handle. Unknown handles are ignored.
func (r *Registry) Revoke(h Handle) {
	token := r.token(h)
	r.mutex.Lock()
	defer r.mutex.Unlock()
	delete(r.entries, token)
}

// Lookup returns the payload behind a live handle.
func (r *Registry) Lookup(h Handle) ([]byte, string, bool) {
	return r.lookup(r.token(h))
}

// Len returns the number of live handles.
func (r *Registry) Len() int {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.sweep(r.now())
	return len(r.entries)
}

// ServeHTTP serves GET /{token} for live handles and 404 for anything else.
// Mount it under the path of the registry's base URL.
func (r *Registry) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.router.ServeHTTP(w, req)
}

func (r *Registry) serveHandle(w http.ResponseWriter, req *http.Request) {
	payload, contentType, ok := r.lookup(chi.URLParam(req, "token"))
	if !ok {
		http.NotFound(w, req)
		return
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	w.Write(payload)
}

func (r *Registry) lookup(token string) ([]byte, string, bool) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	entry, ok := r.entries[token]
	if !ok {
		return nil, "", false
	}
	if !entry.expires.IsZero() && !r.now().Before(entry.expires) {
		delete(r.entries, token)
		return nil, "", false
	}
	return entry.payload, entry.contentType, true
}

func (r *Registry) token(h Handle) string {
	return strings.TrimPrefix(strings.TrimPrefix(string(h), r.baseURL), "/")
}

// sweep drops expired entries. The caller holds the mutex.
func (r *Registry) sweep(now time.Time) {
	for token, entry := range r.entries {
		if !entry.expires.IsZero() && !now.Before(entry.expires) {
			delete(r.entries, token)
		}
	}
}
