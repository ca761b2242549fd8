package imgcache

import (
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	displayhandle "github.com/always-cache/image-cache/pkg/display-handle"

	"github.com/go-chi/chi/v5"
)

// HandlesPath is where a displayhandle.Registry is served when it is
// configured as the handle factory.
const HandlesPath = "/handles"

// ServeHTTP implements the http.Handler interface.
//
//	GET /resolve?url=...   the display handle as text
//	GET /images?url=...    the image itself
//	GET /handles/{token}   registry handles, if a Registry derives handles
func (a *ImageCache) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *ImageCache) routes() http.Handler {
	router := chi.NewRouter()
	router.Get("/resolve", a.serveResolve)
	router.Get("/images", a.serveImage)
	if registry, ok := a.handles.(*displayhandle.Registry); ok {
		router.Mount(HandlesPath, registry)
	}
	return router
}

func (a *ImageCache) serveResolve(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	rec, status, err := a.Lookup(r.Context(), url)
	if err != nil {
		a.sendError(w, r, err)
		return
	}
	h, err := a.handles.Derive(rec.Payload, rec.ContentType)
	if err != nil {
		a.sendError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.Header().Set("Cache-Status", status.String())
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, h.String())
	a.logRequest(r, http.StatusOK, status)
}

func (a *ImageCache) serveImage(w http.ResponseWriter, r *http.Request) {
	url := r.URL.Query().Get("url")
	rec, status, err := a.Lookup(r.Context(), url)
	if err != nil {
		a.sendError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", rec.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(rec.Payload)))
	// payloads come from arbitrary origins and may be scriptable (svg)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Content-Security-Policy", "sandbox")
	w.Header().Set("Cache-Status", status.String())
	if rec.Digest != "" {
		w.Header().Set("ETag", `"`+rec.Digest+`"`)
	}
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(rec.Payload); err != nil {
		a.log.Error().Err(err).Msg("Could not write image to client")
	}
	a.logRequest(r, http.StatusOK, status)
}

func (a *ImageCache) sendError(w http.ResponseWriter, r *http.Request, err error) {
	code := statusForError(err)
	http.Error(w, err.Error(), code)
	a.logRequest(r, code, ResolveStatus{})
}

// statusForError maps resolution errors to the status sent to HTTP clients.
func statusForError(err error) int {
	switch {
	case errors.Is(err, ErrInvalidURL):
		return http.StatusBadRequest
	case errors.Is(err, ErrFetchFailed),
		errors.Is(err, ErrInvalidContent),
		errors.Is(err, ErrNetwork):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (a *ImageCache) logRequest(r *http.Request, code int, rs ResolveStatus) {
	a.log.Debug().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("url", r.URL.Query().Get("url")).
		Str("sourceIp", getRequestSourceIp(r)).
		Int("code", code).
		Str("status", string(rs.Status)).
		Bool("stored", rs.Stored).
		Msg("Sending response to client")
}

func getRequestSourceIp(r *http.Request) string {
	// RemoteAddr is in the format:
	// 1.2.3.4:10000 for ipv4
	// [1:2:3]:10000 for ipv6
	ipAndPort := r.RemoteAddr
	portSepIdx := strings.LastIndex(ipAndPort, ":")
	// if not found, return
	if portSepIdx < 0 {
		return ipAndPort
	}
	return ipAndPort[:portSepIdx]
}
