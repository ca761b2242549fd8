package displayhandle

import (
	"encoding/base64"
	"errors"
	"strings"
)

// Handle is a transient reference to an image that a display surface can use
// directly, e.g. as the src of an image element. Handles are never persisted.
type Handle string

func (h Handle) String() string {
	return string(h)
}

// ErrEmptyPayload is returned when a handle is requested for no data.
var ErrEmptyPayload = errors.New("empty payload")

// Factory derives handles from stored payloads.
// A handle may stop working at any time; derive a new one from the payload when needed.
type Factory interface {
	Derive(payload []byte, contentType string) (Handle, error)
}

// FactoryFunc adapts a function to the Factory interface.
type FactoryFunc func(payload []byte, contentType string) (Handle, error)

func (f FactoryFunc) Derive(payload []byte, contentType string) (Handle, error) {
	return f(payload, contentType)
}

const defaultContentType = "application/octet-stream"

// DataURI derives self-contained "data:" handles.
type DataURI struct{}

func (DataURI) Derive(payload []byte, contentType string) (Handle, error) {
	if len(payload) == 0 {
		return "", ErrEmptyPayload
	}
	var b strings.Builder
	b.Grow(len("data:;base64,") + len(contentType) + base64.StdEncoding.EncodedLen(len(payload)))
	b.WriteString("data:")
	b.WriteString(mediaType(contentType))
	b.WriteString(";base64,")
	b.WriteString(base64.StdEncoding.EncodeToString(payload))
	return Handle(b.String()), nil
}

// mediaType strips parameters, which data URIs would otherwise need escaped.
func mediaType(contentType string) string {
	mt, _, _ := strings.Cut(contentType, ";")
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return defaultContentType
	}
	return mt
}
