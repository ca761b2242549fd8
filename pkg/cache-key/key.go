package cachekey

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

var (
	ErrorEmptyKey           = fmt.Errorf("Empty key")
	ErrorNotAbsolute        = fmt.Errorf("Key is not an absolute URL")
	ErrorSchemeNotSupported = fmt.Errorf("Scheme not supported")
)

var defaultSchemes = []string{"http", "https"}

// CacheKeyer maps resource URLs to store keys and back.
// The URL string is the identity: two URLs serving identical bytes are two keys.
type CacheKeyer struct {
	// Schemes that may be fetched.
	Schemes []string
}

func NewCacheKeyer(schemes ...string) CacheKeyer {
	if len(schemes) == 0 {
		schemes = defaultSchemes
	}
	return CacheKeyer{Schemes: schemes}
}

// GetKey returns the store key for a resource URL.
func (c CacheKeyer) GetKey(rawURL string) string {
	return rawURL
}

// ParseKey parses a key back into the URL it was derived from.
// It fails for keys that can not be fetched.
func (c CacheKeyer) ParseKey(key string) (*url.URL, error) {
	if strings.TrimSpace(key) == "" {
		return nil, ErrorEmptyKey
	}
	u, err := url.Parse(key)
	if err != nil {
		return nil, fmt.Errorf("Malformed key %q: %w", key, err)
	}
	if !u.IsAbs() || u.Host == "" {
		return nil, fmt.Errorf("%w: %s", ErrorNotAbsolute, key)
	}
	if !c.supports(u.Scheme) {
		return nil, fmt.Errorf("%w: %s", ErrorSchemeNotSupported, u.Scheme)
	}
	return u, nil
}

// GetRequestFromKey creates the plain GET request that fetches the resource for key.
// No headers are added.
func (c CacheKeyer) GetRequestFromKey(ctx context.Context, key string) (*http.Request, error) {
	u, err := c.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
}

func (c CacheKeyer) supports(scheme string) bool {
	schemes := c.Schemes
	if len(schemes) == 0 {
		schemes = defaultSchemes
	}
	for _, s := range schemes {
		if strings.EqualFold(s, scheme) {
			return true
		}
	}
	return false
}
