package imgcache

import (
	"context"

	cachekey "github.com/always-cache/image-cache/pkg/cache-key"
)

// Prober decides whether a URL is worth resolving at all.
// It runs before the store or network is touched.
type Prober interface {
	Probe(ctx context.Context, url string) bool
}

// ProberFunc adapts a function to the Prober interface.
type ProberFunc func(ctx context.Context, url string) bool

func (f ProberFunc) Probe(ctx context.Context, url string) bool {
	return f(ctx, url)
}

// URLProber accepts absolute URLs the keyer knows how to fetch.
type URLProber struct {
	Keyer cachekey.CacheKeyer
}

func (p URLProber) Probe(ctx context.Context, url string) bool {
	_, err := p.Keyer.ParseKey(url)
	return err == nil
}
