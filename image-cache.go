package imgcache

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/always-cache/image-cache/cache"
	cachekey "github.com/always-cache/image-cache/pkg/cache-key"
	displayhandle "github.com/always-cache/image-cache/pkg/display-handle"
	imagefetch "github.com/always-cache/image-cache/pkg/image-fetch"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Fetcher downloads an image on a cache miss.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (imagefetch.Payload, error)
}

type Config struct {
	// Storage for image records. It is opened by CreateCache.
	// If nil or if opening fails, images are fetched without caching.
	Cache cache.Provider
	// Client used on cache misses. A default imagefetch.Client is used if nil.
	Fetcher Fetcher
	// Decides whether a URL may be resolved. URLProber is used if nil.
	Prober Prober
	// Derives display handles from payloads. displayhandle.DataURI is used if nil.
	Handles displayhandle.Factory
	// Logger to use. A console logger is used if nil.
	Logger *zerolog.Logger
	// Share a single fetch between concurrent misses for the same URL.
	// When off, concurrent misses fetch and write independently and the
	// last write wins. A caller that gives up does not cancel the shared fetch.
	Deduplicate bool
}

type ImageCache struct {
	cache       cache.Provider
	storeErr    error
	keyer       cachekey.CacheKeyer
	fetcher     Fetcher
	prober      Prober
	handles     displayhandle.Factory
	log         zerolog.Logger
	deduplicate bool
	fetchGroup  singleflight.Group
	router      http.Handler
}

// CreateCache initializes the image cache and opens its store.
// A store that fails to open is logged and left alone for the lifetime of
// the instance; resolution then falls back to plain fetching.
func CreateCache(ctx context.Context, config Config) *ImageCache {
	// use console logger if not specified in config
	var logger zerolog.Logger
	if config.Logger == nil {
		logger = zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()
	} else {
		logger = *config.Logger
	}

	keyer := cachekey.NewCacheKeyer()
	a := &ImageCache{
		cache:       config.Cache,
		keyer:       keyer,
		fetcher:     config.Fetcher,
		prober:      config.Prober,
		handles:     config.Handles,
		log:         logger,
		deduplicate: config.Deduplicate,
	}
	if a.fetcher == nil {
		a.fetcher = imagefetch.New(imagefetch.WithLogger(logger), imagefetch.WithKeyer(keyer))
	}
	if a.prober == nil {
		a.prober = URLProber{Keyer: keyer}
	}
	if a.handles == nil {
		a.handles = displayhandle.DataURI{}
	}

	if a.cache == nil {
		a.storeErr = fmt.Errorf("%w: no provider configured", ErrStoreUnavailable)
		a.log.Warn().Msg("No cache provider configured, images will not be cached")
	} else if err := a.cache.Open(ctx); err != nil {
		a.storeErr = err
		a.log.Error().Err(err).Msg("Could not open cache, images will not be cached")
	}

	a.router = a.routes()
	return a
}

// StoreErr returns why the store is unusable, or nil if it is open.
func (a *ImageCache) StoreErr() error {
	return a.storeErr
}

// Close closes the underlying store.
func (a *ImageCache) Close() error {
	if a.cache == nil {
		return nil
	}
	return a.cache.Close()
}

// Resolve returns a display handle for the image at url.
// The image is served from the store when present; otherwise it is fetched,
// stored and then served. A failed store write does not fail the call.
func (a *ImageCache) Resolve(ctx context.Context, url string) (displayhandle.Handle, error) {
	rec, _, err := a.Lookup(ctx, url)
	if err != nil {
		return "", err
	}
	h, err := a.handles.Derive(rec.Payload, rec.ContentType)
	if err != nil {
		return "", fmt.Errorf("derive handle for %s: %w", url, err)
	}
	return h, nil
}

// Lookup is Resolve without handle derivation: it returns the record itself.
// For records that could not be stored, StoredAt is zero.
func (a *ImageCache) Lookup(ctx context.Context, url string) (cache.Record, ResolveStatus, error) {
	var status ResolveStatus
	if url == "" || !a.prober.Probe(ctx, url) {
		a.log.Debug().Str("url", url).Msg("Invalid or empty image URL, skipping fetch and cache")
		return cache.Record{}, status, fmt.Errorf("%w: %q", ErrInvalidURL, url)
	}

	log := a.log.With().Str("url", url).Logger()
	key := a.keyer.GetKey(url)

	if a.storeErr != nil {
		status.Uncached()
		return a.fetch(ctx, key, url, status, log)
	}

	rec, ok, err := a.cache.Get(ctx, key)
	if err != nil {
		// a failed read is a miss, never a hit
		log.Warn().Err(err).Msg("Could not read from cache")
	} else if ok {
		log.Trace().Msg("Loading from cache")
		status.Hit()
		return rec, status, nil
	}

	status.Miss()
	if !a.deduplicate {
		return a.fetch(ctx, key, url, status, log)
	}

	type result struct {
		rec    cache.Record
		status ResolveStatus
	}
	// the shared fetch outlives any single caller
	flightCtx := context.WithoutCancel(ctx)
	ch := a.fetchGroup.DoChan(key, func() (any, error) {
		r, st, err := a.fetch(flightCtx, key, url, status, log)
		return result{r, st}, err
	})
	select {
	case <-ctx.Done():
		log.Debug().Err(ctx.Err()).Msg("Caller left before shared fetch finished")
		return cache.Record{}, status, ctx.Err()
	case flight := <-ch:
		if flight.Err != nil {
			return cache.Record{}, status, flight.Err
		}
		res := flight.Val.(result)
		res.status.Shared = flight.Shared
		return res.rec, res.status, nil
	}
}

// fetch downloads the image and writes it to the store if the store is usable.
func (a *ImageCache) fetch(ctx context.Context, key, url string, status ResolveStatus, log zerolog.Logger) (cache.Record, ResolveStatus, error) {
	log.Debug().Str("status", string(status.Status)).Msg("Fetching image")
	payload, err := a.fetcher.Fetch(ctx, url)
	if err != nil {
		log.Debug().Err(err).Msg("Could not fetch image")
		return cache.Record{}, status, err
	}

	rec := cache.Record{
		Key:         key,
		Payload:     payload.Bytes,
		ContentType: payload.ContentType,
		Digest:      cache.Digest(payload.Bytes),
	}
	if a.storeErr != nil {
		return rec, status, nil
	}

	if err := a.cache.Put(ctx, key, payload.ContentType, payload.Bytes); err != nil {
		log.Warn().Err(err).Msg("Could not write to cache")
		return rec, status, nil
	}
	rec.StoredAt = time.Now().UTC().Truncate(time.Second)
	status.Stored = true
	log.Debug().Int("bytes", len(payload.Bytes)).Msg("Image cached successfully")
	return rec, status, nil
}
