package imagefetch

import (
	"context"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	cachekey "github.com/always-cache/image-cache/pkg/cache-key"

	"github.com/rs/zerolog"
)

/*
Client downloads a single image.

- One plain GET per call, no custom headers, no retries
- Non-2xx statuses fail with the status code
- The declared Content-Type must be image/*; it is checked before the body is read
- An empty body is not an image either
- The client never touches the store
*/
type Client struct {
	httpClient *http.Client
	keyer      cachekey.CacheKeyer
	log        zerolog.Logger
}

// Payload is a fetched image body together with its declared media type.
type Payload struct {
	Bytes       []byte
	ContentType string
}

type Option func(*Client)

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		c.httpClient = httpClient
	}
}

// WithTimeout bounds every request. Zero means no timeout.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		hc := *c.httpClient
		hc.Timeout = timeout
		c.httpClient = &hc
	}
}

func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) {
		c.log = logger
	}
}

// WithKeyer sets how keys are turned into requests.
func WithKeyer(keyer cachekey.CacheKeyer) Option {
	return func(c *Client) {
		c.keyer = keyer
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		httpClient: &http.Client{},
		keyer:      cachekey.NewCacheKeyer(),
		log:        zerolog.Nop(),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(c)
	}
	return c
}

// Fetch downloads the image at url.
func (c *Client) Fetch(ctx context.Context, url string) (Payload, error) {
	req, err := c.keyer.GetRequestFromKey(ctx, url)
	if err != nil {
		return Payload{}, &FetchError{URL: url, Cause: CauseNetwork, Err: err}
	}

	start := time.Now()
	res, err := c.httpClient.Do(req)
	if err != nil {
		c.log.Debug().Err(err).Str("url", url).Msg("Request failed")
		return Payload{}, &FetchError{URL: url, Cause: CauseNetwork, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		return Payload{}, &FetchError{URL: url, Cause: CauseStatus, StatusCode: res.StatusCode}
	}

	contentType := res.Header.Get("Content-Type")
	if !isImageContent(contentType) {
		return Payload{}, &FetchError{URL: url, Cause: CauseContent, StatusCode: res.StatusCode, ContentType: contentType}
	}

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Payload{}, &FetchError{URL: url, Cause: CauseNetwork, StatusCode: res.StatusCode, Err: err}
	}
	if len(body) == 0 {
		return Payload{}, &FetchError{URL: url, Cause: CauseContent, StatusCode: res.StatusCode, ContentType: contentType}
	}

	c.log.Trace().
		Str("url", url).
		Int("status", res.StatusCode).
		Str("contentType", contentType).
		Int("bytes", len(body)).
		Dur("took", time.Since(start)).
		Msg("Fetched image")

	return Payload{Bytes: body, ContentType: contentType}, nil
}

// isImageContent reports whether a Content-Type header declares image data.
func isImageContent(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}
