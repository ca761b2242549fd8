package imgcache

import (
	"errors"

	"github.com/always-cache/image-cache/cache"
	imagefetch "github.com/always-cache/image-cache/pkg/image-fetch"
)

// Errors returned by Resolve and Lookup. Match them with errors.Is.
var (
	// ErrInvalidURL is returned for empty URLs and URLs rejected by the Prober.
	// No store or network I/O happens in that case.
	ErrInvalidURL = errors.New("invalid image url")
	// ErrNetwork is returned when the image could not be downloaded.
	ErrNetwork = imagefetch.ErrNetwork
	// ErrFetchFailed is returned for non-success HTTP statuses; see FetchStatus.
	ErrFetchFailed = imagefetch.ErrFetchFailed
	// ErrInvalidContent is returned when the response is not image data.
	ErrInvalidContent = imagefetch.ErrInvalidContent
	// ErrStoreUnavailable is reported by StoreErr when the store could not be opened.
	ErrStoreUnavailable = cache.ErrUnavailable
)

// StoreWriteError is logged (never returned) when a fetched image could not be stored.
type StoreWriteError = cache.WriteError

// FetchStatus returns the HTTP status of an ErrFetchFailed error.
func FetchStatus(err error) (int, bool) {
	return imagefetch.StatusCode(err)
}
