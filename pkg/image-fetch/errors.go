package imagefetch

import (
	"errors"
	"fmt"
)

type FetchErrorCause string

const (
	CauseNetwork FetchErrorCause = "network error"
	CauseStatus  FetchErrorCause = "fetch failed"
	CauseContent FetchErrorCause = "invalid content"
)

var (
	// ErrNetwork matches transport failures: DNS, dial, TLS, timeouts, aborted bodies.
	ErrNetwork = errors.New("network error")
	// ErrFetchFailed matches non-success HTTP statuses.
	ErrFetchFailed = errors.New("fetch failed")
	// ErrInvalidContent matches responses that do not declare image content.
	ErrInvalidContent = errors.New("invalid content")
)

// FetchError describes why a fetch produced no payload.
// Use errors.Is with ErrNetwork, ErrFetchFailed or ErrInvalidContent to classify it.
type FetchError struct {
	URL         string
	Cause       FetchErrorCause
	StatusCode  int
	ContentType string
	Err         error
}

func (e *FetchError) Error() string {
	switch e.Cause {
	case CauseStatus:
		return fmt.Sprintf("%s: %s: status %d", e.Cause, e.URL, e.StatusCode)
	case CauseContent:
		return fmt.Sprintf("%s: %s: content type %q", e.Cause, e.URL, e.ContentType)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Cause, e.URL, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Cause, e.URL)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

func (e *FetchError) Is(target error) bool {
	switch target {
	case ErrNetwork:
		return e.Cause == CauseNetwork
	case ErrFetchFailed:
		return e.Cause == CauseStatus
	case ErrInvalidContent:
		return e.Cause == CauseContent
	}
	return false
}

// StatusCode returns the HTTP status carried by a fetch failure.
func StatusCode(err error) (int, bool) {
	var fetchErr *FetchError
	if errors.As(err, &fetchErr) && fetchErr.Cause == CauseStatus {
		return fetchErr.StatusCode, true
	}
	return 0, false
}
