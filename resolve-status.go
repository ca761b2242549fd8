package imgcache

import "fmt"

type ResolveStatusStatus string

const (
	// The image was served from the store.
	StatusHit ResolveStatusStatus = "hit"
	// The image was not in the store and was fetched.
	StatusMiss ResolveStatusStatus = "miss"
	// The store is unavailable; the image was fetched without caching.
	StatusUncached ResolveStatusStatus = "uncached"
)

// ResolveStatus tells how a resolution was served.
type ResolveStatus struct {
	Status ResolveStatusStatus
	// The fetched image was written to the store.
	Stored bool
	// The fetch was shared with a concurrent caller.
	Shared bool
}

func (rs *ResolveStatus) Hit() {
	rs.Status = StatusHit
}

func (rs *ResolveStatus) Miss() {
	rs.Status = StatusMiss
}

func (rs *ResolveStatus) Uncached() {
	rs.Status = StatusUncached
}

// String formats the status as a Cache-Status header value.
func (rs ResolveStatus) String() string {
	status := fmt.Sprintf("image-cache; %s", rs.Status)
	if rs.Stored {
		status += "; stored"
	}
	if rs.Shared {
		status += "; collapsed"
	}
	return status
}
