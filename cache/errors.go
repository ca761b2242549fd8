package cache

import (
	"errors"
	"fmt"
)

var (
	// ErrUnavailable is returned when the store cannot be opened or its schema
	// cannot be created or upgraded.
	ErrUnavailable = errors.New("cache store unavailable")
	// ErrCorrupt is returned when a stored payload does not match its digest.
	ErrCorrupt = errors.New("cache record corrupt")

	errNotOpened = fmt.Errorf("%w: store not opened", ErrUnavailable)
)

// WriteError is returned when a record could not be written.
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("cache write %q: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error {
	return e.Err
}
