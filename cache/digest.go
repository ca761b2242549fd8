package cache

import (
	"encoding/hex"
	"fmt"

	"lukechampine.com/blake3"
)

// Digest returns the hex encoded BLAKE3-256 hash of payload.
func Digest(payload []byte) string {
	sum := blake3.Sum256(payload)
	return hex.EncodeToString(sum[:])
}

// verify checks a record read back from the store against its digest.
// Records written without a digest are accepted as is.
func verify(rec Record) error {
	if rec.Digest == "" {
		return nil
	}
	if got := Digest(rec.Payload); got != rec.Digest {
		return fmt.Errorf("%w: %q digest %s, stored %s", ErrCorrupt, rec.Key, got, rec.Digest)
	}
	return nil
}
