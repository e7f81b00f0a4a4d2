// Package sha256 fingerprints fetched page content.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Hasher implements crawler.Hasher. Digests are lowercase hex.
type Hasher struct{}

// New returns a Hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the digest of data.
func (h *Hasher) Hash(data []byte) (string, error) {
	return Sum(data), nil
}

// Sum is the package-level form of Hash.
func Sum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ObjectPath lays content out as <run>/<site>/<aa>/<digest><ext> so one
// directory never holds every page of a large run.
func ObjectPath(runID, siteID, digest, ext string) string {
	shard := "00"
	if len(digest) >= 2 {
		shard = digest[:2]
	}
	return fmt.Sprintf("%s/%s/%s/%s%s", runID, siteID, shard, digest, ext)
}
