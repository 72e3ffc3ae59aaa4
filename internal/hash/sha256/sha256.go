// Package sha256 provides the content digests used for archive names,
// cache keys and keyless catalog items.
package sha256

import (
	"crypto/sha256"
	"encoding/hex"
)

// Hasher hashes bytes with SHA-256.
type Hasher struct{}

// New returns a SHA-256 hasher.
func New() *Hasher {
	return &Hasher{}
}

// Hash returns the hex digest of data.
func (h *Hasher) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// HashString returns the hex digest of s.
func (h *Hasher) HashString(s string) string {
	return h.Hash([]byte(s))
}

// Short returns the first n hex characters of the digest of s.
func (h *Hasher) Short(s string, n int) string {
	d := h.HashString(s)
	if n <= 0 || n >= len(d) {
		return d
	}
	return d[:n]
}
