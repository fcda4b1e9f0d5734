// Package overlay is a small encrypted overlay transport. Destinations are
// addressed by a truncated hash of their identity, announce themselves over
// UDP, and serve path-addressed requests over authenticated, encrypted links.
package overlay

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
)

// HashLength is the size in bytes of destination and identity hashes.
const HashLength = 10

// ErrInvalidHash is returned when a hash cannot be decoded.
var ErrInvalidHash = errors.New("invalid hash")

// Hash is a truncated SHA-256 digest naming an identity or destination.
type Hash [HashLength]byte

// ParseHash decodes a 20 character hex string into a Hash.
func ParseHash(s string) (Hash, error) {
	var h Hash
	if len(s) != HashLength*2 {
		return h, fmt.Errorf("%w: got %d hex characters, want %d", ErrInvalidHash, len(s), HashLength*2)
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("%w: %v", ErrInvalidHash, err)
	}
	copy(h[:], raw)
	return h, nil
}

// HashFromBytes copies b into a Hash. b must be exactly HashLength bytes.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashLength {
		return h, fmt.Errorf("%w: got %d bytes, want %d", ErrInvalidHash, len(b), HashLength)
	}
	copy(h[:], b)
	return h, nil
}

// TruncatedHash returns the first HashLength bytes of SHA-256 over the
// concatenation of parts.
func TruncatedHash(parts ...[]byte) Hash {
	d := sha256.New()
	for _, p := range parts {
		d.Write(p)
	}
	var h Hash
	copy(h[:], d.Sum(nil))
	return h
}

// String hex-encodes the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// Pretty renders the hash the way it appears in log lines: <hex>.
func (h Hash) Pretty() string {
	return "<" + h.String() + ">"
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}
