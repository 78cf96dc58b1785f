// Package common holds the small value types shared across the
// synchronization core: block hashes, peer identifiers, and the
// helpers to print and compare them.
package common

import (
	"encoding/hex"
	"fmt"
)

// HashLength is the fixed size of a block hash.
const HashLength = 32

// Hash is a 32-byte content hash, used for block and header identity.
type Hash [HashLength]byte

// BytesToHash right-aligns b into a Hash, truncating from the left if
// b is longer than HashLength.
func BytesToHash(b []byte) Hash {
	var h Hash
	if len(b) > HashLength {
		b = b[len(b)-HashLength:]
	}
	copy(h[HashLength-len(b):], b)
	return h
}

// IsZero reports whether h is the zero hash.
func (h Hash) IsZero() bool {
	return h == Hash{}
}

// Hex returns the 0x-prefixed hex encoding of h.
func (h Hash) Hex() string {
	return "0x" + hex.EncodeToString(h[:])
}

func (h Hash) String() string {
	return h.Hex()
}

// Short returns an abbreviated form of h suitable for log lines.
func (h Hash) Short() string {
	s := h.Hex()
	if len(s) <= 10 {
		return s
	}
	return fmt.Sprintf("%s..%s", s[:6], s[len(s)-4:])
}

// PeerID identifies a peer connection. It is opaque to the
// synchronization core and compared only by equality.
type PeerID string

func (id PeerID) String() string { return string(id) }
