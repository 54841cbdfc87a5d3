package identity

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

// HashSize is the width, in bytes, of the content hash used throughout the
// ledger and overlay (spec §4.1: "256-bit digest").
const HashSize = 32

// Hash256 is a 256-bit content digest.
type Hash256 [HashSize]byte

// Hash computes the Keccak-256 digest of the concatenation of parts.
func Hash(parts ...[]byte) Hash256 {
	h := sha3.NewLegacyKeccak256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash256
	copy(out[:], h.Sum(nil))
	return out
}

// ParseHash decodes a 64-character hex string into a Hash256, the wire
// form of keys and block/transaction hashes (spec §6).
func ParseHash(s string) (Hash256, error) {
	var h Hash256
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("identity: bad hex hash: %w", err)
	}
	if len(raw) != HashSize {
		return h, fmt.Errorf("identity: hash must be %d bytes, got %d", HashSize, len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

// String hex-encodes the digest.
func (h Hash256) String() string {
	return hex.EncodeToString(h[:])
}

// IsZero reports whether h is the all-zero digest (genesis prev_hash, §3).
func (h Hash256) IsZero() bool {
	return h == Hash256{}
}

// ToID truncates a 256-bit hash to its first (leftmost) 160 bits, used as a NodeId
// (spec §3: "NodeId = H(public_key) truncated to 160 bits").
func (h Hash256) ToID() ID {
	var id ID
	copy(id[:], h[:IDLength])
	return id
}

// LeadingZeroBits counts the number of leading zero bits in the digest,
// used to check proof-of-work difficulty (spec §4.1).
func (h Hash256) LeadingZeroBits() int {
	count := 0
	for _, b := range h {
		if b == 0 {
			count += 8
			continue
		}
		for mask := byte(0x80); mask != 0; mask >>= 1 {
			if b&mask != 0 {
				return count
			}
			count++
		}
	}
	return count
}
