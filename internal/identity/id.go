// Package identity implements node identifiers, keys, content hashing and
// the join proof-of-work used by the overlay (spec §4.1).
package identity

import (
	"encoding/hex"
	"fmt"
	"math/bits"
)

// IDLength is the width of a NodeId in bytes (160 bits).
const IDLength = 20

// NumBuckets is the number of k-buckets a routing table holds, one per bit
// of the identifier space.
const NumBuckets = IDLength * 8

// ID is a 160-bit opaque node/key identifier.
type ID [IDLength]byte

// ParseID decodes a 40-character hex string into an ID.
func ParseID(s string) (ID, error) {
	var id ID
	raw, err := hex.DecodeString(s)
	if err != nil {
		return id, fmt.Errorf("identity: bad hex id: %w", err)
	}
	if len(raw) != IDLength {
		return id, fmt.Errorf("identity: id must be %d bytes, got %d", IDLength, len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// String hex-encodes the ID.
func (id ID) String() string {
	return hex.EncodeToString(id[:])
}

// Equal reports byte-wise equality.
func (id ID) Equal(other ID) bool {
	return id == other
}

// Less orders IDs lexicographically, used to break XOR-distance ties.
func (id ID) Less(other ID) bool {
	for i := range id {
		if id[i] != other[i] {
			return id[i] < other[i]
		}
	}
	return false
}

// Distance computes the XOR metric d(id, other).
func (id ID) Distance(other ID) ID {
	var d ID
	for i := range id {
		d[i] = id[i] ^ other[i]
	}
	return d
}

// BucketIndex returns bucket_index(self, peer) = 160 - 1 - floor(log2(d)),
// i.e. the position (0-indexed from the most significant bit) of the
// highest differing bit between self and peer. Returns -1 if self == peer.
func BucketIndex(self, peer ID) int {
	d := self.Distance(peer)
	for i, b := range d {
		if b == 0 {
			continue
		}
		// bits.LeadingZeros8 counts zero bits before the first set bit.
		bitPos := i*8 + bits.LeadingZeros8(b)
		return bitPos
	}
	return -1
}

// IsZero reports whether id is the all-zero identifier.
func (id ID) IsZero() bool {
	return id == ID{}
}
