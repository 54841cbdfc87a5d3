package identity

import (
	"encoding/binary"
	"fmt"
)

// DefaultDifficulty is D from spec §4.1: 20 leading zero bits required of
// H(public_key || nonce) to admit a JOIN.
const DefaultDifficulty = 20

// ProofOfWork searches for a nonce such that H(pubkey || nonce) has at
// least difficulty leading zero bits (spec §4.1: proof_of_work). It is a
// plain incrementing-nonce search: one hash per attempt, no external
// solver.
func ProofOfWork(pubkey []byte, difficulty int) (nonce uint64, digest Hash256) {
	var nb [8]byte
	for n := uint64(0); ; n++ {
		binary.BigEndian.PutUint64(nb[:], n)
		h := Hash(pubkey, nb[:])
		if h.LeadingZeroBits() >= difficulty {
			return n, h
		}
	}
}

// VerifyProofOfWork checks that H(pubkey||nonce) meets difficulty; this is
// the single-hash verification side of §4.1.
func VerifyProofOfWork(pubkey []byte, nonce uint64, difficulty int) bool {
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	return Hash(pubkey, nb[:]).LeadingZeroBits() >= difficulty
}

// EncodeNonce renders a nonce as the fixed 8-byte big-endian wire form
// carried in JOIN's nonce field; these are the same bytes ProofOfWork
// hashes after the public key.
func EncodeNonce(nonce uint64) []byte {
	var nb [8]byte
	binary.BigEndian.PutUint64(nb[:], nonce)
	return nb[:]
}

// DecodeNonce parses the 8-byte wire form back into a nonce.
func DecodeNonce(b []byte) (uint64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("identity: nonce must be 8 bytes, got %d", len(b))
	}
	return binary.BigEndian.Uint64(b), nil
}
