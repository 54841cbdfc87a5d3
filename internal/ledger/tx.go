// Package ledger implements the transaction pool, Merkle-anchored blocks
// and chain validation (spec §3, §4.5).
package ledger

import (
	"encoding/binary"
	"fmt"

	"github.com/kadledger/node/internal/identity"
)

// Transaction is an auction-ledger transaction (spec §3: "Transaction").
// Payload is an opaque, already-encoded auction command (see
// internal/ledger/auction); validating its domain semantics is out of
// scope here (spec §1).
type Transaction struct {
	ID        identity.Hash256
	FromPub   identity.PublicKey
	Payload   []byte
	Timestamp int64 // unix nanoseconds
	Signature []byte
}

// signingBytes returns from_pubkey || payload || timestamp, the preimage
// of both the id and the signature (spec §3: "id = H(from_pubkey ||
// payload || timestamp)").
func signingBytes(fromPub []byte, payload []byte, timestamp int64) []byte {
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	buf := make([]byte, 0, len(fromPub)+len(payload)+8)
	buf = append(buf, fromPub...)
	buf = append(buf, payload...)
	buf = append(buf, ts[:]...)
	return buf
}

// NewTransaction builds and signs a transaction.
func NewTransaction(priv identity.PrivateKey, fromPub identity.PublicKey, payload []byte, timestamp int64) Transaction {
	preimage := signingBytes(fromPub.Bytes(), payload, timestamp)
	id := identity.Hash(preimage)
	sig := priv.Sign(preimage)
	return Transaction{
		ID:        id,
		FromPub:   fromPub,
		Payload:   payload,
		Timestamp: timestamp,
		Signature: sig,
	}
}

// Verify checks that Id is correctly derived and Signature verifies under
// FromPub (spec §3: "Signature verifies id under from_pubkey").
func (tx Transaction) Verify() error {
	preimage := signingBytes(tx.FromPub.Bytes(), tx.Payload, tx.Timestamp)
	wantID := identity.Hash(preimage)
	if tx.ID != wantID {
		return fmt.Errorf("ledger: transaction id mismatch: malformed id")
	}
	if !tx.FromPub.Verify(preimage, tx.Signature) {
		return fmt.Errorf("ledger: transaction signature invalid")
	}
	return nil
}

// LeafHash is the Merkle leaf for this transaction: its own content hash.
func (tx Transaction) LeafHash() identity.Hash256 {
	return tx.ID
}
