package identity

import (
	"fmt"

	"github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/decred/dcrd/dcrec/secp256k1/v4/ecdsa"
)

// PrivateKey is the long-lived signing key for a node.
type PrivateKey struct {
	key *secp256k1.PrivateKey
}

// PublicKey is the long-lived identity key; it verifies signatures and
// binds the NodeId (spec §3: "NodeId = H(public_key) truncated to 160
// bits").
type PublicKey struct {
	key *secp256k1.PublicKey
}

// Identity bundles a generated keypair with the NodeId it derives.
type Identity struct {
	Private PrivateKey
	Public  PublicKey
	ID      ID
}

// GenerateIdentity creates a fresh keypair and its derived NodeId
// (spec §4.1: generate_identity()).
func GenerateIdentity() (Identity, error) {
	priv, err := secp256k1.GeneratePrivateKey()
	if err != nil {
		return Identity{}, fmt.Errorf("identity: generate key: %w", err)
	}
	pub := PublicKey{key: priv.PubKey()}
	return Identity{
		Private: PrivateKey{key: priv},
		Public:  pub,
		ID:      pub.NodeID(),
	}, nil
}

// NodeID derives the NodeId bound to this public key.
func (pk PublicKey) NodeID() ID {
	return Hash(pk.Bytes()).ToID()
}

// Bytes returns the compressed SEC1 encoding of the public key.
func (pk PublicKey) Bytes() []byte {
	if pk.key == nil {
		return nil
	}
	return pk.key.SerializeCompressed()
}

// ParsePublicKey decodes a compressed SEC1 public key received over the
// wire (spec §6: Contact.public_key).
func ParsePublicKey(b []byte) (PublicKey, error) {
	key, err := secp256k1.ParsePubKey(b)
	if err != nil {
		return PublicKey{}, fmt.Errorf("identity: bad public key: %w", err)
	}
	return PublicKey{key: key}, nil
}

// Sign produces a deterministic ECDSA signature over message
// (spec §4.1: sign(private_key, message)).
func (priv PrivateKey) Sign(message []byte) []byte {
	digest := Hash(message)
	sig := ecdsa.Sign(priv.key, digest[:])
	return sig.Serialize()
}

// Verify checks sig over message against the public key
// (spec §4.1: verify(public_key, message, signature)).
func (pk PublicKey) Verify(message, sig []byte) bool {
	if pk.key == nil {
		return false
	}
	parsed, err := ecdsa.ParseDERSignature(sig)
	if err != nil {
		return false
	}
	digest := Hash(message)
	return parsed.Verify(digest[:], pk.key)
}
