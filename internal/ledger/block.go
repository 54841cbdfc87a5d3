package ledger

import (
	"encoding/binary"
	"encoding/json"

	"github.com/kadledger/node/internal/identity"
	"github.com/kadledger/node/internal/ledger/merkle"
)

// Block is an append-only unit of the chain (spec §3: "Block").
type Block struct {
	Index        uint64
	PrevHash     identity.Hash256
	Timestamp    int64 // unix nanoseconds, strictly increasing (spec §4.5 (f))
	MerkleRoot   identity.Hash256
	Nonce        uint64
	Transactions []Transaction
}

// NewGenesisBlock builds block 0, whose prev_hash is the zero hash
// (spec §3: "genesis has prev_hash = 0^256").
func NewGenesisBlock(timestamp int64) Block {
	return Block{
		Index:        0,
		PrevHash:     identity.Hash256{},
		Timestamp:    timestamp,
		MerkleRoot:   identity.Hash256{},
		Transactions: nil,
	}
}

// ComputeMerkleRoot derives the Merkle root over this block's
// transactions (spec §4.5).
func (b Block) ComputeMerkleRoot() identity.Hash256 {
	leaves := make([]identity.Hash256, len(b.Transactions))
	for i, tx := range b.Transactions {
		leaves[i] = tx.LeafHash()
	}
	return merkle.Root(leaves)
}

// headerBytes is the preimage of Hash(): index || prev_hash || timestamp
// || merkle_root || nonce (spec §3: "block_hash = H(...)").
func (b Block) headerBytes() []byte {
	buf := make([]byte, 0, 8+identity.HashSize+8+identity.HashSize+8)
	var tmp [8]byte

	binary.BigEndian.PutUint64(tmp[:], b.Index)
	buf = append(buf, tmp[:]...)

	buf = append(buf, b.PrevHash[:]...)

	binary.BigEndian.PutUint64(tmp[:], uint64(b.Timestamp))
	buf = append(buf, tmp[:]...)

	buf = append(buf, b.MerkleRoot[:]...)

	binary.BigEndian.PutUint64(tmp[:], b.Nonce)
	buf = append(buf, tmp[:]...)

	return buf
}

// Hash computes block_hash (spec §3).
func (b Block) Hash() identity.Hash256 {
	return identity.Hash(b.headerBytes())
}

// TxIDs returns the ordered set of transaction ids this block includes.
func (b Block) TxIDs() []identity.Hash256 {
	ids := make([]identity.Hash256, len(b.Transactions))
	for i, tx := range b.Transactions {
		ids[i] = tx.ID
	}
	return ids
}

// storeEnvelope tags a value-store payload as carrying a Block, the same
// tagged-encoding convention used for auction payloads, so a STORE
// handler can tell a block apart from an arbitrary byte value without
// guessing at JSON shape.
type storeEnvelope struct {
	Kind  string `json:"kind"`
	Block Block  `json:"block"`
}

const blockStoreKind = "ledger.Block"

// EncodeForStore wraps b for transmission as a STORE value (spec §4.5
// "[ADD] Signed STORE for blocks").
func EncodeForStore(b Block) ([]byte, error) {
	return json.Marshal(storeEnvelope{Kind: blockStoreKind, Block: b})
}

// DecodeFromStore reports whether value is a block-tagged STORE payload,
// returning the decoded Block when it is.
func DecodeFromStore(value []byte) (Block, bool) {
	var env storeEnvelope
	if err := json.Unmarshal(value, &env); err != nil {
		return Block{}, false
	}
	if env.Kind != blockStoreKind {
		return Block{}, false
	}
	return env.Block, true
}
