// Package merkle builds Merkle trees over ordered leaf hashes
// (spec §3 "MerkleTree", §4.5).
package merkle

import (
	"github.com/kadledger/node/internal/identity"
)

// Tree is a Merkle tree built from an ordered list of leaf hashes.
type Tree struct {
	leaves [][]identity.Hash256 // level 0 = leaves, last level = [root]
}

// Root computes the Merkle root of an ordered list of leaf hashes
// (spec §4.5 "Merkle root"): if the list is empty, root is the zero hash;
// otherwise leaves are paired and hashed, duplicating the last node of an
// odd layer, until one hash remains.
func Root(leaves []identity.Hash256) identity.Hash256 {
	if len(leaves) == 0 {
		return identity.Hash256{}
	}
	layer := append([]identity.Hash256(nil), leaves...)
	for len(layer) > 1 {
		layer = nextLayer(layer)
	}
	return layer[0]
}

// New builds a full tree (every layer retained) so inclusion proofs can be
// derived without recomputation.
func New(leaves []identity.Hash256) *Tree {
	t := &Tree{}
	if len(leaves) == 0 {
		return t
	}
	layer := append([]identity.Hash256(nil), leaves...)
	t.leaves = append(t.leaves, layer)
	for len(layer) > 1 {
		layer = nextLayer(layer)
		t.leaves = append(t.leaves, layer)
	}
	return t
}

func nextLayer(layer []identity.Hash256) []identity.Hash256 {
	if len(layer)%2 == 1 {
		layer = append(layer, layer[len(layer)-1]) // duplicate the last node
	}
	next := make([]identity.Hash256, 0, len(layer)/2)
	for i := 0; i < len(layer); i += 2 {
		next = append(next, identity.Hash(layer[i][:], layer[i+1][:]))
	}
	return next
}

// Root returns the tree's root hash, or the zero hash for an empty tree.
func (t *Tree) Root() identity.Hash256 {
	if len(t.leaves) == 0 {
		return identity.Hash256{}
	}
	last := t.leaves[len(t.leaves)-1]
	return last[0]
}

// Proof is an inclusion proof: the leaf's index and the sibling hash at
// each layer needed to recompute the root (spec §3: "supports inclusion
// proofs (index + sibling path)").
type Proof struct {
	Index    int
	Siblings []identity.Hash256
}

// Prove builds an inclusion proof for the leaf at index.
func (t *Tree) Prove(index int) (Proof, bool) {
	if len(t.leaves) == 0 || index < 0 || index >= len(t.leaves[0]) {
		return Proof{}, false
	}
	proof := Proof{Index: index}
	idx := index
	for layer := 0; layer < len(t.leaves)-1; layer++ {
		level := t.leaves[layer]
		siblingIdx := idx ^ 1
		if siblingIdx >= len(level) {
			siblingIdx = idx // duplicated tail node is its own sibling
		}
		proof.Siblings = append(proof.Siblings, level[siblingIdx])
		idx /= 2
	}
	return proof, true
}

// Verify recomputes the root from a leaf and its proof, and reports
// whether it matches root.
func Verify(leaf identity.Hash256, proof Proof, root identity.Hash256) bool {
	h := leaf
	idx := proof.Index
	for _, sibling := range proof.Siblings {
		if idx%2 == 0 {
			h = identity.Hash(h[:], sibling[:])
		} else {
			h = identity.Hash(sibling[:], h[:])
		}
		idx /= 2
	}
	return h == root
}
