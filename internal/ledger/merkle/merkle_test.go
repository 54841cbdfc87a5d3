package merkle

import (
	"testing"

	"github.com/kadledger/node/internal/identity"
	"github.com/stretchr/testify/require"
)

func leaf(s string) identity.Hash256 {
	return identity.Hash([]byte(s))
}

func TestRootEmpty(t *testing.T) {
	require.Equal(t, identity.Hash256{}, Root(nil))
}

func TestRootDeterministic(t *testing.T) {
	leaves := []identity.Hash256{leaf("a"), leaf("b"), leaf("c")}
	r1 := Root(leaves)
	r2 := Root(leaves)
	require.Equal(t, r1, r2)
}

func TestRootChangesWithLeaf(t *testing.T) {
	l1 := []identity.Hash256{leaf("a"), leaf("b")}
	l2 := []identity.Hash256{leaf("a"), leaf("x")}
	require.NotEqual(t, Root(l1), Root(l2))
}

func TestRootOddDuplicatesLast(t *testing.T) {
	odd := []identity.Hash256{leaf("a"), leaf("b"), leaf("c")}
	// manual: pair(a,b), pair(c,c) -> pair of those two
	h1 := identity.Hash(odd[0][:], odd[1][:])
	h2 := identity.Hash(odd[2][:], odd[2][:])
	want := identity.Hash(h1[:], h2[:])
	require.Equal(t, want, Root(odd))
}

func TestInclusionProof(t *testing.T) {
	leaves := []identity.Hash256{leaf("a"), leaf("b"), leaf("c"), leaf("d"), leaf("e")}
	tree := New(leaves)
	root := tree.Root()
	require.Equal(t, Root(leaves), root)

	for i, l := range leaves {
		proof, ok := tree.Prove(i)
		require.True(t, ok)
		require.True(t, Verify(l, proof, root), "leaf %d must verify", i)
	}
}

func TestInclusionProofRejectsWrongLeaf(t *testing.T) {
	leaves := []identity.Hash256{leaf("a"), leaf("b"), leaf("c")}
	tree := New(leaves)
	proof, ok := tree.Prove(1)
	require.True(t, ok)
	require.False(t, Verify(leaf("not-b"), proof, tree.Root()))
}

func TestProveOutOfRange(t *testing.T) {
	tree := New([]identity.Hash256{leaf("a")})
	_, ok := tree.Prove(5)
	require.False(t, ok)
}
