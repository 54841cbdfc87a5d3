package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGenerateIdentityBindsNodeID(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)
	require.Equal(t, id.Public.NodeID(), id.ID)
	require.False(t, id.ID.IsZero())
}

func TestSignVerifyRoundTrip(t *testing.T) {
	id, err := GenerateIdentity()
	require.NoError(t, err)

	msg := []byte("auction payload")
	sig := id.Private.Sign(msg)
	require.True(t, id.Public.Verify(msg, sig))

	other, err := GenerateIdentity()
	require.NoError(t, err)
	require.False(t, other.Public.Verify(msg, sig), "wrong key must not verify")

	require.False(t, id.Public.Verify([]byte("tampered"), sig), "tampered message must not verify")
}

func TestDistanceAndBucketIndex(t *testing.T) {
	var a, b ID
	a[0] = 0xFF
	b[0] = 0x7F // differs in the top bit only

	d := a.Distance(b)
	require.Equal(t, byte(0x80), d[0])
	require.Equal(t, 0, BucketIndex(a, b))

	require.Equal(t, -1, BucketIndex(a, a))
}

func TestProofOfWork(t *testing.T) {
	pub := []byte("test-pubkey")
	nonce, digest := ProofOfWork(pub, 8)
	require.True(t, digest.LeadingZeroBits() >= 8)
	require.True(t, VerifyProofOfWork(pub, nonce, 8))
	require.False(t, VerifyProofOfWork(pub, nonce+1, 24))
}

func TestHashDeterministic(t *testing.T) {
	h1 := Hash([]byte("a"), []byte("b"))
	h2 := Hash([]byte("a"), []byte("b"))
	require.Equal(t, h1, h2)

	h3 := Hash([]byte("ab"))
	require.NotEqual(t, h1, h3)
}
