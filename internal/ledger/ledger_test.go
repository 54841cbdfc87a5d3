package ledger

import (
	"math/big"
	"testing"
	"time"

	"github.com/kadledger/node/internal/identity"
	"github.com/stretchr/testify/require"
)

func mustIdentity(t *testing.T) identity.Identity {
	t.Helper()
	id, err := identity.GenerateIdentity()
	require.NoError(t, err)
	return id
}

func mineBlock(t *testing.T, prev Block, txs []Transaction, ts int64) Block {
	t.Helper()
	b := Block{
		Index:        prev.Index + 1,
		PrevHash:     prev.Hash(),
		Timestamp:    ts,
		Transactions: txs,
	}
	b.MerkleRoot = b.ComputeMerkleRoot()
	return b
}

func TestTransactionRoundTrip(t *testing.T) {
	id := mustIdentity(t)
	tx := NewTransaction(id.Private, id.Public, []byte("bid:1"), 100)
	require.NoError(t, tx.Verify())
}

func TestPoolRejectsDuplicate(t *testing.T) {
	id := mustIdentity(t)
	pool := NewPool()
	tx := NewTransaction(id.Private, id.Public, []byte("bid:1"), 100)
	require.NoError(t, pool.Submit(tx))
	require.Error(t, pool.Submit(tx))
	require.Equal(t, 1, pool.Len())
}

func TestPoolRejectsBadSignature(t *testing.T) {
	id := mustIdentity(t)
	pool := NewPool()
	tx := NewTransaction(id.Private, id.Public, []byte("bid:1"), 100)
	tx.Payload = []byte("tampered")
	require.Error(t, pool.Submit(tx))
}

func TestBlockValidationChecksMerkleAndParent(t *testing.T) {
	id := mustIdentity(t)
	genesis := NewGenesisBlock(0)

	tx := NewTransaction(id.Private, id.Public, []byte("create:1"), 1)
	b1 := mineBlock(t, genesis, []Transaction{tx}, 10)
	require.NoError(t, Validate(b1, genesis))

	bad := b1
	bad.MerkleRoot = identity.Hash256{}
	require.Error(t, Validate(bad, genesis))

	badIdx := b1
	badIdx.Index = 5
	require.Error(t, Validate(badIdx, genesis))

	badTime := b1
	badTime.Timestamp = genesis.Timestamp
	require.Error(t, Validate(badTime, genesis))
}

func TestChainAppendExtendsBestChain(t *testing.T) {
	id := mustIdentity(t)
	genesis := NewGenesisBlock(0)
	pool := NewPool()
	chain := NewChain(genesis, pool)

	tx := NewTransaction(id.Private, id.Public, []byte("create:1"), 1)
	require.NoError(t, pool.Submit(tx))

	b1 := mineBlock(t, genesis, []Transaction{tx}, 10)
	reorged, err := chain.Append(b1)
	require.NoError(t, err)
	require.True(t, reorged)
	require.Equal(t, b1.Hash(), chain.BestTip().Hash())
	require.Equal(t, uint64(1), chain.Height())
}

func TestChainAppendRejectsUnknownParent(t *testing.T) {
	id := mustIdentity(t)
	genesis := NewGenesisBlock(0)
	chain := NewChain(genesis, NewPool())

	tx := NewTransaction(id.Private, id.Public, []byte("create:1"), 1)
	orphan := Block{Index: 5, PrevHash: identity.Hash([]byte("nope")), Timestamp: 1, Transactions: []Transaction{tx}}
	orphan.MerkleRoot = orphan.ComputeMerkleRoot()

	_, err := chain.Append(orphan)
	require.Error(t, err)
}

// TestReorgRestoresAbandonedTransactions implements spec §8 scenario 6:
// given best chain [G,B1,B2], a longer valid side branch [G,B1',B2',B3']
// arrives; once B3' lands, best_tip = B3' and B2's unique transactions are
// returned to the pool.
func TestReorgRestoresAbandonedTransactions(t *testing.T) {
	id := mustIdentity(t)
	genesis := NewGenesisBlock(0)
	pool := NewPool()
	chain := NewChain(genesis, pool)

	txB1 := NewTransaction(id.Private, id.Public, []byte("create:1"), 1)
	require.NoError(t, pool.Submit(txB1))
	b1 := mineBlock(t, genesis, []Transaction{txB1}, 10)
	_, err := chain.Append(b1)
	require.NoError(t, err)
	pool.Remove(txB1.ID)

	txB2 := NewTransaction(id.Private, id.Public, []byte("bid:1:10"), 2)
	require.NoError(t, pool.Submit(txB2))
	b2 := mineBlock(t, b1, []Transaction{txB2}, 20)
	_, err = chain.Append(b2)
	require.NoError(t, err)
	pool.Remove(txB2.ID)
	require.Equal(t, b2.Hash(), chain.BestTip().Hash())

	// Side branch from genesis: B1', B2', B3' — one block longer.
	txB1p := NewTransaction(id.Private, id.Public, []byte("create:1:alt"), 1)
	b1p := mineBlock(t, genesis, []Transaction{txB1p}, 11)
	reorged, err := chain.Append(b1p)
	require.NoError(t, err)
	require.False(t, reorged, "shorter/equal branch must not reorg yet")

	// B2' ties B2 on length, so it wins only with a lower cumulative
	// block-hash (both branches share genesis).
	b2p := mineBlock(t, b1p, nil, 21)
	sideSum := new(big.Int).Add(hashToBig(b1p.Hash()), hashToBig(b2p.Hash()))
	bestSum := new(big.Int).Add(hashToBig(b1.Hash()), hashToBig(b2.Hash()))
	wantTieReorg := sideSum.Cmp(bestSum) < 0
	reorged, err = chain.Append(b2p)
	require.NoError(t, err)
	require.Equal(t, wantTieReorg, reorged, "equal-length branch reorgs only with a lower cumulative hash")

	b3p := mineBlock(t, b2p, nil, 31)
	reorged, err = chain.Append(b3p)
	require.NoError(t, err)
	require.True(t, reorged, "longer branch must become best chain")
	require.Equal(t, b3p.Hash(), chain.BestTip().Hash())

	require.True(t, pool.Has(txB2.ID), "B2's transaction must return to the pool")
	require.True(t, pool.Has(txB1.ID), "B1 is also abandoned (not an ancestor of the adopted branch) so its transaction returns too")
}

func TestHasTransactionWalksBestChain(t *testing.T) {
	id := mustIdentity(t)
	genesis := NewGenesisBlock(0)
	chain := NewChain(genesis, NewPool())

	tx := NewTransaction(id.Private, id.Public, []byte("create:1"), 1)
	b1 := mineBlock(t, genesis, []Transaction{tx}, 10)
	_, err := chain.Append(b1)
	require.NoError(t, err)

	require.True(t, chain.HasTransaction(tx.ID))
	require.False(t, chain.HasTransaction(identity.Hash([]byte("nope"))))
}

func TestGenesisZeroPrevHash(t *testing.T) {
	g := NewGenesisBlock(time.Now().UnixNano())
	require.True(t, g.PrevHash.IsZero())
}
