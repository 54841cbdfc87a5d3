package ledger

import (
	"fmt"
	"math/big"

	"github.com/kadledger/node/internal/identity"
)

// node tracks chain-wide bookkeeping for one stored block, so that best-tip
// selection and reorg don't need to re-walk the whole chain on every append.
type node struct {
	block      Block
	depth      uint64  // genesis = 0
	cumulative *big.Int // sum of the hash values of this block and all its ancestors, used for tie-break
}

// Chain is the replicated, append-only blockchain (spec §3: "Blockchain").
// It holds every known block (including side branches) plus a pointer to
// the current best chain's tip.
type Chain struct {
	genesis Block

	byHash map[identity.Hash256]*node
	pool   *Pool

	bestTip identity.Hash256
}

// NewChain creates a chain seeded with genesis and backed by pool for
// reorg bookkeeping (spec §4.5 "Chain append").
func NewChain(genesis Block, pool *Pool) *Chain {
	c := &Chain{
		genesis: genesis,
		byHash:  make(map[identity.Hash256]*node),
		pool:    pool,
	}
	h := genesis.Hash()
	c.byHash[h] = &node{block: genesis, depth: 0, cumulative: hashToBig(h)}
	c.bestTip = h
	return c
}

func hashToBig(h identity.Hash256) *big.Int {
	return new(big.Int).SetBytes(h[:])
}

// BestTip returns the current best chain's tip block.
func (c *Chain) BestTip() Block {
	return c.byHash[c.bestTip].block
}

// Height returns the best chain's height (genesis = 0).
func (c *Chain) Height() uint64 {
	return c.byHash[c.bestTip].depth
}

// Block looks up any known block (best chain or side branch) by hash.
func (c *Chain) Block(hash identity.Hash256) (Block, bool) {
	n, ok := c.byHash[hash]
	if !ok {
		return Block{}, false
	}
	return n.block, true
}

// Validate checks the block predicates of spec §4.5 "Block validation"
// against its claimed parent.
func Validate(b Block, prev Block) error {
	if b.Index != prev.Index+1 {
		return fmt.Errorf("ledger: block index %d does not follow parent index %d", b.Index, prev.Index)
	}
	if b.PrevHash != prev.Hash() {
		return fmt.Errorf("ledger: block prev_hash does not match parent hash")
	}
	if b.MerkleRoot != b.ComputeMerkleRoot() {
		return fmt.Errorf("ledger: merkle_root does not match transactions")
	}
	seen := make(map[identity.Hash256]struct{}, len(b.Transactions))
	for _, tx := range b.Transactions {
		if _, dup := seen[tx.ID]; dup {
			return fmt.Errorf("ledger: duplicate transaction %s within block", tx.ID.String())
		}
		seen[tx.ID] = struct{}{}
		if err := tx.Verify(); err != nil {
			return fmt.Errorf("ledger: invalid transaction in block: %w", err)
		}
	}
	if b.Index > 0 && b.Timestamp <= prev.Timestamp {
		return fmt.Errorf("ledger: block timestamp does not strictly increase")
	}
	return nil
}

// Append validates and inserts b, extending the best chain or a known side
// branch (spec §4.5 "Chain append"). If the branch b extends becomes
// longer than the best chain (or ties with a lower cumulative block-hash),
// Append performs a reorg and returns true.
func (c *Chain) Append(b Block) (reorged bool, err error) {
	parent, ok := c.byHash[b.PrevHash]
	if !ok {
		return false, fmt.Errorf("ledger: unknown parent %s for block %d", b.PrevHash.String(), b.Index)
	}
	if err := Validate(b, parent.block); err != nil {
		return false, err
	}

	h := b.Hash()
	if _, exists := c.byHash[h]; exists {
		return false, nil // already known; not an error
	}

	n := &node{
		block:      b,
		depth:      parent.depth + 1,
		cumulative: new(big.Int).Add(parent.cumulative, hashToBig(h)),
	}
	c.byHash[h] = n

	best := c.byHash[c.bestTip]
	if n.depth > best.depth || (n.depth == best.depth && n.cumulative.Cmp(best.cumulative) < 0) {
		c.reorgTo(h)
		return true, nil
	}
	return false, nil
}

// reorgTo switches best_tip to newTip, walking both chains back to their
// fork point and restoring/pruning pool transactions accordingly
// (spec §4.5 reorg steps 1-4).
func (c *Chain) reorgTo(newTip identity.Hash256) {
	oldPath := c.pathToGenesis(c.bestTip)
	newPath := c.pathToGenesis(newTip)

	oldSet := make(map[identity.Hash256]struct{}, len(oldPath))
	for _, h := range oldPath {
		oldSet[h] = struct{}{}
	}
	newSet := make(map[identity.Hash256]struct{}, len(newPath))
	for _, h := range newPath {
		newSet[h] = struct{}{}
	}

	// Blocks only on the old path are abandoned: return their txs.
	for _, h := range oldPath {
		if _, stillPresent := newSet[h]; stillPresent {
			continue
		}
		for _, tx := range c.byHash[h].block.Transactions {
			c.pool.Reinsert(tx)
		}
	}
	// Blocks only on the new path are adopted: remove their txs from pool.
	for _, h := range newPath {
		if _, wasPresent := oldSet[h]; wasPresent {
			continue
		}
		for _, tx := range c.byHash[h].block.Transactions {
			c.pool.Remove(tx.ID)
		}
	}

	c.bestTip = newTip
}

// pathToGenesis returns the hashes from tip back to genesis, inclusive,
// ordered tip-first.
func (c *Chain) pathToGenesis(tip identity.Hash256) []identity.Hash256 {
	var path []identity.Hash256
	h := tip
	for {
		path = append(path, h)
		n := c.byHash[h]
		if n.block.Index == 0 {
			return path
		}
		h = n.block.PrevHash
	}
}

// HasTransaction reports whether id appears in any block of the best
// chain, used to reject duplicate submissions (spec §4.5 "Transaction
// submission").
func (c *Chain) HasTransaction(id identity.Hash256) bool {
	for _, h := range c.pathToGenesis(c.bestTip) {
		for _, tx := range c.byHash[h].block.Transactions {
			if tx.ID == id {
				return true
			}
		}
	}
	return false
}
