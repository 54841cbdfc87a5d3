package ledger

import (
	"fmt"
	"sync"

	"github.com/kadledger/node/internal/identity"
)

// Pool is the set of currently unconfirmed transactions, keyed by id and
// insertion-time ordered (spec §3: "TransactionPool").
type Pool struct {
	mu     sync.RWMutex
	byID   map[identity.Hash256]Transaction
	order  []identity.Hash256 // insertion order
}

// NewPool creates an empty transaction pool.
func NewPool() *Pool {
	return &Pool{byID: make(map[identity.Hash256]Transaction)}
}

// Submit verifies and inserts tx, rejecting duplicates already in the pool
// (spec §4.5: "Transaction submission"). Pool has no chain view, so it
// does not check the best chain; node.SubmitTransaction does that with
// Chain.HasTransaction before calling Submit.
func (p *Pool) Submit(tx Transaction) error {
	if err := tx.Verify(); err != nil {
		return fmt.Errorf("ledger: reject transaction: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byID[tx.ID]; exists {
		return fmt.Errorf("ledger: duplicate transaction %s", tx.ID.String())
	}
	p.byID[tx.ID] = tx
	p.order = append(p.order, tx.ID)
	return nil
}

// Has reports whether id is currently in the pool.
func (p *Pool) Has(id identity.Hash256) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byID[id]
	return ok
}

// Get returns the pooled transaction for id, if present.
func (p *Pool) Get(id identity.Hash256) (Transaction, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	tx, ok := p.byID[id]
	return tx, ok
}

// Remove prunes a transaction, e.g. because it was included in a block on
// the best chain (spec §3 invariant: "entries referenced by any block in
// the current best chain are pruned").
func (p *Pool) Remove(id identity.Hash256) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.byID[id]; !ok {
		return
	}
	delete(p.byID, id)
	for i, o := range p.order {
		if o == id {
			p.order = append(p.order[:i], p.order[i+1:]...)
			break
		}
	}
}

// Reinsert returns a transaction to the pool (spec §4.5 reorg step 2:
// "re-insert transactions from abandoned blocks into the pool"). It is a
// no-op if the transaction is already pooled.
func (p *Pool) Reinsert(tx Transaction) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, exists := p.byID[tx.ID]; exists {
		return
	}
	p.byID[tx.ID] = tx
	p.order = append(p.order, tx.ID)
}

// Snapshot returns all pooled transactions in insertion order.
func (p *Pool) Snapshot() []Transaction {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]Transaction, 0, len(p.order))
	for _, id := range p.order {
		out = append(out, p.byID[id])
	}
	return out
}

// Len returns the number of pooled transactions.
func (p *Pool) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.order)
}
