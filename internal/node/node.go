// Package node wires identity, the routing table, the RPC service/client,
// the lookup engine, and the ledger into one running kadledger peer, plus
// the background republish/refresh loops that keep the overlay and value
// store alive (spec §2 "System Overview", §5 "Each node runs one event
// loop hosting: the RPC server, background republish/refresh timers, and
// per-lookup tasks").
package node

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"time"

	"github.com/kadledger/node/internal/config"
	"github.com/kadledger/node/internal/identity"
	"github.com/kadledger/node/internal/kaderr"
	"github.com/kadledger/node/internal/ledger"
	"github.com/kadledger/node/internal/lookup"
	"github.com/kadledger/node/internal/metrics"
	"github.com/kadledger/node/internal/routing"
	"github.com/kadledger/node/internal/rpc"
	"github.com/kadledger/node/pkg/logging"
)

// maxJoinAttempts bounds how many times a joining node retries JOIN with a
// fresh proof-of-work before giving up (spec §9(a)).
const maxJoinAttempts = 3

// ErrJoinRejected is the sentinel wrapped by Bootstrap when every JOIN
// attempt is rejected (spec §9(a): "retry with a fresh PoW up to 3 times,
// then fail").
var ErrJoinRejected = fmt.Errorf("node: bootstrap rejected JOIN after %d attempts", maxJoinAttempts)

// Node is one running peer.
type Node struct {
	cfg      config.Config
	identity identity.Identity
	self     routing.Contact

	table  *routing.Table
	store  *rpc.ValueStore
	client *rpc.Client
	svc    *rpc.Service
	engine *lookup.Engine

	chain *ledger.Chain
	pool  *ledger.Pool

	metrics *metrics.Registry
	log     *logging.Logger

	listener net.Listener

	originMu   sync.Mutex
	originKeys map[identity.Hash256][]byte // locally-originated values, kept for republish

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New builds a Node bound to address, starts its RPC service and
// background loops, and returns once the socket is listening. A failure
// to bind is the caller's cue to exit with code 2 (spec §6 "2 network
// bind failure").
func New(cfg config.Config, address string) (*Node, error) {
	id, err := identity.GenerateIdentity()
	if err != nil {
		return nil, fmt.Errorf("node: generate identity: %w", err)
	}

	l, err := net.Listen("tcp", address)
	if err != nil {
		return nil, fmt.Errorf("node: listen %s: %w", address, err)
	}

	self := routing.NewContact(id.ID, l.Addr().String(), id.Public)
	table := routing.NewTable(self)
	store := rpc.NewValueStore()
	m := metrics.New()
	log := logging.New(&logging.Config{Level: cfg.LogLevel}).Component("node")

	client := rpc.NewClient(id, self, cfg.RPCTimeout, m, log)
	client.SetTable(table)
	svc := rpc.NewService(self, table, store, cfg.K, cfg.Difficulty, cfg.PendingRPCLimit, m, log)
	engine := lookup.NewEngine(self, table, client, cfg.K, cfg.Alpha, cfg.LookupTimeout, m, log)

	pool := ledger.NewPool()
	chain := ledger.NewChain(ledger.NewGenesisBlock(0), pool)

	table.SetPingFunc(func(c routing.Contact) bool {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.RPCTimeout)
		defer cancel()
		return client.Ping(ctx, c)
	})

	n := &Node{
		cfg: cfg, identity: id, self: self,
		table: table, store: store, client: client, svc: svc, engine: engine,
		chain: chain, pool: pool,
		metrics: m, log: log,
		listener:   l,
		originKeys: make(map[identity.Hash256][]byte),
		stop:       make(chan struct{}),
	}
	svc.OnShutdown(n.initiateShutdown)

	n.wg.Add(1)
	go func() {
		defer n.wg.Done()
		if err := svc.Serve(l); err != nil {
			n.log.Debug("rpc service stopped", "error", err)
		}
	}()
	n.startBackground()

	return n, nil
}

// Self returns the node's own contact.
func (n *Node) Self() routing.Contact { return n.self }

// Address is the node's listening address, suitable for another peer's
// bootstrap argument.
func (n *Node) Address() string { return n.self.Address }

// Table, Chain, Pool and Metrics expose the underlying subsystems for
// wiring into a CLI or for tests that need to inspect node state directly.
func (n *Node) Table() *routing.Table    { return n.table }
func (n *Node) Chain() *ledger.Chain     { return n.chain }
func (n *Node) Pool() *ledger.Pool       { return n.pool }
func (n *Node) Metrics() *metrics.Registry { return n.metrics }

// Bootstrap joins the overlay through a known peer at bootstrapAddr,
// retrying with a fresh proof-of-work up to maxJoinAttempts times if
// rejected (spec §9(a)). The caller decides whether to invoke Bootstrap at
// all: a self-bootstrapping node (self_port == bootstrap_port, spec §6)
// never calls it.
func (n *Node) Bootstrap(ctx context.Context, bootstrapAddr string) error {
	seed := routing.Contact{Address: bootstrapAddr}

	var lastErr error
	for attempt := 1; attempt <= maxJoinAttempts; attempt++ {
		nonce, digest := identity.ProofOfWork(n.identity.Public.Bytes(), n.cfg.Difficulty)

		accepted, responder, closest, err := n.client.Join(ctx, seed, nonce, digest)
		if err != nil {
			lastErr = err
			n.log.Warn("JOIN attempt failed", "attempt", attempt, "error", err)
			continue
		}
		if !accepted {
			lastErr = fmt.Errorf("node: JOIN rejected by %s", bootstrapAddr)
			n.log.Warn("JOIN rejected, retrying with fresh proof-of-work", "attempt", attempt)
			continue
		}

		n.table.Touch(responder)
		for _, c := range closest {
			n.table.Touch(c)
		}
		// Canonical join step: an iterative lookup for our own id fills in
		// the table beyond the bootstrap's immediate neighbors.
		n.engine.FindNode(ctx, n.self.ID)
		return nil
	}

	if lastErr == nil {
		return ErrJoinRejected
	}
	return fmt.Errorf("%w: %v", ErrJoinRejected, lastErr)
}

// Done returns a channel closed once the node has begun shutting down,
// whether via Close, an authenticated SHUTDOWN RPC, or a future
// initiateShutdown caller. cmd/kadnode selects on it alongside OS signals.
func (n *Node) Done() <-chan struct{} { return n.stop }

// Close stops the background loops and the RPC listener, and waits for
// both to exit.
func (n *Node) Close() error {
	n.initiateShutdown()
	n.wg.Wait()
	return nil
}

func (n *Node) initiateShutdown() {
	n.stopOnce.Do(func() {
		close(n.stop)
		if n.listener != nil {
			n.listener.Close()
		}
	})
}

// PublishValue stores value locally under its content hash and replicates
// it to the k closest responsive contacts (spec §4.4 "Store publication").
// signed must be true for any value that decodes as a ledger.Block (spec
// §4.5 "[ADD] Signed STORE for blocks"); PublishBlock sets this
// automatically.
func (n *Node) PublishValue(ctx context.Context, value []byte, signed bool) (identity.Hash256, error) {
	key := identity.Hash(value)
	n.store.Put(key, value, n.self.ID)
	n.trackOrigin(key, value)
	return key, n.engine.PublishStore(ctx, key, value, signed)
}

// Lookup resolves key, preferring the local value store and falling back
// to an overlay FIND_VALUE.
func (n *Node) Lookup(ctx context.Context, key identity.Hash256) ([]byte, bool) {
	if v, ok := n.store.Get(key); ok {
		return v, true
	}
	value, _, found := n.engine.FindValue(ctx, key)
	return value, found
}

// SubmitTransaction verifies and pools tx (spec §4.5 "Transaction
// submission"), then disseminates it across the overlay under its content
// hash (spec §4.5 "Dissemination").
func (n *Node) SubmitTransaction(ctx context.Context, tx ledger.Transaction) error {
	if n.chain.HasTransaction(tx.ID) {
		return kaderr.New("node.SubmitTransaction", kaderr.KindLedger, fmt.Errorf("transaction %s already confirmed", tx.ID.String()))
	}
	if err := n.pool.Submit(tx); err != nil {
		return err
	}
	value, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("node: encode transaction: %w", err)
	}
	_, err = n.PublishValue(ctx, value, false)
	return err
}

// ProduceBlock builds a block over the pool's current contents atop the
// best tip, appends it locally, and disseminates it (spec §4.5 "Chain
// append", "Dissemination"). Block production policy (when to mine, which
// transactions to include) is otherwise out of scope.
func (n *Node) ProduceBlock(ctx context.Context, timestamp int64) (ledger.Block, error) {
	txs := n.pool.Snapshot()
	tip := n.chain.BestTip()

	b := ledger.Block{
		Index:        tip.Index + 1,
		PrevHash:     tip.Hash(),
		Timestamp:    timestamp,
		Transactions: txs,
	}
	b.MerkleRoot = b.ComputeMerkleRoot()

	if _, err := n.appendBlock(b); err != nil {
		return ledger.Block{}, err
	}
	if err := n.PublishBlock(ctx, b); err != nil {
		n.log.Warn("block publication had failures", "block", b.Index, "error", err)
	}
	return b, nil
}

// PublishBlock signs and replicates b under its content hash.
func (n *Node) PublishBlock(ctx context.Context, b ledger.Block) error {
	value, err := ledger.EncodeForStore(b)
	if err != nil {
		return fmt.Errorf("node: encode block for store: %w", err)
	}
	key := identity.Hash(value)
	n.store.Put(key, value, n.self.ID)
	n.trackOrigin(key, value)
	return n.engine.PublishStore(ctx, key, value, true)
}

// IngestBlock validates and appends a block learned from the overlay,
// walking back via FIND_VALUE to fetch any ancestor this node doesn't
// already know (spec §4.5 "Dissemination": "peers learning of an unknown
// prev_hash issue FIND_VALUE(prev_hash) to walk back the chain").
func (n *Node) IngestBlock(ctx context.Context, b ledger.Block) (reorged bool, err error) {
	if _, known := n.chain.Block(b.Hash()); known {
		return false, nil
	}
	if _, known := n.chain.Block(b.PrevHash); !known && !b.PrevHash.IsZero() {
		parentValue, _, found := n.engine.FindValue(ctx, b.PrevHash)
		if !found {
			return false, kaderr.New("node.IngestBlock", kaderr.KindLookupTimeout,
				fmt.Errorf("unknown parent %s for block %d, and not found on overlay", b.PrevHash.String(), b.Index))
		}
		parent, ok := ledger.DecodeFromStore(parentValue)
		if !ok {
			return false, kaderr.New("node.IngestBlock", kaderr.KindLedger,
				fmt.Errorf("value at %s is not a block", b.PrevHash.String()))
		}
		if _, err := n.IngestBlock(ctx, parent); err != nil {
			return false, err
		}
	}
	return n.appendBlock(b)
}

// appendBlock wraps chain.Append, counting a metrics reorg only for a
// genuine branch switch (the new tip's parent wasn't already the best
// tip), not every block that simply extends the chain in place.
func (n *Node) appendBlock(b ledger.Block) (reorged bool, err error) {
	prevTip := n.chain.BestTip().Hash()
	reorged, err = n.chain.Append(b)
	if err != nil {
		return false, err
	}
	if reorged && b.PrevHash != prevTip {
		n.metrics.Reorgs.Inc(1)
	}
	return reorged, nil
}

func (n *Node) trackOrigin(key identity.Hash256, value []byte) {
	n.originMu.Lock()
	n.originKeys[key] = append([]byte(nil), value...)
	n.originMu.Unlock()
}

func (n *Node) startBackground() {
	n.wg.Add(2)
	go n.republishLoop()
	go n.refreshLoop()
}

// republishLoop reissues STORE for every locally-originated value every
// T_republish, and expires anything past T_expire (spec §3 "Value
// record", §4.4 "Store publication").
func (n *Node) republishLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.RepublishInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.republishAll()
		}
	}
}

func (n *Node) republishAll() {
	expired := n.store.Expire(n.cfg.ExpireInterval)
	if expired > 0 {
		n.log.Debug("expired stale values", "count", expired)
	}

	n.originMu.Lock()
	origins := make(map[identity.Hash256][]byte, len(n.originKeys))
	for k, v := range n.originKeys {
		origins[k] = v
	}
	n.originMu.Unlock()

	for key, value := range origins {
		_, isBlock := ledger.DecodeFromStore(value)
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.LookupTimeout)
		if err := n.engine.PublishStore(ctx, key, value, isBlock); err != nil {
			n.log.Warn("republish had failures", "key", key.String(), "error", err)
		}
		cancel()
	}
}

// refreshLoop issues a FIND_NODE against any bucket that has gone
// T_refresh without activity (spec §4.4 "Bucket refresh").
func (n *Node) refreshLoop() {
	defer n.wg.Done()
	ticker := time.NewTicker(n.cfg.RefreshInterval)
	defer ticker.Stop()
	for {
		select {
		case <-n.stop:
			return
		case <-ticker.C:
			n.refreshStaleBuckets()
		}
	}
}

func (n *Node) refreshStaleBuckets() {
	for _, idx := range n.table.StaleBuckets(n.cfg.RefreshInterval) {
		ctx, cancel := context.WithTimeout(context.Background(), n.cfg.LookupTimeout)
		n.engine.RefreshBucket(ctx, idx, randomByte)
		cancel()
	}
}

func randomByte() byte { return byte(rand.Intn(256)) }
