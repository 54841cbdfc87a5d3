// Package lookup implements the iterative, α-parallel Kademlia lookup
// (spec §4.4): FIND_NODE/FIND_VALUE convergence, store publication, and
// the bucket-refresh background loop.
package lookup

import (
	"context"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/kadledger/node/internal/identity"
	"github.com/kadledger/node/internal/metrics"
	"github.com/kadledger/node/internal/routing"
	"github.com/kadledger/node/internal/rpc"
	"github.com/kadledger/node/pkg/logging"
)

// Client is the subset of *rpc.Client the lookup engine depends on,
// narrowed for testability.
type Client interface {
	FindNode(ctx context.Context, peer routing.Contact, target identity.ID) ([]routing.Contact, error)
	FindValue(ctx context.Context, peer routing.Contact, key identity.Hash256) ([]byte, []routing.Contact, error)
	Store(ctx context.Context, peer routing.Contact, key identity.Hash256, value []byte, signed bool) error
}

var _ Client = (*rpc.Client)(nil)

// Engine drives iterative lookups against a local routing table and
// remote peers (spec §4.4).
type Engine struct {
	self   routing.Contact
	table  *routing.Table
	client Client

	k, alpha      int
	lookupTimeout time.Duration

	metrics *metrics.Registry
	log     *logging.Logger
}

// NewEngine builds an Engine. k is the result width, alpha the lookup
// concurrency (spec §4.4: "parallelism α = 3, result width k").
func NewEngine(self routing.Contact, table *routing.Table, client Client, k, alpha int, lookupTimeout time.Duration, m *metrics.Registry, log *logging.Logger) *Engine {
	return &Engine{
		self: self, table: table, client: client,
		k: k, alpha: alpha, lookupTimeout: lookupTimeout,
		metrics: m, log: log.Component("lookup"),
	}
}

// candidate tracks one contact's query state during a lookup round.
// seeded marks a candidate that came from the local routing table rather
// than a remote FIND_NODE/FIND_VALUE response: it is already known-live
// and counts as responsive even if this lookup never queries it again.
type candidate struct {
	contact routing.Contact
	seeded  bool
	queried bool
	failed  bool
}

// shortlist is the single-owner, lookup-task-local set of known
// candidates, sorted by ascending distance to target on demand (spec §4.4
// "Shortlist"). It is never touched from more than one goroutine at a
// time: all mutation happens between round boundaries on the lookup's own
// goroutine (spec §5 "no lock interleaving is required").
type shortlist struct {
	target identity.ID
	byID   map[identity.ID]*candidate
}

func newShortlist(target identity.ID, seed []routing.Contact) *shortlist {
	sl := &shortlist{target: target, byID: make(map[identity.ID]*candidate, len(seed))}
	for _, c := range seed {
		sl.byID[c.ID] = &candidate{contact: c, seeded: true}
	}
	return sl
}

func (sl *shortlist) merge(contacts []routing.Contact, self identity.ID) (improved bool) {
	for _, c := range contacts {
		if c.ID.Equal(self) {
			continue
		}
		if _, exists := sl.byID[c.ID]; exists {
			continue
		}
		sl.byID[c.ID] = &candidate{contact: c}
		improved = true
	}
	return improved
}

// sorted returns every candidate ordered by ascending distance to target,
// tie-broken by NodeId (spec §4.4 "Tie-breaks").
func (sl *shortlist) sorted() []*candidate {
	out := make([]*candidate, 0, len(sl.byID))
	for _, c := range sl.byID {
		out = append(out, c)
	}
	sortCandidates(out, sl.target)
	return out
}

func sortCandidates(cs []*candidate, target identity.ID) {
	for i := 1; i < len(cs); i++ {
		for j := i; j > 0; j-- {
			if !less(cs[j], cs[j-1], target) {
				break
			}
			cs[j], cs[j-1] = cs[j-1], cs[j]
		}
	}
}

func less(a, b *candidate, target identity.ID) bool {
	da := a.contact.ID.Distance(target)
	db := b.contact.ID.Distance(target)
	if da.Equal(db) {
		return a.contact.ID.Less(b.contact.ID)
	}
	return da.Less(db)
}

// closestDistance returns the distance of the best (smallest-distance)
// candidate currently known, used to detect round-over-round improvement.
func (sl *shortlist) closestDistance() identity.ID {
	best := sl.sorted()
	if len(best) == 0 {
		return identity.ID{}
	}
	return best[0].contact.ID.Distance(sl.target)
}

// selectBatch picks up to n unqueried, non-failed candidates ordered by
// ascending distance (spec §4.4 step 3a).
func (sl *shortlist) selectBatch(n int) []*candidate {
	var batch []*candidate
	for _, c := range sl.sorted() {
		if len(batch) >= n {
			break
		}
		if c.queried || c.failed {
			continue
		}
		batch = append(batch, c)
	}
	return batch
}

// responsive returns up to n candidates that were successfully queried
// (or never needed to be, for the seed set), ordered by distance — the
// "k closest responsive contacts" of spec §4.4 step 4.
func (sl *shortlist) responsive(n int) []routing.Contact {
	var out []routing.Contact
	for _, c := range sl.sorted() {
		if c.failed || !(c.seeded || c.queried) {
			continue
		}
		out = append(out, c.contact)
		if len(out) >= n {
			break
		}
	}
	return out
}

type roundResult struct {
	from     routing.Contact
	contacts []routing.Contact
	value    []byte
	err      error
}

// query issues FIND_NODE or FIND_VALUE (FIND_VALUE for key when wantValue
// is set) against every candidate in batch concurrently, and applies
// each response to sl as it arrives (spec §4.4 step 3b/3c).
func (e *Engine) query(ctx context.Context, sl *shortlist, batch []*candidate, key identity.Hash256, wantValue bool) (value []byte, done bool) {
	results := make(chan roundResult, len(batch))
	var wg sync.WaitGroup
	for _, cand := range batch {
		cand.queried = true
		wg.Add(1)
		go func(c routing.Contact) {
			defer wg.Done()
			if wantValue {
				v, nodes, err := e.client.FindValue(ctx, c, key)
				results <- roundResult{from: c, contacts: nodes, value: v, err: err}
			} else {
				nodes, err := e.client.FindNode(ctx, c, sl.target)
				results <- roundResult{from: c, contacts: nodes, err: err}
			}
		}(cand.contact)
	}
	go func() { wg.Wait(); close(results) }()

	for r := range results {
		if r.err != nil {
			if c, ok := sl.byID[r.from.ID]; ok {
				c.failed = true
			}
			continue
		}
		e.table.Touch(r.from)
		if wantValue && len(r.value) > 0 {
			return r.value, true
		}
		sl.merge(r.contacts, e.self.ID)
	}
	return nil, false
}

// run implements the procedure of spec §4.4 steps 1-4 for either
// FIND_NODE (wantValue=false) or FIND_VALUE (wantValue=true, key set).
func (e *Engine) run(ctx context.Context, target identity.ID, key identity.Hash256, wantValue bool) (value []byte, contacts []routing.Contact) {
	ctx, cancel := context.WithTimeout(ctx, e.lookupTimeout)
	defer cancel()

	if e.metrics != nil {
		e.metrics.LookupsStarted.Inc(1)
		start := time.Now()
		defer func() { e.metrics.LookupsDone.Inc(1); e.metrics.LookupLatency.UpdateSince(start) }()
	}

	seed := e.table.Closest(target, e.k)
	sl := newShortlist(target, seed)
	closestSeen := sl.closestDistance()

	for {
		if ctx.Err() != nil {
			return nil, sl.responsive(e.k)
		}

		batch := sl.selectBatch(e.alpha)
		if len(batch) == 0 {
			break
		}

		v, done := e.query(ctx, sl, batch, key, wantValue)
		if done {
			return v, nil
		}

		newClosest := sl.closestDistance()
		if newClosest.Less(closestSeen) {
			closestSeen = newClosest
			continue
		}

		// Finishing round: query every remaining not-yet-queried candidate
		// among the k closest, then terminate (spec §4.4 step 3d/4).
		finishing := sl.selectBatch(e.k)
		if len(finishing) == 0 {
			break
		}
		v, done = e.query(ctx, sl, finishing, key, wantValue)
		if done {
			return v, nil
		}
		break
	}

	return nil, sl.responsive(e.k)
}

// FindNode performs an iterative lookup for target, returning the k
// closest responsive contacts found (spec §4.4).
func (e *Engine) FindNode(ctx context.Context, target identity.ID) []routing.Contact {
	_, contacts := e.run(ctx, target, identity.Hash256{}, false)
	return contacts
}

// FindValue performs an iterative lookup for key, returning the value if
// any queried node holds it, else the k closest responsive contacts.
func (e *Engine) FindValue(ctx context.Context, key identity.Hash256) (value []byte, contacts []routing.Contact, found bool) {
	value, contacts = e.run(ctx, key.ToID(), key, true)
	return value, contacts, value != nil
}

// PublishStore issues STORE to the k closest responsive contacts for key
// (spec §4.4 "Store publication"). Per-peer failures are aggregated and
// logged once rather than once per failure (spec §7 "[ADD]").
func (e *Engine) PublishStore(ctx context.Context, key identity.Hash256, value []byte, signed bool) error {
	targets := e.FindNode(ctx, key.ToID())

	var merr *multierror.Error
	var mu sync.Mutex
	var wg sync.WaitGroup
	for _, peer := range targets {
		wg.Add(1)
		go func(p routing.Contact) {
			defer wg.Done()
			if err := e.client.Store(ctx, p, key, value, signed); err != nil {
				mu.Lock()
				merr = multierror.Append(merr, err)
				mu.Unlock()
				if e.metrics != nil {
					e.metrics.StoreFailures.Inc(1)
				}
			}
		}(peer)
	}
	wg.Wait()

	if merr != nil {
		e.log.Warn("store replication had failures", "key", key.String(), "errors", merr.Len())
		return merr.ErrorOrNil()
	}
	return nil
}

// RefreshBucket issues a FIND_NODE against a random ID within bucketIdx's
// range (spec §4.4 "Bucket refresh").
func (e *Engine) RefreshBucket(ctx context.Context, bucketIdx int, randByte func() byte) {
	target := e.table.RandomIDInBucket(bucketIdx, randByte)
	e.FindNode(ctx, target)
}
