package routing

import (
	"sync"
	"time"

	"github.com/kadledger/node/internal/identity"
)

// PingFunc probes a contact's liveness, blocking up to the implementation's
// own RPC deadline. It is called outside any bucket lock (spec §4.2 step
// 5).
type PingFunc func(Contact) bool

// Table is the node's view of the overlay: 160 independently-locked
// buckets indexed by bucket_index(self, peer) (spec §3, §4.2).
type Table struct {
	self Contact

	buckets [identity.NumBuckets]*kBucket

	pingMu   sync.RWMutex
	ping     PingFunc
	lastUsed [identity.NumBuckets]int64 // unix nanos, for refresh (spec §4.4)
	lastMu   sync.Mutex
}

// NewTable creates a routing table for the local node.
func NewTable(self Contact) *Table {
	t := &Table{self: self}
	for i := range t.buckets {
		t.buckets[i] = newKBucket()
	}
	return t
}

// SetPingFunc wires the liveness probe used by the eviction policy.
func (t *Table) SetPingFunc(f PingFunc) {
	t.pingMu.Lock()
	t.ping = f
	t.pingMu.Unlock()
}

func (t *Table) pingFunc() PingFunc {
	t.pingMu.RLock()
	defer t.pingMu.RUnlock()
	return t.ping
}

func (t *Table) bucketIndex(id identity.ID) int {
	idx := identity.BucketIndex(t.self.ID, id)
	if idx < 0 {
		return -1
	}
	return idx
}

// Touch records an observed peer (spec §4.2: touch).
func (t *Table) Touch(c Contact) {
	if c.ID.Equal(t.self.ID) {
		return
	}
	idx := t.bucketIndex(c.ID)
	if idx < 0 {
		return
	}
	b := t.buckets[idx]
	t.markUsed(idx)

	outcome, lru := b.touch(c)
	if outcome != touchNeedsProbe {
		return
	}

	ping := t.pingFunc()
	alive := ping != nil && ping(lru)
	b.resolveProbe(lru, c, alive)
}

// Remove explicitly evicts a contact on confirmed failure (spec §4.2:
// remove).
func (t *Table) Remove(id identity.ID) bool {
	idx := t.bucketIndex(id)
	if idx < 0 {
		return false
	}
	return t.buckets[idx].remove(Contact{ID: id})
}

// Closest returns up to n contacts sorted by ascending XOR distance to
// target, drawn across buckets as needed (spec §4.2: closest).
func (t *Table) Closest(target identity.ID, n int) []Contact {
	cl := newCandidateList(target)

	startIdx := t.bucketIndex(target)
	if startIdx < 0 {
		startIdx = identity.NumBuckets - 1
	}
	cl.add(t.buckets[startIdx].contacts()...)

	for i := 1; (startIdx-i >= 0 || startIdx+i < identity.NumBuckets) && cl.len() < n; i++ {
		if startIdx-i >= 0 {
			cl.add(t.buckets[startIdx-i].contacts()...)
		}
		if startIdx+i < identity.NumBuckets {
			cl.add(t.buckets[startIdx+i].contacts()...)
		}
	}

	return cl.take(n)
}

// Self returns the local node's own contact.
func (t *Table) Self() Contact { return t.self }

func (t *Table) markUsed(idx int) {
	t.lastMu.Lock()
	t.lastUsed[idx] = time.Now().UnixNano()
	t.lastMu.Unlock()
}

// StaleBuckets returns the indices of buckets that have not been touched
// in at least `since`, used by the bucket-refresh loop (spec §4.4 "Bucket
// refresh").
func (t *Table) StaleBuckets(since time.Duration) []int {
	cutoff := time.Now().Add(-since).UnixNano()
	t.lastMu.Lock()
	defer t.lastMu.Unlock()
	var stale []int
	for i, ts := range t.lastUsed {
		if ts < cutoff && t.buckets[i].len() > 0 {
			stale = append(stale, i)
		}
	}
	return stale
}

// RandomIDInBucket returns an ID sharing self's prefix up to bucketIdx,
// differing at bit bucketIdx, and random thereafter -- the target for a
// refresh lookup of that bucket's range (spec §4.4).
func (t *Table) RandomIDInBucket(bucketIdx int, randByte func() byte) identity.ID {
	id := t.self.ID
	bytePos := bucketIdx / 8
	bitPos := bucketIdx % 8
	mask := byte(0x80) >> uint(bitPos)
	id[bytePos] ^= mask // flip the differing bit
	for i := bytePos + 1; i < identity.IDLength; i++ {
		id[i] = randByte()
	}
	return id
}
