package routing

import (
	"container/list"
	"sync"
)

// K is the bucket capacity and lookup width (spec GLOSSARY: k = 20).
const K = 20

// replacementCap bounds the pending replacement-candidate FIFO (spec §3
// "K-Bucket": "a pending replacement candidate queue (bounded, FIFO)").
const replacementCap = K

// kBucket is a bounded, least-recently-seen-first ordered list of
// contacts, plus a bounded FIFO of replacement candidates used when the
// bucket is full (spec §3, §4.2). Each bucket owns its own lock so that
// touches on different buckets proceed independently (spec §4.2
// "Concurrent touch calls must be serialized per-bucket but may proceed in
// parallel across buckets").
type kBucket struct {
	mu   sync.Mutex
	list *list.List // front = least-recently-seen, back = most-recently-seen
	repl []Contact  // FIFO; index 0 is oldest
}

func newKBucket() *kBucket {
	return &kBucket{list: list.New()}
}

func (b *kBucket) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.list.Len()
}

func (b *kBucket) find(id Contact) *list.Element {
	for e := b.list.Front(); e != nil; e = e.Next() {
		if e.Value.(Contact).Equal(id) {
			return e
		}
	}
	return nil
}

// touchOutcome tells the caller (Table.Touch) what to do next; the
// ping-probe step (spec §4.2 step 5) happens outside the bucket lock since
// it is a network round trip.
type touchOutcome int

const (
	touchInserted touchOutcome = iota
	touchRefreshed
	touchNeedsProbe
)

// touch implements steps 2-4 of spec §4.2; if the bucket is full it
// returns touchNeedsProbe along with the current least-recently-seen
// contact, which the caller must ping outside the lock.
func (b *kBucket) touch(c Contact) (touchOutcome, Contact) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if e := b.find(c); e != nil {
		b.list.MoveToBack(e)
		return touchRefreshed, Contact{}
	}
	if b.list.Len() < K {
		b.list.PushBack(c)
		return touchInserted, Contact{}
	}
	lru := b.list.Front().Value.(Contact)
	return touchNeedsProbe, lru
}

// resolveProbe completes step 5 after the caller has pinged lru outside
// the lock. If alive, lru is refreshed and c is kept only in the
// replacement queue; otherwise lru is evicted and c takes its place.
func (b *kBucket) resolveProbe(lru, c Contact, alive bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	// The bucket may have changed shape while we were pinging; re-check.
	if e := b.find(c); e != nil {
		b.list.MoveToBack(e)
		return
	}

	if alive {
		if e := b.find(lru); e != nil {
			b.list.MoveToBack(e)
		}
		b.pushReplacement(c)
		return
	}

	if e := b.find(lru); e != nil {
		b.list.Remove(e)
	}
	if b.list.Len() < K {
		b.list.PushBack(c)
	}
}

func (b *kBucket) pushReplacement(c Contact) {
	for _, existing := range b.repl {
		if existing.Equal(c) {
			return
		}
	}
	if len(b.repl) >= replacementCap {
		b.repl = b.repl[1:]
	}
	b.repl = append(b.repl, c)
}

func (b *kBucket) remove(id Contact) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if e := b.find(id); e != nil {
		b.list.Remove(e)
		return true
	}
	return false
}

// contacts returns a snapshot of the bucket's contents, oldest first.
func (b *kBucket) contacts() []Contact {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Contact, 0, b.list.Len())
	for e := b.list.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Contact))
	}
	return out
}
