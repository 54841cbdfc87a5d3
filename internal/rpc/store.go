package rpc

import (
	"sync"
	"time"

	"github.com/kadledger/node/internal/identity"
)

// valueRecord is the Value record of spec §3: "(key, value,
// origin_publisher, stored_at)".
type valueRecord struct {
	Value           []byte
	OriginPublisher identity.ID
	StoredAt        time.Time
}

// ValueStore is the node's local key/value store backing STORE and
// FIND_VALUE (spec §4.3). It owns its own lock; no subsystem reaches into
// another's internals (spec §5 "Shared-resource policy").
type ValueStore struct {
	mu      sync.RWMutex
	records map[identity.Hash256]valueRecord
}

// NewValueStore creates an empty store.
func NewValueStore() *ValueStore {
	return &ValueStore{records: make(map[identity.Hash256]valueRecord)}
}

// Put inserts or refreshes key's record (spec §4.3 STORE handler: "insert
// or refresh"). Callers must have already checked `key == H(value)`.
func (s *ValueStore) Put(key identity.Hash256, value []byte, origin identity.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[key] = valueRecord{Value: value, OriginPublisher: origin, StoredAt: time.Now()}
}

// Get returns the value for key, if present.
func (s *ValueStore) Get(key identity.Hash256) ([]byte, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	if !ok {
		return nil, false
	}
	return rec.Value, true
}

// Keys returns every key currently held.
func (s *ValueStore) Keys() []identity.Hash256 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]identity.Hash256, 0, len(s.records))
	for k := range s.records {
		out = append(out, k)
	}
	return out
}

// Expire removes records older than olderThan (spec §3: "expire after
// T_expire unless republished").
func (s *ValueStore) Expire(olderThan time.Duration) int {
	cutoff := time.Now().Add(-olderThan)
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := 0
	for k, rec := range s.records {
		if rec.StoredAt.Before(cutoff) {
			delete(s.records, k)
			removed++
		}
	}
	return removed
}

// Len returns the number of records currently held.
func (s *ValueStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
