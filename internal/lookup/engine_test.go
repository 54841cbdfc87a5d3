package lookup

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/kadledger/node/internal/identity"
	"github.com/kadledger/node/internal/routing"
	"github.com/kadledger/node/pkg/logging"
	"github.com/stretchr/testify/require"
)

func discardLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "error", Output: io.Discard})
}

func newIdentityContact(t *testing.T, addr string) routing.Contact {
	t.Helper()
	id, err := identity.GenerateIdentity()
	require.NoError(t, err)
	return routing.NewContact(id.ID, addr, id.Public)
}

// idContact builds a contact with an explicit NodeId, used where a test
// needs to control XOR distance rather than rely on a random identity.
func idContact(prefix byte, addr string) routing.Contact {
	var id identity.ID
	id[0] = prefix
	return routing.NewContact(id, addr, identity.PublicKey{})
}

// fakeClient simulates a small fixed network: each peer (by address)
// answers FindNode/FindValue from a scripted adjacency map, letting tests
// assert convergence without real sockets.
type fakeClient struct {
	neighbors   map[string][]routing.Contact // peer address -> contacts it returns
	values      map[string][]byte            // peer address -> value it holds (by address, test-only)
	unreachable map[string]bool              // peer fails every call (simulates a dead node)
	storeFails  map[string]bool              // peer answers FindNode/FindValue but rejects STORE
	stores      map[string]int               // peer address -> number of STORE calls received
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		neighbors:   make(map[string][]routing.Contact),
		values:      make(map[string][]byte),
		unreachable: make(map[string]bool),
		storeFails:  make(map[string]bool),
		stores:      make(map[string]int),
	}
}

func (f *fakeClient) FindNode(ctx context.Context, peer routing.Contact, target identity.ID) ([]routing.Contact, error) {
	if f.unreachable[peer.Address] {
		return nil, errors.New("unreachable")
	}
	return f.neighbors[peer.Address], nil
}

func (f *fakeClient) FindValue(ctx context.Context, peer routing.Contact, key identity.Hash256) ([]byte, []routing.Contact, error) {
	if f.unreachable[peer.Address] {
		return nil, nil, errors.New("unreachable")
	}
	if v, ok := f.values[peer.Address]; ok {
		return v, nil, nil
	}
	return nil, f.neighbors[peer.Address], nil
}

func (f *fakeClient) Store(ctx context.Context, peer routing.Contact, key identity.Hash256, value []byte, signed bool) error {
	if f.unreachable[peer.Address] || f.storeFails[peer.Address] {
		return errors.New("store rejected")
	}
	f.stores[peer.Address]++
	return nil
}

func TestFindNodeConvergesAcrossHops(t *testing.T) {
	// NodeIds are chosen, not random, so that each hop is strictly closer
	// to c in the XOR metric than the last: a (0x80) > b (0x40) > c
	// (0x00), guaranteeing round-over-round improvement so the lookup
	// chases the chain all the way to c instead of stopping after the
	// finishing round.
	self := idContact(0xFF, "self:0")
	a := idContact(0x80, "a:1")
	b := idContact(0x40, "b:1")
	c := idContact(0x00, "c:1")

	table := routing.NewTable(self)
	table.Touch(a)

	client := newFakeClient()
	client.neighbors[a.Address] = []routing.Contact{b}
	client.neighbors[b.Address] = []routing.Contact{c}
	client.neighbors[c.Address] = nil

	eng := NewEngine(self, table, client, 20, 3, 2*time.Second, nil, discardLogger())
	result := eng.FindNode(context.Background(), c.ID)

	var found bool
	for _, r := range result {
		if r.ID.Equal(c.ID) {
			found = true
		}
	}
	require.True(t, found, "lookup should discover c transitively via a -> b -> c")
}

func TestFindValueTerminatesOnFirstValue(t *testing.T) {
	self := newIdentityContact(t, "self:0")
	a := newIdentityContact(t, "a:1")
	b := newIdentityContact(t, "b:1")

	table := routing.NewTable(self)
	table.Touch(a)

	client := newFakeClient()
	client.neighbors[a.Address] = []routing.Contact{b}
	client.values[a.Address] = []byte("hello")

	eng := NewEngine(self, table, client, 20, 3, 2*time.Second, nil, discardLogger())
	value, contacts, found := eng.FindValue(context.Background(), identity.Hash([]byte("hello")))

	require.True(t, found)
	require.Equal(t, []byte("hello"), value)
	require.Nil(t, contacts)
}

func TestFindNodeSkipsUnreachablePeers(t *testing.T) {
	self := newIdentityContact(t, "self:0")
	a := newIdentityContact(t, "a:1")
	b := newIdentityContact(t, "b:1")

	table := routing.NewTable(self)
	table.Touch(a)
	table.Touch(b)

	client := newFakeClient()
	client.unreachable[a.Address] = true

	eng := NewEngine(self, table, client, 20, 3, 2*time.Second, nil, discardLogger())
	result := eng.FindNode(context.Background(), b.ID)

	var sawA bool
	for _, r := range result {
		if r.ID.Equal(a.ID) {
			sawA = true
		}
	}
	require.False(t, sawA, "an unreachable peer must not appear in the responsive result")
}

func TestPublishStoreReachesClosestAndAggregatesFailures(t *testing.T) {
	self := newIdentityContact(t, "self:0")
	a := newIdentityContact(t, "a:1")
	b := newIdentityContact(t, "b:1")

	table := routing.NewTable(self)
	table.Touch(a)
	table.Touch(b)

	client := newFakeClient()
	// b is a live, discoverable replica (it answers FIND_NODE normally and
	// so is still a STORE target) whose STORE itself is rejected.
	client.storeFails[b.Address] = true

	eng := NewEngine(self, table, client, 20, 3, 2*time.Second, nil, discardLogger())
	key := identity.Hash([]byte("payload"))
	err := eng.PublishStore(context.Background(), key, []byte("payload"), false)

	require.Error(t, err, "a failed replica must surface as an aggregated error")
	require.Equal(t, 1, client.stores[a.Address])
	require.Zero(t, client.stores[b.Address])
}

func TestRefreshBucketIssuesFindNodeForBucketRange(t *testing.T) {
	self := newIdentityContact(t, "self:0")
	a := newIdentityContact(t, "a:1")

	table := routing.NewTable(self)
	table.Touch(a)

	client := newFakeClient()
	eng := NewEngine(self, table, client, 20, 3, 2*time.Second, nil, discardLogger())

	var calls int
	randByte := func() byte { calls++; return byte(calls) }
	eng.RefreshBucket(context.Background(), 10, randByte)
	require.Greater(t, calls, 0)
}
