package rpc

import (
	"context"
	"io"
	"net"
	"testing"
	"time"

	"github.com/kadledger/node/internal/identity"
	"github.com/kadledger/node/internal/ledger"
	"github.com/kadledger/node/internal/routing"
	"github.com/kadledger/node/pkg/logging"
	"github.com/stretchr/testify/require"
)

const testK = 20
const testDifficulty = 8 // shrunk so PoW tests finish quickly

func discardLogger() *logging.Logger {
	return logging.New(&logging.Config{Level: "error", Output: io.Discard})
}

// testNode bundles everything one end of a client/server pair needs.
type testNode struct {
	self     routing.Contact
	identity identity.Identity
	svc      *Service
	client   *Client
	listener net.Listener
}

func newTestNode(t *testing.T) *testNode {
	t.Helper()
	id, err := identity.GenerateIdentity()
	require.NoError(t, err)

	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { l.Close() })

	self := routing.NewContact(id.ID, l.Addr().String(), id.Public)
	table := routing.NewTable(self)
	store := NewValueStore()
	svc := NewService(self, table, store, testK, testDifficulty, 256, nil, discardLogger())
	go svc.Serve(l)

	client := NewClient(id, self, 2*time.Second, nil, discardLogger())
	client.SetTable(table)
	return &testNode{self: self, identity: id, svc: svc, client: client, listener: l}
}

func TestPingTouchesSenderAndReturnsAlive(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	alive := a.client.Ping(context.Background(), b.self)
	require.True(t, alive)

	closest := b.svc.table.Closest(a.self.ID, testK)
	require.Len(t, closest, 1)
	require.True(t, closest[0].ID.Equal(a.self.ID))
}

func TestFindNodeExcludesSender(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	b.svc.table.Touch(a.self)
	nodes, err := a.client.FindNode(context.Background(), b.self, b.self.ID)
	require.NoError(t, err)
	for _, n := range nodes {
		require.False(t, n.Equal(a.self))
	}
}

func TestStoreAndFindValueRoundTrip(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	value := []byte("hello")
	key := identity.Hash(value)

	require.NoError(t, a.client.Store(context.Background(), b.self, key, value, false))

	got, nodes, err := a.client.FindValue(context.Background(), b.self, key)
	require.NoError(t, err)
	require.Nil(t, nodes)
	require.Equal(t, value, got)
}

func TestStoreRejectsMismatchedKey(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	err := a.client.Store(context.Background(), b.self, identity.Hash256{}, []byte("hello"), false)
	require.Error(t, err)
}

func TestStoreRejectsUnsignedBlock(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	genesis := ledger.NewGenesisBlock(0)
	value, err := ledger.EncodeForStore(genesis)
	require.NoError(t, err)
	key := identity.Hash(value)

	err = a.client.Store(context.Background(), b.self, key, value, false) // unsigned
	require.Error(t, err)
	require.Zero(t, b.svc.store.Len())
}

func TestStoreAcceptsSignedBlock(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	genesis := ledger.NewGenesisBlock(0)
	value, err := ledger.EncodeForStore(genesis)
	require.NoError(t, err)
	key := identity.Hash(value)

	require.NoError(t, a.client.Store(context.Background(), b.self, key, value, true)) // signed
	require.Equal(t, 1, b.svc.store.Len())
}

func TestJoinRejectsInsufficientProofOfWork(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	accepted, _, nodes, err := a.client.Join(context.Background(), b.self, 0, identity.Hash256{0xFF})
	require.NoError(t, err)
	require.False(t, accepted)
	require.Empty(t, nodes)
	require.Empty(t, b.svc.table.Closest(a.self.ID, testK))
}

func TestJoinAcceptsValidProofOfWork(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	nonce, digest := identity.ProofOfWork(a.self.PublicKey.Bytes(), testDifficulty)
	accepted, responder, _, err := a.client.Join(context.Background(), b.self, nonce, digest)
	require.NoError(t, err)
	require.True(t, accepted)
	require.True(t, responder.ID.Equal(b.self.ID))
	require.Len(t, b.svc.table.Closest(a.self.ID, testK), 1)
}

func TestThreeConsecutiveTransportFailuresEvictContact(t *testing.T) {
	a := newTestNode(t)

	unreachable, err := identity.GenerateIdentity()
	require.NoError(t, err)
	peer := routing.NewContact(unreachable.ID, "127.0.0.1:1", unreachable.Public)
	a.svc.table.Touch(peer)
	require.Len(t, a.svc.table.Closest(peer.ID, testK), 1)

	for i := 0; i < 2; i++ {
		require.False(t, a.client.Ping(context.Background(), peer))
		require.Len(t, a.svc.table.Closest(peer.ID, testK), 1, "should survive fewer than three consecutive failures")
	}

	require.False(t, a.client.Ping(context.Background(), peer))
	require.Empty(t, a.svc.table.Closest(peer.ID, testK), "third consecutive transport failure should evict the contact")
}

func TestSuccessWithOtherPeerDoesNotResetFailureCount(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	unreachable, err := identity.GenerateIdentity()
	require.NoError(t, err)
	peer := routing.NewContact(unreachable.ID, "127.0.0.1:1", unreachable.Public)
	a.svc.table.Touch(peer)

	require.False(t, a.client.Ping(context.Background(), peer))
	require.False(t, a.client.Ping(context.Background(), peer))

	require.True(t, a.client.Ping(context.Background(), b.self)) // unrelated successful call, different peer
	require.Len(t, a.svc.table.Closest(peer.ID, testK), 1, "unrelated success must not touch peer's own failure count")

	require.False(t, a.client.Ping(context.Background(), peer))
	require.Empty(t, a.svc.table.Closest(peer.ID, testK), "peer's own count was untouched by the unrelated success, so this is still its third consecutive failure")
}

func TestShutdownOverLoopbackInvokesCallback(t *testing.T) {
	a := newTestNode(t)
	b := newTestNode(t)

	shutdownCalled := make(chan struct{}, 1)
	b.svc.OnShutdown(func() { shutdownCalled <- struct{}{} })

	require.NoError(t, a.client.Shutdown(context.Background(), b.self))
	select {
	case <-shutdownCalled:
	case <-time.After(time.Second):
		t.Fatal("onShutdown callback was not invoked")
	}
}
