package rpc

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/kadledger/node/internal/identity"
	"github.com/kadledger/node/internal/metrics"
	"github.com/kadledger/node/internal/routing"
	"github.com/kadledger/node/pkg/logging"
)

// Client issues outbound RPCs to remote peers (spec §4.3/§6, client side
// of the wire protocol).
type Client struct {
	self        identity.Identity
	selfContact routing.Contact

	timeout time.Duration
	metrics *metrics.Registry
	log     *logging.Logger

	table   *routing.Table
	failMu  sync.Mutex
	fails   map[identity.ID]int
}

// NewClient builds a Client bound to the local identity/contact, using
// timeout as T_rpc (spec §4.4).
func NewClient(self identity.Identity, selfContact routing.Contact, timeout time.Duration, m *metrics.Registry, log *logging.Logger) *Client {
	return &Client{self: self, selfContact: selfContact, timeout: timeout, metrics: m, log: log}
}

// SetTable wires the local routing table so repeated RPC failures against a
// contact can evict it (spec §4.3 "Failure semantics": "three consecutive
// failures cause remove", spec §7 TransportError). Optional: a Client with
// no table tracks nothing.
func (c *Client) SetTable(t *routing.Table) { c.table = t }

// recordOutcome tracks peer's consecutive transport failures (dial, write,
// read, or deadline errors from call) across PING/FIND_NODE/FIND_VALUE/
// STORE, removing it from the routing table after three in a row (spec
// §4.3 "Failure semantics", §7 TransportError). A well-formed response —
// even one carrying a negative application-level result such as a
// rejected STORE — resets the count: only the transport itself being
// unreachable counts as a strike.
func (c *Client) recordOutcome(peer routing.Contact, err error) {
	if peer.ID.IsZero() {
		return
	}
	c.failMu.Lock()
	defer c.failMu.Unlock()
	if err == nil {
		delete(c.fails, peer.ID)
		return
	}
	if c.fails == nil {
		c.fails = make(map[identity.ID]int)
	}
	c.fails[peer.ID]++
	if c.fails[peer.ID] >= 3 {
		delete(c.fails, peer.ID)
		if c.table != nil {
			c.table.Remove(peer.ID)
		}
	}
}

func newMsgID() string { return uuid.NewString() }

func (c *Client) senderWire() WireContact { return toWire(c.selfContact) }

// call dials peer, writes req, and waits for exactly one response frame,
// bounded by ctx's deadline or c.timeout, whichever is tighter.
func (c *Client) call(ctx context.Context, address string, req Envelope) (Envelope, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return Envelope{}, fmt.Errorf("rpc: dial %s: %w", address, err)
	}
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	}

	start := time.Now()
	if err := writeEnvelope(conn, req); err != nil {
		return Envelope{}, err
	}
	resp, err := readEnvelope(conn)
	if c.metrics != nil {
		c.metrics.RPCLatency.UpdateSince(start)
	}
	if err != nil {
		return Envelope{}, fmt.Errorf("rpc: call %s to %s: %w", req.Type, address, err)
	}
	return resp, nil
}

// Ping sends PING and reports whether a PONG arrived before the deadline
// (spec §4.2 step 5, §4.3 "PING").
func (c *Client) Ping(ctx context.Context, peer routing.Contact) bool {
	resp, err := c.call(ctx, peer.Address, Envelope{Type: Ping, MsgID: newMsgID(), Sender: c.senderWire()})
	c.recordOutcome(peer, err)
	return err == nil && resp.Type == Pong && resp.Alive
}

// FindNode asks peer for contacts close to target (spec §4.3 "FIND_NODE").
func (c *Client) FindNode(ctx context.Context, peer routing.Contact, target identity.ID) ([]routing.Contact, error) {
	resp, err := c.call(ctx, peer.Address, Envelope{
		Type: FindNode, MsgID: newMsgID(), Sender: c.senderWire(), TargetID: target.String(),
	})
	c.recordOutcome(peer, err)
	if err != nil {
		return nil, err
	}
	if resp.Type != FindNodeOK {
		return nil, fmt.Errorf("rpc: unexpected response type %s to FIND_NODE", resp.Type)
	}
	return fromWireList(resp.Nodes), nil
}

// FindValue asks peer for key, returning either the value or a closer
// contact list (spec §4.3 "FIND_VALUE").
func (c *Client) FindValue(ctx context.Context, peer routing.Contact, key identity.Hash256) ([]byte, []routing.Contact, error) {
	resp, err := c.call(ctx, peer.Address, Envelope{
		Type: FindValue, MsgID: newMsgID(), Sender: c.senderWire(), Key: key.String(),
	})
	c.recordOutcome(peer, err)
	if err != nil {
		return nil, nil, err
	}
	if resp.Type != FindValueOK {
		return nil, nil, fmt.Errorf("rpc: unexpected response type %s to FIND_VALUE", resp.Type)
	}
	if len(resp.Value) > 0 {
		return resp.Value, nil, nil
	}
	return nil, fromWireList(resp.Nodes), nil
}

// Store sends STORE(key, value) to peer. If signed is true, value is
// signed with the client's private key and the signature attached,
// required for any value that decodes as a ledger.Block (spec §4.5
// "[ADD] Signed STORE for blocks").
func (c *Client) Store(ctx context.Context, peer routing.Contact, key identity.Hash256, value []byte, signed bool) error {
	req := Envelope{Type: Store, MsgID: newMsgID(), Sender: c.senderWire(), Key: key.String(), Value: value}
	if signed {
		req.Signature = c.self.Private.Sign(value)
	}
	resp, err := c.call(ctx, peer.Address, req)
	c.recordOutcome(peer, err)
	if err != nil {
		return err
	}
	if resp.Type != StoreOK || !resp.Success {
		return fmt.Errorf("rpc: store rejected by %s", peer)
	}
	return nil
}

// Join sends the bootstrap JOIN request carrying the PoW solution (spec
// §4.1/§4.3 "JOIN"). responder is the bootstrap's own contact, parsed from
// the reply's Sender field, since a joining node otherwise has no way to
// learn the bootstrap's NodeId/public key to touch it into its own table.
func (c *Client) Join(ctx context.Context, peer routing.Contact, nonce uint64, powHash identity.Hash256) (accepted bool, responder routing.Contact, closest []routing.Contact, err error) {
	resp, err := c.call(ctx, peer.Address, Envelope{
		Type: Join, MsgID: newMsgID(), Sender: c.senderWire(),
		Nonce: identity.EncodeNonce(nonce), PowHash: powHash[:],
	})
	if err != nil {
		return false, routing.Contact{}, nil, err
	}
	if resp.Type != JoinOK {
		return false, routing.Contact{}, nil, fmt.Errorf("rpc: unexpected response type %s to JOIN", resp.Type)
	}
	responder, err = resp.Sender.toContact()
	if err != nil {
		return false, routing.Contact{}, nil, fmt.Errorf("rpc: bad sender contact in JOIN_OK: %w", err)
	}
	return resp.Accepted, responder, fromWireList(resp.Nodes), nil
}

// Shutdown sends SHUTDOWN to a local peer (spec §6 "shutdown <port>...").
// Authentication is the transport itself: the receiving Service only
// honors SHUTDOWN arriving over a loopback connection (spec §7
// "authenticated locally").
func (c *Client) Shutdown(ctx context.Context, peer routing.Contact) error {
	req := Envelope{Type: Shutdown, MsgID: newMsgID(), Sender: c.senderWire()}
	resp, err := c.call(ctx, peer.Address, req)
	if err != nil {
		return err
	}
	if resp.Type != ShutdownOK {
		return fmt.Errorf("rpc: shutdown rejected by %s", peer)
	}
	return nil
}
