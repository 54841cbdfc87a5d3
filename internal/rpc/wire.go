// Package rpc implements the framed request/response protocol between
// peers: PING, STORE, FIND_NODE, FIND_VALUE, JOIN, SHUTDOWN (spec §4.3,
// §6), carried over a length-prefixed JSON stream (spec §4.3 "[ADD]
// Transport").
package rpc

import (
	"encoding/json"

	"github.com/kadledger/node/internal/identity"
	"github.com/kadledger/node/internal/routing"
)

// Verb names a message type on the wire.
type Verb string

const (
	Ping         Verb = "PING"
	Pong         Verb = "PONG"
	Store        Verb = "STORE"
	StoreOK      Verb = "STORE_OK"
	FindNode     Verb = "FIND_NODE"
	FindNodeOK   Verb = "FIND_NODE_OK"
	FindValue    Verb = "FIND_VALUE"
	FindValueOK  Verb = "FIND_VALUE_OK"
	Join         Verb = "JOIN"
	JoinOK       Verb = "JOIN_OK"
	Shutdown     Verb = "SHUTDOWN"
	ShutdownOK   Verb = "SHUTDOWN_OK"
	Busy         Verb = "BUSY" // transport-level backpressure reject (spec §5: M_pending)
)

// WireContact is the on-the-wire Contact shape: the NodeId as a
// 40-character hex string, the peer's "host:port" address as one string,
// and the compressed public key bytes. IP and port are not carried as
// separate fields.
type WireContact struct {
	IDHex     string `json:"id"`
	Address   string `json:"address"`
	PublicKey []byte `json:"public_key"`
}

func toWire(c routing.Contact) WireContact {
	return WireContact{
		IDHex:     c.ID.String(),
		Address:   c.Address,
		PublicKey: c.PublicKey.Bytes(),
	}
}

func (w WireContact) toContact() (routing.Contact, error) {
	id, err := identity.ParseID(w.IDHex)
	if err != nil {
		return routing.Contact{}, err
	}
	pub, err := identity.ParsePublicKey(w.PublicKey)
	if err != nil {
		return routing.Contact{}, err
	}
	return routing.NewContact(id, w.Address, pub), nil
}

func toWireList(cs []routing.Contact) []WireContact {
	out := make([]WireContact, len(cs))
	for i, c := range cs {
		out[i] = toWire(c)
	}
	return out
}

func fromWireList(ws []WireContact) []routing.Contact {
	out := make([]routing.Contact, 0, len(ws))
	for _, w := range ws {
		if c, err := w.toContact(); err == nil {
			out = append(out, c)
		}
	}
	return out
}

// Envelope is the single message shape carried by the framed transport.
// Not every field applies to every Verb; see the per-verb client/handler
// functions for which fields are meaningful.
type Envelope struct {
	Type   Verb        `json:"type"`
	MsgID  string      `json:"msg_id"` // google/uuid v4 (spec §6 "[ADD] Message IDs")
	Sender WireContact `json:"sender"`

	TargetID string        `json:"target_id,omitempty"`
	Key      string        `json:"key,omitempty"`
	Value    []byte        `json:"value,omitempty"`
	Nodes    []WireContact `json:"nodes,omitempty"`

	Nonce   []byte `json:"nonce,omitempty"`
	PowHash []byte `json:"pow_hash,omitempty"`

	// Signature authenticates Value when present. Required for STORE
	// requests carrying a ledger.Block (spec §4.5 "[ADD] Signed STORE").
	Signature []byte `json:"signature,omitempty"`

	Alive    bool `json:"alive,omitempty"`
	Success  bool `json:"success,omitempty"`
	Accepted bool `json:"accepted,omitempty"`
}

func (e Envelope) marshal() ([]byte, error)  { return json.Marshal(e) }
func (e *Envelope) unmarshal(b []byte) error { return json.Unmarshal(b, e) }
