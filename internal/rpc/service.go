package rpc

import (
	"net"

	"github.com/kadledger/node/internal/identity"
	"github.com/kadledger/node/internal/ledger"
	"github.com/kadledger/node/internal/metrics"
	"github.com/kadledger/node/internal/routing"
	"github.com/kadledger/node/pkg/logging"
)

// isLoopback reports whether addr is a loopback connection, the
// authentication mechanism for SHUTDOWN (spec §7 "authenticated
// locally"): only a caller already running on the same host as the node
// may request a graceful stop.
func isLoopback(addr net.Addr) bool {
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return false
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// Service dispatches inbound requests against the local routing table and
// value store (spec §4.3). Each accepted connection is served by one
// goroutine that processes frames strictly in arrival order (spec §5
// "Requests on the same transport connection are processed in arrival
// order"); concurrency across connections is bounded by a semaphore sized
// M_pending (spec §5 "Backpressure").
type Service struct {
	self       routing.Contact
	table      *routing.Table
	store      *ValueStore
	difficulty int
	k          int

	pending chan struct{}
	metrics *metrics.Registry
	log     *logging.Logger

	onShutdown func()
}

// NewService builds a Service. pendingLimit is M_pending (spec §5).
func NewService(self routing.Contact, table *routing.Table, store *ValueStore, k, difficulty, pendingLimit int, m *metrics.Registry, log *logging.Logger) *Service {
	return &Service{
		self:       self,
		table:      table,
		store:      store,
		difficulty: difficulty,
		k:          k,
		pending:    make(chan struct{}, pendingLimit),
		metrics:    m,
		log:        log.Component("rpc"),
	}
}

// OnShutdown registers the callback invoked when an authenticated
// SHUTDOWN is handled.
func (s *Service) OnShutdown(f func()) { s.onShutdown = f }

// Serve accepts connections on l until it is closed, dispatching each on
// its own goroutine (spec §4.3 "[ADD] Transport": "Inbound connections are
// accepted by one listener goroutine; each connection gets one reader
// goroutine").
func (s *Service) Serve(l net.Listener) error {
	for {
		conn, err := l.Accept()
		if err != nil {
			return err
		}
		go s.handleConn(conn)
	}
}

func (s *Service) handleConn(conn net.Conn) {
	defer conn.Close()
	for {
		req, err := readEnvelope(conn)
		if err != nil {
			return
		}

		if req.Type == Shutdown && !isLoopback(conn.RemoteAddr()) {
			continue // not locally authenticated: dropped silently
		}

		select {
		case s.pending <- struct{}{}:
		default:
			_ = writeEnvelope(conn, Envelope{Type: Busy, MsgID: req.MsgID, Sender: toWire(s.self)})
			continue
		}

		resp, handled := s.dispatch(req)
		<-s.pending

		if !handled {
			continue // malformed/crypto-invalid request: dropped silently (spec §4.3/§7)
		}
		if err := writeEnvelope(conn, resp); err != nil {
			return
		}
	}
}

// dispatch runs one request and returns the response to send, or
// handled=false if the request must be dropped silently (spec §4.3
// "Failure semantics": "malformed or signature-invalid requests are
// dropped silently").
func (s *Service) dispatch(req Envelope) (resp Envelope, handled bool) {
	if s.metrics != nil {
		s.metrics.RecordRPC(string(req.Type))
	}

	sender, err := req.Sender.toContact()
	if err != nil {
		return Envelope{}, false
	}

	switch req.Type {
	case Ping:
		s.table.Touch(sender)
		return Envelope{Type: Pong, MsgID: req.MsgID, Sender: toWire(s.self), Alive: true}, true

	case Store:
		return s.handleStore(req, sender)

	case FindNode:
		target, err := identity.ParseID(req.TargetID)
		if err != nil {
			return Envelope{}, false
		}
		s.table.Touch(sender)
		nodes := excludeSelfAndSender(s.table.Closest(target, s.k), sender)
		return Envelope{Type: FindNodeOK, MsgID: req.MsgID, Sender: toWire(s.self), Nodes: toWireList(nodes)}, true

	case FindValue:
		return s.handleFindValue(req, sender)

	case Join:
		return s.handleJoin(req, sender)

	case Shutdown:
		return s.handleShutdown(req)

	default:
		return Envelope{}, false
	}
}

func (s *Service) handleStore(req Envelope, sender routing.Contact) (Envelope, bool) {
	key, err := identity.ParseHash(req.Key)
	if err != nil {
		return Envelope{}, false
	}

	if _, isBlock := ledger.DecodeFromStore(req.Value); isBlock {
		if len(req.Signature) == 0 || !sender.PublicKey.Verify(req.Value, req.Signature) {
			s.log.Warn("rejecting unsigned or badly-signed STORE of block", "sender", sender)
			return Envelope{}, false
		}
	}

	s.table.Touch(sender)

	computed := identity.Hash(req.Value)
	if computed != key {
		return Envelope{Type: StoreOK, MsgID: req.MsgID, Sender: toWire(s.self), Success: false}, true
	}

	s.store.Put(key, req.Value, sender.ID)
	return Envelope{Type: StoreOK, MsgID: req.MsgID, Sender: toWire(s.self), Success: true}, true
}

func (s *Service) handleFindValue(req Envelope, sender routing.Contact) (Envelope, bool) {
	key, err := identity.ParseHash(req.Key)
	if err != nil {
		return Envelope{}, false
	}
	s.table.Touch(sender)
	if value, ok := s.store.Get(key); ok {
		return Envelope{Type: FindValueOK, MsgID: req.MsgID, Sender: toWire(s.self), Value: value}, true
	}
	nodes := excludeSelfAndSender(s.table.Closest(key.ToID(), s.k), sender)
	return Envelope{Type: FindValueOK, MsgID: req.MsgID, Sender: toWire(s.self), Nodes: toWireList(nodes)}, true
}

func (s *Service) handleJoin(req Envelope, sender routing.Contact) (Envelope, bool) {
	nonce, err := identity.DecodeNonce(req.Nonce)
	if err != nil {
		return Envelope{Type: JoinOK, MsgID: req.MsgID, Sender: toWire(s.self), Accepted: false}, true
	}
	if !identity.VerifyProofOfWork(sender.PublicKey.Bytes(), nonce, s.difficulty) {
		s.log.Warn("rejecting JOIN: insufficient proof-of-work", "sender", sender)
		return Envelope{Type: JoinOK, MsgID: req.MsgID, Sender: toWire(s.self), Accepted: false}, true
	}

	s.table.Touch(sender)
	closest := s.table.Closest(sender.ID, s.k)
	return Envelope{Type: JoinOK, MsgID: req.MsgID, Sender: toWire(s.self), Accepted: true, Nodes: toWireList(closest)}, true
}

func (s *Service) handleShutdown(req Envelope) (Envelope, bool) {
	if s.onShutdown != nil {
		go s.onShutdown()
	}
	return Envelope{Type: ShutdownOK, MsgID: req.MsgID, Sender: toWire(s.self)}, true
}

func excludeSelfAndSender(contacts []routing.Contact, sender routing.Contact) []routing.Contact {
	out := contacts[:0:0]
	for _, c := range contacts {
		if c.Equal(sender) {
			continue
		}
		out = append(out, c)
	}
	return out
}
