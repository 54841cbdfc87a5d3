package rpc

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// maxFrameSize bounds a single envelope to guard against a malformed
// length prefix turning into an unbounded allocation.
const maxFrameSize = 16 * 1024 * 1024

// writeFrame writes a 4-byte big-endian length prefix followed by body
// (spec §4.3 "[ADD] Transport": "length-prefixed JSON envelopes").
func writeFrame(w io.Writer, body []byte) error {
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], uint32(len(body)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return fmt.Errorf("rpc: write frame length: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("rpc: write frame body: %w", err)
	}
	return nil
}

// readFrame reads one length-prefixed frame from r.
func readFrame(r io.Reader) ([]byte, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return nil, err
	}
	n := binary.BigEndian.Uint32(lenBuf[:])
	if n > maxFrameSize {
		return nil, fmt.Errorf("rpc: frame size %d exceeds limit", n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, fmt.Errorf("rpc: read frame body: %w", err)
	}
	return body, nil
}

// writeEnvelope frames and writes a single envelope to conn.
func writeEnvelope(conn net.Conn, env Envelope) error {
	body, err := env.marshal()
	if err != nil {
		return fmt.Errorf("rpc: marshal envelope: %w", err)
	}
	return writeFrame(conn, body)
}

// readEnvelope reads and unframes a single envelope from conn.
func readEnvelope(conn net.Conn) (Envelope, error) {
	body, err := readFrame(conn)
	if err != nil {
		return Envelope{}, err
	}
	var env Envelope
	if err := env.unmarshal(body); err != nil {
		return Envelope{}, fmt.Errorf("rpc: unmarshal envelope: %w", err)
	}
	return env, nil
}
