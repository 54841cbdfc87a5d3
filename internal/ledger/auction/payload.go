// Package auction defines the auction-domain transaction payloads carried
// opaquely by the ledger (spec §1 non-goal: "auction-domain command
// surface ... beyond their transaction encoding"; this package is the
// encoding).
package auction

import (
	"encoding/json"
	"fmt"
)

// Kind tags which auction command a payload encodes.
type Kind byte

const (
	KindCreate Kind = iota + 1
	KindBid
	KindClose
)

// Create opens a new auction.
type Create struct {
	AuctionID       string `json:"auction_id"`
	ItemDescription string `json:"item_description"`
	ReservePrice    uint64 `json:"reserve_price"`
	CloseAtUnix     int64  `json:"close_at_unix"`
}

// Bid places a bid on an open auction.
type Bid struct {
	AuctionID string `json:"auction_id"`
	Amount    uint64 `json:"amount"`
}

// Close finalizes an auction.
type Close struct {
	AuctionID string `json:"auction_id"`
}

// Encode produces the tagged wire form: one kind byte followed by the
// JSON body. The tag lets a decoder identify the payload kind without
// external context.
func Encode(kind Kind, v interface{}) ([]byte, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("auction: encode %v: %w", kind, err)
	}
	out := make([]byte, 1+len(body))
	out[0] = byte(kind)
	copy(out[1:], body)
	return out, nil
}

// EncodeCreate, EncodeBid and EncodeClose are the concrete payload
// constructors used when building a Transaction (spec §3 "[ADD] AuctionTx
// payload").
func EncodeCreate(c Create) ([]byte, error) { return Encode(KindCreate, c) }
func EncodeBid(b Bid) ([]byte, error)       { return Encode(KindBid, b) }
func EncodeClose(c Close) ([]byte, error)   { return Encode(KindClose, c) }

// Decode reads the kind tag and unmarshals the body into the matching
// type, returned as interface{} holding a Create, Bid or Close value.
func Decode(payload []byte) (Kind, interface{}, error) {
	if len(payload) < 1 {
		return 0, nil, fmt.Errorf("auction: empty payload")
	}
	kind := Kind(payload[0])
	body := payload[1:]

	switch kind {
	case KindCreate:
		var v Create
		if err := json.Unmarshal(body, &v); err != nil {
			return 0, nil, fmt.Errorf("auction: decode create: %w", err)
		}
		return kind, v, nil
	case KindBid:
		var v Bid
		if err := json.Unmarshal(body, &v); err != nil {
			return 0, nil, fmt.Errorf("auction: decode bid: %w", err)
		}
		return kind, v, nil
	case KindClose:
		var v Close
		if err := json.Unmarshal(body, &v); err != nil {
			return 0, nil, fmt.Errorf("auction: decode close: %w", err)
		}
		return kind, v, nil
	default:
		return 0, nil, fmt.Errorf("auction: unknown payload kind %d", kind)
	}
}

func (k Kind) String() string {
	switch k {
	case KindCreate:
		return "create"
	case KindBid:
		return "bid"
	case KindClose:
		return "close"
	default:
		return "unknown"
	}
}
